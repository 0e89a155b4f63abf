/*
NAME
  assembler.go

DESCRIPTION
  assembler.go implements the state machine that groups five contiguous
  24ms DAB+ frames into one 120ms superframe.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package superframe assembles 120ms DAB+ superframes from the 24ms frames
// released, in order, by a jitter.Queue.
package superframe

import (
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/Opendigitalradio/ODR-SourceCompanion/jitter"
)

const framesPerSuperframe = 5
const frameDuration = 24 * time.Millisecond

// Superframe is five concatenated 24ms frames, timestamped with the
// capture time of its first constituent frame (after a resync), or with a
// deterministic five 24ms ticks (120ms) forward from the previous
// superframe's anchor otherwise.
type Superframe struct {
	Bytes []byte
	TS    time.Time
}

// Assembler holds the in-progress alignment state across calls to Pop.
type Assembler struct {
	log logging.Logger

	frameLen int

	aligned       bool
	nbFrames      int
	expectedIndex int
	buf           []byte

	// runningTS ticks forward by exactly 24ms every time a frame is
	// appended while aligned; it is only ever *set* (not incremented)
	// immediately after a resync. anchorTS is a snapshot of runningTS
	// taken the instant a new superframe cycle begins (nbFrames 0->1),
	// and is what gets emitted: network jitter on frames 2-5 must never
	// leak into the reported timestamp.
	runningTS time.Time
	anchorTS  time.Time
}

// NewAssembler returns an Assembler expecting frames of frameLen bytes
// each.
func NewAssembler(frameLen int, log logging.Logger) *Assembler {
	return &Assembler{
		log:      log,
		frameLen: frameLen,
		buf:      make([]byte, 0, frameLen*framesPerSuperframe),
	}
}

// Reset discards any partially assembled superframe, clears alignment and
// sets a new frame length.
func (a *Assembler) Reset(frameLen int) {
	a.frameLen = frameLen
	a.aligned = false
	a.nbFrames = 0
	a.buf = a.buf[:0]
}

// Pop drains entries from q, attempting to assemble one superframe. It
// returns ok=false if q runs dry before five aligned frames accumulate;
// the caller should try again once more data has been pushed to q.
func (a *Assembler) Pop(q *jitter.Queue) (Superframe, bool) {
	for a.nbFrames < framesPerSuperframe {
		entry, index, ok := q.Pop()
		if !ok {
			return Superframe{}, false
		}

		if !a.aligned {
			if index%framesPerSuperframe != 0 {
				// Cannot start a superframe here; discard.
				continue
			}
			a.aligned = true
			a.buf = a.buf[:0]
			a.runningTS = entry.CaptureTS
			a.anchorTS = a.runningTS
			a.append(entry.Bytes)
			a.expectedIndex = (index + 1) % jitter.Modulus
			continue
		}

		if index%framesPerSuperframe == a.nbFrames {
			if index != a.expectedIndex {
				// Still aligned modulo 5: a sequence gap is logged, but
				// does not stop the superframe from being emitted.
				a.log.Warning("superframe sequence error", "expected", a.expectedIndex, "received", index)
			}

			if a.nbFrames == 0 {
				a.buf = a.buf[:0]
			}
			a.runningTS = a.runningTS.Add(frameDuration)
			if a.nbFrames == 0 {
				a.anchorTS = a.runningTS
			}
			a.append(entry.Bytes)
			a.expectedIndex = (index + 1) % jitter.Modulus
		} else {
			a.log.Warning("frame alignment reset", "expected_mod5", a.nbFrames, "received_mod5", index%framesPerSuperframe)
			a.aligned = false
			a.nbFrames = 0
			a.buf = a.buf[:0]
		}
	}

	out := Superframe{Bytes: append([]byte(nil), a.buf...), TS: a.anchorTS}
	a.nbFrames = 0
	a.buf = a.buf[:0]
	return out, true
}

func (a *Assembler) append(b []byte) {
	a.buf = append(a.buf, b...)
	a.nbFrames++
}
