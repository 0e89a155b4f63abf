/*
NAME
  fifo.go

DESCRIPTION
  fifo.go implements the bounded FIFO of PAD (Programme-Associated Data)
  frames tunneled back to the encoder over the control socket.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package padchan implements the PAD back-channel: a small FIFO of PAD
// frames pushed in by the caller, drained out to the encoder one at a time
// as PAD-request messages arrive on the control socket.
package padchan

// DefaultCapacity is the default PAD FIFO depth, matching the original
// AAC encoder's own queue depth so the tunnel never buffers further ahead
// than the encoder itself would.
const DefaultCapacity = 6

// FIFO is a bounded queue of PAD frames. It is not safe for concurrent
// use.
type FIFO struct {
	capacity int
	frames   [][]byte

	drops uint64
}

// NewFIFO returns an empty FIFO bounded at capacity frames.
func NewFIFO(capacity int) *FIFO {
	return &FIFO{capacity: capacity}
}

// Full reports whether the FIFO is at capacity.
func (f *FIFO) Full() bool { return len(f.frames) >= f.capacity }

// Len returns the number of frames currently queued.
func (f *FIFO) Len() int { return len(f.frames) }

// Drops returns the number of pushes rejected because the FIFO was full.
func (f *FIFO) Drops() uint64 { return f.drops }

// Push enqueues buf, byte-reversed, as a new PAD frame. The encoder's PAD
// muxer expects PAD bytes in reverse transmission order; reversing once
// here, on ingest, means every other PAD-handling path passes the stored
// frames on unchanged. Push reports whether the frame was
// accepted; if the FIFO is already full, the frame is dropped and Drops
// is incremented, so that a burst of PAD does not grow unbounded memory
// or introduce unbounded PAD latency.
func (f *FIFO) Push(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if f.Full() {
		f.drops++
		return false
	}

	rev := make([]byte, len(buf))
	for i, b := range buf {
		rev[len(buf)-1-i] = b
	}
	f.frames = append(f.frames, rev)
	return true
}

// Pop removes and returns the oldest queued frame. ok is false if the
// FIFO is empty.
func (f *FIFO) Pop() (frame []byte, ok bool) {
	if len(f.frames) == 0 {
		return nil, false
	}
	frame = f.frames[0]
	f.frames = f.frames[1:]
	return frame, true
}
