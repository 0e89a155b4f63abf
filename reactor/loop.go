/*
NAME
  loop.go

DESCRIPTION
  loop.go implements the single-threaded cooperative reactor that ties
  the UDP endpoints, jitter buffer, superframe assembler, PAD channel,
  level meter, egress sinks and statistics publisher together into one
  running companion instance.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package reactor drives the companion's main loop: one goroutine,
// polling both UDP sockets in turn rather than blocking on either, the
// way revid's processFrom drives its own single consuming goroutine.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/Opendigitalradio/ODR-SourceCompanion/config"
	"github.com/Opendigitalradio/ODR-SourceCompanion/jitter"
	"github.com/Opendigitalradio/ODR-SourceCompanion/level"
	"github.com/Opendigitalradio/ODR-SourceCompanion/padchan"
	"github.com/Opendigitalradio/ODR-SourceCompanion/sink"
	"github.com/Opendigitalradio/ODR-SourceCompanion/stats"
	"github.com/Opendigitalradio/ODR-SourceCompanion/sti"
	"github.com/Opendigitalradio/ODR-SourceCompanion/superframe"
	"github.com/Opendigitalradio/ODR-SourceCompanion/udpio"
)

// pollInterval is the sleep between reactor turns when neither socket has
// data waiting, keeping CPU use low without introducing real blocking.
const pollInterval = 1 * time.Millisecond

// maxConsecutiveSendFailures is the number of back-to-back sink send
// failures the reactor tolerates before giving up, matching the spec's
// documented abort threshold.
const maxConsecutiveSendFailures = 10

// ErrTooManySendFailures is returned by Run when at least one enabled sink
// has failed to accept the superframe on maxConsecutiveSendFailures
// consecutive emits.
var ErrTooManySendFailures = errors.New("reactor: too many consecutive sink send failures")

// Loop owns every component one running companion instance needs.
type Loop struct {
	cfg *config.Config
	log logging.Logger

	audio   *udpio.Endpoint
	control *udpio.Endpoint

	demux *sti.Demuxer
	info  *sti.InfoCollector
	queue *jitter.Queue
	asm   *superframe.Assembler
	pad   *padchan.Channel
	meter level.Meter
	sinks []sink.Sink
	stats *stats.Publisher

	consecutiveFailures int
	startupRun          bool

	lastAudioErr   string
	lastControlErr string
}

// New assembles a Loop from its already-constructed parts. audio must be
// non-nil; control and the statistics publisher may be nil to disable
// the PAD back-channel or metrics export respectively.
func New(cfg *config.Config, audio, control *udpio.Endpoint, pad *padchan.Channel, meter level.Meter, sinks []sink.Sink, pub *stats.Publisher) *Loop {
	return &Loop{
		cfg:     cfg,
		log:     cfg.Logger,
		audio:   audio,
		control: control,
		demux:   sti.NewDemuxer(cfg.Logger),
		info:    sti.NewInfoCollector(cfg.Logger),
		queue:   jitter.NewQueue(cfg.JitterSize),
		asm:     superframe.NewAssembler(cfg.FrameLen(), cfg.Logger),
		pad:     pad,
		meter:   meter,
		sinks:   sinks,
		stats:   pub,
	}
}

// Run drives the reactor until ctx is cancelled or an unrecoverable
// condition is hit: no superframe assembled within the configured
// timeout, or maxConsecutiveSendFailures consecutive sink failures.
func (l *Loop) Run(ctx context.Context) error {
	lastFrame := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.drainControl()
		l.drainAudio()

		for {
			sf, ok := l.asm.Pop(l.queue)
			if !ok {
				break
			}
			lastFrame = time.Now()
			if err := l.emit(sf); err != nil {
				return err
			}
		}

		if l.stats != nil {
			l.stats.ObserveJitter(l.queue.Overruns(), l.queue.Duplicates(), l.queue.Len())
			if l.pad != nil {
				l.stats.ObservePAD(l.pad.Drops(), l.pad.Len())
			}
		}

		if time.Since(lastFrame) > l.cfg.Timeout {
			return fmt.Errorf("reactor: no superframe assembled within %s", l.cfg.Timeout)
		}

		time.Sleep(pollInterval)
	}
}

// drainAudio reads every audio datagram currently waiting, demultiplexes
// it and pushes it into the jitter buffer. Receiving datagrams alone
// does not reset the starvation timer: only a successfully assembled
// superframe does, so a stream of garbage or misaligned datagrams that
// never yields one still times out.
func (l *Loop) drainAudio() {
	for {
		datagram, _, ok := l.audio.Recv()
		if !ok {
			if err := l.audio.Err(); err != nil && err.Error() != l.lastAudioErr {
				l.lastAudioErr = err.Error()
				l.log.Error("audio socket error", "error", l.lastAudioErr)
			}
			return
		}
		l.lastAudioErr = ""

		f, err := l.demux.Parse(datagram)
		if err != nil {
			l.info.ObserveFailure()
			continue
		}
		l.info.Observe(f.Transport, len(f.Payload))

		payload := append([]byte(nil), f.Payload...)
		l.queue.Push(f.Index, payload, time.Now())
	}
}

// drainControl answers every PAD-request datagram currently waiting on
// the control socket.
func (l *Loop) drainControl() {
	if l.control == nil || l.pad == nil {
		return
	}
	for {
		datagram, from, ok := l.control.Recv()
		if !ok {
			if err := l.control.Err(); err != nil && err.Error() != l.lastControlErr {
				l.lastControlErr = err.Error()
				l.log.Error("control socket error", "error", l.lastControlErr)
			}
			return
		}
		l.lastControlErr = ""
		reply := l.pad.Handle(datagram)
		if reply == nil {
			continue
		}
		var err error
		if from != nil {
			err = l.control.SendTo(reply, from)
		} else {
			err = l.control.Send(reply)
		}
		if err != nil {
			l.log.Error("failed to send PAD reply", "error", err.Error())
		}
	}
}

// emit measures the superframe's audio levels, pushes them to every
// sink, and runs the startup check script after the first successful
// send. It ANDs the send result across every enabled sink, the way the
// original's `success &= zmq_output->write_frame(...)` /
// `success &= edi_output.write_frame(...)` does: a single persistently
// failing sink counts toward the consecutive-failure abort threshold
// even while other sinks keep succeeding. Only a tick where every
// enabled sink succeeds resets the counter.
func (l *Loop) emit(sf superframe.Superframe) error {
	var left, right int16
	if l.meter != nil {
		var err error
		left, right, err = l.meter.Feed(sf.Bytes)
		if err != nil {
			l.log.Warning("level meter failed", "error", err.Error())
		}
	}
	if l.stats != nil {
		l.stats.AudioLevel("left", left)
		l.stats.AudioLevel("right", right)
	}

	anySucceeded := false
	anyEnabled := false
	allSucceeded := true
	for _, s := range l.sinks {
		if !s.Enabled() {
			continue
		}
		anyEnabled = true

		s.UpdateAudioLevels(left, right)
		if ts, ok := s.(sink.Timestamper); ok {
			if err := ts.SetTist(true, l.cfg.TimestampDelay, sf.TS); err != nil {
				l.log.Warning("SetTist failed", "error", err.Error())
			}
		}

		name := sinkName(s)
		err := l.writeTo(s, sf.Bytes)
		if l.stats != nil {
			l.stats.SinkSendResult(name, err)
		}
		if err != nil {
			l.log.Error("sink send failed", "sink", name, "error", err.Error())
			allSucceeded = false
			continue
		}
		anySucceeded = true
	}

	if l.stats != nil {
		l.stats.SuperframeEmitted()
	}

	if anyEnabled && !allSucceeded {
		l.consecutiveFailures++
		if l.consecutiveFailures >= maxConsecutiveSendFailures {
			return ErrTooManySendFailures
		}
	} else {
		l.consecutiveFailures = 0
	}

	if anySucceeded && !l.startupRun && l.cfg.StartupCheck != "" {
		l.startupRun = true
		l.runStartupCheck()
	}

	return nil
}

// runStartupCheck fires the configured startup-check command once,
// asynchronously, so a slow or hanging script cannot stall the reactor.
func (l *Loop) runStartupCheck() {
	cmd := exec.Command("/bin/sh", "-c", l.cfg.StartupCheck)
	if err := cmd.Start(); err != nil {
		l.log.Error("startup check failed to start", "error", err.Error())
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			l.log.Error("startup check exited with error", "error", err.Error())
		}
	}()
}

// writeTo sends buf to s. EDI's wire format requires one AF Packet per
// 24ms block, so an EDISink receives the superframe split into five
// equal slices, sent in order; every other sink receives the whole
// 120ms superframe in one call. This follows the original's own
// write-frame loop, which splits only for the EDI output.
func (l *Loop) writeTo(s sink.Sink, buf []byte) error {
	edi, ok := s.(*sink.EDISink)
	if !ok {
		return s.WriteFrame(buf)
	}

	if len(buf)%5 != 0 {
		return fmt.Errorf("reactor: superframe length %d not a multiple of 5", len(buf))
	}
	blockSize := len(buf) / 5
	for i := 0; i < 5; i++ {
		block := buf[i*blockSize : (i+1)*blockSize]
		if err := edi.WriteFrame(block); err != nil {
			return err
		}
	}
	return nil
}

func sinkName(s sink.Sink) string {
	switch s.(type) {
	case *sink.ZMQSink:
		return "zmq"
	case *sink.EDISink:
		return "edi"
	default:
		return "unknown"
	}
}
