/*
NAME
  demux.go

DESCRIPTION
  demux.go adds RTP sequence-gap tracking on top of the stateless Parse
  function, and a rate-limited collector for transport/size change
  notifications.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sti

import "fmt"

// Logger is the minimal logging capability Demuxer and InfoCollector need.
// github.com/ausocean/utils/logging.Logger satisfies this.
type Logger interface {
	Warning(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Demuxer wraps Parse with the RTP sequence-number continuity check that
// the original AVTInput kept as a member field (_previousRtpIndex): the
// stateless Parse has no way to remember the previous datagram's sequence
// number, so Demuxer carries it across calls.
type Demuxer struct {
	log Logger

	havePrevSeq bool
	prevSeq     uint16
}

// NewDemuxer returns a Demuxer that logs sequence gaps and transport
// changes through log.
func NewDemuxer(log Logger) *Demuxer {
	return &Demuxer{log: log}
}

// Parse behaves like the package-level Parse, additionally tracking RTP
// sequence number continuity and logging a warning on a gap. The RTP
// timestamp is intentionally never consulted: proper ordering always comes
// from the STI frame index, not RTP timing.
func (d *Demuxer) Parse(datagram []byte) (Frame, error) {
	f, err := Parse(datagram)
	if err != nil {
		return f, err
	}

	if f.Transport == STIoverRTP {
		seq := Sequence(datagram)
		if d.havePrevSeq {
			want := d.prevSeq + 1
			if want != seq {
				d.log.Warning("RTP sequence number jump", "expected", want, "got", seq)
			}
		}
		d.prevSeq = seq
		d.havePrevSeq = true
	}

	return f, nil
}

// thresholds is the geometric progression of 24ms-frame counts at which
// InfoCollector re-announces a steady transport, matching the original's
// "100, 1k, 10k, 100k, ..." cadence.
var thresholds = []uint64{100, 1000, 10000, 100000, 1000000, 10000000}

// InfoCollector rate-limits "what transport/size are we receiving" log
// output: it only logs when the observed transport kind or payload size
// changes, or when the running count of successfully-parsed frames crosses
// one of thresholds.
type InfoCollector struct {
	log Logger

	haveLast   bool
	lastKind   TransportKind
	lastSize   int
	count      uint64
	nextThresh int
}

// NewInfoCollector returns an InfoCollector reporting through log.
func NewInfoCollector(log Logger) *InfoCollector {
	return &InfoCollector{log: log}
}

// Observe records one successfully parsed frame of kind/size. Observe
// should not be called for parse failures; use ObserveFailure instead.
func (c *InfoCollector) Observe(kind TransportKind, size int) {
	if !c.haveLast || c.lastKind != kind || c.lastSize != size {
		c.log.Info(fmt.Sprintf("extracting from %s frames", kind), "size", size)
		c.haveLast = true
		c.lastKind = kind
		c.lastSize = size
	}

	c.count++
	if c.nextThresh < len(thresholds) && c.count == thresholds[c.nextThresh] {
		c.log.Info("startup ok", "frames_received", c.count)
		c.nextThresh++
	}
}

// ObserveFailure records a parse failure, resetting the "steady transport"
// memo so the next successful Observe is reported even if it matches what
// was last seen before the failure.
func (c *InfoCollector) ObserveFailure() {
	c.log.Error("can't extract data from encoder frame")
	c.haveLast = false
}
