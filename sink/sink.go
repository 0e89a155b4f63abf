/*
NAME
  sink.go

DESCRIPTION
  sink.go defines the small capability set shared by every superframe
  egress sink (ZMQ, EDI), modelled as an interface rather than a
  inheritance hierarchy, per the original Output::Base/ZMQ/EDI split.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package sink implements the superframe egress sinks: a ZeroMQ publish
// socket and an EDI (TAG-Packet/AF-Packet) sender.
package sink

import "time"

// Sink is the capability set every egress sink implements.
type Sink interface {
	// UpdateAudioLevels records the most recent peak levels, included in
	// the next WriteFrame call's header/tag.
	UpdateAudioLevels(left, right int16)

	// Enabled reports whether the sink has a destination configured; a
	// disabled sink's WriteFrame is never called.
	Enabled() bool

	// WriteFrame sends buf: a whole superframe, except that the reactor
	// passes an EDISink each 24ms block of it in a separate call. It
	// returns an error on send failure; the reactor counts consecutive
	// failures across all sinks.
	WriteFrame(buf []byte) error
}

// Timestamper is implemented by sinks that can carry a capture timestamp
// (EDI's TIST fields); ZMQ does not implement it.
type Timestamper interface {
	// SetTist configures timestamp insertion: enable turns it on or off,
	// delay is added to wallTime before it is split into seconds and a
	// sub-second remainder.
	SetTist(enable bool, delay time.Duration, wallTime time.Time) error
}

// base holds the audio-level state common to every Sink implementation,
// mirroring Output::Base's update_audio_levels.
type base struct {
	audioLeft, audioRight int16
}

func (b *base) UpdateAudioLevels(left, right int16) {
	b.audioLeft = left
	b.audioRight = right
}
