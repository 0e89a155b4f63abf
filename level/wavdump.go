/*
NAME
  wavdump.go

DESCRIPTION
  wavdump.go provides an optional debug sink that renders the
  deinterleaved stereo estimate used for peak metering to a WAV file, so
  an operator can audibly sanity-check what the level meter is looking
  at.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package level

import (
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormat = 1 // PCM

// WavDump writes successive superframes' deinterleaved channel estimate
// to a WAV encoder, for offline debugging of the level meter only; it is
// never on the superframe egress path.
type WavDump struct {
	enc *wav.Encoder
}

// NewWavDump wraps enc (already open on a destination file or buffer) as
// a WavDump; the sample rate written is enc's own.
func NewWavDump(enc *wav.Encoder) *WavDump {
	return &WavDump{enc: enc}
}

// OpenWavDump creates a stereo 16-bit WAV encoder over w.
func OpenWavDump(w interface {
	Write([]byte) (int, error)
	Seek(int64, int) (int64, error)
}, sampleRate int) *WavDump {
	return &WavDump{enc: wav.NewEncoder(w, sampleRate, 16, 2, wavFormat)}
}

// Write appends one superframe's worth of estimated stereo samples.
func (d *WavDump) Write(superframe []byte) error {
	left, right := deinterleave(superframe)
	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	data := make([]int, 0, 2*n)
	for i := 0; i < n; i++ {
		data = append(data, int(int16(left[i]*32768)), int(int16(right[i]*32768)))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: int(d.enc.SampleRate)},
		SourceBitDepth: 16,
		Data:           data,
	}
	return d.enc.Write(buf)
}

// Close finalises the WAV container.
func (d *WavDump) Close() error {
	return d.enc.Close()
}
