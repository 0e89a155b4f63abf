/*
NAME
  meter.go

DESCRIPTION
  meter.go implements the level meter: an opaque consumer of emitted
  superframes that produces a left/right peak-audio-level estimate for
  the EDI/ZMQ sink headers and the statistics publisher. Real AAC
  transcoding is out of scope; the estimate is derived spectrally from
  the raw (Reed-Solomon-stripped) superframe bytes through a
  bytes-to-floats-to-FFT pipeline.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package level implements the opaque peak-level-measurement consumer fed
// from each emitted superframe.
package level

import (
	"errors"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Meter is the capability every sink header and the statistics publisher
// consult to learn the current audio levels.
type Meter interface {
	// Feed processes one superframe and returns the peak left/right
	// levels observed, scaled to the signed 16-bit range used by the
	// ZMQ and EDI headers.
	Feed(superframe []byte) (left, right int16, err error)
}

// PeakMeter is a Meter that treats the superframe bytes as an
// interleaved stereo sample stream, windows them, and takes the
// magnitude of the dominant FFT bin as a proxy for peak level. It cannot
// and does not decode AAC; it gives a deterministic, inexpensive estimate
// suitable for VU-style monitoring, not for loudness compliance.
type PeakMeter struct {
	fftSize int
}

// NewPeakMeter returns a PeakMeter that analyses fftSize samples per
// channel per superframe; fftSize is rounded down to the nearest power of
// two no greater than the available samples.
func NewPeakMeter(fftSize int) *PeakMeter {
	return &PeakMeter{fftSize: fftSize}
}

// ErrTooShort is returned when the superframe has fewer than four bytes,
// too few to split into interleaved stereo samples.
var ErrTooShort = errors.New("level: superframe too short to analyse")

// Feed implements Meter.
func (m *PeakMeter) Feed(superframe []byte) (left, right int16, err error) {
	if len(superframe) < 4 {
		return 0, 0, ErrTooShort
	}

	l, r := deinterleave(superframe)

	lp, err := peakMagnitude(l, m.fftSize)
	if err != nil {
		return 0, 0, err
	}
	rp, err := peakMagnitude(r, m.fftSize)
	if err != nil {
		return 0, 0, err
	}

	return scaleToInt16(lp), scaleToInt16(rp), nil
}

// deinterleave splits raw into two float64 channels by treating
// consecutive byte pairs as little-endian samples and alternating them
// left/right; with an odd number of samples, left gets the extra one.
func deinterleave(raw []byte) (left, right []float64) {
	n := len(raw) / 2
	left = make([]float64, 0, n/2+1)
	right = make([]float64, 0, n/2+1)
	for i := 0; i+1 < len(raw); i += 2 {
		sample := float64(int16(uint16(raw[i])|uint16(raw[i+1])<<8)) / 32768
		if (i/2)%2 == 0 {
			left = append(left, sample)
		} else {
			right = append(right, sample)
		}
	}
	return left, right
}

// peakMagnitude windows samples and returns the magnitude of the
// strongest FFT bin, normalised by window length.
func peakMagnitude(samples []float64, fftSize int) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	n := fftSize
	if n <= 0 || n > len(samples) {
		n = len(samples)
	}
	n = prevPowerOfTwo(n)
	if n < 2 {
		// Too few samples for a meaningful transform: fall back to the
		// simple time-domain peak.
		var peak float64
		for _, s := range samples {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		return peak, nil
	}

	windowed := make([]float64, n)
	win := window.Hamming(n)
	for i := 0; i < n; i++ {
		windowed[i] = samples[i] * win[i]
	}

	spectrum := fft.FFTReal(windowed)

	var peak float64
	for _, c := range spectrum {
		mag := math.Hypot(real(c), imag(c)) / float64(n)
		if mag > peak {
			peak = mag
		}
	}
	return peak, nil
}

func prevPowerOfTwo(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

func scaleToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < 0 {
		v = 0
	}
	return int16(v * math.MaxInt16)
}
