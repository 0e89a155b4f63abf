/*
NAME
  meter_test.go

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package level

import "testing"

func TestFeedSilence(t *testing.T) {
	m := NewPeakMeter(64)
	silence := make([]byte, 960)
	l, r, err := m.Feed(silence)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if l != 0 || r != 0 {
		t.Errorf("Feed(silence) = (%d,%d), want (0,0)", l, r)
	}
}

func TestFeedTooShort(t *testing.T) {
	m := NewPeakMeter(64)
	_, _, err := m.Feed([]byte{1, 2, 3})
	if err != ErrTooShort {
		t.Errorf("err = %v, want ErrTooShort", err)
	}
}

func TestFeedFullScalePositive(t *testing.T) {
	m := NewPeakMeter(64)
	buf := make([]byte, 960)
	for i := 0; i+1 < len(buf); i += 2 {
		// max positive int16, little endian.
		buf[i] = 0xFF
		buf[i+1] = 0x7F
	}
	l, r, err := m.Feed(buf)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if l <= 0 || r <= 0 {
		t.Errorf("Feed(full scale) = (%d,%d), want > 0", l, r)
	}
}

func TestDeinterleaveSplitsChannels(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	l, r := deinterleave(raw)
	if len(l) != 2 || len(r) != 2 {
		t.Errorf("len(l)=%d len(r)=%d, want 2/2", len(l), len(r))
	}
}
