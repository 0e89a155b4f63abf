/*
NAME
  sink_test.go

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sink

import (
	"encoding/binary"
	"testing"
	"time"
)

type recordingLogger struct{ warnings int }

func (l *recordingLogger) Log(lvl int8, msg string, args ...interface{}) {}
func (l *recordingLogger) SetLevel(lvl int8)                             {}
func (l *recordingLogger) Debug(msg string, args ...interface{})        {}
func (l *recordingLogger) Info(msg string, args ...interface{})         {}
func (l *recordingLogger) Warning(msg string, args ...interface{})      { l.warnings++ }
func (l *recordingLogger) Error(msg string, args ...interface{})        {}
func (l *recordingLogger) Fatal(msg string, args ...interface{})        {}

func TestZMQSinkDisabledUntilConnect(t *testing.T) {
	z := NewZMQSink(&recordingLogger{}, EncoderAACPlus)
	if z.Enabled() {
		t.Error("Enabled() before Connect: want false")
	}
	if err := z.WriteFrame([]byte{1, 2, 3}); err == nil {
		t.Error("WriteFrame() before Connect: want error")
	}
}

func TestZMQSinkHeaderLayout(t *testing.T) {
	z := NewZMQSink(&recordingLogger{}, EncoderAACPlus)
	z.UpdateAudioLevels(1000, -1000)

	payload := []byte{0xAA, 0xBB, 0xCC}
	frame := z.encodeFrame(payload)

	if got, want := binary.LittleEndian.Uint16(frame[0:2]), uint16(1); got != want {
		t.Errorf("header version = %d, want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(frame[4:8]), uint32(len(payload)); got != want {
		t.Errorf("header datasize = %d, want %d", got, want)
	}
}

func TestEDISinkDisabledUntilConnect(t *testing.T) {
	e := NewEDISink(&recordingLogger{}, "test-version")
	if e.Enabled() {
		t.Error("Enabled() before Connect: want false")
	}
	if err := e.WriteFrame([]byte{1, 2, 3}); err == nil {
		t.Error("WriteFrame() before Connect: want error")
	}
}

func TestEncodeTagItem(t *testing.T) {
	got := encodeTagItem("SSm ", []byte{0x01, 0x02})
	if string(got[0:4]) != "SSm " {
		t.Fatalf("tag name = %q, want %q", got[0:4], "SSm ")
	}
	if got, want := binary.BigEndian.Uint32(got[4:8]), uint32(16); got != want {
		t.Errorf("tag length-in-bits = %d, want %d", got, want)
	}
	if len(got) != 10 {
		t.Fatalf("tag item length = %d, want %d", len(got), 10)
	}
}

func TestEncodeAFPacketRoundTripsLength(t *testing.T) {
	payload := []byte("a tag packet payload")
	af := encodeAFPacket(7, payload)

	if string(af[0:2]) != "AF" {
		t.Fatalf("sync = %q, want %q", af[0:2], "AF")
	}
	if got, want := binary.BigEndian.Uint32(af[2:6]), uint32(len(payload)); got != want {
		t.Errorf("length field = %d, want %d", got, want)
	}
	if got, want := binary.BigEndian.Uint16(af[6:8]), uint16(7); got != want {
		t.Errorf("sequence field = %d, want %d", got, want)
	}
	if af[9] != 'T' {
		t.Errorf("PT field = %q, want 'T'", af[9])
	}

	wantLen := 10 + len(payload) + 2 // header + payload + CRC
	if len(af) != wantLen {
		t.Fatalf("AF packet length = %d, want %d", len(af), wantLen)
	}

	body := af[:len(af)-2]
	wantCRC := crc16CCITT(body)
	gotCRC := binary.BigEndian.Uint16(af[len(af)-2:])
	if gotCRC != wantCRC {
		t.Errorf("trailing CRC = %04x, want %04x", gotCRC, wantCRC)
	}
}

func TestSetTistRejectsNothingForOrdinaryTimes(t *testing.T) {
	e := NewEDISink(&recordingLogger{}, "v")
	ts := time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
	if err := e.SetTist(true, 0, ts); err != nil {
		t.Fatalf("SetTist() error: %v", err)
	}
	if e.timestamp == 0 {
		t.Error("SetTist() left timestamp accumulator at zero for a non-zero remainder")
	}
}

func TestDeriveDSTITagCarriesAtstfWhenEnabled(t *testing.T) {
	e := NewEDISink(&recordingLogger{}, "v")
	if err := e.SetTist(true, 0, time.Now()); err != nil {
		t.Fatalf("SetTist() error: %v", err)
	}
	tag := e.encodeDSTITag()
	if tag[8]&0x80 == 0 {
		t.Error("DSTI payload flags missing atstf bit with TIST enabled")
	}
}
