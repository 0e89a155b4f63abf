/*
NAME
  loop_test.go

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package reactor

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Opendigitalradio/ODR-SourceCompanion/config"
	"github.com/Opendigitalradio/ODR-SourceCompanion/padchan"
	"github.com/Opendigitalradio/ODR-SourceCompanion/sink"
	"github.com/Opendigitalradio/ODR-SourceCompanion/superframe"
	"github.com/Opendigitalradio/ODR-SourceCompanion/udpio"
)

type stubLogger struct{}

func (stubLogger) Log(l int8, m string, a ...interface{})  {}
func (stubLogger) SetLevel(l int8)                         {}
func (stubLogger) Debug(msg string, args ...interface{})   {}
func (stubLogger) Info(msg string, args ...interface{})    {}
func (stubLogger) Warning(msg string, args ...interface{}) {}
func (stubLogger) Error(msg string, args ...interface{})   {}
func (stubLogger) Fatal(msg string, args ...interface{})   {}

// fakeSink records every frame written to it; it is always enabled.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeSink) UpdateAudioLevels(left, right int16) {}
func (f *fakeSink) Enabled() bool                       { return true }
func (f *fakeSink) WriteFrame(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errWrite
	}
	f.frames = append(f.frames, append([]byte(nil), buf...))
	return nil
}
func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

var errWrite = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "fake sink write error" }

// buildSTIDatagram constructs a minimal synthetic STI frame carrying a
// single subchannel descriptor at the given 24ms frame index, matching
// the layout sti.Parse expects.
func buildSTIDatagram(index int, payload []byte) []byte {
	dfcth := index / 250
	dfctl := index % 250

	buf := make([]byte, 13, 32+len(payload))
	buf[1], buf[2], buf[3] = 0x1F, 0x90, 0xCA

	buf = append(buf, byte(dfctl))

	nst := uint16(1)
	dfcthNst := (uint16(dfcth) << 11) | nst
	dfcthNstBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(dfcthNstBuf, dfcthNst)
	buf = append(buf, dfcthNstBuf...)

	stl := uint16(len(payload))
	stlBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(stlBuf, stl&0x1FFF)
	buf = append(buf, stlBuf...)

	buf = append(buf, 0x00, 0x00)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // end of header (MNSC + CRC)
	buf = append(buf, payload...)
	return buf
}

func testConfig() *config.Config {
	c := &config.Config{Logger: stubLogger{}, Bitrate: 8, Channels: 2, SampleRate: 48000, JitterSize: 10, Timeout: 200 * time.Millisecond}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

func TestLoopAssemblesAndEmitsSuperframe(t *testing.T) {
	audioSrv, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioSrv.Close()

	audioCli, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioCli.Close()

	cfg := testConfig()
	frameLen := cfg.FrameLen()

	fs := &fakeSink{}
	l := New(cfg, audioSrv, nil, padchan.NewChannel(padchan.DefaultCapacity), nil, []sink.Sink{fs}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	serverAddr := audioSrv.LocalAddr()
	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr.String())
	if err != nil {
		t.Fatalf("net.ResolveUDPAddr: %v", err)
	}

	payload := make([]byte, frameLen)
	for i := 0; i < 5; i++ {
		for j := range payload {
			payload[j] = byte(i)
		}
		dg := buildSTIDatagram(i, payload)
		if err := audioCli.SendTo(dg, udpAddr); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(1 * time.Second)
	for fs.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a superframe to reach the sink")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if got, want := fs.count(), 1; got != want {
		t.Errorf("sink received %d superframes, want %d", got, want)
	}
	if got, want := len(fs.frames[0]), frameLen*5; got != want {
		t.Errorf("assembled superframe length = %d, want %d", got, want)
	}
}

func TestRunReturnsErrorOnStarvation(t *testing.T) {
	audioSrv, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioSrv.Close()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond

	l := New(cfg, audioSrv, nil, padchan.NewChannel(padchan.DefaultCapacity), nil, nil, nil)

	err = l.Run(context.Background())
	if err == nil {
		t.Fatal("Run() with no audio ever arriving: want a starvation error")
	}
}

// TestRunReturnsErrorOnGarbageStarvation verifies the starvation timer is
// driven by assembled superframes, not raw datagram arrival: a steady
// stream of datagrams that never parses into a frame must still time
// out rather than reset the clock forever.
func TestRunReturnsErrorOnGarbageStarvation(t *testing.T) {
	audioSrv, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioSrv.Close()

	audioCli, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioCli.Close()

	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond

	l := New(cfg, audioSrv, nil, padchan.NewChannel(padchan.DefaultCapacity), nil, nil, nil)

	serverAddr := audioSrv.LocalAddr()
	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr.String())
	if err != nil {
		t.Fatalf("net.ResolveUDPAddr: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		garbage := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
		for {
			select {
			case <-stop:
				return
			default:
			}
			audioCli.SendTo(garbage, udpAddr)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.Run(ctx); err == nil {
		t.Fatal("Run() with only unparseable datagrams arriving: want a starvation error")
	}
}

// TestConsecutiveFailuresCountsSinglePersistentlyFailingSink verifies the
// abort threshold is reached when one sink fails on every tick even
// while another sink keeps succeeding, matching the original's
// AND-across-sinks success accounting.
func TestConsecutiveFailuresCountsSinglePersistentlyFailingSink(t *testing.T) {
	cfg := testConfig()
	healthy := &fakeSink{}
	broken := &fakeSink{fail: true}

	l := New(cfg, nil, nil, padchan.NewChannel(padchan.DefaultCapacity), nil, []sink.Sink{healthy, broken}, nil)

	frameLen := cfg.FrameLen()
	var lastErr error
	for i := 0; i < maxConsecutiveSendFailures; i++ {
		sf := superframe.Superframe{Bytes: make([]byte, frameLen*5), TS: time.Now()}
		lastErr = l.emit(sf)
	}

	if lastErr != ErrTooManySendFailures {
		t.Fatalf("emit() after %d ticks with one sink always failing: err = %v, want ErrTooManySendFailures", maxConsecutiveSendFailures, lastErr)
	}
	if got, want := healthy.count(), maxConsecutiveSendFailures; got != want {
		t.Errorf("healthy sink received %d frames, want %d", got, want)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	audioSrv, err := udpio.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer audioSrv.Close()

	cfg := testConfig()
	cfg.Timeout = time.Hour

	l := New(cfg, audioSrv, nil, padchan.NewChannel(padchan.DefaultCapacity), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Run(ctx); err == nil {
		t.Fatal("Run() with a pre-cancelled context: want context.Canceled")
	}
}
