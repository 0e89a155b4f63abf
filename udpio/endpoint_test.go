/*
NAME
  endpoint_test.go

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package udpio

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestRecvEmptyWhenIdle(t *testing.T) {
	e, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer e.Close()

	_, _, ok := e.Recv()
	if ok {
		t.Errorf("Recv() ok=true on an idle socket")
	}
	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after an ordinary poll timeout", err)
	}
}

// TestErrDistinguishesRealFailureFromTimeout verifies a genuine socket
// error (here, reading from a closed connection) is retained by Err,
// unlike the ordinary poll-timeout miss which clears it.
func TestErrDistinguishesRealFailureFromTimeout(t *testing.T) {
	e, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	e.Close()

	_, _, ok := e.Recv()
	if ok {
		t.Fatalf("Recv() ok=true on a closed socket")
	}
	if e.Err() == nil {
		t.Errorf("Err() = nil, want the closed-connection error")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind a: %v", err)
	}
	defer a.Close()

	b, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind b: %v", err)
	}
	defer b.Close()

	bAddr, err := net.ResolveUDPAddr("udp", b.LocalAddr().String())
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}

	msg := []byte("hello companion")
	if err := a.SendTo(msg, bAddr); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if packet, from, ok := b.Recv(); ok {
			got = packet
			if from == nil {
				t.Fatalf("Recv() returned nil from address")
			}
			break
		}
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("received %q, want %q", got, msg)
	}
}

// TestSendReplyToLastPeer exercises the datagram-reply pattern the PAD
// back-channel relies on: Send() must address whatever peer Recv() most
// recently observed.
func TestSendReplyToLastPeer(t *testing.T) {
	server, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind server: %v", err)
	}
	defer server.Close()

	client, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	defer client.Close()

	serverAddr, err := net.ResolveUDPAddr("udp", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	if err := client.SendTo([]byte{0xFD, 0x17}, serverAddr); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := server.Recv(); ok {
			break
		}
	}

	if err := server.Send([]byte{0xFD, 0x18}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	var reply []byte
	for time.Now().Before(deadline) {
		if packet, _, ok := client.Recv(); ok {
			reply = packet
			break
		}
	}
	if !bytes.Equal(reply, []byte{0xFD, 0x18}) {
		t.Fatalf("reply = % X, want FD 18", reply)
	}
}
