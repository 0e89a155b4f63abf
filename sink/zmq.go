/*
NAME
  zmq.go

DESCRIPTION
  zmq.go implements the ZeroMQ PUB egress sink: a fixed binary header
  (version, encoder codepoint, datasize, audio levels) followed by the
  superframe payload, with optional CURVE server-mode encryption.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sink

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/curve"

	"github.com/ausocean/utils/logging"
)

// EncoderCodepoint identifies the audio codec in the ZMQ frame header, as
// carried by zmq_frame_header_t::encoder in the original sender.
type EncoderCodepoint uint16

// Codepoints recognised by downstream multiplexers.
const (
	EncoderAACPlus EncoderCodepoint = 0
	EncoderMPEGLII EncoderCodepoint = 1
)

const zmqHeaderVersion = 1
const zmqHeaderSize = 2 + 2 + 4 + 2 + 2 // version, encoder, datasize, left, right

// ZMQSink publishes superframes over a ZeroMQ PUB socket with the fixed
// header layout downstream ODR multiplexers expect.
type ZMQSink struct {
	base

	sock    zmq4.Socket
	log     logging.Logger
	encoder EncoderCodepoint
	uri     string
}

// NewZMQSink constructs a ZMQSink bound to no destination; call Connect
// to enable it. encoder is the codepoint written into every frame's
// header.
func NewZMQSink(log logging.Logger, encoder EncoderCodepoint) *ZMQSink {
	return &ZMQSink{log: log, encoder: encoder}
}

// Connect binds the PUB socket to uri. If keyfile is non-empty, it is
// read as a 40-character Z85-encoded 32-byte CURVE secret key and the
// socket runs in CURVE server mode; an empty keyfile leaves the socket
// unauthenticated, matching the original's plaintext fallback.
func (z *ZMQSink) Connect(uri, keyfile string) error {
	var opts []zmq4.Option

	if keyfile != "" {
		secret, err := loadCurveSecretKey(keyfile)
		if err != nil {
			return fmt.Errorf("sink: loading CURVE key: %w", err)
		}
		z.log.Info("enabling ZMQ CURVE encryption")
		opts = append(opts, zmq4.WithSecurity(curve.NewServer(secret)))
	}

	sock := zmq4.NewPub(context.Background(), opts...)
	// The original sets ZMQ_LINGER=0 so teardown never blocks waiting to
	// flush; Close below already does not linger in zmq4, so there is no
	// equivalent knob needed here.
	if err := sock.Listen(uri); err != nil {
		return fmt.Errorf("sink: listening on %q: %w", uri, err)
	}

	z.sock = sock
	z.uri = uri
	return nil
}

// Enabled implements Sink.
func (z *ZMQSink) Enabled() bool { return z.sock != nil }

// WriteFrame implements Sink: it prepends the fixed header to buf and
// publishes the combined message.
func (z *ZMQSink) WriteFrame(buf []byte) error {
	if z.sock == nil {
		return fmt.Errorf("sink: ZMQ sink not connected")
	}

	if err := z.sock.Send(zmq4.NewMsg(z.encodeFrame(buf))); err != nil {
		return fmt.Errorf("sink: ZMQ send: %w", err)
	}
	return nil
}

// encodeFrame returns buf prefixed with the fixed ZMQ frame header.
func (z *ZMQSink) encodeFrame(buf []byte) []byte {
	frame := make([]byte, zmqHeaderSize+len(buf))
	binary.LittleEndian.PutUint16(frame[0:2], zmqHeaderVersion)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(z.encoder))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(buf)))
	binary.LittleEndian.PutUint16(frame[8:10], uint16(z.audioLeft))
	binary.LittleEndian.PutUint16(frame[10:12], uint16(z.audioRight))
	copy(frame[zmqHeaderSize:], buf)
	return frame
}

// Close shuts down the PUB socket.
func (z *ZMQSink) Close() error {
	if z.sock == nil {
		return nil
	}
	return z.sock.Close()
}
