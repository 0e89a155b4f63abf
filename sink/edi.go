/*
NAME
  edi.go

DESCRIPTION
  edi.go implements the EDI (Encapsulated Distribution Interface) egress
  sink: a TAG Packet (*ptr/DSTI/SSm/audio-levels/ODR-version tag items)
  wrapped in one AF Packet per WriteFrame call and sent over UDP. The
  reactor passes each 24ms block of a superframe in its own WriteFrame
  call, so one superframe becomes five AF Packets.

  There is no PFT layer: AF Packets are neither fragmented nor protected
  by Reed-Solomon FEC, and UDP is the only transport.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sink

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/ausocean/utils/logging"
)

const ediVersionInterval = 10 * time.Second

// EDISink assembles and sends one EDI AF Packet per WriteFrame call.
type EDISink struct {
	base

	log  logging.Logger
	conn *net.UDPConn

	odrVersionTag string

	tist       bool
	delay      time.Duration
	ediSeconds int64
	timestamp  uint32 // Timestamp-level-2 field (tsta) set by SetTist

	framesSent      uint64
	lastVersionSent time.Time
	seq             uint16
}

// NewEDISink constructs an EDISink; versionTag identifies this build in
// the periodic ODR-version tag item (e.g. "ODR-SourceCompanion 1.0").
func NewEDISink(log logging.Logger, versionTag string) *EDISink {
	return &EDISink{log: log, odrVersionTag: versionTag, lastVersionSent: time.Time{}}
}

// Connect opens the UDP socket used to send AF Packets to addr.
func (e *EDISink) Connect(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("sink: resolving EDI destination: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("sink: dialing EDI destination: %w", err)
	}
	e.conn = conn
	return nil
}

// Enabled implements Sink.
func (e *EDISink) Enabled() bool { return e.conn != nil }

// SetTist implements Timestamper. It mirrors EDI::set_tist: wallTime
// plus delay is split into whole seconds (m_edi_time) and a millisecond
// remainder, which is shifted into the Timestamp-level-2 field.
func (e *EDISink) SetTist(enable bool, delay time.Duration, wallTime time.Time) error {
	e.tist = enable
	e.delay = delay

	withDelay := wallTime.Add(delay)
	sec := withDelay.Truncate(time.Second)
	remainder := withDelay.Sub(sec)
	if remainder < 0 {
		return fmt.Errorf("sink: SetTist computed a negative sub-second remainder")
	}

	e.ediSeconds = sec.Unix()
	e.timestamp = uint32(remainder/time.Millisecond) << 14
	return nil
}

// WriteFrame implements Sink: it assembles the TAG Packet for buf and
// sends it wrapped in one AF Packet.
func (e *EDISink) WriteFrame(buf []byte) error {
	if e.conn == nil {
		return fmt.Errorf("sink: EDI sink not connected")
	}

	var tags [][]byte
	tags = append(tags, encodeTagItem("*ptr", []byte("DSTI")))
	tags = append(tags, e.encodeDSTITag())
	tags = append(tags, encodeTagItem("SSm ", buf))
	tags = append(tags, e.encodeAudioLevelsTag())

	if e.lastVersionSent.IsZero() {
		e.lastVersionSent = time.Now()
	} else if time.Since(e.lastVersionSent) >= ediVersionInterval {
		e.lastVersionSent = e.lastVersionSent.Add(ediVersionInterval)
		// We always send in a 24ms interval, so frame count converts
		// directly to an uptime figure without consulting the clock.
		numSecondsSent := e.framesSent * 24 / 1000
		tags = append(tags, e.encodeVersionTag(numSecondsSent))
	}

	tagPacket := make([]byte, 0, 256)
	for _, t := range tags {
		tagPacket = append(tagPacket, t...)
	}

	af := encodeAFPacket(e.seq, tagPacket)
	e.seq++

	if _, err := e.conn.Write(af); err != nil {
		return fmt.Errorf("sink: EDI send: %w", err)
	}
	e.framesSent++
	return nil
}

// Close shuts down the UDP socket.
func (e *EDISink) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// encodeDSTITag builds the DSTI (DAB STI) tag item: time fields plus
// the timestamp-level-2 field masked to 24 bits, as
// TagDSTI::tsta does.
func (e *EDISink) encodeDSTITag() []byte {
	payload := make([]byte, 8)
	flags := byte(0)
	if e.tist {
		flags |= 0x80 // atstf
	}
	payload[0] = flags
	binary.BigEndian.PutUint32(payload[1:5], uint32(e.ediSeconds))
	tsta := e.timestamp & 0xffffff
	payload[5] = byte(tsta >> 16)
	payload[6] = byte(tsta >> 8)
	payload[7] = byte(tsta)
	return encodeTagItem("DSTI", payload)
}

// encodeAudioLevelsTag builds the ODR audio-levels tag item.
func (e *EDISink) encodeAudioLevelsTag() []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], uint16(e.audioLeft))
	binary.BigEndian.PutUint16(payload[2:4], uint16(e.audioRight))
	return encodeTagItem("LEVL", payload)
}

// encodeVersionTag builds the periodic ODR-version tag item.
func (e *EDISink) encodeVersionTag(uptimeSeconds uint64) []byte {
	payload := make([]byte, 4+len(e.odrVersionTag))
	binary.BigEndian.PutUint32(payload[0:4], uint32(uptimeSeconds))
	copy(payload[4:], e.odrVersionTag)
	return encodeTagItem("VERS", payload)
}

// encodeTagItem builds one EDI TAG Item: a 4-character name followed by
// a 4-byte big-endian length in bits, followed by the payload.
func encodeTagItem(name string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	copy(out[0:4], name)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(payload))*8)
	copy(out[8:], payload)
	return out
}

// encodeAFPacket wraps tagPacket (the concatenated TAG Items) in one AF
// Packet: sync, length, sequence, AR flags (CRC present), PT ('T' for
// TAG Packet), payload, trailing CRC-CCITT.
func encodeAFPacket(seq uint16, tagPacket []byte) []byte {
	const headerLen = 2 + 4 + 2 + 1 + 1
	out := make([]byte, headerLen, headerLen+len(tagPacket)+2)
	copy(out[0:2], "AF")
	binary.BigEndian.PutUint32(out[2:6], uint32(len(tagPacket)))
	binary.BigEndian.PutUint16(out[6:8], seq)
	out[8] = 0x80 // AR: CRC present, no RS-FEC-carrying fragment
	out[9] = 'T'  // PT: payload is a TAG Packet
	out = append(out, tagPacket...)

	crc := crc16CCITT(out)
	out = append(out, byte(crc>>8), byte(crc))
	return out
}
