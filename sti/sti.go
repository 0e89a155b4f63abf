/*
NAME
  sti.go

DESCRIPTION
  sti.go implements detection and decoding of ETSI EN 300 797 STI frames,
  optionally wrapped in RTP, as emitted by a DAB+ contribution encoder.

AUTHOR
  Opendigitalradio contributors

LICENSE
  Copyright (C) 2024 Opendigitalradio.

  Licensed under the Apache License, Version 2.0 (the "License");
  you may not use this file except in compliance with the License.
  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0
*/

// Package sti parses STI (Service Transport Interface, ETSI EN 300 797)
// frames carrying one DAB+ subchannel, optionally wrapped in RTP.
package sti

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// TransportKind identifies how the STI frame reached us.
type TransportKind int

const (
	// STI indicates the datagram was raw STI with no RTP wrapper.
	STI TransportKind = iota
	// STIoverRTP indicates the datagram had a 12-byte RTP header in front
	// of the STI frame.
	STIoverRTP
)

func (k TransportKind) String() string {
	switch k {
	case STI:
		return "UDP/STI"
	case STIoverRTP:
		return "UDP/RTP/STI"
	default:
		return "unknown"
	}
}

// ErrCannotExtract is returned by Parse when no STI sync pattern could be
// located, with or without an RTP wrapper, when NST is zero, or (wrapped,
// comparable with errors.Is) when the header or payload is truncated.
var ErrCannotExtract = errors.New("sti: cannot extract DAB+ frame from datagram")

// rtpHeaderLen is the fixed length of an RTP header skipped before retrying
// STI detection. The encoder never sends CSRC identifiers or an RTP header
// extension, so unlike a general purpose RTP parser we do not need to
// account for them here.
const rtpHeaderLen = 12

// fSync0 and fSync1 are the two F-Sync patterns defined in
// ETSI EN 300 797 V1.2.1 ch 8.2.1.2, found at offset 1 of an STI frame.
var (
	fSync0 = [3]byte{0x1F, 0x90, 0xCA}
	fSync1 = [3]byte{0xE0, 0x6F, 0x35}
)

// Frame is the result of successfully parsing one UDP datagram.
type Frame struct {
	// Payload points into the original datagram; callers that retain it
	// past the lifetime of the datagram buffer must copy it.
	Payload   []byte
	Index     int
	Transport TransportKind
}

func isSTI(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	var got [3]byte
	copy(got[:], buf[1:4])
	return got == fSync0 || got == fSync1
}

// isRTPSTI reports whether buf looks like an RTP header wrapping STI: RTP
// version 2 and a dynamic payload type of 34, the convention this ecosystem
// uses for carrying STI over RTP.
func isRTPSTI(buf []byte) bool {
	if len(buf) < rtpHeaderLen {
		return false
	}
	version := buf[0] >> 6
	payloadType := buf[1] & 0x7F
	return version == 2 && payloadType == 34
}

// Sequence returns the 16-bit RTP sequence number of an RTP-wrapped
// datagram. Callers must have already established the datagram is
// RTP-wrapped (e.g. via a successful Parse reporting STIoverRTP).
func Sequence(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[2:4])
}

// Parse locates the DAB+ frame payload within one UDP datagram, stripping an
// optional RTP wrapper, and decodes the STI Frame Characterization to
// extract the 24ms frame index.
//
// Algorithm follows ETSI EN 300 797 ch 8.2.1: the Frame Characterization is
// preceded by a 4-byte control word, a 2-byte DFS and a 2-byte CFS, then a
// 5-byte FC preamble before DFCTL/DFCTH/NST. Only the first stream
// descriptor is decoded; if NST > 1 the remaining descriptors are skipped
// but not interpreted.
func Parse(datagram []byte) (Frame, error) {
	offset := 0
	transport := STI

	if !isSTI(datagram) {
		if !isRTPSTI(datagram) {
			return Frame{}, ErrCannotExtract
		}
		offset = rtpHeaderLen
		if len(datagram) < offset+4 || !isSTI(datagram[offset:]) {
			return Frame{}, ErrCannotExtract
		}
		transport = STIoverRTP
	}

	buf := datagram[offset:]

	// control word (4) + DFS (2) + CFS (2) + FC preamble (5) = 13 bytes
	// before DFCTL.
	const fcOffset = 13
	if len(buf) < fcOffset+3 {
		return Frame{}, ErrCannotExtract
	}

	dfctl := uint32(buf[fcOffset])
	dfcth := uint32(buf[fcOffset+1] >> 3)
	nst := binary.BigEndian.Uint16(buf[fcOffset+1:fcOffset+3]) & 0x7FF

	if nst < 1 {
		return Frame{}, ErrCannotExtract
	}

	// DFCTL occupies 1 byte, DFCTH+NST occupy the next 2, so the first
	// stream descriptor starts 3 bytes after fcOffset.
	descOffset := fcOffset + 3
	if len(buf) < descOffset+4 {
		return Frame{}, ErrCannotExtract
	}

	stl := binary.BigEndian.Uint16(buf[descOffset:descOffset+2]) & 0x1FFF
	crcstf := (buf[descOffset+3] & 0x80) >> 7

	payloadOffset := descOffset + 4*int(nst) + 4
	if payloadOffset > len(buf) {
		return Frame{}, errors.Wrap(ErrCannotExtract, "descriptor table overruns datagram")
	}

	payloadLen := int(stl) - 2*int(crcstf)
	if payloadLen < 0 || payloadOffset+payloadLen > len(buf) {
		return Frame{}, errors.Wrap(ErrCannotExtract, "declared payload length overruns datagram")
	}

	return Frame{
		Payload:   buf[payloadOffset : payloadOffset+payloadLen],
		Index:     int(dfcth*250 + dfctl),
		Transport: transport,
	}, nil
}
