/*
NAME
  control.go

DESCRIPTION
  control.go implements the wire codec for the three back-channel
  message types exchanged with the encoder on the control/PAD UDP port.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package padchan

const flagByte = 0xFD

const (
	opSetParams     = 0x07
	opPADRequest    = 0x17
	opPADProvision  = 0x18
	padHeaderMarker = 0xAD
)

// AudioMode is the AAC encoder channel/SBR/PS mode, sent to the encoder in
// a SetParams message.
type AudioMode byte

// Encoder audio modes, per the control-message format.
const (
	ModeMono        AudioMode = 0
	ModeMonoSBR     AudioMode = 1
	ModeStereo      AudioMode = 2
	ModeStereoSBR   AudioMode = 3
	ModeStereoSBRPS AudioMode = 4
)

// DeriveAudioMode computes the AudioMode to send the encoder from the
// channel count and the SBR/PS flags, per the mapping:
// mono -> Mono+SBR if sbr else Mono; stereo -> Stereo+SBR+PS if ps, else
// Stereo+SBR if sbr, else Stereo.
func DeriveAudioMode(stereo, sbr, ps bool) AudioMode {
	if !stereo {
		if sbr {
			return ModeMonoSBR
		}
		return ModeMono
	}
	if ps {
		return ModeStereoSBRPS
	}
	if sbr {
		return ModeStereoSBR
	}
	return ModeStereo
}

// EncoderParams is the small record of encoder configuration carried by a
// SetParams message (see EncodeSetParams). Nothing in this module sends
// that message to the encoder.
type EncoderParams struct {
	SubChannelIndex byte
	AudioMode       AudioMode
	DAC             byte // 0 = 32kHz, 1 = 48kHz
	MonoMode        byte // 0 = (L+R)/2, 1 = Left, 2 = Right
}

// EncodeSetParams builds the 0xFD 0x07 "set encoder parameters" message.
func EncodeSetParams(p EncoderParams) []byte {
	return []byte{flagByte, opSetParams, p.SubChannelIndex, byte(p.AudioMode), p.DAC, p.MonoMode}
}

// EncodePADProvision builds the 0xFD 0x18 "PAD provision" reply carrying
// frame, which is expected to already be in FIFO (i.e. byte-reversed)
// order: it is copied into the payload unchanged.
func EncodePADProvision(frame []byte) []byte {
	buf := make([]byte, 0, 5+len(frame))
	buf = append(buf, flagByte, opPADProvision, byte(len(frame)+2), padHeaderMarker, byte(len(frame)))
	buf = append(buf, frame...)
	return buf
}

// MessageKind identifies a decoded control-channel message.
type MessageKind int

// Message kinds recognized on the control channel.
const (
	MessageUnknown MessageKind = iota
	MessagePADRequest
	MessageSetParams
)

// Decode inspects a received control-channel datagram and reports which
// kind of message it is: PAD requests and SetParams messages are
// distinguished; anything else, including truncated or malformed
// datagrams, is MessageUnknown.
func Decode(datagram []byte) MessageKind {
	if len(datagram) < 2 || datagram[0] != flagByte {
		return MessageUnknown
	}
	switch datagram[1] {
	case opPADRequest:
		return MessagePADRequest
	case opSetParams:
		return MessageSetParams
	default:
		return MessageUnknown
	}
}
