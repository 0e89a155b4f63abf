/*
NAME
  config.go

DESCRIPTION
  config.go provides the configuration settings for the source companion,
  validated and defaulted the way revid's own config does: a flat struct,
  a Validate method, and an injected Logger for reporting defaulted or
  rejected fields.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package config holds the companion's validated runtime configuration.
package config

import (
	"fmt"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/Opendigitalradio/ODR-SourceCompanion/padchan"
)

// Encoder audio sample rates accepted by set_parameters.
const (
	Rate32kHz = 32000
	Rate48kHz = 48000
)

// Default parameter values, used when a field is left at its zero value.
const (
	DefaultBitrate         = 64
	DefaultChannels        = 2
	DefaultSampleRate      = 48000
	DefaultJitterSize      = 40
	DefaultTimeout         = 2000 * time.Millisecond
	DefaultTimestampDelay  = 0 * time.Millisecond
	DefaultPADFIFOCapacity = padchan.DefaultCapacity
)

// Config holds every tunable of one companion instance. A new Config must
// be passed through Validate before use; Validate defaults unset fields
// and rejects combinations that cannot be realised on the wire.
type Config struct {
	// Bitrate is the DAB+ subchannel bitrate in kbps; must be in [8,192]
	// and a multiple of 8. It determines FrameLen = Bitrate/8*24 bytes.
	Bitrate uint

	// Channels is 1 (mono) or 2 (stereo).
	Channels uint

	// SampleRate is the AAC encoder's sample rate in Hz: 32000 or 48000.
	SampleRate uint

	SBR bool // Spectral Band Replication enabled.
	PS  bool // Parametric Stereo enabled (stereo only).

	// InputURI is the host:port the STI/RTP audio socket binds.
	InputURI string

	// ControlURI is the host:port the PAD/control socket binds.
	ControlURI string

	// PADPort is the local port number configured for a PAD source. It is
	// stored only: no listener is opened on it and nothing read from it
	// reaches PushPAD.
	PADPort int

	// PADSocket is a Unix domain socket path configured for a PAD source.
	// It is stored only: the socket is never opened or read.
	PADSocket string

	// PAD enables the PAD back-channel entirely.
	PAD bool

	// JitterSize is the jitter buffer capacity in 24ms frames.
	JitterSize int

	// Timeout is the per-superframe wall-clock timeout.
	Timeout time.Duration

	// Output is the ZMQ sink destination URI ("" disables it).
	Output string

	// EDI is the EDI sink destination URI ("" disables it).
	EDI string

	// TimestampDelay is added to the wall-clock capture time before it is
	// split into EDI TIST seconds/sub-second fields.
	TimestampDelay time.Duration

	// StartupCheck, if set, is run once after the first successful
	// superframe to let an operator script confirm the pipeline is live.
	StartupCheck string

	// Logger receives Validate's defaulting/rejection notices, and is
	// threaded through to every other package that logs.
	Logger logging.Logger
}

// DerivedAudioMode computes the set_parameters audio_mode from the
// current Channels/SBR/PS combination.
func (c *Config) DerivedAudioMode() padchan.AudioMode {
	return padchan.DeriveAudioMode(c.Channels == 2, c.SBR, c.PS)
}

// SubChannelIndex is the STI subchannel index implied by Bitrate
// (subchannel_index = bitrate_kbps / 8).
func (c *Config) SubChannelIndex() uint {
	return c.Bitrate / 8
}

// FrameLen is the length in bytes of one 24ms DAB+ frame at the current
// bitrate.
func (c *Config) FrameLen() int {
	return int(c.SubChannelIndex()) * 24
}

// Validate checks Config for invalid combinations and defaults any field
// left at its zero value. It returns an error for parameter combinations
// that set_parameters cannot realise; defaulting a merely-unset field is
// reported through Logger, not returned as an error.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("config: Logger must be set")
	}

	if c.Bitrate == 0 {
		c.LogInvalidField("Bitrate", DefaultBitrate)
		c.Bitrate = DefaultBitrate
	}
	if c.Bitrate < 8 || c.Bitrate > 192 || c.Bitrate%8 != 0 {
		return fmt.Errorf("config: Bitrate %d kbps out of range [8,192] or not a multiple of 8", c.Bitrate)
	}

	if c.Channels == 0 {
		c.LogInvalidField("Channels", DefaultChannels)
		c.Channels = DefaultChannels
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("config: Channels %d not in {1,2}", c.Channels)
	}

	if c.SampleRate == 0 {
		c.LogInvalidField("SampleRate", DefaultSampleRate)
		c.SampleRate = DefaultSampleRate
	}
	if c.SampleRate != Rate32kHz && c.SampleRate != Rate48kHz {
		return fmt.Errorf("config: SampleRate %d not in {32000,48000}", c.SampleRate)
	}

	if c.Channels == 1 && c.PS {
		return fmt.Errorf("config: PS (parametric stereo) requires Channels=2")
	}

	if c.JitterSize <= 0 {
		c.LogInvalidField("JitterSize", DefaultJitterSize)
		c.JitterSize = DefaultJitterSize
	}

	if c.Timeout <= 0 {
		c.LogInvalidField("Timeout", DefaultTimeout)
		c.Timeout = DefaultTimeout
	}

	return nil
}

// LogInvalidField reports that field was unset or invalid and has been
// defaulted to def.
func (c *Config) LogInvalidField(name string, def interface{}) {
	c.Logger.Info(name+" bad or unset, defaulting", name, def)
}
