/*
NAME
  odr-sourcecompanion - companion process bridging a DAB+ contribution
  encoder's STI/RTP output to ZMQ and EDI multiplexer inputs.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package main is the odr-sourcecompanion command entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/Opendigitalradio/ODR-SourceCompanion/config"
	"github.com/Opendigitalradio/ODR-SourceCompanion/level"
	"github.com/Opendigitalradio/ODR-SourceCompanion/padchan"
	"github.com/Opendigitalradio/ODR-SourceCompanion/reactor"
	"github.com/Opendigitalradio/ODR-SourceCompanion/sink"
	"github.com/Opendigitalradio/ODR-SourceCompanion/stats"
	"github.com/Opendigitalradio/ODR-SourceCompanion/udpio"
)

// version is the companion's reported build version, sent in the EDI
// ODR-version tag.
const version = "v1.0.0"

// Logging configuration, matched to the teacher's cmd/rv.
const (
	logPath      = "/var/log/odr-sourcecompanion/odr-sourcecompanion.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logSuppress  = true
)

func main() {
	var (
		bitrate        = flag.Uint("bitrate", config.DefaultBitrate, "DAB+ subchannel bitrate in kbps")
		channels       = flag.Uint("channels", config.DefaultChannels, "number of audio channels, 1 or 2")
		rate           = flag.Uint("rate", config.DefaultSampleRate, "AAC encoder sample rate in Hz, 32000 or 48000")
		sbr            = flag.Bool("sbr", false, "Spectral Band Replication is enabled on the encoder")
		ps             = flag.Bool("ps", false, "Parametric Stereo is enabled on the encoder (stereo only)")
		aaclc          = flag.Bool("aaclc", false, "encoder runs plain AAC-LC (no SBR, no PS); overrides -sbr/-ps")
		inputURI       = flag.String("input-uri", ":9000", "host:port the STI/RTP audio socket binds")
		controlURI     = flag.String("control-uri", "", "host:port the PAD/control socket binds; empty disables PAD")
		padEnabled     = flag.Bool("pad", false, "enable the PAD back-channel")
		padPort        = flag.Int("pad-port", 0, "local port for a PAD source (stored in the config only; no listener is opened)")
		padSocket      = flag.String("pad-socket", "", "Unix domain socket for a PAD source (stored in the config only; never opened)")
		jitterSize     = flag.Int("jitter-size", config.DefaultJitterSize, "jitter buffer capacity in 24ms frames")
		timeout        = flag.Duration("timeout", config.DefaultTimeout, "per-superframe wall-clock timeout")
		output         = flag.String("output", "", "ZMQ PUB sink destination URI, e.g. tcp://*:9001; empty disables it")
		zmqKeyfile     = flag.String("zmq-key", "", "path to a Z85-encoded CURVE secret key enabling ZMQ encryption")
		edi            = flag.String("edi", "", "EDI sink destination host:port; empty disables it")
		timestampDelay = flag.Duration("timestamp-delay", config.DefaultTimestampDelay, "delay added before EDI TIST fields are derived")
		startupCheck   = flag.String("startup-check", "", "shell command run once after the first successful superframe")
		metricsAddr    = flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100; empty disables it")
		logLevel       = flag.Int("log-level", int(logging.Info), "log level, 0=Debug .. 4=Fatal")
		showVersion    = flag.Bool("version", false, "show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *logLevel < int(logging.Debug) || *logLevel > int(logging.Fatal) {
		*logLevel = int(logging.Info)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*logLevel), io.MultiWriter(fileLog, os.Stderr), logSuppress)

	log.Info("starting odr-sourcecompanion", "version", version)

	if *aaclc {
		*sbr = false
		*ps = false
	}

	cfg := &config.Config{
		Bitrate:        *bitrate,
		Channels:       *channels,
		SampleRate:     *rate,
		SBR:            *sbr,
		PS:             *ps,
		InputURI:       *inputURI,
		ControlURI:     *controlURI,
		PAD:            *padEnabled,
		PADPort:        *padPort,
		PADSocket:      *padSocket,
		JitterSize:     *jitterSize,
		Timeout:        *timeout,
		Output:         *output,
		EDI:            *edi,
		TimestampDelay: *timestampDelay,
		StartupCheck:   *startupCheck,
		Logger:         log,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err.Error())
	}

	audio, err := udpio.Bind(cfg.InputURI)
	if err != nil {
		log.Fatal("could not bind audio socket", "error", err.Error())
	}
	defer audio.Close()

	var control *udpio.Endpoint
	var pad *padchan.Channel
	if cfg.PAD && cfg.ControlURI != "" {
		control, err = udpio.Bind(cfg.ControlURI)
		if err != nil {
			log.Fatal("could not bind control socket", "error", err.Error())
		}
		defer control.Close()
		pad = padchan.NewChannel(config.DefaultPADFIFOCapacity)
	}

	var sinks []sink.Sink
	if cfg.Output != "" {
		zmqEncoder := sink.EncoderAACPlus
		zs := sink.NewZMQSink(log, zmqEncoder)
		if err := zs.Connect(cfg.Output, *zmqKeyfile); err != nil {
			log.Fatal("could not connect ZMQ sink", "error", err.Error())
		}
		defer zs.Close()
		sinks = append(sinks, zs)
		log.Info("ZMQ sink enabled", "uri", cfg.Output)
	}
	if cfg.EDI != "" {
		es := sink.NewEDISink(log, "ODR-SourceCompanion "+version)
		if err := es.Connect(cfg.EDI); err != nil {
			log.Fatal("could not connect EDI sink", "error", err.Error())
		}
		defer es.Close()
		sinks = append(sinks, es)
		log.Info("EDI sink enabled", "uri", cfg.EDI)
	}
	if len(sinks) == 0 {
		log.Warning("no egress sinks configured; superframes will be measured but not forwarded")
	}

	meter := level.NewPeakMeter(1024)

	var pub *stats.Publisher
	if *metricsAddr != "" {
		pub = stats.NewPublisher()
		go func() {
			log.Info("serving metrics", "addr", *metricsAddr)
			if err := pub.ListenAndServe(*metricsAddr); err != nil {
				log.Error("metrics server stopped", "error", err.Error())
			}
		}()
	}

	loop := reactor.New(cfg, audio, control, pad, meter, sinks, pub)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("entering main loop")
	if err := loop.Run(ctx); err != nil {
		log.Error("main loop exited", "error", err.Error())
		time.Sleep(100 * time.Millisecond) // let the log writer flush before exit.
		os.Exit(1)
	}
	log.Info("odr-sourcecompanion stopped")
}
