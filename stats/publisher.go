/*
NAME
  publisher.go

DESCRIPTION
  publisher.go implements the operational statistics publisher: Prometheus
  gauges and counters covering the jitter buffer, PAD FIFO, superframe
  assembly rate, and sink send failures, served over an HTTP /metrics
  endpoint.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

// Package stats publishes the companion's operational counters for
// scraping by Prometheus.
package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

// levelHistoryLen is the number of recent AudioLevel samples averaged into
// the smoothed gauge, roughly 3s of superframes at 120ms each.
const levelHistoryLen = 25

// Publisher holds the metric set and the registry it is bound to, so
// that multiple Publishers (e.g. in tests) never collide on the default
// global registry.
type Publisher struct {
	registry *prometheus.Registry

	// jitterOverruns/jitterDuplicates/padDrops are owner-tracked running
	// totals (jitter.Queue, padchan.FIFO) reported into this publisher on
	// every reactor loop iteration, so they are modelled as gauges rather than
	// counters: the publisher never increments them itself, it only ever
	// reflects the latest total it was told.
	jitterOverruns   prometheus.Gauge
	jitterDuplicates prometheus.Gauge
	jitterDepth      prometheus.Gauge

	padDrops prometheus.Gauge
	padDepth prometheus.Gauge

	superframesTotal prometheus.Counter
	sinkFailures     *prometheus.CounterVec
	sinkSuccesses    *prometheus.CounterVec

	audioLevel         *prometheus.GaugeVec
	audioLevelSmoothed *prometheus.GaugeVec

	mu      sync.Mutex
	history map[string][]float64
}

// NewPublisher creates a Publisher with its own registry.
func NewPublisher() *Publisher {
	p := &Publisher{
		registry: prometheus.NewRegistry(),
		jitterOverruns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_jitter_overruns_total",
			Help: "Frames dropped on push because the jitter buffer was full.",
		}),
		jitterDuplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_jitter_duplicates_total",
			Help: "Frames pushed at an index already occupied in the jitter buffer.",
		}),
		jitterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_jitter_depth",
			Help: "Current number of frames buffered in the jitter buffer.",
		}),
		padDrops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_pad_drops_total",
			Help: "PAD frames dropped because the PAD FIFO was full.",
		}),
		padDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_pad_depth",
			Help: "Current number of PAD frames queued.",
		}),
		superframesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odr_sourcecompanion_superframes_total",
			Help: "Superframes successfully assembled.",
		}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odr_sourcecompanion_sink_send_failures_total",
			Help: "Send failures, by sink.",
		}, []string{"sink"}),
		sinkSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odr_sourcecompanion_sink_sends_total",
			Help: "Successful sends, by sink.",
		}, []string{"sink"}),
		audioLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_audio_level",
			Help: "Most recently measured peak audio level, by channel.",
		}, []string{"channel"}),
		audioLevelSmoothed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odr_sourcecompanion_audio_level_smoothed",
			Help: "Mean peak audio level over the last few superframes, by channel.",
		}, []string{"channel"}),
		history: make(map[string][]float64),
	}

	p.registry.MustRegister(
		p.jitterOverruns, p.jitterDuplicates, p.jitterDepth,
		p.padDrops, p.padDepth,
		p.superframesTotal, p.sinkFailures, p.sinkSuccesses,
		p.audioLevel, p.audioLevelSmoothed,
	)
	return p
}

// ObserveJitter records the jitter buffer's current overrun/duplicate
// running totals and depth.
func (p *Publisher) ObserveJitter(overruns, duplicates uint64, depth int) {
	p.jitterOverruns.Set(float64(overruns))
	p.jitterDuplicates.Set(float64(duplicates))
	p.jitterDepth.Set(float64(depth))
}

// ObservePAD records the PAD FIFO's drop total and current depth.
func (p *Publisher) ObservePAD(drops uint64, depth int) {
	p.padDrops.Set(float64(drops))
	p.padDepth.Set(float64(depth))
}

// SuperframeEmitted increments the superframe counter.
func (p *Publisher) SuperframeEmitted() {
	p.superframesTotal.Inc()
}

// SinkSendResult records the outcome of one send attempt against the
// named sink ("zmq" or "edi").
func (p *Publisher) SinkSendResult(sink string, err error) {
	if err != nil {
		p.sinkFailures.WithLabelValues(sink).Inc()
		return
	}
	p.sinkSuccesses.WithLabelValues(sink).Inc()
}

// AudioLevel records the most recent peak level for a channel ("left" or
// "right"), and updates that channel's trailing mean, the way
// cmd/rv's probe averaged repeated measurements with stat.Mean.
func (p *Publisher) AudioLevel(channel string, level int16) {
	p.audioLevel.WithLabelValues(channel).Set(float64(level))

	p.mu.Lock()
	hist := append(p.history[channel], float64(level))
	if len(hist) > levelHistoryLen {
		hist = hist[len(hist)-levelHistoryLen:]
	}
	p.history[channel] = hist
	mean := stat.Mean(hist, nil)
	p.mu.Unlock()

	p.audioLevelSmoothed.WithLabelValues(channel).Set(mean)
}

// Handler returns the HTTP handler serving this Publisher's registry in
// the Prometheus exposition format, for mounting at /metrics.
func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ListenAndServe starts a dedicated HTTP server exposing /metrics on
// addr. It blocks until the server stops; the caller should run it in
// its own goroutine.
func (p *Publisher) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return server.ListenAndServe()
}
