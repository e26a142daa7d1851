// Prometheus instrumentation for the measurement harness
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the harness's collectors on a private registry so the
// /metrics endpoint exposes only what the harness itself produces.
// All observer methods are safe on a nil receiver; a run without a
// metrics listener simply passes nil through.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal   prometheus.Counter
	snapshotsTotal prometheus.Counter
	retriesTotal   *prometheus.CounterVec

	phase          prometheus.Gauge
	bedTemp        prometheus.Gauge
	frameTemp      prometheus.Gauge
	elapsedSeconds prometheus.Gauge
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		samplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gantry_drift_samples_total",
			Help: "Samples recorded across all measurement phases.",
		}),
		snapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gantry_drift_mesh_snapshots_total",
			Help: "Bed mesh snapshots recorded.",
		}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_drift_command_retries_total",
			Help: "Control-plane commands retried after a transport error.",
		}, []string{"op"}),
		phase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_drift_phase",
			Help: "Current phase ordinal (0=Init .. 10=Aborted).",
		}),
		bedTemp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_drift_bed_temperature_celsius",
			Help: "Last observed bed temperature.",
		}),
		frameTemp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_drift_frame_temperature_celsius",
			Help: "Last observed frame temperature.",
		}),
		elapsedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_drift_elapsed_seconds",
			Help: "Seconds since session start at the last sample.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSample counts one recorded sample.
func (m *Metrics) ObserveSample() {
	if m == nil {
		return
	}
	m.samplesTotal.Inc()
}

// ObserveSnapshot counts one recorded mesh snapshot.
func (m *Metrics) ObserveSnapshot() {
	if m == nil {
		return
	}
	m.snapshotsTotal.Inc()
}

// ObserveRetry counts one retried control-plane command.
func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(op).Inc()
}

// SetPhase publishes the current phase ordinal.
func (m *Metrics) SetPhase(ordinal int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(ordinal))
}

// SetBedTemp publishes the last bed temperature reading.
func (m *Metrics) SetBedTemp(v float64) {
	if m == nil {
		return
	}
	m.bedTemp.Set(v)
}

// SetFrameTemp publishes the last frame temperature reading.
func (m *Metrics) SetFrameTemp(v float64) {
	if m == nil {
		return
	}
	m.frameTemp.Set(v)
}

// SetElapsed publishes the session elapsed time at the last sample.
func (m *Metrics) SetElapsed(seconds float64) {
	if m == nil {
		return
	}
	m.elapsedSeconds.Set(seconds)
}
