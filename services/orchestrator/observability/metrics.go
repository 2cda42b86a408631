// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the HTTP API.
//
// # Description
//
// Engine-level instruments live in the telemetry package and are exported
// through OpenTelemetry. The metrics here cover the transport: requests,
// event streams, keepalives and client disconnects. Both end up on the
// same /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "sqlagent"
	httpSubsystem    = "http"
)

// Endpoint labels a route for metrics.
type Endpoint string

const (
	EndpointRun       Endpoint = "react_run"
	EndpointResume    Endpoint = "react_resume"
	EndpointWebSocket Endpoint = "react_ws"
	EndpointSQL       Endpoint = "sql_execute"
	EndpointHistory   Endpoint = "history"
)

// Metrics holds the transport metrics.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RequestsTotal counts requests by endpoint and outcome.
	// Labels: endpoint, outcome (ok, rejected, error)
	RequestsTotal *prometheus.CounterVec

	// EventsTotal counts events written to streams.
	// Labels: endpoint, type (step, needs_user_input, completed, error)
	EventsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures how long a stream stayed open.
	// Labels: endpoint, outcome (needs_user_input, completed, error, canceled)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open event streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// KeepAlivesTotal counts SSE keepalive comments.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams the client closed early.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg. A nil reg uses the default
// Prometheus registerer; tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics on duplicate registration, so call it once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "stream_events_total",
				Help:      "Total events written to client streams",
			},
			[]string{"endpoint", "type"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Duration of event streams in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"endpoint", "outcome"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "active_streams",
				Help:      "Number of open event streams",
			},
			[]string{"endpoint"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total streams closed by the client before the run ended",
			},
			[]string{"endpoint"},
		),
	}
}

// RecordRequest counts one request.
func (m *Metrics) RecordRequest(endpoint Endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), outcome).Inc()
}

// RecordEvent counts one streamed event.
func (m *Metrics) RecordEvent(endpoint Endpoint, eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(endpoint), eventType).Inc()
}

// StreamStarted marks a stream open and returns the func that closes it.
func (m *Metrics) StreamStarted(endpoint Endpoint) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
	return func(outcome string) {
		m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
		m.StreamDurationSeconds.WithLabelValues(string(endpoint), outcome).Observe(time.Since(start).Seconds())
	}
}

// RecordKeepAlive counts one keepalive.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect counts one early close.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
