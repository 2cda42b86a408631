// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics registers the metrics on a private registry so tests do
// not collide with the global one.
func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

// ============================================================================
// Tests
// ============================================================================

func TestRecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointRun, "ok")
	m.RecordRequest(EndpointRun, "ok")
	m.RecordRequest(EndpointResume, "rejected")

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("react_run", "ok")); got != 2 {
		t.Errorf("react_run ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("react_resume", "rejected")); got != 1 {
		t.Errorf("react_resume rejected = %v, want 1", got)
	}
}

func TestStreamStarted(t *testing.T) {
	m, reg := newTestMetrics(t)

	finish := m.StreamStarted(EndpointRun)
	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("react_run")); got != 1 {
		t.Fatalf("active streams = %v, want 1", got)
	}
	finish("completed")
	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("react_run")); got != 0 {
		t.Errorf("active streams after finish = %v, want 0", got)
	}

	count, err := testutil.GatherAndCount(reg, "sqlagent_http_stream_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestEventsAndDisconnects(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordEvent(EndpointWebSocket, "step")
	m.RecordEvent(EndpointWebSocket, "step")
	m.RecordEvent(EndpointWebSocket, "completed")
	m.RecordKeepAlive(EndpointRun)
	m.RecordClientDisconnect(EndpointRun)

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("react_ws", "step")); got != 2 {
		t.Errorf("step events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KeepAlivesTotal.WithLabelValues("react_run")); got != 1 {
		t.Errorf("keepalives = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("react_run")); got != 1 {
		t.Errorf("disconnects = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.RecordRequest(EndpointSQL, "ok")
	m.RecordEvent(EndpointRun, "step")
	m.RecordKeepAlive(EndpointRun)
	m.RecordClientDisconnect(EndpointRun)
	m.StreamStarted(EndpointRun)("canceled")
}
