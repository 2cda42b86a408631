// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
)

// ErrNoFlusher is returned when the ResponseWriter cannot stream.
var ErrNoFlusher = errors.New("ResponseWriter does not support http.Flusher")

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes agent events as Server-Sent Events.
//
// # Description
//
// Each event is written as
//
//	id: <seq>
//	event: <type>
//	data: <json>
//
// followed by a blank line. The SSE id is the event's sequence number so a
// client can tell whether it missed anything. SSEWriter implements
// events.Sink.
//
// # Thread Safety
//
// Safe for concurrent use. Keepalives come from a ticker goroutine while
// events come from the run.
//
// # Assumptions
//
//   - SetSSEHeaders was called before the first write.
type SSEWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	onEvent func(events.Type)
}

// NewSSEWriter wraps w.
//
// # Outputs
//
//   - *SSEWriter: Ready to write.
//   - error: ErrNoFlusher if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

var _ events.Sink = (*SSEWriter)(nil)

// Send implements events.Sink.
func (w *SSEWriter) Send(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if w.onEvent != nil {
		w.onEvent(ev.Type)
	}
	return nil
}

// Flush implements events.Sink.
func (w *SSEWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment so proxies keep the connection open.
func (w *SSEWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers of an event stream. Call before writing.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
