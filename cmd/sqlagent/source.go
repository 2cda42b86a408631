// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
)

// eventSource runs questions and yields their event sequences. Input
// errors are returned before any event; the channel closes after the last
// event.
type eventSource interface {
	Run(ctx context.Context, req agent.StartRequest) (<-chan events.Event, error)
	Resume(ctx context.Context, req agent.ResumeRequest) (<-chan events.Event, error)
}

// =============================================================================
// Local engine
// =============================================================================

// localSource runs the engine in-process.
type localSource struct {
	engine *agent.Engine

	// wrap adds observers such as the history recorder.
	wrap func(agent.Observer) agent.Observer
}

func (s *localSource) Run(ctx context.Context, req agent.StartRequest) (<-chan events.Event, error) {
	run, err := s.engine.Prepare(req)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, run), nil
}

func (s *localSource) Resume(ctx context.Context, req agent.ResumeRequest) (<-chan events.Event, error) {
	run, err := s.engine.PrepareResume(req)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, run), nil
}

func (s *localSource) stream(ctx context.Context, run *agent.Run) <-chan events.Event {
	return events.Stream(ctx, func(ctx context.Context, obs agent.Observer) error {
		if s.wrap != nil {
			obs = s.wrap(obs)
		}
		_, err := run.Execute(ctx, obs)
		return err
	}, events.WithSessionID(run.SessionID()))
}

// =============================================================================
// Remote server
// =============================================================================

// remoteSource streams from a running `sqlagent serve` over SSE.
type remoteSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newRemoteSource(baseURL, apiKey string) *remoteSource {
	return &remoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status int
	Body   datatypes.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Body.Error, e.Status, e.Body.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Body.Error, e.Status)
}

func (s *remoteSource) Run(ctx context.Context, req agent.StartRequest) (<-chan events.Event, error) {
	return s.post(ctx, "/v1/react/run", datatypes.RunRequest{
		Question:      req.Question,
		MaxToolCalls:  req.MaxToolCalls,
		MaxSQLSeconds: req.MaxSQLSeconds,
	})
}

func (s *remoteSource) Resume(ctx context.Context, req agent.ResumeRequest) (<-chan events.Event, error) {
	return s.post(ctx, "/v1/react/resume", datatypes.ResumeRequest{
		Question:     req.Question,
		SessionState: req.SessionState,
		UserResponse: req.UserResponse,
	})
}

func (s *remoteSource) post(ctx context.Context, path string, body any) (<-chan events.Event, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}

	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		err := readSSE(resp.Body, func(ev events.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("Event stream interrupted", slog.String("error", err.Error()))
		}
	}()
	return ch, nil
}

// wireEvent is events.Event with the payload left undecoded.
type wireEvent struct {
	ID        string          `json:"id"`
	Seq       int             `json:"seq"`
	Type      events.Type     `json:"type"`
	SessionID string          `json:"session_id"`
	Iteration int             `json:"iteration"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// readSSE decodes an event stream, calling emit per event until emit
// returns false or r ends. Comment lines (keepalives) are skipped.
func readSSE(r io.Reader, emit func(events.Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var w wireEvent
			if err := json.Unmarshal([]byte(data.String()), &w); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			ev := events.Event{
				ID:        w.ID,
				Seq:       w.Seq,
				Type:      w.Type,
				SessionID: w.SessionID,
				Iteration: w.Iteration,
				Timestamp: w.Timestamp,
				Data:      w.Data,
			}
			if !emit(ev) {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
