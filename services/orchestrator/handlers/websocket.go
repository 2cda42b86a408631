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
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
)

const wsWriteWait = 10 * time.Second

// Control message types sent on the websocket besides agent events.
const (
	WSAccepted = "accepted"
	WSRejected = "rejected"
	WSCanceled = "canceled"
)

// WSControl acknowledges or rejects a client action.
type WSControl struct {
	Type      string                   `json:"type"`
	Action    string                   `json:"action"`
	SessionID string                   `json:"session_id,omitempty"`
	Error     *datatypes.ErrorResponse `json:"error,omitempty"`
}

// wsConn serializes writes to one websocket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	if err := w.conn.WriteJSON(v); err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

// wsSink writes agent events to a websocket. It implements events.Sink.
type wsSink struct {
	conn    *wsConn
	onEvent func(events.Type)
}

func (s *wsSink) Send(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.writeJSON(ev); err != nil {
		return err
	}
	s.onEvent(ev.Type)
	return nil
}

func (s *wsSink) Flush() error { return nil }

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return slices.Contains(allowed, r.Header.Get("Origin"))
		},
	}
}

// HandleWebSocket serves the bidirectional event endpoint.
//
// # Description
//
// GET /v1/react/ws. The client sends WSMessage actions: "run" and "resume"
// start a run whose events are written as JSON messages, "cancel" stops the
// current run. Each action is answered with a WSControl first. One run is
// active per connection; a second run or resume while one is active is
// rejected. Closing the connection cancels the active run.
//
// # Thread Safety
//
// The read loop and the run goroutine share the connection through wsConn.
func HandleWebSocket(d *Deps) gin.HandlerFunc {
	upgrader := newUpgrader(d.AllowedOrigins)
	const endpoint = observability.EndpointWebSocket

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.logger().Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		conn := &wsConn{conn: ws}
		logger := d.logger().With(slog.String("endpoint", string(endpoint)))
		logger.Info("Websocket client connected")

		var (
			mu        sync.Mutex
			cancelRun context.CancelFunc
			wg        sync.WaitGroup
		)
		defer wg.Wait()

		connCtx, cancelConn := context.WithCancel(c.Request.Context())
		defer cancelConn()
		running := func() bool {
			mu.Lock()
			defer mu.Unlock()
			return cancelRun != nil
		}

		for {
			var msg datatypes.WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				logger.Info("Websocket client disconnected", "error", err.Error())
				if running() {
					d.Metrics.RecordClientDisconnect(endpoint)
				}
				return
			}

			reject := func(err error, status int) {
				d.Metrics.RecordRequest(endpoint, "rejected")
				body := errorBody(err)
				if status == http.StatusBadRequest && body.Kind == "" {
					body.Kind = agent.KindInvalidInput
				}
				_ = conn.writeJSON(WSControl{Type: WSRejected, Action: msg.Action, Error: &body})
			}

			if details := datatypes.Validate(msg); len(details) > 0 {
				d.Metrics.RecordRequest(endpoint, "rejected")
				_ = conn.writeJSON(WSControl{Type: WSRejected, Action: msg.Action,
					Error: &datatypes.ErrorResponse{Error: "validation failed", Kind: agent.KindInvalidInput, Details: details}})
				continue
			}

			if msg.Action == "cancel" {
				mu.Lock()
				if cancelRun != nil {
					cancelRun()
				}
				mu.Unlock()
				_ = conn.writeJSON(WSControl{Type: WSCanceled, Action: msg.Action})
				continue
			}

			if running() {
				reject(errors.New("a run is already active on this connection"), http.StatusConflict)
				continue
			}

			var run *agent.Run
			if msg.Action == "run" {
				run, err = d.Engine.Prepare(agent.StartRequest{
					Question:      msg.Question,
					MaxToolCalls:  msg.MaxToolCalls,
					MaxSQLSeconds: msg.MaxSQLSeconds,
				})
			} else {
				run, err = d.Engine.PrepareResume(agent.ResumeRequest{
					Question:     msg.Question,
					SessionState: msg.SessionState,
					UserResponse: msg.UserResponse,
				})
			}
			if err != nil {
				reject(err, statusOf(err))
				continue
			}

			d.Metrics.RecordRequest(endpoint, "ok")
			if err := conn.writeJSON(WSControl{Type: WSAccepted, Action: msg.Action, SessionID: run.SessionID()}); err != nil {
				run.Release()
				return
			}

			runCtx, cancel := context.WithCancel(connCtx)
			mu.Lock()
			cancelRun = cancel
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					mu.Lock()
					cancelRun = nil
					mu.Unlock()
					cancel()
				}()

				finish := d.Metrics.StreamStarted(endpoint)
				sink := &wsSink{conn: conn, onEvent: func(t events.Type) { d.Metrics.RecordEvent(endpoint, string(t)) }}
				adapter := events.NewAdapter(runCtx, sink, events.WithSessionID(run.SessionID()))
				resp, err := run.Execute(runCtx, agent.Observers(adapter, d.Recorder))

				outcome := "canceled"
				if resp != nil && !errors.Is(err, agent.ErrCanceled) {
					outcome = string(resp.Status)
				}
				finish(outcome)
				if cerr := adapter.Close(); cerr != nil && runCtx.Err() == nil {
					logger.Warn("Event stream ended early", "session_id", run.SessionID(), "error", cerr.Error())
				}
			}()
		}
	}
}
