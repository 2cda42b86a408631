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
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
)

// HandleRun starts a new question and streams its events.
//
// # Description
//
// POST /v1/react/run. The request is validated and the session claimed
// before the stream opens, so a rejected request gets a plain JSON error
// with a 4xx status. Once accepted, the response is an SSE stream of step
// events ending in exactly one needs_user_input, completed or error event.
// A client disconnect cancels the run and ends the stream silently.
//
// # Inputs
//
//   - d: Deps with a non-nil Engine.
//
// # Outputs
//
//   - gin.HandlerFunc: The handler.
func HandleRun(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RunRequest
		if !bindJSON(c, &req) {
			d.Metrics.RecordRequest(observability.EndpointRun, "rejected")
			return
		}
		run, err := d.Engine.Prepare(req.Agent())
		if err != nil {
			d.Metrics.RecordRequest(observability.EndpointRun, "rejected")
			c.AbortWithStatusJSON(statusOf(err), errorBody(err))
			return
		}
		d.Metrics.RecordRequest(observability.EndpointRun, "ok")
		streamRun(c, d, observability.EndpointRun, run)
	}
}

// HandleResume answers a clarifying question and streams the continuation.
//
// # Description
//
// POST /v1/react/resume. A token that fails verification, belongs to a
// different question or was already resumed is rejected before the
// stream opens: 409 when the session is running or the token was used,
// 400 otherwise.
func HandleResume(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResumeRequest
		if !bindJSON(c, &req) {
			d.Metrics.RecordRequest(observability.EndpointResume, "rejected")
			return
		}
		run, err := d.Engine.PrepareResume(req.Agent())
		if err != nil {
			d.Metrics.RecordRequest(observability.EndpointResume, "rejected")
			d.logger().Info("Resume rejected", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(statusOf(err), errorBody(err))
			return
		}
		d.Metrics.RecordRequest(observability.EndpointResume, "ok")
		streamRun(c, d, observability.EndpointResume, run)
	}
}

// streamRun executes a prepared run with its events written as SSE.
func streamRun(c *gin.Context, d *Deps, endpoint observability.Endpoint, run *agent.Run) {
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		run.Release()
		writeError(c, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sse.onEvent = func(t events.Type) { d.Metrics.RecordEvent(endpoint, string(t)) }

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	_ = sse.Flush()

	ctx := c.Request.Context()
	logger := d.logger().With(slog.String("session_id", run.SessionID()), slog.String("endpoint", string(endpoint)))
	finish := d.Metrics.StreamStarted(endpoint)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.keepAlive())
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sse.WriteKeepAlive(); err != nil {
					return
				}
				d.Metrics.RecordKeepAlive(endpoint)
			}
		}
	}()

	adapter := events.NewAdapter(ctx, sse, events.WithSessionID(run.SessionID()))
	resp, err := run.Execute(ctx, agent.Observers(adapter, d.Recorder))
	close(stop)
	wg.Wait()

	outcome := "canceled"
	switch {
	case errors.Is(err, agent.ErrCanceled):
		d.Metrics.RecordClientDisconnect(endpoint)
		logger.Info("Client disconnected, run canceled")
	case resp != nil:
		outcome = string(resp.Status)
	}
	finish(outcome)

	if cerr := adapter.Close(); cerr != nil && ctx.Err() == nil {
		logger.Warn("Event stream ended early", slog.String("error", cerr.Error()))
	}
}
