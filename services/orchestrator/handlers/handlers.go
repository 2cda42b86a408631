// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and WebSocket endpoints of the
// sqlagent API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// DefaultKeepAlive is the SSE keepalive interval when Deps.KeepAlive is 0.
const DefaultKeepAlive = 15 * time.Second

// HealthCheck reports whether a component is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the endpoints. Only Engine is required;
// endpoints whose backend is nil answer 503.
type Deps struct {
	Engine *agent.Engine

	// Recorder observes every run after the event stream, typically a
	// *history.Recorder.
	Recorder agent.Observer

	History  *history.Store
	Recent   *history.Recent
	Catalog  *catalog.Store
	Executor sqlexec.Executor
	Guard    *sqlexec.Guard

	// MaxRows caps direct SQL results. Zero uses the executor default.
	MaxRows int

	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]HealthCheck

	// AllowedOrigins restricts WebSocket origins. Empty allows any.
	AllowedOrigins []string

	Metrics   *observability.Metrics
	KeepAlive time.Duration
	Logger    *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) keepAlive() time.Duration {
	if d.KeepAlive <= 0 {
		return DefaultKeepAlive
	}
	return d.KeepAlive
}

// =============================================================================
// Error mapping
// =============================================================================

// statusOf maps an engine rejection to an HTTP status.
//
// # Description
//
// Invalid input and unusable tokens are client errors. A session that is
// already executing or a token that was already resumed is a conflict, so
// clients can tell a retry race from a bad request.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionInProgress), errors.Is(err, session.ErrTokenReplayed):
		return http.StatusConflict
	}
	switch agent.KindOf(err) {
	case agent.KindInvalidInput, agent.KindInvalidSession:
		return http.StatusBadRequest
	case agent.KindLLMUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) datatypes.ErrorResponse {
	return datatypes.ErrorResponse{Error: err.Error(), Kind: agent.KindOf(err)}
}

func writeError(c *gin.Context, status int, msg string, details ...string) {
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg, Details: details})
}

// bindJSON decodes and validates the request body into v. On failure it
// writes a 400 and returns false.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if details := datatypes.Validate(v); len(details) > 0 {
		writeError(c, http.StatusBadRequest, "validation failed", details...)
		return false
	}
	return true
}
