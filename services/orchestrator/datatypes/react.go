// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the HTTP request and response bodies of the
// sqlagent API.
package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// =============================================================================
// Requests
// =============================================================================

// RunRequest starts a new question.
type RunRequest struct {
	Question      string `json:"question" validate:"required,max=4000"`
	MaxToolCalls  int    `json:"max_tool_calls,omitempty" validate:"omitempty,min=1,max=100"`
	MaxSQLSeconds int    `json:"max_sql_seconds,omitempty" validate:"omitempty,min=1,max=3600"`
}

// Agent converts the body to an engine request.
func (r RunRequest) Agent() agent.StartRequest {
	return agent.StartRequest{
		Question:      r.Question,
		MaxToolCalls:  r.MaxToolCalls,
		MaxSQLSeconds: r.MaxSQLSeconds,
	}
}

// ResumeRequest answers a clarifying question.
type ResumeRequest struct {
	Question     string `json:"question" validate:"required,max=4000"`
	SessionState string `json:"session_state" validate:"required"`
	UserResponse string `json:"user_response" validate:"required,max=4000"`
}

// Agent converts the body to an engine request.
func (r ResumeRequest) Agent() agent.ResumeRequest {
	return agent.ResumeRequest{
		Question:     r.Question,
		SessionState: r.SessionState,
		UserResponse: r.UserResponse,
	}
}

// ExecuteSQLRequest runs a statement directly.
type ExecuteSQLRequest struct {
	SQL           string `json:"sql" validate:"required"`
	MaxSQLSeconds int    `json:"max_sql_seconds,omitempty" validate:"omitempty,min=1,max=3600"`
	MaxRows       int    `json:"max_rows,omitempty" validate:"omitempty,min=1,max=10000"`
}

// WSMessage is a client message on the event websocket.
type WSMessage struct {
	Action string `json:"action" validate:"required,oneof=run resume cancel"`

	Question      string `json:"question,omitempty"`
	MaxToolCalls  int    `json:"max_tool_calls,omitempty" validate:"omitempty,min=1,max=100"`
	MaxSQLSeconds int    `json:"max_sql_seconds,omitempty" validate:"omitempty,min=1,max=3600"`
	SessionState  string `json:"session_state,omitempty"`
	UserResponse  string `json:"user_response,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Kind    agent.Kind `json:"kind,omitempty"`
	Details []string   `json:"details,omitempty"`
}

// ExecuteSQLResponse is the reply of the direct SQL endpoint.
type ExecuteSQLResponse struct {
	SQL    string                   `json:"sql"`
	Result *sqlexec.ExecutionResult `json:"result"`
}

// HistoryList is the reply of the history listing.
type HistoryList struct {
	Records []history.Record `json:"records"`
	Count   int              `json:"count"`
}

// HealthResponse reports component status.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Sessions   int               `json:"active_sessions"`
}

// =============================================================================
// Validation
// =============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks v's struct tags and returns one message per failed field.
func Validate(v any) []string {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
	})
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
