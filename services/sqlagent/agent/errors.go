// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
)

// Kind classifies loop-level failures.
type Kind string

const (
	// KindInvalidInput rejects a request before any iteration runs.
	KindInvalidInput Kind = "invalid_input"

	// KindToolExecution is a tool failure. It is recorded as a step result
	// and never ends a run; it appears here for completeness of the
	// taxonomy and in tool error metrics.
	KindToolExecution Kind = "tool_execution_error"

	// KindFinalExecution is a failure of the final SQL execution.
	KindFinalExecution Kind = "final_execution_error"

	// KindBudgetExhausted means the tool-call budget ran out without a
	// result.
	KindBudgetExhausted Kind = "budget_exhausted"

	// KindLLMUnavailable means the reasoner failed.
	KindLLMUnavailable Kind = "llm_unavailable"

	// KindInvalidSession rejects a resume token or a concurrent resume.
	KindInvalidSession Kind = "invalid_session"
)

var (
	ErrEmptyQuestion     = errors.New("question is required")
	ErrInvalidBudget     = errors.New("budget out of range")
	ErrEmptyResponse     = errors.New("user_response is required")
	ErrEmptyToken        = errors.New("session_state is required")
	ErrQuestionMismatch  = errors.New("question does not match the session")
	ErrNotSuspended      = errors.New("session is not waiting for user input")
	ErrBudgetExhausted   = errors.New("tool call budget exhausted")
	ErrLLMUnavailable    = errors.New("llm unavailable")
	ErrCanceled          = errors.New("run canceled")
	ErrInvalidSession    = session.ErrInvalidSession
	ErrSessionInProgress = session.ErrSessionInProgress
)

// Error is a user-visible loop failure.
//
// # Description
//
// Message is safe to show. SQL is the statement that was attempted when
// the failure happened during execution, PartialSQL the best draft at the
// time of failure. Err is the underlying cause.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	SQL        string `json:"attempted_sql,omitempty"`
	PartialSQL string `json:"partial_sql,omitempty"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidInput(err error) *Error {
	return &Error{Kind: KindInvalidInput, Message: "invalid request", Err: err}
}

func invalidSession(err error) *Error {
	return &Error{Kind: KindInvalidSession, Message: "session cannot be resumed", Err: err}
}
