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
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// StartRequest submits a new question. Zero budgets take the defaults.
type StartRequest struct {
	Question      string `json:"question"`
	MaxToolCalls  int    `json:"max_tool_calls,omitempty"`
	MaxSQLSeconds int    `json:"max_sql_seconds,omitempty"`
}

// ResumeRequest continues a session suspended at needs_user_input.
type ResumeRequest struct {
	// Question must equal the session's original question.
	Question string `json:"question"`

	// SessionState is the opaque token from the needs_user_input response.
	SessionState string `json:"session_state"`

	UserResponse string `json:"user_response"`
}

// StateSnapshot is the part of the session state shown with each step.
type StateSnapshot struct {
	RemainingToolCalls int    `json:"remaining_tool_calls"`
	PartialSQL         string `json:"partial_sql"`
}

// Response is the result of a run. Which fields are set depends on Status:
// needs_user_input carries QuestionToUser and SessionState, completed
// carries the final SQL and ExecutionResult.
type Response struct {
	SessionID          string                   `json:"session_id"`
	Question           string                   `json:"question"`
	Status             session.Status           `json:"status"`
	Iteration          int                      `json:"iteration"`
	Steps              []session.Step           `json:"steps"`
	CollectedMetadata  string                   `json:"collected_metadata"`
	PartialSQL         string                   `json:"partial_sql"`
	RemainingToolCalls int                      `json:"remaining_tool_calls"`
	FinalSQL           string                   `json:"final_sql,omitempty"`
	ValidatedSQL       string                   `json:"validated_sql,omitempty"`
	ExecutionResult    *sqlexec.ExecutionResult `json:"execution_result,omitempty"`
	Warnings           []string                 `json:"warnings"`
	QuestionToUser     string                   `json:"question_to_user,omitempty"`
	SessionState       string                   `json:"session_state,omitempty"`
}

// Observer receives loop progress synchronously. OnStep for iteration n
// returns before iteration n+1 starts. A run ends with at most one call to
// OnNeedsUserInput, OnCompleted or OnError, and with none when canceled.
//
// Implementations must not retain the Response beyond the call if they
// mutate it.
type Observer interface {
	OnStep(step session.Step, state StateSnapshot)
	OnNeedsUserInput(resp *Response)
	OnCompleted(resp *Response)
	OnError(err *Error, resp *Response)
}

// NopObserver ignores all progress.
type NopObserver struct{}

func (NopObserver) OnStep(session.Step, StateSnapshot) {}
func (NopObserver) OnNeedsUserInput(*Response)         {}
func (NopObserver) OnCompleted(*Response)              {}
func (NopObserver) OnError(*Error, *Response)          {}

// Observers fans progress out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) OnStep(step session.Step, state StateSnapshot) {
	for _, o := range m {
		o.OnStep(step, state)
	}
}

func (m multiObserver) OnNeedsUserInput(resp *Response) {
	for _, o := range m {
		o.OnNeedsUserInput(resp)
	}
}

func (m multiObserver) OnCompleted(resp *Response) {
	for _, o := range m {
		o.OnCompleted(resp)
	}
}

func (m multiObserver) OnError(err *Error, resp *Response) {
	for _, o := range m {
		o.OnError(err, resp)
	}
}
