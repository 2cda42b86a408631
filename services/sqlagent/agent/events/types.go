// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events turns engine progress into an ordered event sequence for
// streaming transports.
//
// A sequence is zero or more step events followed by at most one of
// needs_user_input, completed or error. Iterations never decrease along
// the sequence. A canceled run ends the sequence without a terminal event.
//
// # Thread Safety
//
// Adapter is safe for concurrent use; events are delivered in call order.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeStep is emitted once per recorded iteration.
	TypeStep Type = "step"

	// TypeNeedsUserInput is emitted when the run pauses for clarification.
	TypeNeedsUserInput Type = "needs_user_input"

	// TypeCompleted is emitted when the final SQL has executed.
	TypeCompleted Type = "completed"

	// TypeError is emitted when the run fails.
	TypeError Type = "error"
)

// Terminal reports whether t ends a sequence.
func (t Type) Terminal() bool {
	return t == TypeNeedsUserInput || t == TypeCompleted || t == TypeError
}

// Event is one element of the sequence.
//
// # Description
//
// Data holds StepData, ResponseData or ErrorData depending on Type.
// Seq numbers events of one sequence from 1.
type Event struct {
	ID        string `json:"id"`
	Seq       int    `json:"seq"`
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`

	// Timestamp is Unix milliseconds UTC.
	Timestamp int64 `json:"timestamp"`

	Data any `json:"data"`
}

// StepData is the payload of a step event.
type StepData struct {
	Iteration       int                       `json:"iteration"`
	Reasoning       string                    `json:"reasoning"`
	ToolCall        tools.Call                `json:"tool_call"`
	ToolResult      *string                   `json:"tool_result,omitempty"`
	PartialSQL      string                    `json:"partial_sql"`
	SQLCompleteness completeness.Completeness `json:"sql_completeness"`
	State           agent.StateSnapshot       `json:"state"`
}

// ResponseData is the payload of needs_user_input and completed events.
type ResponseData struct {
	Response *agent.Response `json:"response"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message      string     `json:"message"`
	Kind         agent.Kind `json:"kind"`
	AttemptedSQL string     `json:"attempted_sql,omitempty"`
	PartialSQL   string     `json:"partial_sql,omitempty"`
}

// Payload returns ev.Data as T. Data is either the typed payload, as
// produced by an Adapter, or raw JSON, as decoded by a stream client.
func Payload[T any](ev Event) (T, error) {
	var out T
	switch d := ev.Data.(type) {
	case T:
		return d, nil
	case *T:
		if d == nil {
			return out, fmt.Errorf("%s event has no payload", ev.Type)
		}
		return *d, nil
	case json.RawMessage:
		if err := json.Unmarshal(d, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		return out, nil
	default:
		return out, fmt.Errorf("%s event has payload %T", ev.Type, ev.Data)
	}
}
