// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the resumable snapshot of one question/answer
// exchange: its status, recorded steps and remaining budget, plus the
// opaque token codec and the guard that serializes access per session.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// Budget limits.
const (
	MinToolCalls     = 1
	MaxToolCalls     = 100
	DefaultToolCalls = 30

	MinSQLSeconds     = 1
	MaxSQLSeconds     = 3600
	DefaultSQLSeconds = 60
)

// Step is one recorded iteration. Steps are immutable once recorded;
// recording the same iteration again replaces the earlier step.
type Step struct {
	Iteration        int                       `json:"iteration"`
	Reasoning        string                    `json:"reasoning"`
	ToolCall         tools.Call                `json:"tool_call"`
	ToolResult       *string                   `json:"tool_result"`
	PartialSQL       string                    `json:"partial_sql"`
	SQLCompleteness  completeness.Completeness `json:"sql_completeness"`
	MetadataFragment string                    `json:"metadata_fragment"`
}

// Clarification is a question put to the user and their answer.
// Answer is empty while the session waits for it.
type Clarification struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// State is the snapshot of loop progress. It is owned by one run at a time
// and travels to the caller only as an opaque token.
type State struct {
	SessionID           string          `json:"session_id"`
	Question            string          `json:"question"`
	Iteration           int             `json:"iteration"`
	RemainingToolCalls  int             `json:"remaining_tool_calls"`
	MaxToolCalls        int             `json:"max_tool_calls"`
	MaxSQLSeconds       int             `json:"max_sql_seconds"`
	AccumulatedMetadata string          `json:"accumulated_metadata"`
	PartialSQL          string          `json:"partial_sql"`
	Status              Status          `json:"status"`
	QuestionToUser      string          `json:"question_to_user"`
	Clarifications      []Clarification `json:"clarifications"`
	Steps               []Step          `json:"steps"`
}

// New creates an idle state.
func New(sessionID, question string, maxToolCalls, maxSQLSeconds int) *State {
	return &State{
		SessionID:          sessionID,
		Question:           question,
		RemainingToolCalls: maxToolCalls,
		MaxToolCalls:       maxToolCalls,
		MaxSQLSeconds:      maxSQLSeconds,
		Status:             StatusIdle,
	}
}

// Record upserts step by iteration, keeping steps ordered. Invalid UTF-8
// in its text is replaced so the state always serializes losslessly.
func (s *State) Record(step Step) {
	step = step.sanitized()
	i := sort.Search(len(s.Steps), func(i int) bool { return s.Steps[i].Iteration >= step.Iteration })
	if i < len(s.Steps) && s.Steps[i].Iteration == step.Iteration {
		s.Steps[i] = step
		return
	}
	s.Steps = append(s.Steps, Step{})
	copy(s.Steps[i+1:], s.Steps[i:])
	s.Steps[i] = step
}

// AppendMetadata adds a fragment to the accumulated metadata.
func (s *State) AppendMetadata(fragment string) {
	fragment = validText(strings.TrimSpace(fragment))
	if fragment == "" {
		return
	}
	if s.AccumulatedMetadata == "" {
		s.AccumulatedMetadata = fragment
		return
	}
	s.AccumulatedMetadata += "\n\n" + fragment
}

// PendingClarification returns the unanswered clarification, if any.
func (s *State) PendingClarification() (Clarification, bool) {
	if n := len(s.Clarifications); n > 0 && s.Clarifications[n-1].Answer == "" {
		return s.Clarifications[n-1], true
	}
	return Clarification{}, false
}

// Answer records the user's response to the pending clarification.
func (s *State) Answer(response string) error {
	n := len(s.Clarifications)
	if n == 0 || s.Clarifications[n-1].Answer != "" {
		return fmt.Errorf("%w: no pending clarification", ErrInvalidSession)
	}
	s.Clarifications[n-1].Answer = validText(response)
	s.QuestionToUser = ""
	return nil
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	if s.Clarifications != nil {
		c.Clarifications = append([]Clarification(nil), s.Clarifications...)
	}
	if s.Steps != nil {
		c.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			c.Steps[i] = st.clone()
		}
	}
	return &c
}

func (st Step) sanitized() Step {
	st.Reasoning = validText(st.Reasoning)
	st.PartialSQL = validText(st.PartialSQL)
	st.MetadataFragment = validText(st.MetadataFragment)
	st.SQLCompleteness.MissingInfo = validText(st.SQLCompleteness.MissingInfo)
	if st.ToolResult != nil && !utf8.ValidString(*st.ToolResult) {
		r := validText(*st.ToolResult)
		st.ToolResult = &r
	}
	return st
}

func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func (st Step) clone() Step {
	c := st
	if st.ToolCall.Parameters != nil {
		c.ToolCall.Parameters = append(json.RawMessage(nil), st.ToolCall.Parameters...)
	}
	if st.ToolResult != nil {
		r := *st.ToolResult
		c.ToolResult = &r
	}
	return c
}

// Validate checks the invariants a resumable state must satisfy.
func (s *State) Validate() error {
	switch {
	case strings.TrimSpace(s.SessionID) == "":
		return fmt.Errorf("session_id is required")
	case strings.TrimSpace(s.Question) == "":
		return fmt.Errorf("question is required")
	case s.MaxToolCalls < MinToolCalls || s.MaxToolCalls > MaxToolCalls:
		return fmt.Errorf("max_tool_calls %d out of range [%d,%d]", s.MaxToolCalls, MinToolCalls, MaxToolCalls)
	case s.MaxSQLSeconds < MinSQLSeconds || s.MaxSQLSeconds > MaxSQLSeconds:
		return fmt.Errorf("max_sql_seconds %d out of range [%d,%d]", s.MaxSQLSeconds, MinSQLSeconds, MaxSQLSeconds)
	case s.RemainingToolCalls < 0 || s.RemainingToolCalls > s.MaxToolCalls:
		return fmt.Errorf("remaining_tool_calls %d out of range", s.RemainingToolCalls)
	case s.Iteration < 0 || s.Iteration > s.MaxToolCalls:
		return fmt.Errorf("iteration %d out of range", s.Iteration)
	case !s.Status.Valid():
		return fmt.Errorf("unknown status %q", s.Status)
	}

	texts := []string{s.SessionID, s.Question, s.AccumulatedMetadata, s.PartialSQL, s.QuestionToUser}
	for _, c := range s.Clarifications {
		texts = append(texts, c.Question, c.Answer)
	}
	for _, st := range s.Steps {
		texts = append(texts, st.Reasoning, st.PartialSQL, st.MetadataFragment, st.SQLCompleteness.MissingInfo)
		if st.ToolResult != nil {
			texts = append(texts, *st.ToolResult)
		}
	}
	for _, text := range texts {
		if !utf8.ValidString(text) {
			return fmt.Errorf("state contains invalid utf-8")
		}
	}

	prev := 0
	for _, st := range s.Steps {
		if st.Iteration <= prev || st.Iteration > s.Iteration {
			return fmt.Errorf("step iteration %d out of order", st.Iteration)
		}
		prev = st.Iteration
		if st.ToolCall.Name == "" || !isCompactJSON(st.ToolCall.Parameters) {
			return fmt.Errorf("step %d has an invalid tool call", st.Iteration)
		}
		if !st.SQLCompleteness.ConfidenceLevel.Valid() {
			return fmt.Errorf("step %d has invalid confidence %q", st.Iteration, st.SQLCompleteness.ConfidenceLevel)
		}
	}
	return nil
}

func isCompactJSON(raw json.RawMessage) bool {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return false
	}
	return bytes.Equal(buf.Bytes(), raw)
}
