// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"bytes"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

func strPtr(s string) *string { return &s }

func sampleState() *State {
	s := New("sess-1", "Top 5 products by revenue last quarter", 5, 60)
	s.Status = StatusNeedsUserInput
	s.Iteration = 2
	s.RemainingToolCalls = 3
	s.AccumulatedMetadata = "table sales.products\n  id INTEGER (pk)"
	s.PartialSQL = "SELECT name FROM products WHERE price < 10 & 1 = 1"
	s.QuestionToUser = "Which quarter do you mean?"
	s.Clarifications = []Clarification{{Question: "Which quarter do you mean?"}}
	s.Record(Step{
		Iteration:  1,
		Reasoning:  "Look up the products table",
		ToolCall:   tools.NewCall(tools.SchemaLookup, []byte(`{"keywords":["products","<revenue>"]}`)),
		ToolResult: strPtr("table sales.products"),
		SQLCompleteness: completeness.Completeness{
			IsComplete: false, ConfidenceLevel: completeness.Low, MissingInfo: "no SQL drafted yet",
		},
		MetadataFragment: "table sales.products",
	})
	s.Record(Step{
		Iteration:       2,
		Reasoning:       "Quarter is ambiguous",
		ToolCall:        tools.NewCall(tools.AskUser, []byte(`{"question":"Which quarter do you mean?"}`)),
		PartialSQL:      "SELECT name FROM products",
		SQLCompleteness: completeness.Completeness{IsComplete: false, ConfidenceLevel: completeness.Medium},
	})
	return s
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(bytes.Repeat([]byte("k"), MinSecretLength))
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newCodec(t)

	states := map[string]*State{
		"suspended": sampleState(),
		"idle":      New("sess-2", "count customers", 30, 60),
		"empty slices": func() *State {
			s := New("sess-3", "q", 1, 1)
			s.Steps = []Step{}
			s.Clarifications = []Clarification{}
			return s
		}(),
	}

	for name, s := range states {
		t.Run(name, func(t *testing.T) {
			token, err := c.Serialize(s)
			require.NoError(t, err)

			got, err := c.Deserialize(token)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestCodec_Rejects(t *testing.T) {
	c := newCodec(t)
	token, err := c.Serialize(sampleState())
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[10] ^= 0x01

	badVersion := append([]byte(nil), raw...)
	badVersion[0] = 9

	other, err := NewCodec(bytes.Repeat([]byte("z"), MinSecretLength))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		codec *Codec
	}{
		{name: "empty", token: "", codec: c},
		{name: "not base64", token: "!!!", codec: c},
		{name: "too short", token: base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}), codec: c},
		{name: "tampered payload", token: base64.RawURLEncoding.EncodeToString(tampered), codec: c},
		{name: "unknown version", token: base64.RawURLEncoding.EncodeToString(badVersion), codec: c},
		{name: "different key", token: token, codec: other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Deserialize(tt.token)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestCodec_SerializeRejectsInvalidState(t *testing.T) {
	c := newCodec(t)
	s := sampleState()
	s.MaxToolCalls = 0
	_, err := c.Serialize(s)
	assert.Error(t, err)

	_, err = NewCodec([]byte("short"))
	assert.Error(t, err)
}

func TestCodec_SerializeRejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *State)
	}{
		{name: "reasoning", mutate: func(s *State) { s.Steps[0].Reasoning = "look\xff" }},
		{name: "tool result", mutate: func(s *State) { s.Steps[0].ToolResult = strPtr("caf\xc3") }},
		{name: "step partial sql", mutate: func(s *State) { s.Steps[1].PartialSQL = "SELECT '\xc3'" }},
		{name: "metadata fragment", mutate: func(s *State) { s.Steps[0].MetadataFragment = "\xe2\x82" }},
		{name: "missing info", mutate: func(s *State) { s.Steps[0].SQLCompleteness.MissingInfo = "\xc0" }},
		{name: "clarification question", mutate: func(s *State) { s.Clarifications[0].Question = "which\xff" }},
		{name: "clarification answer", mutate: func(s *State) { s.Clarifications[0].Answer = "Q3\xff" }},
	}

	c := newCodec(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleState()
			tt.mutate(s)
			_, err := c.Serialize(s)
			assert.Error(t, err)
		})
	}
}

func TestState_RecordKeepsTextValid(t *testing.T) {
	s := sampleState()
	s.Iteration = 3
	s.RemainingToolCalls = 2
	s.Record(Step{
		Iteration:        3,
		Reasoning:        "caf\xc3",
		ToolCall:         tools.NewCall(tools.PreviewSQL, []byte(`{"sql":"SELECT 1"}`)),
		ToolResult:       strPtr("name\n\xc3\xa9\xc3"),
		PartialSQL:       "SELECT 1",
		SQLCompleteness:  completeness.Completeness{ConfidenceLevel: completeness.Medium, MissingInfo: "\xff"},
		MetadataFragment: "ok",
	})
	assert.Equal(t, "caf\uFFFD", s.Steps[2].Reasoning)
	assert.Equal(t, "name\né\uFFFD", *s.Steps[2].ToolResult)

	require.NoError(t, s.Answer("Q3\xff"))
	assert.Equal(t, "Q3\uFFFD", s.Clarifications[0].Answer)

	c := newCodec(t)
	token, err := c.Serialize(s)
	require.NoError(t, err)
	got, err := c.Deserialize(token)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestState_RecordUpserts(t *testing.T) {
	s := New("s", "q", 10, 60)
	s.Iteration = 3
	s.Record(Step{Iteration: 2, Reasoning: "b"})
	s.Record(Step{Iteration: 1, Reasoning: "a"})
	s.Record(Step{Iteration: 3, Reasoning: "c"})
	s.Record(Step{Iteration: 2, Reasoning: "b2"})

	require.Len(t, s.Steps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{s.Steps[0].Iteration, s.Steps[1].Iteration, s.Steps[2].Iteration})
	assert.Equal(t, "b2", s.Steps[1].Reasoning)
}

func TestState_CloneIsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()
	*c.Steps[0].ToolResult = "changed"
	c.Steps[0].ToolCall.Parameters[0] = '['
	c.Clarifications[0].Answer = "Q3"

	assert.Equal(t, "table sales.products", *s.Steps[0].ToolResult)
	assert.Equal(t, byte('{'), s.Steps[0].ToolCall.Parameters[0])
	assert.Empty(t, s.Clarifications[0].Answer)
}

func TestState_Answer(t *testing.T) {
	s := sampleState()
	pending, ok := s.PendingClarification()
	require.True(t, ok)
	assert.Equal(t, "Which quarter do you mean?", pending.Question)

	require.NoError(t, s.Answer("Q3 2025"))
	assert.Empty(t, s.QuestionToUser)
	_, ok = s.PendingClarification()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Answer("again"), ErrInvalidSession)
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusRunning, StatusNeedsUserInput, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusNeedsUserInput, StatusRunning, true},
		{StatusIdle, StatusCompleted, false},
		{StatusNeedsUserInput, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusError, StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
			s := &State{Status: tt.from}
			err := s.Transition(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, s.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, s.Status)
			}
		})
	}
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusNeedsUserInput.Terminal())
}

func TestGuard(t *testing.T) {
	g := NewGuard(0)

	release, err := g.Acquire("a")
	require.NoError(t, err)
	_, err = g.Acquire("a")
	assert.ErrorIs(t, err, ErrSessionInProgress)

	release()
	release()
	assert.Equal(t, 0, g.Active())

	release, err = g.Acquire("a")
	require.NoError(t, err)
	release()

	require.NoError(t, g.Consume("a", 1))
	assert.ErrorIs(t, g.Consume("a", 1), ErrTokenReplayed)
	assert.NoError(t, g.Consume("a", 2))
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire("shared"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
