// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

type memSink struct {
	mu      sync.Mutex
	events  []Event
	flushes int
	sendErr error
	panics  bool
}

func (s *memSink) Send(_ context.Context, ev Event) error {
	if s.panics {
		panic("boom")
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memSink) types() []Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Type, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func testStep(iteration int) session.Step {
	result := "ok"
	return session.Step{
		Iteration:  iteration,
		Reasoning:  fmt.Sprintf("step %d", iteration),
		ToolCall:   tools.NewCall("get_all_tables_info", nil),
		ToolResult: &result,
		PartialSQL: "SELECT 1",
	}
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newTestAdapter(ctx context.Context, sink Sink) *Adapter {
	n := 0
	return NewAdapter(ctx, sink,
		WithSessionID("s-1"),
		WithClock(fixedClock),
		WithEventIDs(func() string { n++; return fmt.Sprintf("ev-%d", n) }))
}

func TestAdapter_Sequence(t *testing.T) {
	sink := &memSink{}
	a := newTestAdapter(context.Background(), sink)

	a.OnStep(testStep(1), agent.StateSnapshot{RemainingToolCalls: 4, PartialSQL: "SELECT 1"})
	a.OnStep(testStep(2), agent.StateSnapshot{RemainingToolCalls: 3})
	a.OnCompleted(&agent.Response{SessionID: "s-1", Iteration: 2, Status: session.StatusCompleted})
	require.NoError(t, a.Close())

	require.Len(t, sink.events, 3)
	assert.Equal(t, []Type{TypeStep, TypeStep, TypeCompleted}, sink.types())
	assert.Equal(t, 3, sink.flushes)
	for i, ev := range sink.events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, fmt.Sprintf("ev-%d", i+1), ev.ID)
		assert.Equal(t, "s-1", ev.SessionID)
		assert.Equal(t, fixedClock().UnixMilli(), ev.Timestamp)
	}

	data, ok := sink.events[0].Data.(StepData)
	require.True(t, ok)
	assert.Equal(t, 1, data.Iteration)
	assert.Equal(t, 4, data.State.RemainingToolCalls)
	require.NotNil(t, data.ToolResult)
	assert.Equal(t, "ok", *data.ToolResult)
}

func TestAdapter_AtMostOneTerminal(t *testing.T) {
	tests := []struct {
		name     string
		terminal func(a *Adapter)
		want     Type
	}{
		{
			name: "completed",
			terminal: func(a *Adapter) {
				a.OnCompleted(&agent.Response{SessionID: "s-1", Iteration: 1})
			},
			want: TypeCompleted,
		},
		{
			name: "needs user input",
			terminal: func(a *Adapter) {
				a.OnNeedsUserInput(&agent.Response{SessionID: "s-1", Iteration: 1, QuestionToUser: "Which year?"})
			},
			want: TypeNeedsUserInput,
		},
		{
			name: "error",
			terminal: func(a *Adapter) {
				a.OnError(&agent.Error{Kind: agent.KindBudgetExhausted, Message: "budget exhausted"},
					&agent.Response{SessionID: "s-1", Iteration: 1})
			},
			want: TypeError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memSink{}
			a := newTestAdapter(context.Background(), sink)
			a.OnStep(testStep(1), agent.StateSnapshot{})
			tt.terminal(a)

			a.OnStep(testStep(2), agent.StateSnapshot{})
			a.OnCompleted(&agent.Response{SessionID: "s-1", Iteration: 2})
			a.OnError(&agent.Error{Kind: agent.KindToolExecution, Message: "late"}, nil)

			assert.Equal(t, []Type{TypeStep, tt.want}, sink.types())
		})
	}
}

func TestAdapter_DropsDecreasingIteration(t *testing.T) {
	sink := &memSink{}
	a := newTestAdapter(context.Background(), sink)

	a.OnStep(testStep(3), agent.StateSnapshot{})
	a.OnStep(testStep(2), agent.StateSnapshot{})
	a.OnStep(testStep(3), agent.StateSnapshot{})

	require.Len(t, sink.events, 2)
	assert.Equal(t, 3, sink.events[0].Iteration)
	assert.Equal(t, 3, sink.events[1].Iteration)
	assert.Equal(t, 2, sink.events[1].Seq)
}

func TestAdapter_ErrorPayload(t *testing.T) {
	sink := &memSink{}
	a := newTestAdapter(context.Background(), sink)

	a.OnError(&agent.Error{
		Kind:       agent.KindFinalExecution,
		Message:    "Final SQL execution failed",
		SQL:        "SELECT * FROM orders",
		PartialSQL: "SELECT * FROM orders",
		Err:        errors.New("timed out"),
	}, &agent.Response{SessionID: "s-9", Iteration: 4})

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "s-9", ev.SessionID)
	assert.Equal(t, 4, ev.Iteration)
	data, ok := ev.Data.(ErrorData)
	require.True(t, ok)
	assert.Equal(t, agent.KindFinalExecution, data.Kind)
	assert.Equal(t, "Final SQL execution failed: timed out", data.Message)
	assert.Equal(t, "SELECT * FROM orders", data.AttemptedSQL)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"error"`)
	assert.Contains(t, string(raw), `"attempted_sql":"SELECT * FROM orders"`)
}

func TestAdapter_SilentAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &memSink{}
	a := newTestAdapter(ctx, sink)

	a.OnStep(testStep(1), agent.StateSnapshot{})
	cancel()
	a.OnStep(testStep(2), agent.StateSnapshot{})
	a.OnError(&agent.Error{Kind: agent.KindLLMUnavailable, Message: "unavailable"}, nil)

	assert.Equal(t, []Type{TypeStep}, sink.types())
	err := a.Close()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_SinkFailure(t *testing.T) {
	t.Run("error stops the sequence", func(t *testing.T) {
		sendErr := errors.New("client went away")
		sink := &memSink{sendErr: sendErr}
		a := newTestAdapter(context.Background(), sink)

		a.OnStep(testStep(1), agent.StateSnapshot{})
		sink.sendErr = nil
		a.OnStep(testStep(2), agent.StateSnapshot{})

		assert.Empty(t, sink.events)
		assert.ErrorIs(t, a.Err(), sendErr)
		assert.Equal(t, 0, a.Sent())
	})

	t.Run("panic is recovered", func(t *testing.T) {
		sink := &memSink{panics: true}
		a := newTestAdapter(context.Background(), sink)

		assert.NotPanics(t, func() { a.OnStep(testStep(1), agent.StateSnapshot{}) })
		require.Error(t, a.Err())
		assert.Contains(t, a.Err().Error(), "panicked")
	})
}

func TestAdapter_CloseEndsSequence(t *testing.T) {
	sink := &memSink{}
	a := newTestAdapter(context.Background(), sink)
	require.NoError(t, a.Close())

	a.OnStep(testStep(1), agent.StateSnapshot{})
	assert.Empty(t, sink.events)
}

func TestStream(t *testing.T) {
	t.Run("delivers in order and closes", func(t *testing.T) {
		ch := Stream(context.Background(), func(ctx context.Context, obs agent.Observer) error {
			obs.OnStep(testStep(1), agent.StateSnapshot{RemainingToolCalls: 2})
			obs.OnStep(testStep(2), agent.StateSnapshot{RemainingToolCalls: 1})
			obs.OnNeedsUserInput(&agent.Response{SessionID: "s-2", Iteration: 2, QuestionToUser: "Which region?"})
			return nil
		}, WithSessionID("s-2"))

		var got []Event
		for ev := range ch {
			got = append(got, ev)
		}
		require.Len(t, got, 3)
		assert.Equal(t, TypeNeedsUserInput, got[2].Type)
		assert.True(t, got[2].Type.Terminal())
		data, ok := got[2].Data.(ResponseData)
		require.True(t, ok)
		assert.Equal(t, "Which region?", data.Response.QuestionToUser)
	})

	t.Run("cancel unblocks the producer", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		ch := Stream(ctx, func(ctx context.Context, obs agent.Observer) error {
			defer close(done)
			for i := 1; i <= 5; i++ {
				obs.OnStep(testStep(i), agent.StateSnapshot{})
			}
			return ctx.Err()
		})

		first := <-ch
		assert.Equal(t, 1, first.Iteration)
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("producer did not stop after cancel")
		}
		for range ch {
		}
	})
}

func TestPayload(t *testing.T) {
	step := StepData{Iteration: 2, Reasoning: "look up the table", PartialSQL: "SELECT"}
	raw, err := json.Marshal(step)
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    any
		want    StepData
		wantErr bool
	}{
		{name: "typed value", data: step, want: step},
		{name: "pointer", data: &step, want: step},
		{name: "raw json", data: json.RawMessage(raw), want: step},
		{name: "nil pointer", data: (*StepData)(nil), wantErr: true},
		{name: "bad json", data: json.RawMessage(`{"iteration":"x"}`), wantErr: true},
		{name: "wrong type", data: ErrorData{Message: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payload[StepData](Event{Type: TypeStep, Data: tt.data})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Iteration, got.Iteration)
			assert.Equal(t, tt.want.Reasoning, got.Reasoning)
			assert.Equal(t, tt.want.PartialSQL, got.PartialSQL)
		})
	}
}
