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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
)

// ErrClosed is returned by Close when the sequence ended because the
// context was canceled.
var ErrClosed = errors.New("event sequence closed")

// Sink receives events in order.
type Sink interface {
	// Send delivers one event. It must return when ctx is done.
	Send(ctx context.Context, ev Event) error

	// Flush pushes buffered events to the consumer.
	Flush() error
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithSessionID sets the session id for events emitted before the run
// reports one.
func WithSessionID(id string) AdapterOption {
	return func(a *Adapter) { a.sessionID = id }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithEventIDs sets the event id source.
func WithEventIDs(fn func() string) AdapterOption {
	return func(a *Adapter) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// Adapter implements agent.Observer by writing events to a Sink.
//
// # Description
//
// The adapter enforces the sequence rules regardless of what the engine
// or sink do: once a terminal event was sent, ctx was canceled, the sink
// failed or Close was called, further callbacks are dropped. A step whose
// iteration is lower than one already sent is dropped. Each event is
// flushed before the callback returns, so the engine does not start the
// next iteration before the consumer could see the previous one.
//
// # Thread Safety
//
// Safe for concurrent use.
type Adapter struct {
	ctx  context.Context
	sink Sink

	mu        sync.Mutex
	sessionID string
	seq       int
	iteration int
	done      bool
	err       error

	now   func() time.Time
	newID func() string
}

// NewAdapter creates an adapter writing to sink until ctx is done.
func NewAdapter(ctx context.Context, sink Sink, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		ctx:   ctx,
		sink:  sink,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ agent.Observer = (*Adapter)(nil)

// OnStep implements agent.Observer.
func (a *Adapter) OnStep(step session.Step, state agent.StateSnapshot) {
	a.emit(TypeStep, "", step.Iteration, StepData{
		Iteration:       step.Iteration,
		Reasoning:       step.Reasoning,
		ToolCall:        step.ToolCall,
		ToolResult:      step.ToolResult,
		PartialSQL:      step.PartialSQL,
		SQLCompleteness: step.SQLCompleteness,
		State:           state,
	})
}

// OnNeedsUserInput implements agent.Observer.
func (a *Adapter) OnNeedsUserInput(resp *agent.Response) {
	a.emit(TypeNeedsUserInput, resp.SessionID, resp.Iteration, ResponseData{Response: resp})
}

// OnCompleted implements agent.Observer.
func (a *Adapter) OnCompleted(resp *agent.Response) {
	a.emit(TypeCompleted, resp.SessionID, resp.Iteration, ResponseData{Response: resp})
}

// OnError implements agent.Observer.
func (a *Adapter) OnError(err *agent.Error, resp *agent.Response) {
	sessionID, iteration := "", 0
	if resp != nil {
		sessionID, iteration = resp.SessionID, resp.Iteration
	}
	a.emit(TypeError, sessionID, iteration, ErrorData{
		Message:      err.Error(),
		Kind:         err.Kind,
		AttemptedSQL: err.SQL,
		PartialSQL:   err.PartialSQL,
	})
}

// Close ends the sequence. Later callbacks are dropped.
//
// # Outputs
//
//   - error: The first sink failure, ErrClosed if the sequence was cut by
//     cancellation, or nil.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = true
	return a.err
}

// Err returns the first sink failure, if any.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Sent returns the number of events delivered.
func (a *Adapter) Sent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

func (a *Adapter) emit(typ Type, sessionID string, iteration int, data any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return
	}
	if err := a.ctx.Err(); err != nil {
		a.done = true
		a.err = fmt.Errorf("%w: %w", ErrClosed, err)
		return
	}
	if iteration < a.iteration {
		slog.Warn("Dropping out-of-order event",
			slog.String("type", string(typ)),
			slog.Int("iteration", iteration),
			slog.Int("last_iteration", a.iteration))
		return
	}
	if sessionID != "" {
		a.sessionID = sessionID
	}

	ev := Event{
		ID:        a.newID(),
		Seq:       a.seq + 1,
		Type:      typ,
		SessionID: a.sessionID,
		Iteration: iteration,
		Timestamp: a.now().UTC().UnixMilli(),
		Data:      data,
	}
	if err := a.deliver(ev); err != nil {
		a.done = true
		a.err = err
		slog.Warn("Event sink failed",
			slog.String("session_id", a.sessionID),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()))
		return
	}
	a.seq++
	a.iteration = iteration
	if typ.Terminal() {
		a.done = true
	}
}

// deliver sends and flushes one event, recovering sink panics.
func (a *Adapter) deliver(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event sink panicked: %v", r)
		}
	}()
	if err := a.sink.Send(a.ctx, ev); err != nil {
		return err
	}
	return a.sink.Flush()
}
