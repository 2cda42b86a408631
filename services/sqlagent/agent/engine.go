// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent is the ReAct execution engine. It drives a reasoner through
// bounded reasoning and tool-use iterations that build, validate and execute
// one read-only SQL statement, pausing when the reasoner needs the user to
// clarify the question.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/llm"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/telemetry"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

const (
	// DefaultLLMTimeout bounds one reasoner call.
	DefaultLLMTimeout = 90 * time.Second

	// DefaultAssessTimeout bounds one completeness assessment.
	DefaultAssessTimeout = 10 * time.Second

	tracerName = "github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
)

// Option configures an Engine.
type Option func(*Engine)

// WithAssessor replaces the heuristic completeness assessor.
func WithAssessor(a completeness.Assessor) Option {
	return func(e *Engine) {
		if a != nil {
			e.assessor = a
		}
	}
}

// WithCodec sets the session token codec. Without it tokens are signed
// with a random per-process key.
func WithCodec(c *session.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithGuard shares a session guard between engines.
func WithGuard(g *session.Guard) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithIDGenerator sets the session id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock sets the time source used for durations.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithLLMTimeout bounds each reasoner call.
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.llmTimeout = d
		}
	}
}

// WithAssessTimeout bounds each completeness assessment.
func WithAssessTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.assessTimeout = d
		}
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer for run and iteration spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs ReAct sessions.
//
// # Description
//
// Each iteration asks the reasoner for a decision, dispatches the chosen
// tool, folds the result into the partial SQL and collected metadata,
// assesses completeness, records the step and decides whether to continue,
// pause for the user, execute the final SQL or fail. A session never
// records more steps than its tool-call budget.
//
// # Thread Safety
//
// Safe for concurrent use. Runs of different sessions proceed in
// parallel; a second run of the same session is rejected.
type Engine struct {
	reasoner llm.Reasoner
	registry *tools.Registry
	assessor completeness.Assessor
	codec    *session.Codec
	guard    *session.Guard

	newID         func() string
	now           func() time.Time
	llmTimeout    time.Duration
	assessTimeout time.Duration

	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewEngine creates an engine.
//
// # Inputs
//
//   - reasoner: Decides each iteration. Required.
//   - registry: Dispatches tool calls. Required.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Engine: Ready to run.
//   - error: If a required dependency is missing.
func NewEngine(reasoner llm.Reasoner, registry *tools.Registry, opts ...Option) (*Engine, error) {
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}

	e := &Engine{
		reasoner:      reasoner,
		registry:      registry,
		assessor:      completeness.NewHeuristic(nil),
		newID:         uuid.NewString,
		now:           time.Now,
		llmTimeout:    DefaultLLMTimeout,
		assessTimeout: DefaultAssessTimeout,
		tracer:        otel.Tracer(tracerName),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.codec == nil {
		e.codec = session.NewRandomCodec()
	}
	if e.guard == nil {
		e.guard = session.NewGuard(0)
	}
	e.assessor = completeness.WithDeadline(e.assessor, e.assessTimeout)
	return e, nil
}

// Codec returns the token codec, for callers that inspect their own tokens
// in tests or tooling.
func (e *Engine) Codec() *session.Codec { return e.codec }

// ActiveSessions returns the number of sessions currently executing.
func (e *Engine) ActiveSessions() int { return e.guard.Active() }

// =============================================================================
// Preparing runs
// =============================================================================

// Prepare validates a start request and claims a new session.
//
// # Description
//
// All input checks happen here, before any observer is involved, so a
// transport can reject bad requests before it opens a stream. The returned
// Run must be executed or released.
//
// # Outputs
//
//   - *Run: Ready to execute.
//   - error: *Error of KindInvalidInput.
func (e *Engine) Prepare(req StartRequest) (*Run, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, invalidInput(ErrEmptyQuestion)
	}

	maxCalls := req.MaxToolCalls
	if maxCalls == 0 {
		maxCalls = session.DefaultToolCalls
	}
	if maxCalls < session.MinToolCalls || maxCalls > session.MaxToolCalls {
		return nil, invalidInput(fmt.Errorf("%w: max_tool_calls must be in [%d,%d]",
			ErrInvalidBudget, session.MinToolCalls, session.MaxToolCalls))
	}
	maxSecs := req.MaxSQLSeconds
	if maxSecs == 0 {
		maxSecs = session.DefaultSQLSeconds
	}
	if maxSecs < session.MinSQLSeconds || maxSecs > session.MaxSQLSeconds {
		return nil, invalidInput(fmt.Errorf("%w: max_sql_seconds must be in [%d,%d]",
			ErrInvalidBudget, session.MinSQLSeconds, session.MaxSQLSeconds))
	}

	st := session.New(e.newID(), question, maxCalls, maxSecs)
	release, err := e.guard.Acquire(st.SessionID)
	if err != nil {
		return nil, invalidSession(err)
	}
	return &Run{engine: e, state: st, release: release}, nil
}

// PrepareResume validates a resume request and claims its session.
//
// # Description
//
// The token must decode and verify, belong to the same question, be
// suspended at needs_user_input and not have been resumed before. The
// user's response is recorded as the answer to the pending clarification.
// A rejected request has no side effects.
//
// # Outputs
//
//   - *Run: Ready to execute.
//   - error: *Error of KindInvalidInput or KindInvalidSession.
func (e *Engine) PrepareResume(req ResumeRequest) (*Run, error) {
	answer := strings.TrimSpace(req.UserResponse)
	switch {
	case strings.TrimSpace(req.Question) == "":
		return nil, invalidInput(ErrEmptyQuestion)
	case strings.TrimSpace(req.SessionState) == "":
		return nil, invalidInput(ErrEmptyToken)
	case answer == "":
		return nil, invalidInput(ErrEmptyResponse)
	}

	st, err := e.codec.Deserialize(req.SessionState)
	if err != nil {
		return nil, invalidSession(err)
	}
	if st.Status != session.StatusNeedsUserInput {
		return nil, invalidSession(fmt.Errorf("%w: status is %s", ErrNotSuspended, st.Status))
	}
	if strings.TrimSpace(req.Question) != st.Question {
		return nil, invalidSession(ErrQuestionMismatch)
	}
	if err := st.Answer(answer); err != nil {
		return nil, invalidSession(err)
	}

	release, err := e.guard.Acquire(st.SessionID)
	if err != nil {
		return nil, invalidSession(err)
	}
	if err := e.guard.Consume(st.SessionID, st.Iteration); err != nil {
		release()
		return nil, invalidSession(err)
	}
	return &Run{engine: e, state: st, release: release}, nil
}

// Run prepares and executes a new session.
func (e *Engine) Run(ctx context.Context, req StartRequest, obs Observer) (*Response, error) {
	run, err := e.Prepare(req)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx, obs)
}

// Resume prepares and executes the continuation of a suspended session.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest, obs Observer) (*Response, error) {
	run, err := e.PrepareResume(req)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx, obs)
}
