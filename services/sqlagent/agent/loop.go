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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/llm"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// ErrAlreadyExecuted is returned when a Run is executed twice.
var ErrAlreadyExecuted = errors.New("run already executed")

// Run is one claimed execution of a session, created by Prepare or
// PrepareResume. The session stays claimed until Execute returns or
// Release is called.
type Run struct {
	engine   *Engine
	state    *session.State
	release  func()
	executed atomic.Bool
	warnings []string
	logger   *slog.Logger
}

// SessionID returns the id of the claimed session.
func (r *Run) SessionID() string { return r.state.SessionID }

// Iteration returns the iteration the session was prepared at.
func (r *Run) Iteration() int { return r.state.Iteration }

// Release gives up the claim without executing. Safe to call more than
// once and after Execute.
func (r *Run) Release() { r.release() }

// Execute runs iterations until the session completes, fails, suspends for
// user input, or ctx is canceled.
//
// # Description
//
// Progress is reported to obs synchronously. On cancellation the
// in-flight iteration is discarded, no terminal callback is made and the
// returned error wraps ErrCanceled and ctx.Err().
//
// # Outputs
//
//   - *Response: Final snapshot for completed, needs_user_input and error.
//   - error: *Error when the run ended in error, ErrCanceled when canceled.
//
// # Thread Safety
//
// A Run executes once.
func (r *Run) Execute(ctx context.Context, obs Observer) (*Response, error) {
	if !r.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	defer r.release()
	if obs == nil {
		obs = NopObserver{}
	}

	e, st := r.engine, r.state
	r.logger = e.logger.With(slog.String("session_id", st.SessionID))

	ctx, span := e.tracer.Start(ctx, "agent.Run", trace.WithAttributes(
		attribute.String("session_id", st.SessionID),
		attribute.Int("start_iteration", st.Iteration),
		attribute.Int("remaining_tool_calls", st.RemainingToolCalls),
	))
	defer span.End()

	if err := st.Transition(session.StatusRunning); err != nil {
		return nil, invalidSession(err)
	}

	e.metrics.RunStarted(ctx)
	outcome := "canceled"
	defer func() { e.metrics.RunFinished(context.WithoutCancel(ctx), outcome) }()

	r.logger.Info("ReAct run starting",
		slog.Int("iteration", st.Iteration),
		slog.Int("remaining_tool_calls", st.RemainingToolCalls),
		slog.Int("max_sql_seconds", st.MaxSQLSeconds))

	resp, err := r.loop(ctx, obs)
	if !errors.Is(err, ErrCanceled) {
		outcome = string(st.Status)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("status", outcome))
	return resp, err
}

func (r *Run) loop(ctx context.Context, obs Observer) (*Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.canceled(err)
		}
		if r.state.RemainingToolCalls <= 0 {
			return r.exhausted(ctx, obs)
		}
		resp, err := r.iterate(ctx, obs)
		if resp != nil || err != nil {
			return resp, err
		}
	}
}

// =============================================================================
// Iteration
// =============================================================================

// iterate runs one reasoning/acting/observing cycle. Nothing is written to
// the session until the step is complete, so a canceled iteration leaves
// no trace. A nil response and error means continue.
func (r *Run) iterate(ctx context.Context, obs Observer) (*Response, error) {
	e, st := r.engine, r.state
	iteration := st.Iteration + 1

	ctx, span := e.tracer.Start(ctx, "agent.iteration", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	dec, err := r.reason(ctx, iteration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.canceled(ctx.Err())
		}
		msg := "The language model is unavailable"
		if len(st.Steps) > 0 {
			msg = "The language model stopped responding; showing progress so far"
		}
		return r.fail(ctx, obs, &Error{
			Kind:    KindLLMUnavailable,
			Message: msg,
			Err:     fmt.Errorf("%w: %w", ErrLLMUnavailable, err),
		})
	}

	// Reasoners may hand back nil or loosely formatted parameters; the
	// recorded call must be compact JSON to survive serialization.
	call := tools.NewCall(dec.ToolCall.Name, dec.ToolCall.Parameters)
	name := call.Name
	span.SetAttributes(attribute.String("tool", name))

	partial := st.PartialSQL
	if dec.PartialSQL != "" {
		partial = dec.PartialSQL
	}
	params, _ := tools.DecodeParams(name, call.Parameters)
	if sql := sqlOf(params); sql != "" {
		partial = sql
	}
	partial = strings.ToValidUTF8(partial, "\uFFFD")

	var (
		result   string
		toolErr  error
		clarify  string
		fragment string
	)
	switch name {
	case tools.AskUser:
		if st.RemainingToolCalls > 1 {
			clarify = clarifyingQuestion(params, dec.Reasoning)
		} else {
			result = "Not asked: no tool calls remain to use the answer."
		}
	case tools.ExecuteSQL:
		// Executed below once the draft is assessed.
	default:
		result, toolErr = e.registry.Dispatch(ctx, call)
		if ctx.Err() != nil {
			return nil, r.canceled(ctx.Err())
		}
		if toolErr != nil {
			result = "ERROR: " + toolErr.Error()
		} else if e.registry.ContributesMetadata(name) {
			fragment = result
		}
	}

	comp := e.assessor.Assess(ctx, completeness.Input{
		PartialSQL: partial,
		Metadata:   joinMetadata(st.AccumulatedMetadata, fragment),
		Reported:   dec.Reported,
	})
	if ctx.Err() != nil {
		return nil, r.canceled(ctx.Err())
	}

	finalizes := name == tools.ExecuteSQL ||
		(name == tools.ValidateSQL && toolErr == nil && strings.HasPrefix(result, tools.ValidationPassed))
	var (
		attempted bool
		validated string
		execRes   *sqlexec.ExecutionResult
		finalErr  error
	)
	switch {
	case clarify == "" && finalizes && comp.Ready():
		attempted = true
		validated, execRes, finalErr = r.executeFinal(ctx, partial)
		if ctx.Err() != nil {
			return nil, r.canceled(ctx.Err())
		}
		if name == tools.ExecuteSQL {
			if finalErr != nil {
				result = "ERROR: " + finalErr.Error()
			} else {
				result = tools.FormatResult(execRes)
			}
		}
	case name == tools.ExecuteSQL:
		result = notReady(comp)
	}

	step := session.Step{
		Iteration:        iteration,
		Reasoning:        dec.Reasoning,
		ToolCall:         call,
		PartialSQL:       partial,
		SQLCompleteness:  comp,
		MetadataFragment: fragment,
	}
	if clarify == "" {
		step.ToolResult = &result
	}

	st.Iteration = iteration
	st.PartialSQL = partial
	st.AppendMetadata(fragment)
	st.RemainingToolCalls--
	st.Record(step)

	e.metrics.RecordIteration(ctx, name, toolErr != nil || finalErr != nil)
	r.logger.Info("Iteration complete",
		slog.Int("iteration", iteration),
		slog.String("tool", name),
		slog.Bool("is_complete", comp.IsComplete),
		slog.String("confidence", string(comp.ConfidenceLevel)),
		slog.Int("remaining_tool_calls", st.RemainingToolCalls))

	obs.OnStep(step, StateSnapshot{RemainingToolCalls: st.RemainingToolCalls, PartialSQL: st.PartialSQL})

	switch {
	case clarify != "":
		return r.suspend(ctx, obs, clarify)
	case attempted && finalErr != nil:
		return r.fail(ctx, obs, finalError(partial, finalErr))
	case attempted:
		return r.complete(ctx, obs, partial, validated, execRes)
	case st.RemainingToolCalls == 0:
		return r.exhausted(ctx, obs)
	}
	return nil, nil
}

// reason asks the reasoner for a decision. Once the session has recorded
// steps a failed call is retried once.
func (r *Run) reason(ctx context.Context, iteration int) (llm.Decision, error) {
	e, st := r.engine, r.state
	in := llm.Context{
		Question:       st.Question,
		Metadata:       st.AccumulatedMetadata,
		PartialSQL:     st.PartialSQL,
		Clarifications: st.Clarifications,
		Iteration:      iteration,
		Remaining:      st.RemainingToolCalls,
		History:        st.Steps,
		Tools:          e.registry.Definitions(),
	}

	attempts := 1
	if len(st.Steps) > 0 {
		attempts = 2
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		start := e.now()
		var dec llm.Decision
		dec, err = e.reasoner.Reason(callCtx, in)
		cancel()
		e.metrics.RecordLLM(ctx, e.now().Sub(start), err != nil)
		if err == nil {
			return dec, nil
		}
		if ctx.Err() != nil {
			return llm.Decision{}, ctx.Err()
		}
		r.logger.Warn("Reasoner failed",
			slog.Int("iteration", iteration),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return llm.Decision{}, err
}

// executeFinal runs sql through the registry's final executor under the
// session's SQL time budget.
func (r *Run) executeFinal(ctx context.Context, sql string) (string, *sqlexec.ExecutionResult, error) {
	e := r.engine
	timeout := time.Duration(r.state.MaxSQLSeconds) * time.Second
	start := e.now()
	validated, res, err := e.registry.ExecuteFinal(ctx, sql, timeout)
	e.metrics.RecordFinal(ctx, e.now().Sub(start), err != nil)
	return validated, res, err
}

// =============================================================================
// Endings
// =============================================================================

func (r *Run) suspend(ctx context.Context, obs Observer, question string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, r.canceled(err)
	}

	next := r.state.Clone()
	question = strings.ToValidUTF8(question, "\uFFFD")
	next.QuestionToUser = question
	next.Clarifications = append(next.Clarifications, session.Clarification{Question: question})
	if err := next.Transition(session.StatusNeedsUserInput); err != nil {
		return r.fail(ctx, obs, invalidSession(err))
	}
	token, err := r.engine.codec.Serialize(next)
	if err != nil {
		return r.fail(ctx, obs, invalidSession(err))
	}
	r.state = next

	resp := r.response()
	resp.SessionState = token
	r.logger.Info("Waiting for user input",
		slog.Int("iteration", next.Iteration),
		slog.String("question_to_user", question))
	obs.OnNeedsUserInput(resp)
	return resp, nil
}

func (r *Run) complete(ctx context.Context, obs Observer, finalSQL, validated string, res *sqlexec.ExecutionResult) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, r.canceled(err)
	}
	if err := r.state.Transition(session.StatusCompleted); err != nil {
		return r.fail(ctx, obs, invalidSession(err))
	}
	if res.Truncated {
		r.warnings = append(r.warnings, fmt.Sprintf("result truncated to %d rows", res.RowCount))
	}

	resp := r.response()
	resp.FinalSQL = finalSQL
	resp.ValidatedSQL = validated
	resp.ExecutionResult = res
	r.logger.Info("ReAct run completed",
		slog.Int("iteration", r.state.Iteration),
		slog.Int("row_count", res.RowCount),
		slog.Float64("execution_time_ms", res.ExecutionTimeMS))
	obs.OnCompleted(resp)
	return resp, nil
}

// exhausted handles a spent budget: the current draft, if any, gets one
// best-effort execution regardless of its assessed confidence.
func (r *Run) exhausted(ctx context.Context, obs Observer) (*Response, error) {
	st := r.state
	sql := strings.TrimSpace(st.PartialSQL)
	if sql == "" {
		return r.fail(ctx, obs, &Error{
			Kind:    KindBudgetExhausted,
			Message: fmt.Sprintf("Used all %d tool calls without drafting SQL", st.MaxToolCalls),
			Err:     ErrBudgetExhausted,
		})
	}

	r.logger.Info("Budget exhausted, attempting best-effort execution")
	validated, res, err := r.executeFinal(ctx, sql)
	if ctx.Err() != nil {
		return nil, r.canceled(ctx.Err())
	}
	if err != nil {
		return r.fail(ctx, obs, &Error{
			Kind:       KindBudgetExhausted,
			Message:    fmt.Sprintf("Used all %d tool calls; the best available SQL failed", st.MaxToolCalls),
			SQL:        sql,
			PartialSQL: sql,
			Err:        fmt.Errorf("%w: %w", ErrBudgetExhausted, err),
		})
	}

	confidence := completeness.Low
	if n := len(st.Steps); n > 0 {
		confidence = st.Steps[n-1].SQLCompleteness.ConfidenceLevel
	}
	r.warnings = append(r.warnings, fmt.Sprintf(
		"tool call budget exhausted; executed the best available SQL at %s confidence", confidence))
	return r.complete(ctx, obs, sql, validated, res)
}

func (r *Run) fail(ctx context.Context, obs Observer, failure *Error) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, r.canceled(err)
	}
	if failure.PartialSQL == "" {
		failure.PartialSQL = r.state.PartialSQL
	}
	if err := r.state.Transition(session.StatusError); err != nil {
		r.logger.Warn("Failed to transition to error state", slog.String("error", err.Error()))
	}

	resp := r.response()
	r.logger.Warn("ReAct run failed",
		slog.String("kind", string(failure.Kind)),
		slog.Int("iteration", r.state.Iteration),
		slog.String("error", failure.Error()))
	obs.OnError(failure, resp)
	return resp, failure
}

func (r *Run) canceled(cause error) error {
	r.logger.Info("ReAct run canceled", slog.Int("iteration", r.state.Iteration))
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

func (r *Run) response() *Response {
	st := r.state.Clone()
	steps := st.Steps
	if steps == nil {
		steps = []session.Step{}
	}
	return &Response{
		SessionID:          st.SessionID,
		Question:           st.Question,
		Status:             st.Status,
		Iteration:          st.Iteration,
		Steps:              steps,
		CollectedMetadata:  st.AccumulatedMetadata,
		PartialSQL:         st.PartialSQL,
		RemainingToolCalls: st.RemainingToolCalls,
		Warnings:           append([]string{}, r.warnings...),
		QuestionToUser:     st.QuestionToUser,
	}
}

// =============================================================================
// Helpers
// =============================================================================

func sqlOf(p tools.Params) string {
	switch v := p.(type) {
	case tools.SQLParams:
		return strings.TrimSpace(v.SQL)
	case tools.PreviewSQLParams:
		return strings.TrimSpace(v.SQL)
	}
	return ""
}

func clarifyingQuestion(p tools.Params, reasoning string) string {
	if v, ok := p.(tools.AskUserParams); ok {
		if q := strings.TrimSpace(v.Question); q != "" {
			return q
		}
	}
	if q := strings.TrimSpace(reasoning); q != "" {
		return q
	}
	return "Could you clarify your question?"
}

func joinMetadata(acc, fragment string) string {
	switch {
	case fragment == "":
		return acc
	case acc == "":
		return fragment
	}
	return acc + "\n\n" + fragment
}

func notReady(c completeness.Completeness) string {
	msg := fmt.Sprintf("Not executed: the SQL is not ready (complete=%t, confidence=%s).", c.IsComplete, c.ConfidenceLevel)
	if c.MissingInfo != "" {
		msg += " Missing: " + c.MissingInfo
	}
	return msg
}

func finalError(sql string, err error) *Error {
	cause := err
	var fe *tools.FinalExecutionError
	if errors.As(err, &fe) {
		sql, cause = fe.SQL, fe.Err
	}
	return &Error{
		Kind:       KindFinalExecution,
		Message:    "Final SQL execution failed",
		SQL:        sql,
		PartialSQL: sql,
		Err:        cause,
	}
}
