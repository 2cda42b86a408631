// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the reasoning capability of the agent: it turns the
// current loop context into a prompt, calls a chat model and parses the
// reply into a reasoning + tool call decision.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

var (
	// ErrUnavailable indicates the model could not be reached or refused.
	ErrUnavailable = errors.New("llm unavailable")

	// ErrMalformedOutput indicates the reply did not follow the protocol.
	ErrMalformedOutput = errors.New("malformed llm output")
)

// Context is everything the model sees for one iteration.
type Context struct {
	Question       string
	Metadata       string
	PartialSQL     string
	Clarifications []session.Clarification

	// Iteration is the number of the iteration being decided.
	Iteration int
	Remaining int
	History   []session.Step
	Tools     []tools.Definition
}

// Decision is the model's answer for one iteration.
type Decision struct {
	Reasoning  string
	PartialSQL string

	// Reported is the model's own completeness verdict, nil if absent.
	Reported *completeness.Completeness
	ToolCall tools.Call
}

// Reasoner produces a decision for a context.
type Reasoner interface {
	Reason(ctx context.Context, in Context) (Decision, error)
}

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatClient sends a conversation to a chat model and returns its reply.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ReasonerOption configures a ChatReasoner.
type ReasonerOption func(*ChatReasoner)

// WithRateLimit bounds model calls to rps with the given burst.
func WithRateLimit(rps float64, burst int) ReasonerOption {
	return func(r *ChatReasoner) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithSystemPrompt overrides SystemPrompt.
func WithSystemPrompt(prompt string) ReasonerOption {
	return func(r *ChatReasoner) {
		if prompt != "" {
			r.system = prompt
		}
	}
}

// WithReasonerLogger sets the logger.
func WithReasonerLogger(l *slog.Logger) ReasonerOption {
	return func(r *ChatReasoner) {
		if l != nil {
			r.logger = l
		}
	}
}

// ChatReasoner implements Reasoner over a ChatClient.
//
// # Thread Safety
//
// Safe for concurrent use if the client is.
type ChatReasoner struct {
	client  ChatClient
	limiter *rate.Limiter
	system  string
	logger  *slog.Logger
}

// NewChatReasoner creates a reasoner. Without WithRateLimit calls are
// not throttled.
func NewChatReasoner(client ChatClient, opts ...ReasonerOption) *ChatReasoner {
	r := &ChatReasoner{
		client:  client,
		limiter: rate.NewLimiter(rate.Inf, 1),
		system:  SystemPrompt,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reason implements Reasoner.
//
// # Outputs
//
//   - Decision: Parsed decision.
//   - error: Wraps ErrUnavailable for client failures, ErrMalformedOutput
//     for unparseable replies, or returns ctx.Err() when canceled.
func (r *ChatReasoner) Reason(ctx context.Context, in Context) (Decision, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	messages := []Message{
		{Role: RoleSystem, Content: r.system},
		{Role: RoleUser, Content: BuildPrompt(in)},
	}

	start := time.Now()
	reply, err := r.client.Chat(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		r.logger.Warn("llm call failed",
			slog.Int("iteration", in.Iteration),
			slog.String("error", err.Error()))
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d, err := ParseOutput(reply)
	if err != nil {
		r.logger.Warn("llm output rejected",
			slog.Int("iteration", in.Iteration),
			slog.Int("reply_chars", len(reply)),
			slog.String("error", err.Error()))
		return Decision{}, err
	}
	r.logger.Debug("llm decision",
		slog.Int("iteration", in.Iteration),
		slog.String("tool", d.ToolCall.Name),
		slog.Duration("duration", time.Since(start)))
	return d, nil
}
