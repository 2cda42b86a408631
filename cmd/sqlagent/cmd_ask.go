// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
)

// ErrRunFailed is returned when a run ends with an error event. The event
// itself has already been printed.
var ErrRunFailed = errors.New("run failed")

// errStreamEnded means the stream closed without a terminal event.
var errStreamEnded = errors.New("event stream ended without a result")

func runAskCommand(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	return withSource(cmd, func(ctx context.Context, s *askSession) error {
		return s.ask(ctx, agent.StartRequest{
			Question:      question,
			MaxToolCalls:  maxToolCalls,
			MaxSQLSeconds: maxSQLSeconds,
		})
	})
}

func runResumeCommand(cmd *cobra.Command, args []string) error {
	answer := strings.TrimSpace(strings.Join(args, " "))
	return withSource(cmd, func(ctx context.Context, s *askSession) error {
		return s.resume(ctx, agent.ResumeRequest{
			Question:     resumeQuestion,
			SessionState: resumeState,
			UserResponse: answer,
		})
	})
}

// withSource builds a local or remote event source and an askSession
// around it, then calls fn with a context canceled on SIGINT.
func withSource(cmd *cobra.Command, fn func(context.Context, *askSession) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0)

	var src eventSource
	if serverURL != "" {
		key := apiKey
		if key == "" {
			key = os.Getenv("SQLAGENT_API_KEY")
		}
		src = newRemoteSource(serverURL, key)
	} else {
		a, err := newApp(ctx, cfg, needs{engine: true})
		if err != nil {
			return err
		}
		defer a.Close()
		src = &localSource{engine: a.engine, wrap: a.observer}
	}

	s := &askSession{
		source:   src,
		renderer: newRenderer(printer, displayRows),
		printer:  printer,
	}
	if !noPrompt && printer.Mode() != ux.ModeMachine {
		s.prompter = ux.NewPrompter(os.Stdin, cmd.ErrOrStderr())
	}
	return fn(ctx, s)
}

// =============================================================================
// Ask loop
// =============================================================================

// askSession drives one question through as many clarification rounds as
// the agent needs.
type askSession struct {
	source   eventSource
	renderer *renderer
	printer  *ux.Printer

	// prompter is nil when clarifications should end the command with a
	// resumable token instead.
	prompter ux.Prompter
}

func (s *askSession) ask(ctx context.Context, req agent.StartRequest) error {
	ch, err := s.source.Run(ctx, req)
	if err != nil {
		return err
	}
	return s.follow(ctx, req.Question, ch)
}

func (s *askSession) resume(ctx context.Context, req agent.ResumeRequest) error {
	ch, err := s.source.Resume(ctx, req)
	if err != nil {
		return err
	}
	return s.follow(ctx, req.Question, ch)
}

// follow renders ch and answers clarifications until the run ends.
func (s *askSession) follow(ctx context.Context, question string, ch <-chan events.Event) error {
	for {
		out, err := s.consume(ctx, ch)
		if err != nil {
			return err
		}

		switch out.typ {
		case events.TypeCompleted:
			return nil
		case events.TypeError:
			return ErrRunFailed
		}

		token := out.response.SessionState
		if s.prompter == nil {
			s.printResumeHint(question, token)
			return nil
		}
		answer, err := s.prompter.Prompt(ctx, "> ")
		if errors.Is(err, ux.ErrAborted) {
			s.printResumeHint(question, token)
			return nil
		}
		if err != nil {
			return err
		}

		ch, err = s.source.Resume(ctx, agent.ResumeRequest{
			Question:     question,
			SessionState: token,
			UserResponse: answer,
		})
		if err != nil {
			return err
		}
	}
}

// consume renders events until a terminal one arrives.
// The channel is drained before returning, so a local run has released
// its session by the time a resume is attempted.
func (s *askSession) consume(ctx context.Context, ch <-chan events.Event) (*outcome, error) {
	defer func() {
		for range ch {
		}
	}()
	for ev := range ch {
		out, err := s.renderer.Render(ev)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errStreamEnded
}

func (s *askSession) printResumeHint(question, token string) {
	if s.printer.Mode() == ux.ModeMachine {
		s.printer.JSON("session", map[string]string{"question": question, "session_state": token})
		return
	}
	s.printer.Warning(fmt.Sprintf("Answer later with:\n  sqlagent resume -q %q --state %s \"<answer>\"", question, token))
}
