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
	"log/slog"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
)

// ChannelSink delivers events on a channel.
//
// Send blocks until the consumer receives the event or ctx is done, so a
// slow consumer slows the engine instead of growing a buffer.
type ChannelSink struct {
	ch chan<- Event
}

// NewChannelSink wraps ch.
func NewChannelSink(ch chan<- Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// Send implements Sink.
func (s *ChannelSink) Send(ctx context.Context, ev Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush implements Sink. Channel delivery is unbuffered.
func (s *ChannelSink) Flush() error { return nil }

// RunFunc executes one engine run reporting to obs.
type RunFunc func(ctx context.Context, obs agent.Observer) error

// Stream runs fn in a goroutine and returns its events.
//
// # Description
//
// The channel is closed once fn has returned. When ctx is canceled the
// sequence ends early without a terminal event. The consumer must drain
// the channel or cancel ctx.
//
// # Inputs
//
//   - ctx: Bounds both the run and delivery.
//   - fn: Typically a prepared agent.Run's Execute.
//   - opts: Adapter options.
//
// # Outputs
//
//   - <-chan Event: The ordered sequence.
func Stream(ctx context.Context, fn RunFunc, opts ...AdapterOption) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		adapter := NewAdapter(ctx, NewChannelSink(ch), opts...)
		err := fn(ctx, adapter)
		if cerr := adapter.Close(); cerr != nil && ctx.Err() == nil {
			slog.Warn("Event stream ended early", slog.String("error", cerr.Error()))
		}
		if err != nil && adapter.Sent() == 0 && ctx.Err() == nil {
			slog.Warn("Run produced no events", slog.String("error", err.Error()))
		}
	}()
	return ch
}
