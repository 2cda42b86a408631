// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the engine metrics.
const MeterName = "github.com/AleutianAI/AleutianSQL/services/sqlagent"

// EngineMetrics holds the ReAct engine instruments. All sqlagent_ metrics
// are created here.
//
// A nil *EngineMetrics is valid and records nothing.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type EngineMetrics struct {
	// IterationsTotal counts recorded steps by tool and outcome.
	IterationsTotal metric.Int64Counter

	// RunsTotal counts runs by final status.
	RunsTotal metric.Int64Counter

	// ActiveRuns tracks runs currently executing.
	ActiveRuns metric.Int64UpDownCounter

	// LLMDuration records reasoner call latency in seconds.
	LLMDuration metric.Float64Histogram

	// FinalExecutionDuration records final SQL latency in seconds.
	FinalExecutionDuration metric.Float64Histogram
}

// NewEngineMetrics registers the engine instruments with meter. A nil meter
// uses the global MeterProvider.
//
// # Outputs
//
//   - *EngineMetrics: Ready to record.
//   - error: Non-nil if any instrument cannot be created.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &EngineMetrics{}
	var err error

	m.IterationsTotal, err = meter.Int64Counter(
		"sqlagent_iterations_total",
		metric.WithDescription("ReAct iterations recorded"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.RunsTotal, err = meter.Int64Counter(
		"sqlagent_runs_total",
		metric.WithDescription("ReAct runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"sqlagent_active_runs",
		metric.WithDescription("ReAct runs currently executing"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_runs: %w", err)
	}

	m.LLMDuration, err = meter.Float64Histogram(
		"sqlagent_llm_duration_seconds",
		metric.WithDescription("Reasoner call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_duration_seconds: %w", err)
	}

	m.FinalExecutionDuration, err = meter.Float64Histogram(
		"sqlagent_final_execution_duration_seconds",
		metric.WithDescription("Final SQL execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create final_execution_duration_seconds: %w", err)
	}
	return m, nil
}

// RecordIteration counts one recorded step.
func (m *EngineMetrics) RecordIteration(ctx context.Context, tool string, failed bool) {
	if m == nil {
		return
	}
	m.IterationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("failed", failed),
	))
}

// RunStarted increments the active run gauge.
func (m *EngineMetrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, 1)
}

// RunFinished decrements the active run gauge and counts the outcome.
func (m *EngineMetrics) RunFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, -1)
	m.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordLLM records one reasoner call.
func (m *EngineMetrics) RecordLLM(ctx context.Context, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("failed", failed)))
}

// RecordFinal records one final SQL execution.
func (m *EngineMetrics) RecordFinal(ctx context.Context, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.FinalExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("failed", failed)))
}
