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
	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// outcome is what a terminal event left behind.
type outcome struct {
	typ      events.Type
	response *agent.Response
	failure  *events.ErrorData
}

// renderer prints events as they arrive.
type renderer struct {
	printer *ux.Printer
	maxRows int
}

func newRenderer(p *ux.Printer, maxRows int) *renderer {
	return &renderer{printer: p, maxRows: maxRows}
}

// Render prints ev. For terminal events it also returns the outcome.
func (r *renderer) Render(ev events.Event) (*outcome, error) {
	switch ev.Type {
	case events.TypeStep:
		step, err := events.Payload[events.StepData](ev)
		if err != nil {
			return nil, err
		}
		r.printer.Step(stepView(step))
		return nil, nil

	case events.TypeNeedsUserInput:
		data, err := events.Payload[events.ResponseData](ev)
		if err != nil {
			return nil, err
		}
		r.printer.Ask(data.Response.QuestionToUser)
		return &outcome{typ: ev.Type, response: data.Response}, nil

	case events.TypeCompleted:
		data, err := events.Payload[events.ResponseData](ev)
		if err != nil {
			return nil, err
		}
		r.completed(data.Response)
		return &outcome{typ: ev.Type, response: data.Response}, nil

	case events.TypeError:
		data, err := events.Payload[events.ErrorData](ev)
		if err != nil {
			return nil, err
		}
		sql := data.AttemptedSQL
		if sql == "" {
			sql = data.PartialSQL
		}
		r.printer.Failure(string(data.Kind), data.Message, sql)
		return &outcome{typ: ev.Type, failure: &data}, nil
	}
	return nil, nil
}

func (r *renderer) completed(resp *agent.Response) {
	for _, w := range resp.Warnings {
		r.printer.Warning(w)
	}
	sql := resp.FinalSQL
	if sql == "" {
		sql = resp.ValidatedSQL
	}
	if sql != "" {
		r.printer.SQL(sql)
	}
	if resp.ExecutionResult != nil {
		r.printer.Result(resultView(resp.ExecutionResult), r.maxRows)
	}
}

func stepView(s events.StepData) ux.StepView {
	v := ux.StepView{
		Iteration:  s.Iteration,
		Reasoning:  s.Reasoning,
		Tool:       s.ToolCall.Name,
		Result:     s.ToolResult,
		PartialSQL: s.PartialSQL,
		Remaining:  s.State.RemainingToolCalls,
	}
	if s.SQLCompleteness.ConfidenceLevel != "" {
		v.Confidence = string(s.SQLCompleteness.ConfidenceLevel)
		if s.SQLCompleteness.MissingInfo != "" {
			v.Confidence += " (missing: " + s.SQLCompleteness.MissingInfo + ")"
		}
	}
	return v
}

func resultView(res *sqlexec.ExecutionResult) ux.ResultView {
	return ux.ResultView{
		Columns:   res.Columns,
		Rows:      res.Rows,
		RowCount:  res.RowCount,
		ElapsedMS: res.ExecutionTimeMS,
		Truncated: res.Truncated,
	}
}
