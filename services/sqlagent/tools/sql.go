// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// ValidationPassed prefixes validate_sql output when the statement is usable.
// The engine checks for it before finalizing early.
const ValidationPassed = "VALID"

const (
	defaultPreviewRows = 5
	maxPreviewRows     = 50
	previewTimeout     = 15 * time.Second
)

// =============================================================================
// validate_sql
// =============================================================================

// ValidateSQLTool checks a statement with the read-only guard and the
// database planner without running it.
type ValidateSQLTool struct {
	guard *sqlexec.Guard
	exec  sqlexec.Executor
}

// NewValidateSQLTool creates the tool.
func NewValidateSQLTool(guard *sqlexec.Guard, exec sqlexec.Executor) *ValidateSQLTool {
	return &ValidateSQLTool{guard: guard, exec: exec}
}

func (t *ValidateSQLTool) Definition() Definition {
	return Definition{
		Name:        ValidateSQL,
		Description: "Check that a SQL statement is read-only and compiles against the database, without running it.",
		Category:    CategoryValidation,
		Parameters: []ParamDef{
			{Name: "sql", Type: "string", Description: "Statement to check", Required: true},
		},
	}
}

func (t *ValidateSQLTool) Execute(ctx context.Context, params Params) (string, error) {
	stmt, err := t.guard.Validate(params.(SQLParams).SQL)
	if err != nil {
		return "INVALID: " + err.Error(), nil
	}
	plan, err := t.exec.Explain(ctx, stmt)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "INVALID: " + err.Error(), nil
	}
	return ValidationPassed + ": statement compiles.\nPlan:\n" + plan, nil
}

// =============================================================================
// preview_sql
// =============================================================================

// PreviewSQLTool runs a statement with a small row cap so the model can
// inspect the shape of the result.
type PreviewSQLTool struct {
	guard *sqlexec.Guard
	exec  sqlexec.Executor
}

// NewPreviewSQLTool creates the tool.
func NewPreviewSQLTool(guard *sqlexec.Guard, exec sqlexec.Executor) *PreviewSQLTool {
	return &PreviewSQLTool{guard: guard, exec: exec}
}

func (t *PreviewSQLTool) Definition() Definition {
	return Definition{
		Name:        PreviewSQL,
		Description: "Run a read-only statement and return the first few rows.",
		Category:    CategoryValidation,
		Parameters: []ParamDef{
			{Name: "sql", Type: "string", Description: "Statement to preview", Required: true},
			{Name: "limit", Type: "integer", Description: "Rows to return (default 5, max 50)"},
		},
		Timeout: previewTimeout,
	}
}

func (t *PreviewSQLTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(PreviewSQLParams)
	stmt, err := t.guard.Validate(p.SQL)
	if err != nil {
		return "", err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPreviewRows
	}
	if limit > maxPreviewRows {
		limit = maxPreviewRows
	}
	res, err := t.exec.Execute(ctx, stmt, limit, previewTimeout)
	if err != nil {
		return "", err
	}
	return FormatResult(res), nil
}

// =============================================================================
// execute_sql
// =============================================================================

// ExecuteSQLTool runs the final statement. When dispatched as an ordinary
// call it behaves like a preview; the engine reaches Finalize through
// Registry.ExecuteFinal once the statement is assessed complete.
type ExecuteSQLTool struct {
	guard   *sqlexec.Guard
	exec    sqlexec.Executor
	maxRows int
}

// NewExecuteSQLTool creates the final executor. maxRows <= 0 uses the
// executor's default.
func NewExecuteSQLTool(guard *sqlexec.Guard, exec sqlexec.Executor, maxRows int) *ExecuteSQLTool {
	return &ExecuteSQLTool{guard: guard, exec: exec, maxRows: maxRows}
}

func (t *ExecuteSQLTool) Definition() Definition {
	return Definition{
		Name:        ExecuteSQL,
		Description: "Propose the final SQL. It is executed once it is assessed complete with high confidence.",
		Category:    CategoryExecution,
		Parameters: []ParamDef{
			{Name: "sql", Type: "string", Description: "The final statement", Required: true},
		},
	}
}

func (t *ExecuteSQLTool) Execute(ctx context.Context, params Params) (string, error) {
	_, res, err := t.Finalize(ctx, params.(SQLParams).SQL, previewTimeout)
	if err != nil {
		return "", err
	}
	return FormatResult(res), nil
}

// Finalize implements Finalizer.
func (t *ExecuteSQLTool) Finalize(ctx context.Context, sql string, timeout time.Duration) (string, *sqlexec.ExecutionResult, error) {
	stmt, err := t.guard.Validate(sql)
	if err != nil {
		return "", nil, err
	}
	res, err := t.exec.Execute(ctx, stmt, t.maxRows, timeout)
	if err != nil {
		return "", nil, err
	}
	return stmt, res, nil
}

// FormatResult renders rows as a pipe-separated table for the model.
func FormatResult(res *sqlexec.ExecutionResult) string {
	if res == nil {
		return "(no result)"
	}
	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, " | "))
	for _, row := range res.Rows {
		b.WriteString("\n")
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		b.WriteString(strings.Join(cells, " | "))
	}
	fmt.Fprintf(&b, "\n(%d rows", res.RowCount)
	if res.Truncated {
		b.WriteString(", truncated")
	}
	b.WriteString(")")
	return b.String()
}
