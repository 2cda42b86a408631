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
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound indicates the requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates the parameters did not match the tool's shape.
	ErrInvalidParams = errors.New("invalid tool parameters")

	// ErrTimeout indicates the tool exceeded its time budget.
	ErrTimeout = errors.New("tool execution timed out")

	// ErrReservedName indicates an attempt to register a control call as a tool.
	ErrReservedName = errors.New("tool name is reserved")

	// ErrNoFinalExecutor indicates no final SQL executor was registered.
	ErrNoFinalExecutor = errors.New("no final sql executor registered")
)

// ExecutionError reports a non-fatal tool failure. The engine turns it into
// an observation the model can react to.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FinalExecutionError reports that the final SQL failed to execute.
// It always carries the attempted statement.
type FinalExecutionError struct {
	SQL string
	Err error
}

func (e *FinalExecutionError) Error() string {
	return fmt.Sprintf("final sql execution failed: %v", e.Err)
}

func (e *FinalExecutionError) Unwrap() error { return e.Err }
