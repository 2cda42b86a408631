// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the named capabilities the agent may invoke while
// building a query, and the registry that dispatches calls to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// Category groups tools for prompting.
type Category string

const (
	CategorySchema     Category = "schema"
	CategorySearch     Category = "search"
	CategoryValidation Category = "validation"
	CategoryExecution  Category = "execution"
)

// ParamDef documents one parameter for the prompt.
type ParamDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition describes a tool to the model and to the registry.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Parameters  []ParamDef `json:"parameters"`

	// ContributesMetadata marks tools whose successful output is appended
	// to the session's collected metadata.
	ContributesMetadata bool `json:"contributes_metadata"`

	// Cacheable marks read-only tools whose results may be reused.
	Cacheable bool `json:"-"`

	// Timeout overrides the registry default when positive.
	Timeout time.Duration `json:"-"`
}

// Tool is a named capability.
type Tool interface {
	Definition() Definition

	// Execute runs the tool with already-validated params of the tool's
	// own shape and returns text for the model.
	Execute(ctx context.Context, params Params) (string, error)
}

// Finalizer is implemented by the tool that runs the final statement.
type Finalizer interface {
	Tool

	// Finalize validates and runs sql within timeout. The returned string
	// is the statement as actually executed.
	Finalize(ctx context.Context, sql string, timeout time.Duration) (string, *sqlexec.ExecutionResult, error)
}

// DefaultToolTimeout bounds a single tool call when neither the tool nor
// the registry sets one.
const DefaultToolTimeout = 30 * time.Second

// DefaultMaxOutputChars bounds the text returned to the model per call.
const DefaultMaxOutputChars = 8000

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTimeout sets the per-call timeout for tools without their own.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithResultCache enables caching of cacheable tool output.
func WithResultCache(c *ResultCache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

// WithMaxOutputChars truncates tool output beyond n characters (runes,
// not bytes).
func WithMaxOutputChars(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithRegistryLogger sets the logger. Default: slog.Default().
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry maps tool names to tools and dispatches calls.
//
// # Description
//
// Dispatch is the only way the engine reaches a tool. It selects the
// parameter shape by name, checks required fields, applies the per-call
// timeout and converts tool failures into *ExecutionError. Unknown names
// fail closed with ErrToolNotFound.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	final  Finalizer

	timeout   time.Duration
	maxOutput int
	cache     *ResultCache
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:    make(map[string]Tool),
		timeout:   DefaultToolTimeout,
		maxOutput: DefaultMaxOutputChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool.
//
// # Inputs
//
//   - tool: Must have a name with a known parameter shape. The ask_user
//     control call cannot be registered.
//
// # Outputs
//
//   - error: ErrReservedName, or ErrToolNotFound when the name has no shape.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	name := tool.Definition().Name
	if name == AskUser {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if !KnownShape(name) {
		return fmt.Errorf("%w: no parameter shape for %q", ErrToolNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = tool
	if f, ok := tool.(Finalizer); ok && name == ExecuteSQL {
		r.final = f
	}
	return nil
}

// MustRegister registers each tool and panics on error. For wiring code.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Definitions returns all tool definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.byName))
	for _, t := range r.byName {
		defs = append(defs, t.Definition())
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// IsFinal reports whether name is the final execution tool.
func (r *Registry) IsFinal(name string) bool {
	return name == ExecuteSQL
}

// ContributesMetadata reports whether a successful call to name adds to
// the collected metadata.
func (r *Registry) ContributesMetadata(name string) bool {
	t, ok := r.Get(name)
	return ok && t.Definition().ContributesMetadata
}

// Dispatch executes call and returns the tool's text output.
//
// # Outputs
//
//   - string: Output text, truncated to the configured maximum.
//   - error: ErrToolNotFound (wrapped) for unknown names, *ExecutionError
//     for bad parameters, timeouts and tool failures. Cancellation of ctx
//     is returned unwrapped as ctx.Err().
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Registry) Dispatch(ctx context.Context, call Call) (string, error) {
	logger := r.logger.With(slog.String("tool", call.Name))

	tool, ok := r.Get(call.Name)
	if !ok {
		logger.Warn("react.tool.error", slog.String("error", "not found"))
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	params, err := DecodeParams(call.Name, call.Parameters)
	if err == nil {
		if verr := params.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidParams, verr)
		}
	}
	if err != nil {
		logger.Warn("react.tool.error", slog.String("error", err.Error()))
		return "", &ExecutionError{Tool: call.Name, Err: err}
	}

	def := tool.Definition()
	cacheKey := ""
	if r.cache != nil && def.Cacheable {
		cacheKey = r.cache.Key(call)
		if out, ok := r.cache.Get(cacheKey); ok {
			logger.Debug("react.tool.result", slog.Bool("cached", true))
			return out, nil
		}
	}

	timeout := r.timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("react.tool.call", slog.Duration("timeout", timeout))
	start := time.Now()

	execute := func(ctx context.Context) (string, error) { return tool.Execute(ctx, params) }
	var out string
	if cacheKey != "" {
		out, err = r.cache.Do(callCtx, cacheKey, timeout, execute)
	} else {
		out, err = execute(callCtx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sqlexec.ErrTimeout) {
			err = fmt.Errorf("%w: %s after %v", ErrTimeout, call.Name, timeout)
		}
		logger.Warn("react.tool.error",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return "", &ExecutionError{Tool: call.Name, Err: err}
	}

	// Column values can carry arbitrary bytes; the session token only
	// round-trips valid UTF-8.
	out = truncate(strings.ToValidUTF8(out, "\uFFFD"), r.maxOutput)
	logger.Info("react.tool.result",
		slog.Int("chars", utf8.RuneCountInString(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// ExecuteFinal runs the final statement through the registered Finalizer.
//
// # Outputs
//
//   - string: The statement as executed.
//   - *sqlexec.ExecutionResult: Rows returned.
//   - error: *FinalExecutionError carrying sql, or ctx.Err() when the
//     parent context was canceled.
func (r *Registry) ExecuteFinal(ctx context.Context, sql string, timeout time.Duration) (string, *sqlexec.ExecutionResult, error) {
	r.mu.RLock()
	final := r.final
	r.mu.RUnlock()
	if final == nil {
		return "", nil, &FinalExecutionError{SQL: sql, Err: ErrNoFinalExecutor}
	}

	logger := r.logger.With(slog.String("tool", ExecuteSQL))
	logger.Info("react.tool.call", slog.Duration("timeout", timeout), slog.Bool("final", true))

	validated, result, err := final.Finalize(ctx, sql, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		logger.Warn("react.tool.error", slog.String("error", err.Error()), slog.Bool("final", true))
		return "", nil, &FinalExecutionError{SQL: sql, Err: err}
	}
	logger.Info("react.tool.result",
		slog.Int("row_count", result.RowCount),
		slog.Float64("execution_time_ms", result.ExecutionTimeMS),
		slog.Bool("final", true),
	)
	return validated, result, nil
}

// truncate keeps the first max characters of s. Cuts land on rune
// boundaries so the result stays valid UTF-8.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "\n... [truncated]"
		}
		n++
	}
	return s
}
