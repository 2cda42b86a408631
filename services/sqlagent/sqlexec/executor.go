// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlexec runs validated, read-only SQL against the relational store.
//
// The package provides a Guard that rejects anything other than a single
// SELECT/WITH statement, and a DB-backed Executor that applies a row cap and
// a per-call timeout. Drivers for SQLite (glebarez/go-sqlite) and PostgreSQL
// (pgx stdlib) are registered by this package.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "github.com/glebarez/go-sqlite"
	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrTimeout indicates the statement exceeded its time budget.
	ErrTimeout = errors.New("sql execution timed out")

	// ErrUnsupportedDriver indicates the configured driver is not known.
	ErrUnsupportedDriver = errors.New("unsupported sql driver")

	// ErrNotConfigured indicates no database was configured.
	ErrNotConfigured = errors.New("sql executor not configured")
)

// =============================================================================
// Types
// =============================================================================

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DefaultMaxRows caps result sets when Config.MaxRows is unset.
const DefaultMaxRows = 1000

// ExecutionResult is the tabular outcome of a statement.
type ExecutionResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
	Truncated       bool     `json:"truncated,omitempty"`
}

// Executor runs read-only statements.
//
// Implementations must honour ctx cancellation and must return an error
// wrapping ErrTimeout when the timeout elapses.
type Executor interface {
	// Execute runs sql with at most maxRows rows returned (0 uses the
	// executor default) and bounded by timeout (0 means no extra bound).
	Execute(ctx context.Context, sql string, maxRows int, timeout time.Duration) (*ExecutionResult, error)

	// Explain returns the query plan for sql as text.
	Explain(ctx context.Context, sql string) (string, error)
}

// Config configures a DB executor.
type Config struct {
	// Driver is "sqlite" or "pgx".
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite pgx"`

	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`

	// MaxRows caps rows returned per statement. Default: 1000.
	MaxRows int `yaml:"max_rows" validate:"gte=0"`

	// MaxOpenConns bounds the pool. Default: 8.
	MaxOpenConns int `yaml:"max_open_conns" validate:"gte=0"`
}

// DBExecutor executes statements through database/sql.
//
// # Thread Safety
//
// DBExecutor is safe for concurrent use; *sql.DB manages its own pool.
type DBExecutor struct {
	db      *sql.DB
	driver  string
	maxRows int
	logger  *slog.Logger
}

// Open opens the configured database and verifies connectivity.
//
// # Inputs
//
//   - ctx: Bounds the initial ping.
//   - cfg: Driver, DSN and limits.
//
// # Outputs
//
//   - *DBExecutor: Ready executor. Close it when done.
//   - error: ErrUnsupportedDriver, ErrNotConfigured, or a connection error.
func Open(ctx context.Context, cfg Config) (*DBExecutor, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	case "":
		return nil, ErrNotConfigured
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrNotConfigured)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	return NewDBExecutor(db, cfg.Driver, cfg.MaxRows), nil
}

// NewDBExecutor wraps an existing handle.
func NewDBExecutor(db *sql.DB, driver string, maxRows int) *DBExecutor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &DBExecutor{
		db:      db,
		driver:  driver,
		maxRows: maxRows,
		logger:  slog.Default().With(slog.String("component", "sqlexec")),
	}
}

// DB exposes the underlying handle.
func (e *DBExecutor) DB() *sql.DB {
	return e.db
}

// Driver returns the driver name.
func (e *DBExecutor) Driver() string {
	return e.driver
}

// Close closes the pool.
func (e *DBExecutor) Close() error {
	return e.db.Close()
}

// Execute runs a query and materializes at most maxRows rows.
//
// # Description
//
// The statement runs in a read-only context bounded by timeout. Values are
// normalized for JSON: byte slices become strings and times are formatted
// as RFC 3339. When more rows exist than the cap, Truncated is set.
//
// # Outputs
//
//   - *ExecutionResult: Columns, rows and timing.
//   - error: Wraps ErrTimeout if the timeout fired, otherwise the driver error.
func (e *DBExecutor) Execute(ctx context.Context, query string, maxRows int, timeout time.Duration) (*ExecutionResult, error) {
	if maxRows <= 0 || maxRows > e.maxRows {
		maxRows = e.maxRows
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, e.classify(ctx, err, timeout)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &ExecutionResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, err, timeout)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	e.logger.Debug("sql executed",
		slog.Int("row_count", result.RowCount),
		slog.Float64("execution_time_ms", result.ExecutionTimeMS),
		slog.Bool("truncated", result.Truncated))

	return result, nil
}

// Explain returns the driver's plan output joined line by line.
func (e *DBExecutor) Explain(ctx context.Context, query string) (string, error) {
	prefix := "EXPLAIN "
	if e.driver == DriverSQLite {
		prefix = "EXPLAIN QUERY PLAN "
	}
	res, err := e.Execute(ctx, prefix+query, 200, 0)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, row := range res.Rows {
		parts := make([]string, 0, len(row))
		for _, v := range row {
			parts = append(parts, fmt.Sprint(v))
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *DBExecutor) classify(ctx context.Context, err error, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return t
	}
}
