// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlexec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptySQL indicates the statement was blank after normalization.
	ErrEmptySQL = errors.New("sql statement is empty")

	// ErrNotReadOnly indicates the statement is not a SELECT/WITH query.
	ErrNotReadOnly = errors.New("only read-only SELECT statements are allowed")

	// ErrMultipleStatements indicates more than one statement was supplied.
	ErrMultipleStatements = errors.New("multiple statements are not allowed")

	// ErrForbiddenKeyword indicates a data-modifying keyword was found.
	ErrForbiddenKeyword = errors.New("forbidden keyword in sql")

	// ErrTooLong indicates the statement exceeds the configured length.
	ErrTooLong = errors.New("sql statement too long")
)

// DefaultMaxSQLLength bounds the size of a statement the guard accepts.
const DefaultMaxSQLLength = 64 * 1024

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	stringLit    = regexp.MustCompile(`'(?:[^']|'')*'`)
	identLit     = regexp.MustCompile(`"(?:[^"]|"")*"`)
	wordPattern  = regexp.MustCompile(`[A-Za-z_]+`)
)

// forbiddenKeywords are rejected anywhere outside string literals.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "COPY": true,
	"CALL": true, "EXEC": true, "EXECUTE": true, "UPSERT": true,
}

// Guard validates that a statement is a single read-only query.
//
// # Description
//
// Guard strips comments, removes a trailing semicolon, and rejects
// anything that is not a single SELECT or WITH query. Keywords inside
// string literals and quoted identifiers are ignored when scanning for
// data-modifying statements.
//
// # Thread Safety
//
// Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	maxLength int
}

// NewGuard creates a guard. A non-positive maxLength uses DefaultMaxSQLLength.
func NewGuard(maxLength int) *Guard {
	if maxLength <= 0 {
		maxLength = DefaultMaxSQLLength
	}
	return &Guard{maxLength: maxLength}
}

// Validate checks sql and returns the normalized statement.
//
// # Inputs
//
//   - sql: The candidate statement.
//
// # Outputs
//
//   - string: The statement with comments and trailing semicolon removed.
//   - error: One of the guard sentinels, wrapped with detail.
func (g *Guard) Validate(sql string) (string, error) {
	if len(sql) > g.maxLength {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(sql), g.maxLength)
	}

	normalized := Normalize(sql)
	if normalized == "" {
		return "", ErrEmptySQL
	}

	// Literals are blanked so their contents never trip keyword checks.
	scrubbed := identLit.ReplaceAllString(stringLit.ReplaceAllString(normalized, "''"), `""`)

	if strings.Contains(scrubbed, ";") {
		return "", ErrMultipleStatements
	}

	first := strings.ToUpper(firstWord(scrubbed))
	if first != "SELECT" && first != "WITH" {
		return "", fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, first)
	}

	for _, w := range wordPattern.FindAllString(scrubbed, -1) {
		if forbiddenKeywords[strings.ToUpper(w)] {
			return "", fmt.Errorf("%w: %s", ErrForbiddenKeyword, strings.ToUpper(w))
		}
	}

	return normalized, nil
}

// Normalize removes comments, surrounding whitespace and trailing semicolons.
func Normalize(sql string) string {
	out := blockComment.ReplaceAllString(sql, " ")
	out = lineComment.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	for strings.HasSuffix(out, ";") {
		out = strings.TrimSpace(strings.TrimSuffix(out, ";"))
	}
	return out
}

func firstWord(s string) string {
	s = strings.TrimLeft(s, "( \t\r\n")
	return wordPattern.FindString(s)
}
