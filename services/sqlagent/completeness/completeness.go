// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package completeness decides whether a draft SQL statement answers the
// question well enough to execute.
package completeness

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// Confidence is a three-level ordinal.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

func (c Confidence) rank() int {
	switch c {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether c is one of the three levels.
func (c Confidence) Valid() bool {
	return c == Low || c == Medium || c == High
}

// ParseConfidence maps free text to a level. Unknown text is Low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case High:
		return High
	case Medium:
		return Medium
	default:
		return Low
	}
}

// Min returns the lower of two levels.
func Min(a, b Confidence) Confidence {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// Completeness is the verdict on a draft statement.
type Completeness struct {
	IsComplete      bool       `json:"is_complete"`
	ConfidenceLevel Confidence `json:"confidence_level"`
	MissingInfo     string     `json:"missing_info,omitempty"`
}

// Ready reports whether the draft may be executed as the final answer.
func (c Completeness) Ready() bool {
	return c.IsComplete && c.ConfidenceLevel == High
}

// UnmarshalJSON normalizes the confidence level.
func (c *Completeness) UnmarshalJSON(data []byte) error {
	type alias Completeness
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.ConfidenceLevel = ParseConfidence(string(a.ConfidenceLevel))
	*c = Completeness(a)
	return nil
}

// Input is what an assessor sees.
type Input struct {
	PartialSQL string
	Metadata   string

	// Reported is the model's own verdict, if it gave one.
	Reported *Completeness
}

// Assessor judges completeness. Implementations must be deterministic for
// a given Input.
type Assessor interface {
	Assess(ctx context.Context, in Input) Completeness
}

// =============================================================================
// Heuristic assessor
// =============================================================================

var placeholderPattern = regexp.MustCompile(`(?i)(\?\?\?|<[a-z_]+>|\{\{[^}]*\}\}|\bTODO\b|\bTBD\b|\.\.\.)`)

// Heuristic checks the draft statically and combines the result with the
// model's self-reported verdict.
//
// # Description
//
// A draft is never complete when it is empty, rejected by the read-only
// guard, has unbalanced parentheses or still contains placeholders. When
// the static checks pass, the model's verdict decides, capped so the
// combined confidence never exceeds either side. Without a reported
// verdict a clean draft is complete with medium confidence, so the engine
// keeps gathering evidence rather than executing on static checks alone.
//
// # Thread Safety
//
// Safe for concurrent use.
type Heuristic struct {
	guard *sqlexec.Guard
}

// NewHeuristic creates the assessor. A nil guard uses the default limits.
func NewHeuristic(guard *sqlexec.Guard) *Heuristic {
	if guard == nil {
		guard = sqlexec.NewGuard(0)
	}
	return &Heuristic{guard: guard}
}

// Assess implements Assessor.
func (h *Heuristic) Assess(_ context.Context, in Input) Completeness {
	sql := strings.TrimSpace(in.PartialSQL)
	if sql == "" {
		return Completeness{IsComplete: false, ConfidenceLevel: Low, MissingInfo: "no SQL drafted yet"}
	}
	if _, err := h.guard.Validate(sql); err != nil {
		return Completeness{IsComplete: false, ConfidenceLevel: Low, MissingInfo: err.Error()}
	}
	if m := placeholderPattern.FindString(sqlexec.Normalize(sql)); m != "" {
		return Completeness{IsComplete: false, ConfidenceLevel: Low, MissingInfo: fmt.Sprintf("placeholder %q left in SQL", m)}
	}
	if depth := parenDepth(sql); depth != 0 {
		return Completeness{IsComplete: false, ConfidenceLevel: Low, MissingInfo: "unbalanced parentheses"}
	}

	static := Completeness{IsComplete: true, ConfidenceLevel: High}
	if in.Reported == nil {
		static.ConfidenceLevel = Medium
		static.MissingInfo = "model did not assess completeness"
		return static
	}
	return Merge(static, *in.Reported)
}

// Merge combines two verdicts: complete only if both are, at the lower of
// the two confidences. Missing info from either side is kept.
func Merge(a, b Completeness) Completeness {
	out := Completeness{
		IsComplete:      a.IsComplete && b.IsComplete,
		ConfidenceLevel: Min(normalize(a.ConfidenceLevel), normalize(b.ConfidenceLevel)),
	}
	var missing []string
	for _, m := range []string{a.MissingInfo, b.MissingInfo} {
		if m = strings.TrimSpace(m); m != "" {
			missing = append(missing, m)
		}
	}
	out.MissingInfo = strings.Join(missing, "; ")
	if !out.IsComplete && out.MissingInfo == "" {
		out.MissingInfo = "statement not yet complete"
	}
	return out
}

func normalize(c Confidence) Confidence {
	if c.Valid() {
		return c
	}
	return Low
}

// parenDepth returns the final nesting depth outside string literals.
// A negative value means a closing parenthesis came first.
func parenDepth(sql string) int {
	depth := 0
	inString := false
	for _, r := range sql {
		switch {
		case r == '\'':
			inString = !inString
		case inString:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}

// =============================================================================
// Deadline wrapper
// =============================================================================

// TimedOut is returned when an assessment does not finish in time.
var TimedOut = Completeness{IsComplete: false, ConfidenceLevel: Low, MissingInfo: "completeness check timed out"}

type deadline struct {
	next    Assessor
	timeout time.Duration
}

// WithDeadline bounds each assessment. When the inner assessor does not
// return in time, or ctx ends first, the verdict is TimedOut.
func WithDeadline(next Assessor, timeout time.Duration) Assessor {
	return &deadline{next: next, timeout: timeout}
}

func (d *deadline) Assess(ctx context.Context, in Input) Completeness {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan Completeness, 1)
	go func() { done <- d.next.Assess(ctx, in) }()

	select {
	case c := <-done:
		if ctx.Err() != nil {
			return TimedOut
		}
		return c
	case <-ctx.Done():
		return TimedOut
	}
}
