// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector indexes previously answered questions so the agent can
// reuse SQL from similar past queries.
package vector

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// ErrEmptyQuestion is returned when searching or indexing a blank question.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Entry is one answered question.
type Entry struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	SQL      string `json:"sql"`
	RowCount int    `json:"row_count"`
}

// Match is a similarity search hit. Similarity is in [0, 1].
type Match struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// Index stores and searches answered questions.
type Index interface {
	// Add indexes an entry. Re-adding an ID replaces it.
	Add(ctx context.Context, e Entry) error

	// Search returns up to limit entries with similarity >= minSimilarity,
	// best first.
	Search(ctx context.Context, question string, minSimilarity float64, limit int) ([]Match, error)
}

// MemoryIndex is an in-process index using cosine similarity over term
// frequencies. It backs local runs and tests when no vector database is
// configured.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	entry Entry
	terms map[string]float64
	norm  float64
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memEntry)}
}

// Add implements Index.
func (m *MemoryIndex) Add(_ context.Context, e Entry) error {
	if strings.TrimSpace(e.Question) == "" {
		return ErrEmptyQuestion
	}
	terms := termVector(e.Question)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = memEntry{entry: e, terms: terms, norm: norm(terms)}
	return nil
}

// Len returns the number of indexed entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Search implements Index.
func (m *MemoryIndex) Search(ctx context.Context, question string, minSimilarity float64, limit int) ([]Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if limit <= 0 {
		limit = 5
	}
	q := termVector(question)
	qn := norm(q)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Match
	for _, me := range m.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if qn == 0 || me.norm == 0 {
			continue
		}
		var dot float64
		for t, w := range q {
			dot += w * me.terms[t]
		}
		sim := dot / (qn * me.norm)
		if sim >= minSimilarity {
			out = append(out, Match{Entry: me.entry, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func termVector(s string) map[string]float64 {
	v := make(map[string]float64)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		v[tok]++
	}
	return v
}

func norm(v map[string]float64) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}
