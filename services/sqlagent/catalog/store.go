// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/storage/badger"
)

var (
	// ErrTableNotFound indicates the requested table is not in the catalog.
	ErrTableNotFound = errors.New("table not found in catalog")

	// ErrAmbiguousTable indicates an unqualified name matched several schemas.
	ErrAmbiguousTable = errors.New("table name is ambiguous")
)

const tablePrefix = "catalog/table/"

// Store persists tables in BadgerDB.
//
// # Description
//
// Tables are keyed by their lower-cased qualified name. Concurrent lookups
// of the same table are collapsed with singleflight so a burst of tool
// calls does not fan out into duplicate reads.
//
// # Thread Safety
//
// Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	flight singleflight.Group
	logger *slog.Logger
}

// NewStore creates a store over an open database.
func NewStore(db *badger.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With(slog.String("component", "catalog")),
	}
}

func tableKey(qualified string) string {
	return tablePrefix + strings.ToLower(qualified)
}

// Put inserts or replaces a table.
func (s *Store) Put(ctx context.Context, t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.db.PutJSON(ctx, tableKey(t.QualifiedName()), t)
}

// Replace swaps the whole catalog for tables.
//
// # Description
//
// Existing entries are dropped first, so tables removed from the source
// file disappear from the catalog. Invalid tables abort the replacement
// before anything is dropped.
func (s *Store) Replace(ctx context.Context, tables []Table) error {
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if err := s.db.DropPrefix(tablePrefix); err != nil {
		return fmt.Errorf("drop catalog: %w", err)
	}
	for _, t := range tables {
		if err := s.db.PutJSON(ctx, tableKey(t.QualifiedName()), t); err != nil {
			return err
		}
	}
	s.logger.Info("catalog replaced", slog.Int("tables", len(tables)))
	return nil
}

// Get resolves a table by qualified or bare name.
//
// # Inputs
//
//   - name: "schema.table" or "table". Bare names must be unique.
//
// # Outputs
//
//   - Table: The table definition.
//   - error: ErrTableNotFound or ErrAmbiguousTable.
func (s *Store) Get(ctx context.Context, name string) (Table, error) {
	name = strings.TrimSpace(name)
	v, err, _ := s.flight.Do(strings.ToLower(name), func() (any, error) {
		return s.lookup(ctx, name)
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

func (s *Store) lookup(ctx context.Context, name string) (Table, error) {
	if strings.Contains(name, ".") {
		var t Table
		err := s.db.GetJSON(ctx, tableKey(name), &t)
		if errors.Is(err, badger.ErrNotFound) {
			return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return t, err
	}

	all, err := s.List(ctx)
	if err != nil {
		return Table{}, err
	}
	var hits []Table
	for _, t := range all {
		if strings.EqualFold(t.Name, name) {
			hits = append(hits, t)
		}
	}
	switch len(hits) {
	case 0:
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	case 1:
		return hits[0], nil
	default:
		names := make([]string, len(hits))
		for i, h := range hits {
			names[i] = h.QualifiedName()
		}
		return Table{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousTable, name, strings.Join(names, ", "))
	}
}

// List returns every table sorted by qualified name.
func (s *Store) List(ctx context.Context) ([]Table, error) {
	var tables []Table
	err := s.db.ScanPrefix(ctx, tablePrefix, func(_ string, value []byte) error {
		var t Table
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		tables = append(tables, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return tables, nil
}

// Search ranks tables by keyword overlap with names and descriptions.
//
// # Description
//
// Each keyword scores 3 for a table-name hit, 2 for a column-name hit and
// 1 for a description or sample-value hit. Ties break on qualified name so
// results are stable across calls.
//
// # Inputs
//
//   - keywords: Search terms; case-insensitive substring match.
//   - limit: Maximum number of matches (<=0 means 10).
func (s *Store) Search(ctx context.Context, keywords []string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, t := range all {
		if score := scoreTable(t, keywords); score > 0 {
			matches = append(matches, Match{Table: t, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Table.QualifiedName() < matches[j].Table.QualifiedName()
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scoreTable(t Table, keywords []string) float64 {
	var score float64
	for _, raw := range keywords {
		kw := strings.ToLower(strings.TrimSpace(raw))
		if kw == "" {
			continue
		}
		if strings.Contains(strings.ToLower(t.Name), kw) {
			score += 3
		}
		if strings.Contains(strings.ToLower(t.Description), kw) {
			score++
		}
		for _, c := range t.Columns {
			if strings.Contains(strings.ToLower(c.Name), kw) {
				score += 2
			}
			if strings.Contains(strings.ToLower(c.Description), kw) {
				score++
			}
			for _, sv := range c.Samples {
				if strings.Contains(strings.ToLower(sv), kw) {
					score++
					break
				}
			}
		}
	}
	return score
}
