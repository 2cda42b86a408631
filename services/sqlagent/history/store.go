// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a durable log of finished question runs and a
// short list of recent questions for the CLI.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/storage/badger"
)

const keyPrefix = "history/"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("history record not found")

	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("history id must be a UUID")
)

// Status of a recorded run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Record is one finished run.
type Record struct {
	ID              strfmt.UUID     `json:"id"`
	Question        string          `json:"question"`
	FinalSQL        string          `json:"final_sql,omitempty"`
	ValidatedSQL    string          `json:"validated_sql,omitempty"`
	RowCount        int             `json:"row_count"`
	Status          Status          `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	StepsCount      int             `json:"steps_count"`
	ExecutionTimeMS float64         `json:"execution_time_ms"`
	CreatedAt       strfmt.DateTime `json:"created_at"`
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the result. Zero means no limit.
	Limit int

	// Status keeps only records with this status when set.
	Status Status
}

// Store persists records in Badger, keyed by id.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save stores rec, assigning an id and creation time when missing.
//
// # Outputs
//
//   - Record: The stored record.
//   - error: ErrInvalidID or a storage failure.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = strfmt.UUID(uuid.NewString())
	}
	if !strfmt.IsUUID(rec.ID.String()) {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidID, rec.ID)
	}
	if time.Time(rec.CreatedAt).IsZero() {
		rec.CreatedAt = strfmt.DateTime(s.now().UTC())
	}
	if err := s.db.PutJSON(ctx, key(rec.ID), rec); err != nil {
		return Record{}, fmt.Errorf("save history %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if !strfmt.IsUUID(id) {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var rec Record
	if err := s.db.GetJSON(ctx, key(strfmt.UUID(id)), &rec); err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	records := []Record{}
	err := s.db.ScanPrefix(ctx, keyPrefix, func(_ string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode history record: %w", err)
		}
		if opts.Status != "" && rec.Status != opts.Status {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return time.Time(records[i].CreatedAt).After(time.Time(records[j].CreatedAt))
	})
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// Delete removes the record with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !strfmt.IsUUID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := s.db.Delete(ctx, key(strfmt.UUID(id))); err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// Clear removes every record.
func (s *Store) Clear() error {
	return s.db.DropPrefix(keyPrefix)
}

func key(id strfmt.UUID) string {
	return keyPrefix + id.String()
}
