// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultRecentSize is the number of questions Recent keeps.
const DefaultRecentSize = 20

// Recent is a bounded most-recent-first list of asked questions, persisted
// as a JSON array. Questions that differ only in case or spacing count as
// the same question; the newest spelling wins.
//
// # Thread Safety
//
// Safe for concurrent use within one process.
type Recent struct {
	mu    sync.Mutex
	path  string
	size  int
	items []string
}

// OpenRecent loads the list at path. A missing file is an empty list.
// path may be empty for an in-memory list.
func OpenRecent(path string, size int) (*Recent, error) {
	if size <= 0 {
		size = DefaultRecentSize
	}
	r := &Recent{path: path, size: size, items: []string{}}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent questions: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.items); err != nil {
		return nil, fmt.Errorf("decode recent questions %s: %w", path, err)
	}
	if len(r.items) > size {
		r.items = r.items[:size]
	}
	return r, nil
}

// Add moves question to the front and persists the list.
func (r *Recent) Add(question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	norm := normalize(question)
	items := make([]string, 0, len(r.items)+1)
	items = append(items, question)
	for _, q := range r.items {
		if normalize(q) != norm {
			items = append(items, q)
		}
	}
	if len(items) > r.size {
		items = items[:r.size]
	}
	r.items = items
	return r.save()
}

// List returns a copy, newest first.
func (r *Recent) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

// Clear empties the list.
func (r *Recent) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = []string{}
	return r.save()
}

// save writes atomically via a temp file. Caller holds mu.
func (r *Recent) save() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write recent questions: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func normalize(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
