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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog document.
//
//	default_schema: sales
//	tables:
//	  - name: orders
//	    description: Customer orders
//	    primary_key: [id]
//	    columns:
//	      - {name: id, type: INTEGER}
//	      - {name: total, type: REAL, description: Order total in USD}
type File struct {
	DefaultSchema string  `yaml:"default_schema"`
	Tables        []Table `yaml:"tables"`
}

// Parse decodes a catalog document and applies the default schema.
func Parse(data []byte) ([]Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Tables))
	for i := range f.Tables {
		if f.Tables[i].Schema == "" {
			f.Tables[i].Schema = f.DefaultSchema
		}
		if err := f.Tables[i].Validate(); err != nil {
			return nil, err
		}
		key := f.Tables[i].QualifiedName()
		if seen[key] {
			return nil, fmt.Errorf("duplicate table %s in catalog", key)
		}
		seen[key] = true
	}
	return f.Tables, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Sync loads path and replaces the store's contents with it.
func Sync(ctx context.Context, store *Store, path string) (int, error) {
	tables, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	if err := store.Replace(ctx, tables); err != nil {
		return 0, err
	}
	return len(tables), nil
}
