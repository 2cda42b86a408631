// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog stores the schema metadata the agent consults while
// drafting SQL: tables, columns, descriptions and relationships.
//
// Tables are seeded from a YAML file, persisted in BadgerDB, and reloaded
// when the file changes on disk.
package catalog

import (
	"fmt"
	"strings"
)

// Column describes one table column.
type Column struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Nullable    bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Samples     []string `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// ForeignKey links a column to another table's column.
type ForeignKey struct {
	Column    string `json:"column" yaml:"column"`
	RefTable  string `json:"ref_table" yaml:"ref_table"`
	RefColumn string `json:"ref_column" yaml:"ref_column"`
}

// Table is the unit of catalog storage.
type Table struct {
	Schema      string       `json:"schema" yaml:"schema"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	PrimaryKey  []string     `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Columns     []Column     `json:"columns" yaml:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
}

// QualifiedName returns "schema.name", or just the name when schema is empty.
func (t Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column looks up a column case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks the minimum shape of a table definition.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.QualifiedName())
	}
	for i, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s column %d has no name", t.QualifiedName(), i)
		}
	}
	return nil
}

// Describe renders the table as compact text for the reasoning context.
//
// The format mirrors what the model sees in tool results:
//
//	table sales.orders -- Customer orders
//	  id INTEGER (pk)
//	  customer_id INTEGER -> sales.customers.id
//	  total REAL -- Order total in USD
func (t Table) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %s", t.QualifiedName())
	if t.Description != "" {
		fmt.Fprintf(&b, " -- %s", t.Description)
	}

	pk := make(map[string]bool, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		pk[strings.ToLower(k)] = true
	}
	fks := make(map[string]ForeignKey, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		fks[strings.ToLower(fk.Column)] = fk
	}

	for _, c := range t.Columns {
		fmt.Fprintf(&b, "\n  %s %s", c.Name, c.Type)
		if pk[strings.ToLower(c.Name)] {
			b.WriteString(" (pk)")
		}
		if fk, ok := fks[strings.ToLower(c.Name)]; ok {
			fmt.Fprintf(&b, " -> %s.%s", fk.RefTable, fk.RefColumn)
		}
		if c.Description != "" {
			fmt.Fprintf(&b, " -- %s", c.Description)
		}
		if len(c.Samples) > 0 {
			fmt.Fprintf(&b, " [e.g. %s]", strings.Join(c.Samples, ", "))
		}
	}
	return b.String()
}

// Match is a scored search hit.
type Match struct {
	Table Table   `json:"table"`
	Score float64 `json:"score"`
}
