// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
)

// =============================================================================
// schema_lookup
// =============================================================================

// SchemaLookupTool finds candidate tables by keyword or name.
type SchemaLookupTool struct {
	store *catalog.Store
}

// NewSchemaLookupTool creates the tool over a catalog store.
func NewSchemaLookupTool(store *catalog.Store) *SchemaLookupTool {
	return &SchemaLookupTool{store: store}
}

func (t *SchemaLookupTool) Definition() Definition {
	return Definition{
		Name:        SchemaLookup,
		Description: "Find tables relevant to the question by keyword or table name. Returns table summaries with columns.",
		Category:    CategorySchema,
		Parameters: []ParamDef{
			{Name: "keywords", Type: "array[string]", Description: "Business terms from the question"},
			{Name: "table_names", Type: "array[string]", Description: "Exact table names if already known"},
			{Name: "limit", Type: "integer", Description: "Max tables to return (default 5)"},
		},
		ContributesMetadata: true,
		Cacheable:           true,
	}
}

func (t *SchemaLookupTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(SchemaLookupParams)
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}

	var b strings.Builder
	seen := make(map[string]bool)
	for _, name := range nonBlank(p.TableNames) {
		tbl, err := t.store.Get(ctx, name)
		if err != nil {
			fmt.Fprintf(&b, "%s: %v\n", name, err)
			continue
		}
		seen[tbl.QualifiedName()] = true
		b.WriteString(tbl.Describe())
		b.WriteString("\n")
	}

	if kw := nonBlank(p.Keywords); len(kw) > 0 {
		matches, err := t.store.Search(ctx, kw, limit)
		if err != nil {
			return "", err
		}
		for _, m := range matches {
			if seen[m.Table.QualifiedName()] {
				continue
			}
			b.WriteString(m.Table.Describe())
			b.WriteString("\n")
		}
	}

	if b.Len() == 0 {
		return "No matching tables found.", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// =============================================================================
// get_table_schema
// =============================================================================

// GetTableSchemaTool returns full definitions of named tables.
type GetTableSchemaTool struct {
	store *catalog.Store
}

// NewGetTableSchemaTool creates the tool over a catalog store.
func NewGetTableSchemaTool(store *catalog.Store) *GetTableSchemaTool {
	return &GetTableSchemaTool{store: store}
}

func (t *GetTableSchemaTool) Definition() Definition {
	return Definition{
		Name:        GetTableSchema,
		Description: "Get full column, key and relationship details for specific tables.",
		Category:    CategorySchema,
		Parameters: []ParamDef{
			{Name: "table_names", Type: "array[string]", Description: "Tables to describe, qualified or bare", Required: true},
		},
		ContributesMetadata: true,
		Cacheable:           true,
	}
}

func (t *GetTableSchemaTool) Execute(ctx context.Context, params Params) (string, error) {
	names := nonBlank(params.(GetTableSchemaParams).TableNames)
	parts := make([]string, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			tbl, err := t.store.Get(gctx, name)
			switch {
			case errors.Is(err, catalog.ErrTableNotFound), errors.Is(err, catalog.ErrAmbiguousTable):
				parts[i] = fmt.Sprintf("%s: %v", name, err)
				return nil
			case err != nil:
				return err
			}
			parts[i] = tbl.Describe()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}
