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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

const (
	defaultValueLimit = 20
	maxValueLimit     = 100
	valueQueryTimeout = 10 * time.Second
)

// SearchColumnValuesTool looks up stored values of a column that match
// the user's terms, so filters use real values ("Hardware", not "hardware").
//
// # Description
//
// Table and column are resolved through the catalog before any SQL is
// built; identifiers in the query come only from catalog entries and
// keywords are embedded as escaped string literals.
type SearchColumnValuesTool struct {
	store *catalog.Store
	exec  sqlexec.Executor
}

// NewSearchColumnValuesTool creates the tool.
func NewSearchColumnValuesTool(store *catalog.Store, exec sqlexec.Executor) *SearchColumnValuesTool {
	return &SearchColumnValuesTool{store: store, exec: exec}
}

func (t *SearchColumnValuesTool) Definition() Definition {
	return Definition{
		Name:        SearchColumnValues,
		Description: "Find actual values stored in a column that match search keywords (case-insensitive substring).",
		Category:    CategorySearch,
		Parameters: []ParamDef{
			{Name: "schema", Type: "string", Description: "Schema of the table"},
			{Name: "table", Type: "string", Description: "Table name", Required: true},
			{Name: "column", Type: "string", Description: "Column to search", Required: true},
			{Name: "search_keywords", Type: "array[string]", Description: "Terms to match", Required: true},
			{Name: "limit", Type: "integer", Description: "Max values (default 20)"},
		},
		ContributesMetadata: true,
		Cacheable:           true,
		Timeout:             valueQueryTimeout,
	}
}

func (t *SearchColumnValuesTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(SearchColumnValuesParams)

	name := p.Table
	if p.Schema != "" && !strings.Contains(p.Table, ".") {
		name = p.Schema + "." + p.Table
	}
	tbl, err := t.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	col, ok := tbl.Column(p.Column)
	if !ok {
		return "", fmt.Errorf("column %q not found in %s", p.Column, tbl.QualifiedName())
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultValueLimit
	}
	if limit > maxValueLimit {
		limit = maxValueLimit
	}

	query := buildValueQuery(tbl, col.Name, nonBlank(p.SearchKeywords), limit)
	res, err := t.exec.Execute(ctx, query, limit, valueQueryTimeout)
	if err != nil {
		return "", err
	}

	target := tbl.QualifiedName() + "." + col.Name
	if res.RowCount == 0 {
		return fmt.Sprintf("No values in %s match %s.", target, strings.Join(p.SearchKeywords, ", ")), nil
	}
	values := make([]string, 0, res.RowCount)
	for _, row := range res.Rows {
		if len(row) > 0 {
			values = append(values, fmt.Sprint(row[0]))
		}
	}
	return fmt.Sprintf("Values in %s: %s", target, strings.Join(values, ", ")), nil
}

func buildValueQuery(tbl catalog.Table, column string, keywords []string, limit int) string {
	from := quoteIdent(tbl.Name)
	if tbl.Schema != "" {
		from = quoteIdent(tbl.Schema) + "." + from
	}
	col := quoteIdent(column)

	conds := make([]string, len(keywords))
	for i, kw := range keywords {
		conds[i] = fmt.Sprintf("LOWER(CAST(%s AS TEXT)) LIKE %s", col, quoteLiteral("%"+strings.ToLower(kw)+"%"))
	}
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s ORDER BY 1 LIMIT %d",
		col, from, strings.Join(conds, " OR "), limit)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
