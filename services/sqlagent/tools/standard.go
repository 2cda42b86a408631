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
	"errors"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/vector"
)

// Dependencies are the backends the standard tool set needs.
type Dependencies struct {
	Catalog  *catalog.Store
	Executor sqlexec.Executor

	// Guard defaults to sqlexec.NewGuard(0).
	Guard *sqlexec.Guard

	// Index enables find_similar_query when set.
	Index vector.Index

	// MaxRows caps final results. Zero uses the executor default.
	MaxRows int
}

// NewStandardRegistry registers every built-in tool.
func NewStandardRegistry(deps Dependencies, opts ...RegistryOption) (*Registry, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog store is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("sql executor is required")
	}
	guard := deps.Guard
	if guard == nil {
		guard = sqlexec.NewGuard(0)
	}

	reg := NewRegistry(opts...)
	all := []Tool{
		NewSchemaLookupTool(deps.Catalog),
		NewGetTableSchemaTool(deps.Catalog),
		NewSearchColumnValuesTool(deps.Catalog, deps.Executor),
		NewValidateSQLTool(guard, deps.Executor),
		NewPreviewSQLTool(guard, deps.Executor),
		NewExecuteSQLTool(guard, deps.Executor, deps.MaxRows),
	}
	if deps.Index != nil {
		all = append(all, NewFindSimilarQueryTool(deps.Index))
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
