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

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/vector"
)

// DefaultMinSimilarity is the threshold used when the call sets none.
const DefaultMinSimilarity = 0.3

// FindSimilarQueryTool surfaces SQL from previously answered questions.
type FindSimilarQueryTool struct {
	index vector.Index
}

// NewFindSimilarQueryTool creates the tool over an index.
func NewFindSimilarQueryTool(index vector.Index) *FindSimilarQueryTool {
	return &FindSimilarQueryTool{index: index}
}

func (t *FindSimilarQueryTool) Definition() Definition {
	return Definition{
		Name:        FindSimilarQuery,
		Description: "Find previously answered questions similar to this one and the SQL that answered them.",
		Category:    CategorySearch,
		Parameters: []ParamDef{
			{Name: "question", Type: "string", Description: "The question to match", Required: true},
			{Name: "min_similarity", Type: "number", Description: "Threshold in [0,1] (default 0.3)"},
			{Name: "limit", Type: "integer", Description: "Max results (default 3)"},
		},
		ContributesMetadata: true,
	}
}

func (t *FindSimilarQueryTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(FindSimilarQueryParams)
	minSim := p.MinSimilarity
	if minSim <= 0 || minSim > 1 {
		minSim = DefaultMinSimilarity
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 3
	}

	matches, err := t.index.Search(ctx, p.Question, minSim, limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No similar queries found.", nil
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%.2f] %s\n  SQL: %s", m.Similarity, m.Entry.Question, m.Entry.SQL)
	}
	return b.String(), nil
}
