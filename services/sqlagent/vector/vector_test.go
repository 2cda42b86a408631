// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestMemoryIndex_Search(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, Entry{ID: "1", Question: "top 5 products by revenue", SQL: "SELECT 1"}))
	require.NoError(t, idx.Add(ctx, Entry{ID: "2", Question: "number of active customers", SQL: "SELECT 2"}))
	require.NoError(t, idx.Add(ctx, Entry{ID: "3", Question: "products by revenue last quarter", SQL: "SELECT 3"}))

	matches, err := idx.Search(ctx, "Top products by revenue", 0.3, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "1", matches[0].Entry.ID)
	assert.Equal(t, "3", matches[1].Entry.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
	assert.LessOrEqual(t, matches[0].Similarity, 1.0)
}

func TestMemoryIndex_ReplaceAndValidate(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, Entry{ID: "1", Question: "a b"}))
	require.NoError(t, idx.Add(ctx, Entry{ID: "1", Question: "c d"}))
	assert.Equal(t, 1, idx.Len())

	assert.ErrorIs(t, idx.Add(ctx, Entry{ID: "2", Question: "  "}), ErrEmptyQuestion)
	_, err := idx.Search(ctx, "", 0, 1)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestParseMatches(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"AnsweredQuery": []interface{}{
					map[string]interface{}{
						"entryId":     "abc",
						"question":    "top products",
						"sql":         "SELECT * FROM products",
						"rowCount":    float64(5),
						"_additional": map[string]interface{}{"certainty": 0.91},
					},
				},
			},
		},
	}

	matches := parseMatches(resp, "AnsweredQuery")
	require.Len(t, matches, 1)
	assert.Equal(t, "abc", matches[0].Entry.ID)
	assert.Equal(t, 5, matches[0].Entry.RowCount)
	assert.InDelta(t, 0.91, matches[0].Similarity, 1e-9)

	assert.Empty(t, parseMatches(&models.GraphQLResponse{}, "AnsweredQuery"))
}

func TestWeaviateIndex_Schema(t *testing.T) {
	w := NewWeaviateIndexWithClient(nil, "", "")
	class := w.Schema()
	assert.Equal(t, DefaultClassName, class.Class)
	assert.Equal(t, "text2vec-transformers", class.Vectorizer)
	assert.Len(t, class.Properties, 4)
}
