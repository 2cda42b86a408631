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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/storage/badger"
)

const sampleCatalog = `
default_schema: sales
tables:
  - name: products
    description: Products offered in the store
    primary_key: [id]
    columns:
      - {name: id, type: INTEGER}
      - {name: name, type: TEXT, description: Display name}
      - {name: category, type: TEXT, samples: [Hardware, Software]}
  - name: order_items
    description: Line items with revenue
    columns:
      - {name: order_id, type: INTEGER}
      - {name: product_id, type: INTEGER}
      - {name: revenue, type: REAL, description: Line revenue in USD}
    foreign_keys:
      - {column: product_id, ref_table: sales.products, ref_column: id}
  - schema: archive
    name: products
    columns:
      - {name: id, type: INTEGER}
`

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestParse(t *testing.T) {
	tables, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "sales.products", tables[0].QualifiedName())
	assert.Equal(t, "archive.products", tables[2].QualifiedName())
}

func TestParse_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		doc := "tables:\n  - {name: a, columns: [{name: x, type: INT}]}\n  - {name: a, columns: [{name: y, type: INT}]}\n"
		_, err := Parse([]byte(doc))
		assert.ErrorContains(t, err, "duplicate")
	})
	t.Run("no columns", func(t *testing.T) {
		_, err := Parse([]byte("tables:\n  - {name: a}\n"))
		assert.ErrorContains(t, err, "no columns")
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Parse([]byte("tables: [unterminated"))
		assert.Error(t, err)
	})
}

func TestStore_GetAndSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tables, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, tables))

	got, err := s.Get(ctx, "sales.order_items")
	require.NoError(t, err)
	assert.Equal(t, "order_items", got.Name)

	got, err = s.Get(ctx, "ORDER_ITEMS")
	require.NoError(t, err)
	assert.Equal(t, "sales", got.Schema)

	_, err = s.Get(ctx, "products")
	assert.ErrorIs(t, err, ErrAmbiguousTable)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTableNotFound)

	matches, err := s.Search(ctx, []string{"revenue"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "sales.order_items", matches[0].Table.QualifiedName())

	matches, err = s.Search(ctx, []string{"hardware"}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sales.products", matches[0].Table.QualifiedName())
}

func TestStore_ReplaceDropsOldTables(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tables, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, tables))
	require.NoError(t, s.Replace(ctx, tables[:1]))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTable_Describe(t *testing.T) {
	tables, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	text := tables[1].Describe()
	assert.True(t, strings.HasPrefix(text, "table sales.order_items -- Line items with revenue"))
	assert.Contains(t, text, "product_id INTEGER -> sales.products.id")
	assert.Contains(t, text, "revenue REAL -- Line revenue in USD")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := Sync(ctx, s, path)
	require.NoError(t, err)

	w, err := NewWatcher(path, s, 20*time.Millisecond)
	require.NoError(t, err)
	reloaded := make(chan int, 4)
	w.OnReload(func(n int, err error) {
		if err == nil {
			reloaded <- n
		}
	})
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	single := "tables:\n  - {name: only, columns: [{name: id, type: INT}]}\n"
	require.NoError(t, os.WriteFile(path, []byte(single), 0o644))

	select {
	case n := <-reloaded:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "only", all[0].Name)
}
