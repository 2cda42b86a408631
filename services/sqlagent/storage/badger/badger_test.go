// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "rec/a", record{Name: "a", Count: 1}))

	var got record
	require.NoError(t, db.GetJSON(ctx, "rec/a", &got))
	assert.Equal(t, record{Name: "a", Count: 1}, got)

	err = db.GetJSON(ctx, "rec/missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanPrefixAndDelete(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	for _, k := range []string{"rec/b", "rec/a", "other/c"} {
		require.NoError(t, db.PutJSON(ctx, k, record{Name: k}))
	}

	var keys []string
	err = db.ScanPrefix(ctx, "rec/", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec/a", "rec/b"}, keys)

	require.NoError(t, db.Delete(ctx, "rec/a"))
	assert.ErrorIs(t, db.Delete(ctx, "rec/a"), ErrNotFound)

	require.NoError(t, db.DropPrefix("rec/"))
	keys = nil
	require.NoError(t, db.ScanPrefix(ctx, "rec/", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Empty(t, keys)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.PutJSON(context.Background(), "k", record{Name: "kept"}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got record
	require.NoError(t, db.GetJSON(context.Background(), "k", &got))
	assert.Equal(t, "kept", got.Name)
}

func TestWithTxn_CanceledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, db.PutJSON(ctx, "k", record{}))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
