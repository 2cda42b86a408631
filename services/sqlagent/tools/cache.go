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
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long cached tool output stays valid.
const DefaultCacheTTL = 5 * time.Minute

// ResultCache caches the output of read-only tools and collapses
// concurrent identical calls into one execution.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResultCache struct {
	store  *cache.Cache
	flight singleflight.Group
}

// NewResultCache creates a cache whose entries expire after ttl.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{store: cache.New(ttl, 2*ttl)}
}

// Key derives the cache key. Parameters are compact JSON already, so the
// raw bytes identify the call.
func (c *ResultCache) Key(call Call) string {
	return call.Name + ":" + string(call.Parameters)
}

// Get returns a cached output.
func (c *ResultCache) Get(key string) (string, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Do runs fn once per key among concurrent callers and caches success.
//
// # Description
//
// The shared execution belongs to no single caller: it runs on ctx
// without its cancellation, bounded by timeout. Each caller waits on its
// own ctx, so a caller that goes away returns ctx.Err() while the others
// still receive the result.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *ResultCache) Do(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		out, err := fn(sctx)
		if err != nil {
			return "", err
		}
		c.store.SetDefault(key, out)
		return out, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Flush drops all cached output, e.g. after a catalog reload.
func (c *ResultCache) Flush() {
	c.store.Flush()
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	return c.store.ItemCount()
}
