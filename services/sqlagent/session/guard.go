// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultConsumedTTL is how long a resumed token stays blocked from reuse.
const DefaultConsumedTTL = 24 * time.Hour

// Guard enforces one in-flight run per session and single use of each
// suspension token.
//
// # Description
//
// Acquire marks a session id busy until the returned release func is
// called; a second Acquire fails with ErrSessionInProgress. Consume records
// that the suspension at a given iteration was resumed, so the same token
// cannot start a second, diverging continuation.
//
// # Thread Safety
//
// Safe for concurrent use.
type Guard struct {
	active   *cache.Cache
	consumed *cache.Cache
}

// NewGuard creates a guard. consumedTTL <= 0 uses DefaultConsumedTTL.
func NewGuard(consumedTTL time.Duration) *Guard {
	if consumedTTL <= 0 {
		consumedTTL = DefaultConsumedTTL
	}
	return &Guard{
		active:   cache.New(cache.NoExpiration, 0),
		consumed: cache.New(consumedTTL, consumedTTL/4),
	}
}

// Acquire claims sessionID. The release func is idempotent.
func (g *Guard) Acquire(sessionID string) (func(), error) {
	if err := g.active.Add(sessionID, struct{}{}, cache.NoExpiration); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, sessionID)
	}
	var once sync.Once
	return func() { once.Do(func() { g.active.Delete(sessionID) }) }, nil
}

// Consume marks the suspension of sessionID at iteration as resumed.
func (g *Guard) Consume(sessionID string, iteration int) error {
	key := fmt.Sprintf("%s:%d", sessionID, iteration)
	if err := g.consumed.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s at iteration %d", ErrTokenReplayed, sessionID, iteration)
	}
	return nil
}

// Active returns the number of sessions currently held.
func (g *Guard) Active() int {
	return g.active.ItemCount()
}
