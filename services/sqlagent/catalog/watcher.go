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
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed file is reloaded.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the catalog when its YAML file changes.
//
// # Description
//
// The parent directory is watched rather than the file itself, because
// editors commonly save by writing a temp file and renaming it over the
// original, which drops a direct file watch. Bursts of events are
// debounced into a single reload. A reload that fails to parse leaves the
// previous catalog in place.
//
// # Thread Safety
//
// Start and Stop may be called from different goroutines. Stop is idempotent.
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onReload func(tables int, err error)

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: The catalog YAML file.
//   - store: The store to refresh.
//   - debounce: Quiet period; <=0 uses DefaultDebounce.
func NewWatcher(path string, store *Store, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		store:    store,
		debounce: debounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each reload attempt.
// Must be called before Start.
func (w *Watcher) OnReload(fn func(tables int, err error)) {
	w.onReload = fn
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("catalog watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			n, err := Sync(ctx, w.store, w.path)
			if err != nil {
				slog.Warn("catalog reload failed",
					slog.String("path", w.path),
					slog.String("error", err.Error()))
			} else {
				slog.Info("catalog reloaded", slog.String("path", w.path), slog.Int("tables", n))
			}
			if w.onReload != nil {
				w.onReload(n, err)
			}
		}
	}
}
