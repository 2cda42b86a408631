// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/vector"
)

const defaultWriteTimeout = 5 * time.Second

// Recorder is an agent.Observer that stores every finished run and
// indexes successful ones for similar-question lookup.
//
// Suspended runs are not recorded; the run is recorded when a resume
// finishes it. Write failures are logged and never reach the engine.
//
// # Thread Safety
//
// Safe for concurrent use.
type Recorder struct {
	agent.NopObserver

	store   *Store
	index   vector.Index
	recent  *Recent
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a recorder. index and recent may be nil.
func NewRecorder(store *Store, index vector.Index, recent *Recent, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		index:   index,
		recent:  recent,
		timeout: defaultWriteTimeout,
		logger:  logger,
	}
}

// OnCompleted implements agent.Observer.
func (r *Recorder) OnCompleted(resp *agent.Response) {
	rec := recordOf(resp)
	rec.Status = StatusCompleted
	r.write(rec, resp)
}

// OnError implements agent.Observer.
func (r *Recorder) OnError(err *agent.Error, resp *agent.Response) {
	if resp == nil {
		return
	}
	rec := recordOf(resp)
	rec.Status = StatusError
	rec.ErrorMessage = err.Error()
	if rec.FinalSQL == "" {
		rec.FinalSQL = err.SQL
	}
	r.write(rec, resp)
}

func (r *Recorder) write(rec Record, resp *agent.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.store.Save(gctx, rec)
		return err
	})
	if r.index != nil && rec.Status == StatusCompleted && rec.FinalSQL != "" {
		g.Go(func() error {
			return r.index.Add(gctx, vector.Entry{
				ID:       resp.SessionID,
				Question: rec.Question,
				SQL:      rec.FinalSQL,
				RowCount: rec.RowCount,
			})
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("Failed to record run",
			slog.String("session_id", resp.SessionID),
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()))
	}

	if r.recent != nil {
		if err := r.recent.Add(rec.Question); err != nil {
			r.logger.Warn("Failed to update recent questions", slog.String("error", err.Error()))
		}
	}
}

func recordOf(resp *agent.Response) Record {
	rec := Record{
		Question:     resp.Question,
		FinalSQL:     resp.FinalSQL,
		ValidatedSQL: resp.ValidatedSQL,
		StepsCount:   len(resp.Steps),
		CreatedAt:    strfmt.DateTime(time.Now().UTC()),
	}
	if rec.FinalSQL == "" && resp.Status != session.StatusCompleted {
		rec.FinalSQL = resp.PartialSQL
	}
	if res := resp.ExecutionResult; res != nil {
		rec.RowCount = res.RowCount
		rec.ExecutionTimeMS = res.ExecutionTimeMS
	}
	return rec
}

// Reindex adds every completed record with SQL to index. It seeds an
// in-process index from the durable history at startup.
func Reindex(ctx context.Context, store *Store, index vector.Index) (int, error) {
	records, err := store.List(ctx, ListOptions{Status: StatusCompleted})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if rec.FinalSQL == "" {
			continue
		}
		err := index.Add(ctx, vector.Entry{
			ID:       rec.ID.String(),
			Question: rec.Question,
			SQL:      rec.FinalSQL,
			RowCount: rec.RowCount,
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
