// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
)

var errHistoryDisabled = errors.New("history is disabled in the config")

// withHistory opens the stores and hands fn the history store and the
// recent-question list.
func withHistory(cmd *cobra.Command, fn func(a *app, p *ux.Printer) error) error {
	a, err := newApp(cmd.Context(), cfg, needs{})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.history == nil {
		return errHistoryDisabled
	}
	return fn(a, ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0))
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	status := history.Status(historyStatus)
	switch status {
	case "", history.StatusCompleted, history.StatusError:
	default:
		return fmt.Errorf("unknown status %q (want completed or error)", historyStatus)
	}
	return withHistory(cmd, func(a *app, p *ux.Printer) error {
		records, err := a.history.List(cmd.Context(), history.ListOptions{Limit: historyLimit, Status: status})
		if err != nil {
			return err
		}
		if p.Mode() == ux.ModeMachine {
			p.JSON("history", records)
			return nil
		}
		p.Result(historyView(records), 0)
		return nil
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(a *app, p *ux.Printer) error {
		rec, err := a.history.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if p.Mode() == ux.ModeMachine {
			p.JSON("record", rec)
			return nil
		}
		p.Result(ux.ResultView{
			Columns: []string{"field", "value"},
			Rows: [][]any{
				{"id", rec.ID.String()},
				{"question", rec.Question},
				{"status", string(rec.Status)},
				{"created", time.Time(rec.CreatedAt).Local().Format(time.DateTime)},
				{"steps", rec.StepsCount},
				{"rows", rec.RowCount},
				{"error", rec.ErrorMessage},
			},
			RowCount: 7,
		}, 0)
		if rec.FinalSQL != "" {
			p.SQL(rec.FinalSQL)
		}
		return nil
	})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(a *app, p *ux.Printer) error {
		if err := a.history.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		p.Success("Deleted " + args[0])
		return nil
	})
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(a *app, p *ux.Printer) error {
		if err := a.history.Clear(); err != nil {
			return err
		}
		if err := a.recent.Clear(); err != nil {
			return err
		}
		p.Success("History cleared")
		return nil
	})
}

func runHistoryRecent(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(a *app, p *ux.Printer) error {
		questions := a.recent.List()
		if p.Mode() == ux.ModeMachine {
			p.JSON("recent", questions)
			return nil
		}
		rows := make([][]any, len(questions))
		for i, q := range questions {
			rows[i] = []any{i + 1, q}
		}
		p.Result(ux.ResultView{Columns: []string{"#", "question"}, Rows: rows, RowCount: len(rows)}, 0)
		return nil
	})
}

// historyView lays records out as a table.
func historyView(records []history.Record) ux.ResultView {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.ID.String(),
			time.Time(r.CreatedAt).Local().Format(time.DateTime),
			string(r.Status),
			r.RowCount,
			r.Question,
		}
	}
	return ux.ResultView{
		Columns:  []string{"id", "created", "status", "rows", "question"},
		Rows:     rows,
		RowCount: len(rows),
	}
}
