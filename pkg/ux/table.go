// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// ResultView is a query result as shown to the user.
type ResultView struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	ElapsedMS float64  `json:"execution_time_ms"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Result prints rows as a table, showing at most maxRows of them.
func (p *Printer) Result(r ResultView, maxRows int) {
	if p.mode == ModeMachine {
		p.json("result", r)
		return
	}
	rows := r.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, v := range row {
			cells[i][j] = FormatCell(v)
		}
	}

	var b strings.Builder
	if p.mode == ModePlain {
		b.WriteString(strings.Join(r.Columns, "\t") + "\n")
		for _, row := range cells {
			b.WriteString(strings.Join(row, "\t") + "\n")
		}
	} else {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
			Headers(r.Columns...).
			Rows(cells...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Title.Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
		b.WriteString(t.String() + "\n")
	}

	summary := fmt.Sprintf("%d row(s) in %s", r.RowCount, time.Duration(r.ElapsedMS*float64(time.Millisecond)).Round(time.Millisecond))
	if len(rows) < len(r.Rows) {
		summary += fmt.Sprintf(", showing %d", len(rows))
	}
	if r.Truncated {
		summary += ", result truncated"
	}
	b.WriteString(p.style(Styles.Muted, summary) + "\n")
	p.write(b.String())
}

// FormatCell renders one value for display.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
