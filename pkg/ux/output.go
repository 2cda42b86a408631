// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders agent progress and query results in the terminal.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Code     lipgloss.Style
	Box      lipgloss.Style
	AskBox   lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Code:    lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	AskBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Mode selects how much decoration output gets.
type Mode string

const (
	// ModeRich uses colors and boxes.
	ModeRich Mode = "rich"

	// ModePlain prints undecorated text.
	ModePlain Mode = "plain"

	// ModeMachine prints one JSON object per line for scripting.
	ModeMachine Mode = "machine"
)

// ParseMode converts s to a Mode, defaulting to rich.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlain:
		return ModePlain
	case ModeMachine, "json":
		return ModeMachine
	default:
		return ModeRich
	}
}

// StepView is one reasoning step as shown to the user.
type StepView struct {
	Iteration  int     `json:"iteration"`
	Reasoning  string  `json:"reasoning"`
	Tool       string  `json:"tool"`
	Result     *string `json:"result,omitempty"`
	PartialSQL string  `json:"partial_sql,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
	Remaining  int     `json:"remaining_tool_calls"`
}

// Printer writes progress and results to one writer.
//
// Thread Safety: Safe for concurrent use; each call writes whole lines.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	mode      Mode
	maxResult int
}

// NewPrinter creates a printer. Tool results longer than maxResult runes
// are cut in rich and plain modes; zero keeps 240.
func NewPrinter(w io.Writer, mode Mode, maxResult int) *Printer {
	if maxResult <= 0 {
		maxResult = 240
	}
	return &Printer{w: w, mode: mode, maxResult: maxResult}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Step prints one step.
func (p *Printer) Step(s StepView) {
	if p.mode == ModeMachine {
		p.json("step", s)
		return
	}
	var b strings.Builder
	header := fmt.Sprintf("[%d] %s", s.Iteration, s.Tool)
	fmt.Fprintf(&b, "%s %s\n", p.style(Styles.Title, header),
		p.style(Styles.Muted, fmt.Sprintf("(%d calls left)", s.Remaining)))
	if s.Reasoning != "" {
		fmt.Fprintf(&b, "  %s\n", s.Reasoning)
	}
	if s.Result != nil {
		fmt.Fprintf(&b, "  %s %s\n", p.style(Styles.Muted, "→"), truncate(oneLine(*s.Result), p.maxResult))
	}
	if s.PartialSQL != "" {
		fmt.Fprintf(&b, "  %s %s\n", p.style(Styles.Muted, "sql:"), p.style(Styles.Code, oneLine(s.PartialSQL)))
	}
	if s.Confidence != "" {
		fmt.Fprintf(&b, "  %s %s\n", p.style(Styles.Muted, "confidence:"), s.Confidence)
	}
	p.write(b.String())
}

// Ask prints a clarifying question from the agent.
func (p *Printer) Ask(question string) {
	switch p.mode {
	case ModeMachine:
		p.json("needs_user_input", map[string]string{"question": question})
	case ModePlain:
		p.write("QUESTION: " + question + "\n")
	default:
		p.write(Styles.AskBox.Width(72).Render(Styles.Warning.Bold(true).Render("Clarification needed") + "\n" + question) + "\n")
	}
}

// SQL prints the final statement.
func (p *Printer) SQL(sql string) {
	switch p.mode {
	case ModeMachine:
		p.json("sql", map[string]string{"sql": sql})
	case ModePlain:
		p.write(sql + "\n")
	default:
		p.write(Styles.Box.Render(Styles.Title.Render("SQL") + "\n" + Styles.Code.Render(sql)) + "\n")
	}
}

// Warning prints a non-fatal notice.
func (p *Printer) Warning(msg string) {
	switch p.mode {
	case ModeMachine:
		p.json("warning", map[string]string{"message": msg})
	case ModePlain:
		p.write("WARN: " + msg + "\n")
	default:
		p.write(Styles.Warning.Render("⚠ "+msg) + "\n")
	}
}

// Success prints a completion line.
func (p *Printer) Success(msg string) {
	switch p.mode {
	case ModeMachine:
		p.json("success", map[string]string{"message": msg})
	case ModePlain:
		p.write("OK: " + msg + "\n")
	default:
		p.write(Styles.Success.Render("✓ "+msg) + "\n")
	}
}

// Failure prints a run failure with the statement that was attempted.
func (p *Printer) Failure(kind, msg, sql string) {
	switch p.mode {
	case ModeMachine:
		p.json("error", map[string]string{"kind": kind, "message": msg, "sql": sql})
	case ModePlain:
		line := fmt.Sprintf("ERROR (%s): %s\n", kind, msg)
		if sql != "" {
			line += "SQL: " + sql + "\n"
		}
		p.write(line)
	default:
		body := Styles.Error.Bold(true).Render("✗ "+kind) + "\n" + msg
		if sql != "" {
			body += "\n\n" + Styles.Code.Render(sql)
		}
		p.write(Styles.ErrorBox.Width(72).Render(body) + "\n")
	}
}

// JSON prints v as one JSON line tagged with kind, in any mode.
func (p *Printer) JSON(kind string, v any) {
	p.json(kind, v)
}

func (p *Printer) json(kind string, v any) {
	data, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		data = []byte(fmt.Sprintf(`{"type":"error","data":{"message":%q}}`, err.Error()))
	}
	p.write(string(data) + "\n")
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, s)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
