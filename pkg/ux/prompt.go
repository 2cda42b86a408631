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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("prompt aborted")

// Prompter reads the user's answer to a clarifying question.
type Prompter interface {
	// Prompt blocks until the user submits a non-empty answer, aborts,
	// or ctx is done.
	Prompt(ctx context.Context, label string) (string, error)
}

// NewPrompter returns an interactive prompter when in is a terminal and a
// line reader otherwise, so piped answers work in scripts.
func NewPrompter(in *os.File, out io.Writer) Prompter {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return &teaPrompter{in: in, out: out}
	}
	return NewLinePrompter(in, out)
}

// =============================================================================
// Line prompter
// =============================================================================

// LinePrompter reads answers one line at a time.
type LinePrompter struct {
	r   *bufio.Reader
	out io.Writer
}

// NewLinePrompter reads from r and writes labels to out.
func NewLinePrompter(r io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), out: out}
}

// Prompt implements Prompter. Blank lines are skipped; EOF aborts.
func (p *LinePrompter) Prompt(ctx context.Context, label string) (string, error) {
	type line struct {
		text string
		err  error
	}
	for {
		fmt.Fprint(p.out, label)
		ch := make(chan line, 1)
		go func() {
			text, err := p.r.ReadString('\n')
			ch <- line{text, err}
		}()

		var got line
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case got = <-ch:
		}

		answer := strings.TrimSpace(got.text)
		if answer != "" {
			return answer, nil
		}
		if got.err != nil {
			if errors.Is(got.err, io.EOF) {
				return "", ErrAborted
			}
			return "", got.err
		}
	}
}

// =============================================================================
// Interactive prompter
// =============================================================================

type teaPrompter struct {
	in  *os.File
	out io.Writer
}

// Prompt implements Prompter with a bubbletea text input.
func (p *teaPrompter) Prompt(ctx context.Context, label string) (string, error) {
	for {
		ti := textinput.New()
		ti.Prompt = label
		ti.Placeholder = "type your answer"
		ti.CharLimit = 2000
		ti.Width = 72
		ti.Focus()

		prog := tea.NewProgram(answerModel{input: ti},
			tea.WithInput(p.in), tea.WithOutput(p.out), tea.WithContext(ctx))
		final, err := prog.Run()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
		m, ok := final.(answerModel)
		if !ok {
			return "", fmt.Errorf("unexpected model type from bubbletea: %T", final)
		}
		if m.aborted {
			return "", ErrAborted
		}
		if answer := strings.TrimSpace(m.input.Value()); answer != "" {
			return answer, nil
		}
	}
}

type answerModel struct {
	input   textinput.Model
	aborted bool
}

func (m answerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m answerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m answerModel) View() string {
	return m.input.View() + "\n"
}
