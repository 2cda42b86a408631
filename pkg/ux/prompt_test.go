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
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LinePrompter Tests
// =============================================================================

func TestLinePrompter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{name: "single answer", input: "Hardware\n", want: []string{"Hardware"}},
		{name: "trims whitespace", input: "  last year \n", want: []string{"last year"}},
		{name: "skips blank lines", input: "\n\n  \nEMEA\n", want: []string{"EMEA"}},
		{name: "answer without newline", input: "2024", want: []string{"2024"}},
		{name: "two answers", input: "a\nb\n", want: []string{"a", "b"}},
		{name: "eof aborts", input: "", wantErr: ErrAborted},
		{name: "blank then eof aborts", input: "\n \n", wantErr: ErrAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewLinePrompter(strings.NewReader(tt.input), &out)

			for _, want := range tt.want {
				got, err := p.Prompt(context.Background(), "> ")
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			if tt.wantErr != nil {
				_, err := p.Prompt(context.Background(), "> ")
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.True(t, strings.HasPrefix(out.String(), "> "))
		})
	}
}

func TestLinePrompter_ContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLinePrompter(r, io.Discard).Prompt(ctx, "> ")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// answerModel Tests
// =============================================================================

func newAnswerModel() answerModel {
	ti := textinput.New()
	ti.Focus()
	return answerModel{input: ti}
}

func TestAnswerModel_Keys(t *testing.T) {
	tests := []struct {
		name        string
		key         tea.KeyType
		wantAborted bool
		wantQuit    bool
	}{
		{name: "enter submits", key: tea.KeyEnter, wantQuit: true},
		{name: "esc aborts", key: tea.KeyEsc, wantAborted: true, wantQuit: true},
		{name: "ctrl+c aborts", key: tea.KeyCtrlC, wantAborted: true, wantQuit: true},
		{name: "ctrl+d aborts", key: tea.KeyCtrlD, wantAborted: true, wantQuit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := newAnswerModel().Update(tea.KeyMsg{Type: tt.key})
			m := next.(answerModel)
			assert.Equal(t, tt.wantAborted, m.aborted)
			if tt.wantQuit {
				require.NotNil(t, cmd)
				assert.IsType(t, tea.QuitMsg{}, cmd())
			}
		})
	}
}

func TestAnswerModel_Typing(t *testing.T) {
	var m tea.Model = newAnswerModel()
	for _, r := range "EMEA" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	am := m.(answerModel)
	assert.Equal(t, "EMEA", am.input.Value())
	assert.False(t, am.aborted)
	assert.Contains(t, am.View(), "EMEA")
}
