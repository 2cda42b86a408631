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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSQL/cmd/sqlagent/config"
	"github.com/AleutianAI/AleutianSQL/pkg/logging"
	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent/events"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/llm"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// =============================================================================
// Test Setup
// =============================================================================

const (
	testQuestion = "Which hardware products do we sell?"
	hardwareSQL  = "SELECT name FROM products WHERE category = 'Hardware' ORDER BY name"
)

const testCatalog = `
tables:
  - name: products
    description: Products for sale
    columns:
      - {name: id, type: INTEGER}
      - {name: name, type: TEXT}
      - {name: category, type: TEXT, samples: [Hardware, Software]}
`

// scriptedReasoner answers call i with script[i], repeating the last entry.
type scriptedReasoner struct {
	mu     sync.Mutex
	script []func() (llm.Decision, error)
	calls  int
}

func (s *scriptedReasoner) Reason(_ context.Context, _ llm.Context) (llm.Decision, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i]()
}

func askUser(question string) func() (llm.Decision, error) {
	return func() (llm.Decision, error) {
		params, _ := json.Marshal(tools.AskUserParams{Question: question})
		return llm.Decision{Reasoning: "The category is unclear.", ToolCall: tools.NewCall(tools.AskUser, params)}, nil
	}
}

func executeSQL(query string) func() (llm.Decision, error) {
	return func() (llm.Decision, error) {
		params, _ := json.Marshal(map[string]string{"sql": query})
		return llm.Decision{
			Reasoning: "Run it.",
			Reported:  &completeness.Completeness{IsComplete: true, ConfidenceLevel: completeness.High},
			ToolCall:  tools.NewCall(tools.ExecuteSQL, params),
		}, nil
	}
}

// testConfig roots every path in a temp dir and seeds a sqlite warehouse
// and catalog file there.
func testConfig(t *testing.T) config.SQLAgentConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig(dir)
	cfg.Logging = logging.Config{Level: "error", Quiet: true}
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Catalog.Watch = false

	require.NoError(t, os.WriteFile(cfg.Catalog.Path, []byte(testCatalog), 0600))

	db, err := sql.Open(sqlexec.DriverSQLite, cfg.Database.DSN)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, category TEXT)`,
		`INSERT INTO products VALUES (1,'Drill','Hardware'),(2,'Saw','Hardware'),(3,'Editor','Software')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return cfg
}

// newLocalSession wires a real engine over testConfig with reasoner.
func newLocalSession(t *testing.T, reasoner llm.Reasoner, answers string) (*askSession, *app, *bytes.Buffer) {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), needs{database: true})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	registry, err := tools.NewStandardRegistry(tools.Dependencies{Catalog: a.catalog, Executor: a.executor, Guard: a.guard})
	require.NoError(t, err)
	a.engine, err = agent.NewEngine(reasoner, registry)
	require.NoError(t, err)
	a.recorder = history.NewRecorder(a.history, nil, a.recent, nil)

	var out bytes.Buffer
	printer := ux.NewPrinter(&out, ux.ModePlain, 0)
	s := &askSession{
		source:   &localSource{engine: a.engine, wrap: a.observer},
		renderer: newRenderer(printer, 10),
		printer:  printer,
	}
	if answers != "" {
		s.prompter = ux.NewLinePrompter(strings.NewReader(answers), &bytes.Buffer{})
	}
	return s, a, &out
}

// =============================================================================
// Local runs
// =============================================================================

func TestAsk_LocalClarifyThenComplete(t *testing.T) {
	reasoner := &scriptedReasoner{script: []func() (llm.Decision, error){
		askUser("Which category?"),
		executeSQL(hardwareSQL),
	}}
	s, a, out := newLocalSession(t, reasoner, "Hardware\n")

	err := s.ask(context.Background(), agent.StartRequest{Question: testQuestion})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "QUESTION: Which category?")
	assert.Contains(t, text, hardwareSQL)
	assert.Contains(t, text, "Drill")
	assert.Contains(t, text, "Saw")
	assert.NotContains(t, text, "Editor")

	records, err := a.history.List(context.Background(), history.ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.StatusCompleted, records[0].Status)
	assert.Equal(t, []string{testQuestion}, a.recent.List())
}

func TestAsk_LocalNoPromptPrintsToken(t *testing.T) {
	reasoner := &scriptedReasoner{script: []func() (llm.Decision, error){askUser("Which category?")}}
	s, a, out := newLocalSession(t, reasoner, "")

	require.NoError(t, s.ask(context.Background(), agent.StartRequest{Question: testQuestion}))
	text := out.String()
	assert.Contains(t, text, "sqlagent resume")
	assert.Contains(t, text, "--state ")

	// The printed token resumes the session.
	token := text[strings.Index(text, "--state ")+len("--state "):]
	token = strings.Fields(token)[0]
	reasoner.script = []func() (llm.Decision, error){executeSQL(hardwareSQL)}
	reasoner.calls = 0

	out.Reset()
	require.NoError(t, s.resume(context.Background(), agent.ResumeRequest{
		Question:     testQuestion,
		SessionState: token,
		UserResponse: "Hardware",
	}))
	assert.Contains(t, out.String(), "Drill")
	assert.Equal(t, 0, a.engine.ActiveSessions())
}

func TestAsk_LocalRejectsEmptyQuestion(t *testing.T) {
	s, _, out := newLocalSession(t, &scriptedReasoner{script: []func() (llm.Decision, error){executeSQL(hardwareSQL)}}, "")

	err := s.ask(context.Background(), agent.StartRequest{Question: "   "})
	require.Error(t, err)
	assert.Equal(t, agent.KindInvalidInput, agent.KindOf(err))
	assert.Empty(t, out.String(), "nothing is rendered for rejected input")
}

// =============================================================================
// Ask loop with scripted sources
// =============================================================================

// fakeSource replays canned sequences and records resume requests.
type fakeSource struct {
	runs    [][]events.Event
	resumes []agent.ResumeRequest
}

func (f *fakeSource) next() <-chan events.Event {
	ch := make(chan events.Event, 16)
	if len(f.runs) > 0 {
		for _, ev := range f.runs[0] {
			ch <- ev
		}
		f.runs = f.runs[1:]
	}
	close(ch)
	return ch
}

func (f *fakeSource) Run(context.Context, agent.StartRequest) (<-chan events.Event, error) {
	return f.next(), nil
}

func (f *fakeSource) Resume(_ context.Context, req agent.ResumeRequest) (<-chan events.Event, error) {
	f.resumes = append(f.resumes, req)
	return f.next(), nil
}

func needsInput(token, question string) events.Event {
	return events.Event{Type: events.TypeNeedsUserInput, Data: events.ResponseData{Response: &agent.Response{
		Status: session.StatusNeedsUserInput, SessionState: token, QuestionToUser: question,
	}}}
}

func TestAskSession_Outcomes(t *testing.T) {
	step := events.Event{Type: events.TypeStep, Data: events.StepData{Iteration: 1, Reasoning: "searching"}}
	completed := events.Event{Type: events.TypeCompleted, Data: events.ResponseData{Response: &agent.Response{
		Status: session.StatusCompleted, FinalSQL: "SELECT 1",
	}}}
	failed := events.Event{Type: events.TypeError, Data: events.ErrorData{Kind: agent.KindBudgetExhausted, Message: "out of tool calls"}}

	tests := []struct {
		name        string
		runs        [][]events.Event
		answers     string
		wantErr     error
		wantResumes int
		wantOutput  string
	}{
		{name: "completed", runs: [][]events.Event{{step, completed}}, wantOutput: "SELECT 1"},
		{name: "error event", runs: [][]events.Event{{step, failed}}, wantErr: ErrRunFailed, wantOutput: "budget_exhausted"},
		{name: "no terminal", runs: [][]events.Event{{step}}, wantErr: errStreamEnded},
		{
			name:        "two clarifications",
			runs:        [][]events.Event{{needsInput("t1", "Which year?")}, {needsInput("t2", "Which region?")}, {completed}},
			answers:     "2024\nEMEA\n",
			wantResumes: 2,
			wantOutput:  "Which region?",
		},
		{
			name:       "prompt aborted",
			runs:       [][]events.Event{{needsInput("t1", "Which year?")}},
			answers:    "\n",
			wantOutput: "--state t1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{runs: tt.runs}
			var out bytes.Buffer
			printer := ux.NewPrinter(&out, ux.ModePlain, 0)
			s := &askSession{
				source:   src,
				renderer: newRenderer(printer, 10),
				printer:  printer,
				prompter: ux.NewLinePrompter(strings.NewReader(tt.answers), &bytes.Buffer{}),
			}

			err := s.ask(context.Background(), agent.StartRequest{Question: "q"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, src.resumes, tt.wantResumes)
			assert.Contains(t, out.String(), tt.wantOutput)
		})
	}
}

func TestAskSession_ResumeCarriesTokenAndAnswer(t *testing.T) {
	src := &fakeSource{runs: [][]events.Event{{needsInput("tok", "Which year?")}, {}}}
	printer := ux.NewPrinter(&bytes.Buffer{}, ux.ModeMachine, 0)
	s := &askSession{
		source:   src,
		renderer: newRenderer(printer, 10),
		printer:  printer,
		prompter: ux.NewLinePrompter(strings.NewReader("2024\n"), &bytes.Buffer{}),
	}

	err := s.ask(context.Background(), agent.StartRequest{Question: "orders per year"})
	assert.ErrorIs(t, err, errStreamEnded)
	require.Len(t, src.resumes, 1)
	assert.Equal(t, agent.ResumeRequest{Question: "orders per year", SessionState: "tok", UserResponse: "2024"}, src.resumes[0])
}

// =============================================================================
// Remote source
// =============================================================================

func TestReadSSE(t *testing.T) {
	stream := ": ping\n\n" +
		"id: 1\nevent: step\ndata: {\"seq\":1,\"type\":\"step\",\"iteration\":1,\"data\":{\"iteration\":1,\"reasoning\":\"look\"}}\n\n" +
		": ping\n\n" +
		"id: 2\nevent: completed\ndata: {\"seq\":2,\"type\":\"completed\",\"session_id\":\"s1\",\"data\":{\"response\":{\"session_id\":\"s1\",\"final_sql\":\"SELECT 1\"}}}\n\n"

	var got []events.Event
	require.NoError(t, readSSE(strings.NewReader(stream), func(ev events.Event) bool {
		got = append(got, ev)
		return true
	}))
	require.Len(t, got, 2)

	step, err := events.Payload[events.StepData](got[0])
	require.NoError(t, err)
	assert.Equal(t, "look", step.Reasoning)

	assert.Equal(t, events.TypeCompleted, got[1].Type)
	resp, err := events.Payload[events.ResponseData](got[1])
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Response.FinalSQL)
}

func TestReadSSE_StopsWhenEmitDeclines(t *testing.T) {
	stream := "data: {\"seq\":1,\"type\":\"step\"}\n\ndata: {\"seq\":2,\"type\":\"step\"}\n\n"
	n := 0
	require.NoError(t, readSSE(strings.NewReader(stream), func(events.Event) bool {
		n++
		return false
	}))
	assert.Equal(t, 1, n)
}

func TestRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/react/run":
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte("id: 1\nevent: error\ndata: {\"seq\":1,\"type\":\"error\",\"data\":{\"message\":\"boom\",\"kind\":\"llm_unavailable\"}}\n\n"))
		case "/v1/react/resume":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"session token already used","kind":"invalid_session"}`))
		}
	}))
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := newRemoteSource(srv.URL+"/", "k").Run(ctx, agent.StartRequest{Question: "q"})
	require.NoError(t, err)
	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	data, err := events.Payload[events.ErrorData](got[0])
	require.NoError(t, err)
	assert.Equal(t, agent.KindLLMUnavailable, data.Kind)

	_, err = newRemoteSource(srv.URL, "k").Resume(ctx, agent.ResumeRequest{Question: "q", SessionState: "s", UserResponse: "a"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, agent.KindInvalidSession, apiErr.Body.Kind)

	_, err = newRemoteSource(srv.URL, "").Run(ctx, agent.StartRequest{Question: "q"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

// =============================================================================
// Wiring
// =============================================================================

func TestNewApp_StoresOnly(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, needs{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.executor, "no database without needs.database")
	tables, err := a.catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "products", tables[0].Name)
}

func TestNewApp_BadCatalogFails(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Catalog.Path, []byte("tables: [{name: ''}]"), 0600))

	_, err := newApp(context.Background(), cfg, needs{})
	assert.Error(t, err)

	// The failed attempt released the store lock.
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	a, err := newApp(context.Background(), cfg, needs{})
	require.NoError(t, err)
	a.Close()
}

func TestExecuteLocal(t *testing.T) {
	cfg = testConfig(t)
	t.Cleanup(func() { cfg = config.SQLAgentConfig{} })

	sqlText, result, err := executeLocal(context.Background(), "SELECT name FROM products ORDER BY id;", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM products ORDER BY id", sqlText)
	assert.Equal(t, 3, result.RowCount)

	_, _, err = executeLocal(context.Background(), "DELETE FROM products", 5*time.Second)
	assert.Error(t, err)
}
