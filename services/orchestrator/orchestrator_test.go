// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/llm"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type idleReasoner struct{}

func (idleReasoner) Reason(ctx context.Context, _ llm.Context) (llm.Decision, error) {
	<-ctx.Done()
	return llm.Decision{}, ctx.Err()
}

func newTestDeps(t *testing.T) *handlers.Deps {
	t.Helper()
	engine, err := agent.NewEngine(idleReasoner{}, tools.NewRegistry())
	require.NoError(t, err)
	return &handlers.Deps{Engine: engine}
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12310, result.Port)
	assert.Equal(t, "127.0.0.1", result.Host)
	assert.Equal(t, gin.ReleaseMode, result.GinMode)
	assert.Equal(t, handlers.DefaultKeepAlive, result.KeepAlive)
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.Equal(t, "sqlagent", result.ServiceName)
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:      8080,
		Host:      "0.0.0.0",
		GinMode:   gin.DebugMode,
		KeepAlive: time.Second,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "0.0.0.0", result.Host)
	assert.Equal(t, gin.DebugMode, result.GinMode)
	assert.Equal(t, time.Second, result.KeepAlive)
}

// =============================================================================
// Service Tests
// =============================================================================

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	_, err = New(Config{}, &handlers.Deps{})
	assert.Error(t, err)
}

func TestNew_Router(t *testing.T) {
	deps := newTestDeps(t)
	svc, err := New(Config{GinMode: gin.TestMode, APIKeys: []string{"k"}, KeepAlive: 3 * time.Second}, deps)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, deps.KeepAlive, "keepalive should flow into deps")

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/react/run", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	svc, err := New(Config{Port: port, GinMode: gin.TestMode, ShutdownTimeout: time.Second}, newTestDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
