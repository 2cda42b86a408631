// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/handlers"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func hasRoute(routes gin.RoutesInfo, method, path string) bool {
	for _, r := range routes {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &handlers.Deps{}, nil)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/health"},
		{"POST", "/v1/react/run"},
		{"POST", "/v1/react/resume"},
		{"GET", "/v1/react/ws"},
		{"POST", "/v1/sql/execute"},
		{"GET", "/v1/history"},
		{"DELETE", "/v1/history"},
		{"GET", "/v1/history/recent"},
		{"GET", "/v1/history/:id"},
		{"DELETE", "/v1/history/:id"},
		{"GET", "/v1/catalog/tables"},
		{"GET", "/v1/catalog/tables/:name"},
	}

	routes := router.Routes()
	for _, e := range expected {
		assert.True(t, hasRoute(routes, e.method, e.path), "route %s %s should be registered", e.method, e.path)
	}
}

func TestSetupRoutes_Auth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &handlers.Deps{}, []string{"secret"})

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{name: "health is open", path: "/v1/health", wantCode: http.StatusOK},
		{name: "api needs key", path: "/v1/history/recent", wantCode: http.StatusUnauthorized},
		{name: "api with key", path: "/v1/history/recent", token: "secret", wantCode: http.StatusOK},
		{name: "catalog without backend", path: "/v1/catalog/tables", token: "secret", wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}
