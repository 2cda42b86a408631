// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(keys []string) *gin.Engine {
	r := gin.New()
	r.Use(APIKeyAuth(keys))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, strconv.Itoa(APIKeyID(c)))
	})
	return r
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		upgrade bool
		query   string
		want    string
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "basic scheme", header: "Basic abc123", want: ""},
		{name: "no token", header: "Bearer", want: ""},
		{name: "missing", want: ""},
		{name: "query ignored without upgrade", query: "abc", want: ""},
		{name: "query on websocket", upgrade: true, query: "abc", want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			target := "/"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			c.Request = httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				c.Request.Header.Set("Upgrade", "websocket")
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// APIKeyAuth Tests
// =============================================================================

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "disabled", keys: nil, wantCode: http.StatusOK, wantBody: "-1"},
		{name: "blank keys disable", keys: []string{" ", ""}, wantCode: http.StatusOK, wantBody: "-1"},
		{name: "first key", keys: []string{"k1", "k2"}, header: "Bearer k1", wantCode: http.StatusOK, wantBody: "0"},
		{name: "second key", keys: []string{"k1", "k2"}, header: "Bearer k2", wantCode: http.StatusOK, wantBody: "1"},
		{name: "wrong key", keys: []string{"k1"}, header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "missing header", keys: []string{"k1"}, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			newTestRouter(tt.keys).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantBody, w.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
			}
		})
	}
}
