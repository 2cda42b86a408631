// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the sqlagent API.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const apiKeyIDKey = "sqlagent_api_key_id"

// APIKeyAuth requires a bearer token matching one of keys.
//
// # Description
//
// Tokens are compared in constant time. The index of the matched key is
// stored on the context for logging; the key itself never is. An empty key
// list disables authentication.
//
// # Inputs
//
//   - keys: Accepted API keys. Blank entries are ignored.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 401 on a missing or unknown token.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	var digests [][sha256.Size]byte
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(c *gin.Context) {
		if len(digests) == 0 {
			c.Next()
			return
		}
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		sum := sha256.Sum256([]byte(token))
		matched := -1
		for i := range digests {
			if subtle.ConstantTimeCompare(sum[:], digests[i][:]) == 1 {
				matched = i
			}
		}
		if matched < 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(apiKeyIDKey, matched)
		c.Next()
	}
}

// APIKeyID returns the index of the key that authenticated the request, or
// -1 when authentication is disabled.
func APIKeyID(c *gin.Context) int {
	if v, ok := c.Get(apiKeyIDKey); ok {
		if id, ok := v.(int); ok {
			return id
		}
	}
	return -1
}

// extractBearerToken extracts the token from the Authorization header.
// Browsers cannot set headers on websocket upgrades, so the access_token
// query parameter is accepted there.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if websocketUpgrade(c.Request) {
			return c.Query("access_token")
		}
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
