// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
)

const healthTimeout = 3 * time.Second

// HandleHealth runs every configured check concurrently.
//
// GET /v1/health answers 200 when all checks pass and 503 otherwise.
func HandleHealth(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		resp := datatypes.HealthResponse{
			Status:     "healthy",
			Components: make(map[string]string, len(d.Checks)),
		}
		if d.Engine != nil {
			resp.Sessions = d.Engine.ActiveSessions()
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for name, check := range d.Checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				state := "ok"
				if err := check(ctx); err != nil {
					state = err.Error()
				}
				mu.Lock()
				resp.Components[name] = state
				mu.Unlock()
			}()
		}
		wg.Wait()

		status := http.StatusOK
		for _, state := range resp.Components {
			if state != "ok" {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, resp)
	}
}

// HandleListTables returns the catalog's table names.
func HandleListTables(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Catalog == nil {
			writeError(c, http.StatusServiceUnavailable, "catalog is not loaded")
			return
		}
		tables, err := d.Catalog.List(c.Request.Context())
		if err != nil {
			writeError(c, http.StatusInternalServerError, "failed to list tables")
			return
		}
		names := make([]string, 0, len(tables))
		for _, t := range tables {
			names = append(names, t.QualifiedName())
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, gin.H{"tables": names, "count": len(names)})
	}
}

// HandleGetTable returns one table's definition.
func HandleGetTable(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Catalog == nil {
			writeError(c, http.StatusServiceUnavailable, "catalog is not loaded")
			return
		}
		t, err := d.Catalog.Get(c.Request.Context(), c.Param("name"))
		switch {
		case errors.Is(err, catalog.ErrTableNotFound):
			writeError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, catalog.ErrAmbiguousTable):
			writeError(c, http.StatusConflict, err.Error())
		case err != nil:
			writeError(c, http.StatusInternalServerError, "catalog lookup failed")
		default:
			c.JSON(http.StatusOK, t)
		}
	}
}
