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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

// HandleExecuteSQL runs a read-only statement directly, bypassing the agent.
//
// # Description
//
// POST /v1/sql/execute. The statement goes through the same guard as the
// agent's tools. Guard rejections are 400, timeouts 504 and database
// errors 422.
func HandleExecuteSQL(d *Deps) gin.HandlerFunc {
	const endpoint = observability.EndpointSQL
	guard := d.Guard
	if guard == nil {
		guard = sqlexec.NewGuard(0)
	}

	return func(c *gin.Context) {
		if d.Executor == nil {
			d.Metrics.RecordRequest(endpoint, "error")
			writeError(c, http.StatusServiceUnavailable, sqlexec.ErrNotConfigured.Error())
			return
		}
		var req datatypes.ExecuteSQLRequest
		if !bindJSON(c, &req) {
			d.Metrics.RecordRequest(endpoint, "rejected")
			return
		}
		query, err := guard.Validate(req.SQL)
		if err != nil {
			d.Metrics.RecordRequest(endpoint, "rejected")
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}

		secs := req.MaxSQLSeconds
		if secs == 0 {
			secs = session.DefaultSQLSeconds
		}
		maxRows := req.MaxRows
		if maxRows == 0 {
			maxRows = d.MaxRows
		}

		res, err := d.Executor.Execute(c.Request.Context(), query, maxRows, time.Duration(secs)*time.Second)
		if err != nil {
			d.Metrics.RecordRequest(endpoint, "error")
			status := http.StatusUnprocessableEntity
			if errors.Is(err, sqlexec.ErrTimeout) {
				status = http.StatusGatewayTimeout
			}
			d.logger().Info("Direct SQL failed", slog.String("error", err.Error()))
			writeError(c, status, err.Error())
			return
		}
		d.Metrics.RecordRequest(endpoint, "ok")
		c.JSON(http.StatusOK, datatypes.ExecuteSQLResponse{SQL: query, Result: res})
	}
}
