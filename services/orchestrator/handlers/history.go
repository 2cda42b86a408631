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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
)

const maxHistoryLimit = 500

// HandleListHistory lists finished runs, newest first.
//
// GET /v1/history?limit=N&status=completed|error
func HandleListHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !historyEnabled(c, d) {
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			writeError(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		status := history.Status(c.Query("status"))
		switch status {
		case "", history.StatusCompleted, history.StatusError:
		default:
			writeError(c, http.StatusBadRequest, "status must be completed or error")
			return
		}

		records, err := d.History.List(c.Request.Context(), history.ListOptions{Limit: limit, Status: status})
		if err != nil {
			d.Metrics.RecordRequest(observability.EndpointHistory, "error")
			writeError(c, http.StatusInternalServerError, "failed to list history")
			return
		}
		d.Metrics.RecordRequest(observability.EndpointHistory, "ok")
		c.JSON(http.StatusOK, datatypes.HistoryList{Records: records, Count: len(records)})
	}
}

// HandleGetHistory returns one record.
func HandleGetHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !historyEnabled(c, d) {
			return
		}
		rec, err := d.History.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeHistoryError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// HandleDeleteHistory removes one record.
func HandleDeleteHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !historyEnabled(c, d) {
			return
		}
		if err := d.History.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeHistoryError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleClearHistory removes every record and the recent-question list.
func HandleClearHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !historyEnabled(c, d) {
			return
		}
		if err := d.History.Clear(); err != nil {
			writeError(c, http.StatusInternalServerError, "failed to clear history")
			return
		}
		if d.Recent != nil {
			if err := d.Recent.Clear(); err != nil {
				d.logger().Warn("Failed to clear recent questions", "error", err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleRecentQuestions returns recently asked questions, most recent first.
func HandleRecentQuestions(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		questions := []string{}
		if d.Recent != nil {
			questions = d.Recent.List()
		}
		c.JSON(http.StatusOK, gin.H{"questions": questions})
	}
}

func historyEnabled(c *gin.Context, d *Deps) bool {
	if d.History == nil {
		writeError(c, http.StatusServiceUnavailable, "history is disabled")
		return false
	}
	return true
}

func writeHistoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, history.ErrInvalidID):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, history.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "history lookup failed")
	}
}
