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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/telemetry"
)

// SetupRoutes registers every endpoint on router.
//
// Health and metrics stay unauthenticated; everything under /v1 except
// /v1/health requires an API key when apiKeys is non-empty.
func SetupRoutes(router *gin.Engine, d *handlers.Deps, apiKeys []string) {
	router.GET("/health", handlers.HandleHealth(d))
	router.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := router.Group("/v1")
	v1.GET("/health", handlers.HandleHealth(d))

	api := v1.Group("", middleware.APIKeyAuth(apiKeys))
	{
		react := api.Group("/react")
		{
			react.POST("/run", handlers.HandleRun(d))
			react.POST("/resume", handlers.HandleResume(d))
			react.GET("/ws", handlers.HandleWebSocket(d))
		}

		api.POST("/sql/execute", handlers.HandleExecuteSQL(d))

		hist := api.Group("/history")
		{
			hist.GET("", handlers.HandleListHistory(d))
			hist.DELETE("", handlers.HandleClearHistory(d))
			hist.GET("/recent", handlers.HandleRecentQuestions(d))
			hist.GET("/:id", handlers.HandleGetHistory(d))
			hist.DELETE("/:id", handlers.HandleDeleteHistory(d))
		}

		cat := api.Group("/catalog")
		{
			cat.GET("/tables", handlers.HandleListTables(d))
			cat.GET("/tables/:name", handlers.HandleGetTable(d))
		}
	}
}

// metricsHandler serves the OpenTelemetry Prometheus exporter when it is
// configured and the default registry otherwise. Both read the default
// registry, so transport metrics appear either way.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}
