// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the sqlagent HTTP service.
//
// # Description
//
// The service exposes the ReAct engine over SSE and WebSocket together
// with direct SQL execution, run history and the table catalog. The
// caller builds the engine and its backends and hands them over in
// handlers.Deps; this package owns only the transport.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is a configured HTTP server.
type Service interface {
	// Run serves until ctx is done, then shuts down gracefully.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the transport settings.
type Config struct {
	// Port to listen on. Default: 12310.
	Port int

	// Host to bind. Default: 127.0.0.1.
	Host string

	// GinMode is "debug", "release" or "test". Default: release.
	GinMode string

	// APIKeys enables bearer authentication when non-empty.
	APIKeys []string

	// AllowedOrigins restricts WebSocket origins.
	AllowedOrigins []string

	// KeepAlive is the SSE ping interval. Default: 15s.
	KeepAlive time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// ServiceName names the otelgin spans. Default: sqlagent.
	ServiceName string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = handlers.DefaultKeepAlive
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sqlagent"
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

type service struct {
	config Config
	deps   *handlers.Deps
	router *gin.Engine
	logger *slog.Logger
}

// New builds the service.
//
// # Inputs
//
//   - cfg: Transport settings. Zero fields take defaults.
//   - deps: Backends. Engine is required.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: When deps or the engine is missing.
func New(cfg Config, deps *handlers.Deps) (Service, error) {
	if deps == nil || deps.Engine == nil {
		return nil, errors.New("orchestrator: engine is required")
	}
	cfg = applyConfigDefaults(cfg)
	if deps.KeepAlive == 0 {
		deps.KeepAlive = cfg.KeepAlive
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = cfg.AllowedOrigins
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &service{config: cfg, deps: deps, logger: logger}
	s.initRouter()
	return s, nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.config.ServiceName))
	r.Use(middleware.RequestLogger(s.logger))
	routes.SetupRoutes(r, s.deps, s.config.APIKeys)
	s.router = r
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting sqlagent server", "addr", srv.Addr, "auth", len(s.config.APIKeys) > 0)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down sqlagent server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}
