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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/services/orchestrator"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/observability"
)

func runServeCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, needs{engine: true, watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := a.deps()
	deps.Metrics = observability.NewMetrics(nil)

	svc, err := orchestrator.New(orchestrator.Config{
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		APIKeys:        cfg.Server.APIKeys,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		KeepAlive:      cfg.Server.KeepAlive,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, deps)
	if err != nil {
		return err
	}

	if len(cfg.Server.APIKeys) == 0 && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		a.logger.Warn("Serving without API keys on a non-loopback address", slog.String("host", cfg.Server.Host))
	}
	a.logger.Info("sqlagent configured",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("auth", len(cfg.Server.APIKeys) > 0))

	return svc.Run(ctx)
}
