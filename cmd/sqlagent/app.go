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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianSQL/cmd/sqlagent/config"
	"github.com/AleutianAI/AleutianSQL/pkg/logging"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/agent"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/history"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/llm"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/storage/badger"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/telemetry"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/vector"
)

// needs selects which parts of the stack a command opens.
type needs struct {
	database bool
	engine   bool
	watch    bool
}

// app owns every long-lived component of one CLI invocation. Fields a
// command did not ask for stay nil.
type app struct {
	cfg    config.SQLAgentConfig
	logger *slog.Logger

	closers []func() error

	store    *badger.DB
	catalog  *catalog.Store
	history  *history.Store
	recent   *history.Recent
	recorder *history.Recorder

	executor *sqlexec.DBExecutor
	guard    *sqlexec.Guard
	index    vector.Index
	weaviate *vector.WeaviateIndex
	engine   *agent.Engine
}

// newApp builds the components n asks for, in dependency order. On error
// everything opened so far is closed.
func newApp(ctx context.Context, cfg config.SQLAgentConfig, n needs) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a.closers = append(a.closers, logger.Close)
	a.logger = logger.Slog()
	slog.SetDefault(a.logger)

	if n.engine {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
	}

	if err := a.openStores(); err != nil {
		return nil, err
	}
	if err := a.syncCatalog(ctx, n.watch); err != nil {
		return nil, err
	}
	if !n.database && !n.engine {
		return a, nil
	}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if !n.engine {
		return a, nil
	}

	a.openIndex(ctx)
	if err := a.buildEngine(); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Shutdown step failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// =============================================================================
// Components
// =============================================================================

func (a *app) openStores() error {
	dir := logging.ExpandHome(a.cfg.Catalog.StoreDir)
	bcfg := badger.DefaultConfig(dir)
	bcfg.Logger = a.logger
	db, err := badger.Open(bcfg)
	if err != nil {
		// badger holds a directory lock, so a running server blocks local commands
		return fmt.Errorf("open store %s (is `sqlagent serve` running?): %w", dir, err)
	}
	a.closers = append(a.closers, db.Close)
	a.store = db
	a.catalog = catalog.NewStore(db)

	if a.cfg.History.Enabled {
		a.history = history.NewStore(db)
		recent, err := history.OpenRecent(logging.ExpandHome(a.cfg.History.RecentFile), a.cfg.History.RecentSize)
		if err != nil {
			return err
		}
		a.recent = recent
	}
	return nil
}

func (a *app) syncCatalog(ctx context.Context, watch bool) error {
	path := logging.ExpandHome(a.cfg.Catalog.Path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("Catalog file not found, using the stored catalog", slog.String("path", path))
		return nil
	}
	n, err := catalog.Sync(ctx, a.catalog, path)
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", path, err)
	}
	a.logger.Info("Catalog loaded", slog.String("path", path), slog.Int("tables", n))

	if !watch || !a.cfg.Catalog.Watch {
		return nil
	}
	w, err := catalog.NewWatcher(path, a.catalog, 0)
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	w.OnReload(func(tables int, err error) {
		if err != nil {
			a.logger.Warn("Catalog reload failed, keeping the previous catalog", slog.String("error", err.Error()))
			return
		}
		a.logger.Info("Catalog reloaded", slog.Int("tables", tables))
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	a.closers = append(a.closers, func() error { w.Stop(); return nil })
	return nil
}

func (a *app) openDatabase(ctx context.Context) error {
	cfg := a.cfg.Database
	cfg.DSN = logging.ExpandHome(cfg.DSN)

	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exec, err := sqlexec.Open(octx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, exec.Close)
	a.executor = exec
	a.guard = sqlexec.NewGuard(a.cfg.Agent.MaxSQLLength)
	return nil
}

// openIndex prefers Weaviate and falls back to an in-memory index seeded
// from history when Weaviate is unset or unreachable.
func (a *app) openIndex(ctx context.Context) {
	if !a.cfg.Vector.Enabled {
		return
	}
	if url := a.cfg.Vector.WeaviateURL; url != "" {
		w, err := vector.NewWeaviateIndex(vector.WeaviateConfig{
			URL:        url,
			ClassName:  a.cfg.Vector.ClassName,
			Vectorizer: a.cfg.Vector.Vectorizer,
		})
		if err == nil {
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = w.EnsureSchema(sctx)
			cancel()
		}
		if err == nil {
			a.logger.Info("Similar-query index on Weaviate", slog.String("url", url))
			a.index, a.weaviate = w, w
			return
		}
		a.logger.Warn("Weaviate unavailable, using the in-memory index",
			slog.String("url", url), slog.String("error", err.Error()))
	}

	mem := vector.NewMemoryIndex()
	if a.history != nil {
		n, err := history.Reindex(ctx, a.history, mem)
		if err != nil {
			a.logger.Warn("Failed to seed the similar-query index", slog.String("error", err.Error()))
		} else {
			a.logger.Debug("Similar-query index seeded", slog.Int("entries", n))
		}
	}
	a.index = mem
}

func (a *app) buildEngine() error {
	regOpts := []tools.RegistryOption{
		tools.WithDefaultTimeout(a.cfg.Agent.ToolTimeout),
		tools.WithMaxOutputChars(a.cfg.Agent.MaxOutputChars),
		tools.WithRegistryLogger(a.logger),
	}
	if a.cfg.Agent.CacheTTL > 0 {
		regOpts = append(regOpts, tools.WithResultCache(tools.NewResultCache(a.cfg.Agent.CacheTTL)))
	}
	registry, err := tools.NewStandardRegistry(tools.Dependencies{
		Catalog:  a.catalog,
		Executor: a.executor,
		Guard:    a.guard,
		Index:    a.index,
		MaxRows:  a.cfg.Database.MaxRows,
	}, regOpts...)
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}

	reasoner, err := newReasoner(a.cfg.LLM, a.logger)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewEngineMetrics(nil)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	opts := []agent.Option{
		agent.WithLLMTimeout(a.cfg.LLM.Timeout),
		agent.WithMetrics(metrics),
		agent.WithLogger(a.logger),
	}
	if secret := a.cfg.Session.Secret; secret != "" {
		codec, err := session.NewCodec([]byte(secret))
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithCodec(codec))
	} else {
		a.logger.Warn("No session secret configured; session tokens will not survive a restart")
	}

	engine, err := agent.NewEngine(reasoner, registry, opts...)
	if err != nil {
		return err
	}
	a.engine = engine
	if a.history != nil {
		a.recorder = history.NewRecorder(a.history, a.index, a.recent, a.logger)
	}
	return nil
}

func newReasoner(cfg config.LLMConfig, logger *slog.Logger) (llm.Reasoner, error) {
	var client llm.ChatClient
	switch cfg.Provider {
	case "openai":
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: float32(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case "ollama":
		c, err := llm.NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	opts := []llm.ReasonerOption{llm.WithReasonerLogger(logger)}
	if cfg.RateLimit > 0 {
		opts = append(opts, llm.WithRateLimit(cfg.RateLimit, cfg.Burst))
	}
	return llm.NewChatReasoner(client, opts...), nil
}

// observer returns what every local run reports to besides the caller's
// own observer.
func (a *app) observer(obs agent.Observer) agent.Observer {
	if a.recorder == nil {
		return obs
	}
	return agent.Observers(obs, a.recorder)
}

// deps assembles the HTTP handler dependencies.
func (a *app) deps() *handlers.Deps {
	d := &handlers.Deps{
		Engine:   a.engine,
		History:  a.history,
		Recent:   a.recent,
		Catalog:  a.catalog,
		Executor: a.executor,
		Guard:    a.guard,
		MaxRows:  a.cfg.Database.MaxRows,
		Logger:   a.logger,
		Checks: map[string]handlers.HealthCheck{
			"database": func(ctx context.Context) error { return a.executor.DB().PingContext(ctx) },
		},
	}
	if a.recorder != nil {
		d.Recorder = a.recorder
	}
	if a.weaviate != nil {
		w := a.weaviate
		d.Checks["weaviate"] = func(ctx context.Context) error {
			if !w.Ready(ctx) {
				return errors.New("not ready")
			}
			return nil
		}
	}
	return d
}
