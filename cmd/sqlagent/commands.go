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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/cmd/sqlagent/config"
)

// --- Global Command Variables ---
var (
	configPath string
	outputMode string // rich, plain or machine
	logLevel   string

	serverURL string // empty runs the engine in-process
	apiKey    string

	maxToolCalls  int
	maxSQLSeconds int
	displayRows   int // rows shown from a result
	sqlMaxRows    int
	noPrompt      bool

	resumeQuestion string
	resumeState    string

	historyLimit  int
	historyStatus string

	cfg config.SQLAgentConfig

	rootCmd = &cobra.Command{
		Use:   "sqlagent",
		Short: "Answer questions about your data with generated, read-only SQL",
		Long: `sqlagent turns natural-language questions into SQL by letting a
language model explore the schema catalog with tools, asking you when
the question is ambiguous, and running the final read-only statement.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (SSE and WebSocket event streams)",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand, // Defined in cmd_serve.go
	}

	// --- Questions ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the agent's reasoning",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_ask.go
	}
	resumeCmd = &cobra.Command{
		Use:   "resume [answer]",
		Short: "Answer a clarifying question from a saved session token",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResumeCommand, // Defined in cmd_ask.go
	}

	// --- Direct SQL ---
	sqlCmd = &cobra.Command{
		Use:   "sql [statement]",
		Short: "Run a read-only statement directly",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSQLCommand, // Defined in cmd_sql.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect past questions and their SQL",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List finished runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	historyDeleteCmd = &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryDelete,
	}
	historyClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all runs and recent questions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryClear,
	}
	historyRecentCmd = &cobra.Command{
		Use:   "recent",
		Short: "List recently asked questions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryRecent,
	}

	// --- Catalog ---
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manage the schema catalog the agent searches",
	}
	catalogSyncCmd = &cobra.Command{
		Use:   "sync [catalog.yaml]",
		Short: "Replace the stored catalog with a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogSync, // Defined in cmd_catalog.go
	}
	catalogListCmd = &cobra.Command{
		Use:   "list",
		Short: "List catalog tables",
		Args:  cobra.NoArgs,
		RunE:  runCatalogList,
	}
	catalogShowCmd = &cobra.Command{
		Use:   "show [table]",
		Short: "Describe one table",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.aleutiansql/config.yaml, or $SQLAGENT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "rich",
		"Output style: rich, plain, or machine (one JSON object per line)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&serverURL, "server", "", "Stream from a running server instead of running locally")
	askCmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer key for --server (or $SQLAGENT_API_KEY)")
	askCmd.Flags().IntVar(&maxToolCalls, "max-tool-calls", 0, "Tool call budget, 1-100 (default 30)")
	askCmd.Flags().IntVar(&maxSQLSeconds, "max-sql-seconds", 0, "Final statement timeout, 1-3600 (default 60)")
	askCmd.Flags().IntVar(&displayRows, "max-rows", 50, "Rows to display from the result")
	askCmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Print the session token instead of prompting for clarifications")

	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&serverURL, "server", "", "Stream from a running server instead of running locally")
	resumeCmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer key for --server (or $SQLAGENT_API_KEY)")
	resumeCmd.Flags().StringVarP(&resumeQuestion, "question", "q", "", "The original question")
	resumeCmd.Flags().StringVar(&resumeState, "state", "", "Session token printed by ask")
	resumeCmd.Flags().IntVar(&displayRows, "max-rows", 50, "Rows to display from the result")
	resumeCmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Print the session token instead of prompting for clarifications")
	_ = resumeCmd.MarkFlagRequired("question")
	_ = resumeCmd.MarkFlagRequired("state")

	rootCmd.AddCommand(sqlCmd)
	sqlCmd.Flags().StringVar(&serverURL, "server", "", "Execute on a running server instead of locally")
	sqlCmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer key for --server (or $SQLAGENT_API_KEY)")
	sqlCmd.Flags().IntVar(&maxSQLSeconds, "max-sql-seconds", 0, "Statement timeout in seconds (default 60)")
	sqlCmd.Flags().IntVar(&sqlMaxRows, "max-rows", 0, "Row cap (default from config)")

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyClearCmd, historyRecentCmd)
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "Only runs with this status (completed, error)")

	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSyncCmd, catalogListCmd, catalogShowCmd)
}

// loadConfig runs before every command.
func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		err = config.Load()
		cfg = config.Global
	}
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return nil
}
