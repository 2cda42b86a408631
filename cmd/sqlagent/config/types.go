// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianSQL/pkg/logging"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/telemetry"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type SQLAgentConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Server: the HTTP API started by `sqlagent serve`
	Server ServerConfig `yaml:"server"`

	// LLM: which model drives the reasoning loop
	LLM LLMConfig `yaml:"llm"`

	// Database: the warehouse questions are answered against
	Database sqlexec.Config `yaml:"database"`

	Catalog CatalogConfig `yaml:"catalog"`
	Vector  VectorConfig  `yaml:"vector"`
	History HistoryConfig `yaml:"history"`
	Agent   AgentConfig   `yaml:"agent"`

	Session   SessionConfig    `yaml:"session"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   logging.Config   `yaml:"logging"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`

	// APIKeys enables bearer auth on /v1 when non-empty
	APIKeys        []string      `yaml:"api_keys,omitempty"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type LLMConfig struct {
	// Provider is "openai" or "ollama"
	Provider    string  `yaml:"provider" validate:"oneof=openai ollama"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`

	// RateLimit is reasoner calls per second; zero disables limiting
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CatalogConfig struct {
	// Path is the YAML schema description loaded at startup
	Path string `yaml:"path"`

	// StoreDir holds the badger catalog and history stores
	StoreDir string `yaml:"store_dir" validate:"required"`
	Watch    bool   `yaml:"watch"`
}

type VectorConfig struct {
	Enabled bool `yaml:"enabled"`

	// WeaviateURL empty keeps the similar-query index in memory
	WeaviateURL string `yaml:"weaviate_url,omitempty"`
	ClassName   string `yaml:"class_name,omitempty"`
	Vectorizer  string `yaml:"vectorizer,omitempty"`
}

type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RecentFile string `yaml:"recent_file"`
	RecentSize int    `yaml:"recent_size" validate:"gte=0,lte=1000"`
}

type AgentConfig struct {
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxOutputChars int           `yaml:"max_output_chars" validate:"gte=0"`
	MaxSQLLength   int           `yaml:"max_sql_length" validate:"gte=0"`
}

type SessionConfig struct {
	// Secret signs session tokens. Empty uses a random per-process key,
	// which means tokens do not survive a restart.
	Secret string `yaml:"secret,omitempty" validate:"omitempty,min=32"`
}

// DefaultConfig returns the settings written on first run, rooted at dir.
func DefaultConfig(dir string) SQLAgentConfig {
	return SQLAgentConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      12310,
			KeepAlive: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1:8b",
			BaseURL:     "http://localhost:11434",
			Temperature: 0.1,
			RateLimit:   2,
			Burst:       2,
			Timeout:     90 * time.Second,
		},
		Database: sqlexec.Config{
			Driver:       sqlexec.DriverSQLite,
			DSN:          filepath.Join(dir, "warehouse.db"),
			MaxRows:      sqlexec.DefaultMaxRows,
			MaxOpenConns: 8,
		},
		Catalog: CatalogConfig{
			Path:     filepath.Join(dir, "catalog.yaml"),
			StoreDir: filepath.Join(dir, "data"),
			Watch:    true,
		},
		Vector: VectorConfig{Enabled: true},
		History: HistoryConfig{
			Enabled:    true,
			RecentFile: filepath.Join(dir, "recent.json"),
			RecentSize: 20,
		},
		Agent: AgentConfig{
			ToolTimeout:    30 * time.Second,
			CacheTTL:       5 * time.Minute,
			MaxOutputChars: 8000,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: logging.Config{
			Level:   "info",
			Format:  "text",
			LogDir:  filepath.Join(dir, "logs"),
			Service: "sqlagent",
		},
	}
}
