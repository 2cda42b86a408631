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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global SQLAgentConfig
	once   sync.Once

	validate = validator.New()
)

// Load ensures the config is loaded into the Global variable. SQLAGENT_CONFIG
// overrides the default location ~/.aleutiansql/config.yaml.
func Load() error {
	var err error
	once.Do(func() {
		var path string
		path, err = DefaultPath()
		if err != nil {
			return
		}
		Global, err = LoadFrom(path)
	})
	return err
}

// DefaultPath returns where the config file lives.
func DefaultPath() (string, error) {
	if p := os.Getenv("SQLAGENT_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutiansql", "config.yaml"), nil
}

// LoadFrom reads path, creating it with defaults first if it does not exist,
// then applies environment overrides and validates the result.
func LoadFrom(path string) (SQLAgentConfig, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return SQLAgentConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SQLAgentConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}

	// Start from defaults so sections missing from older files stay usable.
	cfg := DefaultConfig(dir)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SQLAgentConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return SQLAgentConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg SQLAgentConfig) error {
	return validate.Struct(cfg)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig(dir)
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	// 0600: the file may end up holding API keys and the session secret
	return os.WriteFile(path, data, 0600)
}

// applyEnv lets deployments override secrets and endpoints without editing
// the file.
func applyEnv(cfg *SQLAgentConfig) {
	cfg.Database.Driver = getEnvOr("SQLAGENT_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnvOr("SQLAGENT_DB_DSN", cfg.Database.DSN)

	cfg.LLM.Provider = getEnvOr("SQLAGENT_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnvOr("SQLAGENT_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnvOr("SQLAGENT_LLM_BASE_URL", cfg.LLM.BaseURL)

	cfg.Session.Secret = getEnvOr("SQLAGENT_SESSION_SECRET", cfg.Session.Secret)
	cfg.Vector.WeaviateURL = getEnvOr("SQLAGENT_WEAVIATE_URL", cfg.Vector.WeaviateURL)
	cfg.Logging.Level = getEnvOr("SQLAGENT_LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("SQLAGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SQLAGENT_API_KEYS"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Server.APIKeys = keys
	}

	cfg.Telemetry.TraceExporter = getEnvOr("OTEL_TRACES_EXPORTER", cfg.Telemetry.TraceExporter)
	cfg.Telemetry.MetricExporter = getEnvOr("OTEL_METRICS_EXPORTER", cfg.Telemetry.MetricExporter)
	cfg.Telemetry.OTLPEndpoint = getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
