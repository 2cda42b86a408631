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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".aleutiansql", "config.yaml")

	require.NoError(t, createDefault(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var cfg SQLAgentConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout, "durations should round-trip")
	assert.Equal(t, filepath.Join(filepath.Dir(configPath), "data"), cfg.Catalog.StoreDir)
}

func TestLoadFrom_FirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.True(t, cfg.History.Enabled)
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: openai\n  model: gpt-4o\n"), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("SQLAGENT_DB_DRIVER", "pgx")
	t.Setenv("SQLAGENT_DB_DSN", "postgres://localhost/warehouse")
	t.Setenv("SQLAGENT_PORT", "9000")
	t.Setenv("SQLAGENT_API_KEYS", "a, b,,c")
	t.Setenv("SQLAGENT_LLM_PROVIDER", "openai")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/warehouse", cfg.Database.DSN)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown provider", yaml: "llm:\n  provider: claude\n"},
		{name: "port out of range", yaml: "server:\n  port: 70000\n"},
		{name: "unknown driver", yaml: "database:\n  driver: mysql\n"},
		{name: "short secret", yaml: "session:\n  secret: tooshort\n"},
		{name: "bad yaml", yaml: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))
			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("SQLAGENT_CONFIG", "/tmp/custom.yaml")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", path)
}
