// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "licensor.conf")
	require.NoError(t, os.WriteFile(existingFile, []byte("vaultSecret = \"x\""), 0644))

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "directory", input: filepath.Join(tmpDir, "etc"), expected: filepath.Join(tmpDir, "etc", "config.toml")},
		{name: "toml_file", input: filepath.Join(tmpDir, "prod.toml"), expected: filepath.Join(tmpDir, "prod.toml")},
		{name: "toml_suffix_case_insensitive", input: filepath.Join(tmpDir, "PROD.TOML"), expected: filepath.Join(tmpDir, "PROD.TOML")},
		{name: "existing_file_without_extension", input: existingFile, expected: existingFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveConfigFile(tt.input))
		})
	}
}

func TestGenerateConfigIsLoadable(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "licensor")
	dataDir := filepath.Join(t.TempDir(), "data")

	output, err := runCommand(t, RunGenerateConfigCommand(), "--config-dir", configDir)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration file created successfully at: "+filepath.Join(configDir, "config.toml"))

	cfg, err := loadConfig(configDir, dataDir)
	require.NoError(t, err)

	assert.Equal(t, "rsa", cfg.Config.Keys.Algorithm)
	assert.Equal(t, 2048, cfg.Config.Keys.Size)
	assert.Equal(t, 365, cfg.Config.Licensing.DefaultValidityDays)
	assert.Len(t, cfg.Config.VaultSecret, 64)
	assert.Len(t, cfg.GetEncryptionKey(), 32)
	assert.Equal(t, filepath.Join(dataDir, "licensor.db"), cfg.GetDatabasePath())

	timing := (&stack{cfg: cfg}).timing()
	assert.Equal(t, 72*time.Hour, timing.HeartbeatStaleness)
	assert.Equal(t, 15*time.Minute, timing.SlotStaleness)
	assert.Equal(t, 5*time.Minute, timing.Interval)
}

func TestGenerateConfigKeepsExistingVaultSecret(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "prod.toml")
	existing := "vaultSecret = \"production-secret\"\n"
	require.NoError(t, os.WriteFile(configPath, []byte(existing), 0600))

	output, err := runCommand(t, RunGenerateConfigCommand(), "--config-dir", configPath)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration file already exists at: "+configPath)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, existing, string(content))
}

func TestGenerateConfigRequiresFlagValue(t *testing.T) {
	_, err := runCommand(t, RunGenerateConfigCommand(), "--config-dir")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag needs an argument")
}
