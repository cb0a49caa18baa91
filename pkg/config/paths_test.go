// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataDir(t *testing.T) {
	// Save original env var
	originalEnv := os.Getenv(EnvRoot)
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv(EnvRoot, originalEnv)
		} else {
			_ = os.Unsetenv(EnvRoot)
		}
	}()

	t.Run("default to ~/.treadle", func(t *testing.T) {
		_ = os.Unsetenv(EnvRoot)

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, ".treadle"), dataDir)
	})

	t.Run("use TREADLE_ROOT when set", func(t *testing.T) {
		customDir := "/custom/treadle/data"
		_ = os.Setenv(EnvRoot, customDir)

		assert.Equal(t, customDir, GetDataDir())
	})

	t.Run("expand ~ in TREADLE_ROOT", func(t *testing.T) {
		_ = os.Setenv(EnvRoot, "~/custom/.treadle")

		dataDir := GetDataDir()

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, "custom", ".treadle"), dataDir)
	})

	t.Run("make relative path absolute", func(t *testing.T) {
		_ = os.Setenv(EnvRoot, "relative/path")

		dataDir := GetDataDir()

		assert.True(t, filepath.IsAbs(dataDir))
		assert.True(t, strings.HasSuffix(dataDir, "relative/path"))
	})
}

func TestLayoutPaths(t *testing.T) {
	originalEnv := os.Getenv(EnvRoot)
	defer func() {
		if originalEnv != "" {
			_ = os.Setenv(EnvRoot, originalEnv)
		} else {
			_ = os.Unsetenv(EnvRoot)
		}
	}()

	root := "/data/treadle"
	_ = os.Setenv(EnvRoot, root)

	assert.Equal(t, filepath.Join(root, "work"), GetWorkDir())
	assert.Equal(t, filepath.Join(root, "work", "memory"), GetMemoryDir())
	assert.Equal(t, filepath.Join(root, "work", "scripts", "utils", "manifest.json"), GetUtilsManifestPath())
	assert.Equal(t, filepath.Join(root, "work", "config_state.json"), GetStatePath())
	assert.Equal(t, filepath.Join(root, "work", ".trash"), GetTrashDir())
	assert.Equal(t, filepath.Join(root, "toolpacks", "tier0", "manifest.json"), GetManifestPath())
	assert.Equal(t, filepath.Join(root, "mcp_servers.json"), GetMCPServersPath())
}

func TestEnsureLayout(t *testing.T) {
	t.Setenv(EnvRoot, t.TempDir())

	require.NoError(t, EnsureLayout())

	for _, dir := range []string{
		GetMemoryDir(), GetUtilsDir(), GetVenvsDir(), GetQueueDir(),
		GetTrashDir(), GetProjectsDir(), GetLogsDir(),
		GetGenesisSrcDir(), GetPluginsDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	// Idempotent.
	require.NoError(t, EnsureLayout())
}
