// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the Treadle data directory.
//
// Priority:
// 1. TREADLE_ROOT environment variable (if set and non-empty)
// 2. ~/.treadle (default)
//
// The returned path is always absolute. Tilde (~) in TREADLE_ROOT is
// expanded to the user's home directory; relative paths are made absolute.
//
// This reads directly from os.Getenv() so it can run before any config
// state is loaded (the state file itself lives under this directory).
func GetDataDir() string {
	if dataDir := os.Getenv(EnvRoot); dataDir != "" {
		return expandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".treadle"
	}
	return filepath.Join(homeDir, ".treadle")
}

// GetWorkDir returns the agent's working tree. Every file the runtime
// writes on the agent's behalf lives under it, and the path sandbox
// confines file actions to it.
func GetWorkDir() string {
	return filepath.Join(GetDataDir(), "work")
}

// GetMemoryDir returns the stream store directory (work/memory).
func GetMemoryDir() string {
	return filepath.Join(GetWorkDir(), "memory")
}

// GetScriptsDir returns the execution scratchpad (work/scripts).
func GetScriptsDir() string {
	return filepath.Join(GetWorkDir(), "scripts")
}

// GetUtilsDir returns the saved-utility directory (work/scripts/utils).
func GetUtilsDir() string {
	return filepath.Join(GetScriptsDir(), "utils")
}

// GetUtilsManifestPath returns the saved-utility manifest file.
func GetUtilsManifestPath() string {
	return filepath.Join(GetUtilsDir(), "manifest.json")
}

// GetVenvsDir returns the virtual-environment directory (work/venvs).
func GetVenvsDir() string {
	return filepath.Join(GetWorkDir(), "venvs")
}

// GetQueueDir returns the file job queue root (work/queue).
func GetQueueDir() string {
	return filepath.Join(GetWorkDir(), "queue")
}

// GetTrashDir returns the soft-delete target (work/.trash).
func GetTrashDir() string {
	return filepath.Join(GetWorkDir(), ".trash")
}

// GetProjectsDir returns where scaffolded projects land (work/projects).
func GetProjectsDir() string {
	return filepath.Join(GetWorkDir(), "projects")
}

// GetLogsDir returns the runtime log directory (work/logs).
func GetLogsDir() string {
	return filepath.Join(GetWorkDir(), "logs")
}

// GetToolpacksDir returns the toolpack root under the data directory.
func GetToolpacksDir() string {
	return filepath.Join(GetDataDir(), "toolpacks")
}

// GetManifestPath returns the tier-0 tool manifest file.
func GetManifestPath() string {
	return filepath.Join(GetToolpacksDir(), "tier0", "manifest.json")
}

// GetGenesisSrcDir returns where self-authored tool sources are staged.
func GetGenesisSrcDir() string {
	return filepath.Join(GetToolpacksDir(), "runtime_genesis", "src")
}

// GetPluginsDir returns where compiled self-authored tools are installed.
func GetPluginsDir() string {
	return filepath.Join(GetToolpacksDir(), "runtime_plugins")
}

// GetToolhostPath returns the native tool-host binary.
func GetToolhostPath() string {
	return filepath.Join(GetDataDir(), "build", "treadle_toolhost")
}

// GetMCPServersPath returns the external MCP server config file.
func GetMCPServersPath() string {
	return filepath.Join(GetDataDir(), "mcp_servers.json")
}

// GetStatePath returns the persisted runtime config file.
func GetStatePath() string {
	return filepath.Join(GetWorkDir(), "config_state.json")
}

// EnsureLayout creates the full on-disk layout, idempotently.
func EnsureLayout() error {
	dirs := []string{
		GetMemoryDir(),
		GetScriptsDir(),
		GetUtilsDir(),
		GetVenvsDir(),
		GetQueueDir(),
		GetTrashDir(),
		GetProjectsDir(),
		GetLogsDir(),
		filepath.Dir(GetManifestPath()),
		GetGenesisSrcDir(),
		GetPluginsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
