// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateActionID(t *testing.T) {
	valid := []string{
		"FS.READ.v1",
		"SHELL.EXEC.v2",
		"GENESIS.WRITE_FILE.v1",
		"ERROR_SCAN.v1",
		"MCP.WEATHER.GET_FORECAST.v1",
		"PROC.SELF_METRICS.v12",
	}
	for _, id := range valid {
		assert.NoError(t, ValidateActionID(id), id)
	}

	invalid := []string{
		"",
		"fs.read.v1",
		"FS.READ",
		"FS.READ.V1",
		"FS..READ.v1",
		"1FS.READ.v1",
		"FS.read.v1",
		"FS.READ.v",
	}
	for _, id := range invalid {
		assert.Error(t, ValidateActionID(id), id)
	}
}

func TestResolveAlias(t *testing.T) {
	assert.Equal(t, ActionFSRead, ResolveAlias("read_file"))
	assert.Equal(t, ActionFSRead, ResolveAlias("파일읽기"))
	assert.Equal(t, ActionShellExec, ResolveAlias("run_shell"))
	assert.Equal(t, ActionMemFind, ResolveAlias("search_memory"))

	// Identifiers from old logs normalize to the current form.
	assert.Equal(t, ActionFSRead, ResolveAlias("AID.FILE.READ.v1"))
	assert.Equal(t, ActionMemSave, ResolveAlias("AID.MEMORY.APPEND.v1"))
	assert.Equal(t, ActionWebSearch, ResolveAlias("AID.NET.SEARCH.v1"))
	assert.Equal(t, ActionGPUSmoke, ResolveAlias("AID.GPU_SMOKE.v1"))
	assert.Equal(t, ActionGenesisWriteFile, ResolveAlias("AID.GENESIS.RUN.v1"))

	// Canonical ids and unknown names pass through.
	assert.Equal(t, ActionFSRead, ResolveAlias(ActionFSRead))
	assert.Equal(t, "whatever", ResolveAlias("whatever"))
}

func TestIsMCPAction(t *testing.T) {
	assert.True(t, IsMCPAction("MCP.WEATHER.GET_FORECAST.v1"))
	assert.False(t, IsMCPAction(ActionFSRead))
}

func TestFilterToolsForIntent(t *testing.T) {
	file := FilterToolsForIntent("file")
	assert.Len(t, file, 5, "file intent caps at five")
	assert.Contains(t, file, ActionFSRead)

	memory := FilterToolsForIntent("memory")
	assert.Equal(t, []string{ActionMemFind, ActionMemSave}, memory)

	fallback := FilterToolsForIntent("nonsense")
	assert.Equal(t, []string{ActionShellExec, ActionFSRead, ActionMemFind}, fallback)
}

func TestNormalizeCall(t *testing.T) {
	id, inputs := NormalizeCall(map[string]interface{}{
		"tool": "read_file",
		"args": map[string]interface{}{"path": "a.txt"},
	})
	assert.Equal(t, ActionFSRead, id)
	assert.Equal(t, "a.txt", inputs["path"])

	// Some models send args as a JSON string.
	id, inputs = NormalizeCall(map[string]interface{}{
		"tool": "run_shell",
		"args": `{"cmd": "ls"}`,
	})
	assert.Equal(t, ActionShellExec, id)
	assert.Equal(t, "ls", inputs["cmd"])

	id, inputs = NormalizeCall(map[string]interface{}{
		"pick":             "FS.WRITE.v1",
		"input_patch_json": `{"path": "work/x.txt", "content": "hi"}`,
	})
	assert.Equal(t, ActionFSWrite, id)
	assert.Equal(t, "hi", inputs["content"])

	id, inputs = NormalizeCall(map[string]interface{}{
		"action_id": "AID.CODE.EXEC.v1",
		"inputs":    map[string]interface{}{"lang": "python"},
	})
	assert.Equal(t, ActionCodeExec, id)
	assert.Equal(t, "python", inputs["lang"])

	id, inputs = NormalizeCall(map[string]interface{}{"garbage": true})
	assert.Equal(t, "", id)
	assert.NotNil(t, inputs)
}

func TestSuggest(t *testing.T) {
	known := []string{ActionFSRead, ActionFSWrite, ActionShellExec}
	suggestions := Suggest("FS.RED.v1", known)
	require.NotEmpty(t, suggestions)
	assert.Contains(t, suggestions, ActionFSRead)
	assert.LessOrEqual(t, len(suggestions), 3)
}

func TestDescribe(t *testing.T) {
	assert.NotEmpty(t, Describe(ActionShellExec))
	assert.Empty(t, Describe("NOPE.v1"))
}

func TestMergeAliases(t *testing.T) {
	MergeAliases("mcp_old_", "MCP.OLD.", map[string]string{
		"mcp_old_ping": "MCP.OLD.PING.v1",
	}, map[string]string{
		"MCP.OLD.PING.v1": "ping the old server",
	})
	assert.Equal(t, "MCP.OLD.PING.v1", ResolveAlias("mcp_old_ping"))
	assert.Equal(t, "ping the old server", Describe("MCP.OLD.PING.v1"))

	// Replacing the prefix drops stale entries.
	MergeAliases("mcp_old_", "MCP.OLD.", map[string]string{
		"mcp_old_echo": "MCP.OLD.ECHO.v1",
	}, map[string]string{
		"MCP.OLD.ECHO.v1": "echo",
	})
	assert.Equal(t, "mcp_old_ping", ResolveAlias("mcp_old_ping"), "stale alias removed")
	assert.Empty(t, Describe("MCP.OLD.PING.v1"))
	assert.Equal(t, "MCP.OLD.ECHO.v1", ResolveAlias("mcp_old_echo"))
}
