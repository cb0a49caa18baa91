// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/dispatch"
)

// newTestManager starts a manager over a temp config with fake
// transports: "n8n" serves two tools, "web" serves a safe search tool,
// and "down" always fails to dial.
func newTestManager(t *testing.T, registry *dispatch.Registry) *Manager {
	t.Helper()
	path := writeConfigFile(t, `{
		"servers": {
			"n8n":  {"transport": "stdio", "command": "fake"},
			"web":  {"transport": "sse", "url": "http://fake"},
			"down": {"transport": "stdio", "command": "fake"},
			"off":  {"transport": "stdio", "command": "fake", "disabled": true}
		}
	}`)

	m := NewManager(Options{ConfigPath: path, Registry: registry, Logger: zaptest.NewLogger(t)})
	m.dialFor = func(name string, cfg ServerConfig) (Transport, error) {
		echo := func(tool string, args map[string]any) callToolResult {
			encoded, _ := json.Marshal(args)
			return callToolResult{Content: []contentPart{
				{Type: "text", Text: fmt.Sprintf("%s:%s", tool, encoded)},
			}}
		}
		switch name {
		case "n8n":
			return newFakeServer([]ToolInfo{
				{Name: "search-nodes", Description: "search workflow nodes", InputSchema: searchSchema()},
				{Name: "create_workflow", Description: "create a workflow"},
			}, echo), nil
		case "web":
			return newFakeServer([]ToolInfo{
				{Name: "websearch", Description: "web search"},
			}, echo), nil
		}
		return nil, fmt.Errorf("dial %s: connection refused", name)
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestManager_StartDropsFailedAndDisabled(t *testing.T) {
	m := newTestManager(t, nil)

	status := m.Status()
	assert.Equal(t, true, status["started"])
	servers := status["servers"].(map[string]any)
	assert.Contains(t, servers, "n8n")
	assert.Contains(t, servers, "web")
	assert.NotContains(t, servers, "down", "failed connects are dropped")
	assert.NotContains(t, servers, "off", "disabled servers are skipped")
	assert.Equal(t, 3, m.ToolCount())
}

func TestManager_CallAndCallByAction(t *testing.T) {
	m := newTestManager(t, nil)

	out, err := m.Call(context.Background(), "N8N", "search-nodes",
		map[string]any{"search_query": "slack"})
	require.NoError(t, err)
	assert.Contains(t, out, "search-nodes:")
	assert.Contains(t, out, "slack")

	out, err = m.CallByAction(context.Background(), "MCP.WEB.WEBSEARCH.v1",
		map[string]any{"q": "golang"})
	require.NoError(t, err)
	assert.Contains(t, out, "websearch:")

	_, err = m.Call(context.Background(), "ghost", "x", nil)
	assert.ErrorContains(t, err, "not found")
	_, err = m.CallByAction(context.Background(), "FS.READ.v1", nil)
	assert.ErrorContains(t, err, "invalid mcp action id")
}

func TestManager_Projections(t *testing.T) {
	m := newTestManager(t, nil)

	aliases := m.Aliases()
	assert.Equal(t, "MCP.N8N.SEARCH_NODES.v1", aliases["mcp_n8n_search-nodes"])
	assert.Equal(t, "MCP.WEB.WEBSEARCH.v1", aliases["mcp_websearch"])

	descriptions := m.Descriptions()
	assert.Equal(t, "search workflow nodes (MCP:n8n)", descriptions["MCP.N8N.SEARCH_NODES.v1"])

	perms := m.Permissions()
	assert.Equal(t, dispatch.LevelAllow, perms["MCP.WEB.WEBSEARCH.v1"],
		"safe read-only prefixes run free")
	assert.Equal(t, dispatch.LevelAsk, perms["MCP.N8N.CREATE_WORKFLOW.v1"])
}

func TestManager_PromptSurfaces(t *testing.T) {
	m := newTestManager(t, nil)

	menu := m.ToolListForPrompt(30)
	assert.Contains(t, menu, "MCP.N8N.SEARCH_NODES.v1")
	assert.Contains(t, menu, "server=web, tool=websearch")
	assert.Len(t, strings.Split(menu, "\n"), 3)

	capped := m.ToolListForPrompt(1)
	assert.Len(t, strings.Split(capped, "\n"), 1)

	examples := m.IntentExamples(2)
	lines := strings.Split(examples, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, examples, `"mcp_server":"n8n"`)
	assert.Contains(t, examples, `"tool":"mcp"`)
}

func TestManager_RegistrySync(t *testing.T) {
	registry := dispatch.NewRegistry()
	m := newTestManager(t, registry)

	ids := registry.ListByBackend(dispatch.BackendMCP)
	assert.Equal(t, []string{
		"MCP.N8N.CREATE_WORKFLOW.v1",
		"MCP.N8N.SEARCH_NODES.v1",
		"MCP.WEB.WEBSEARCH.v1",
	}, ids)

	// Execution flows through the proxy back to the fake server.
	tool, ok := registry.Get("MCP.N8N.SEARCH_NODES.v1")
	require.True(t, ok)
	assert.Equal(t, dispatch.BackendMCP, tool.Backend())
	result, err := tool.Execute(context.Background(), map[string]any{"search_query": "x"})
	require.NoError(t, err)
	assert.False(t, result.IsError())
	assert.Contains(t, result.Output, "search-nodes:")

	// Safe tools infer allow from side effects, mutating ones ask.
	safe, _ := registry.Get("MCP.WEB.WEBSEARCH.v1")
	assert.Equal(t, []string{"none"}, safe.SideEffects())
	assert.Equal(t, []string{"network_io"}, tool.SideEffects())

	// Aliases resolve through the dispatch table after sync.
	assert.Equal(t, "MCP.WEB.WEBSEARCH.v1", dispatch.ResolveAlias("mcp_websearch"))

	// Disabling a server atomically drops its tools from the registry.
	_, err = m.Disable("n8n")
	require.NoError(t, err)
	ids = registry.ListByBackend(dispatch.BackendMCP)
	assert.Equal(t, []string{"MCP.WEB.WEBSEARCH.v1"}, ids)
}

func TestManager_EnableDisableRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	msg, err := m.Disable("N8N")
	require.NoError(t, err)
	assert.Contains(t, msg, "disabled")
	assert.Equal(t, 1, m.ToolCount())

	servers, err := LoadServerConfigs(m.path)
	require.NoError(t, err)
	assert.True(t, servers["n8n"].Disabled)

	msg, err = m.Enable(context.Background(), "n8n")
	require.NoError(t, err)
	assert.Contains(t, msg, "enabled and connected (2 tools)")
	assert.Equal(t, 3, m.ToolCount())

	_, err = m.Enable(context.Background(), "n8n")
	assert.ErrorContains(t, err, "already enabled")
	_, err = m.Disable("ghost")
	assert.ErrorContains(t, err, "not found")
}

func TestManager_AddRemoveRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	// The fake dialer refuses unknown names, so add reports the failure
	// but the config entry sticks.
	msg, err := m.Add(context.Background(), "extra",
		ServerConfig{Transport: TransportSSE, URL: "http://extra"})
	require.NoError(t, err)
	assert.Contains(t, msg, "connection failed")

	servers, err := LoadServerConfigs(m.path)
	require.NoError(t, err)
	assert.Contains(t, servers, "extra")

	_, err = m.Add(context.Background(), "extra", ServerConfig{Transport: TransportSSE, URL: "http://x"})
	assert.ErrorContains(t, err, "already exists")

	_, err = m.Add(context.Background(), "bad", ServerConfig{Transport: TransportStdio})
	assert.ErrorContains(t, err, "requires command")
	_, err = m.Add(context.Background(), "bad", ServerConfig{Transport: "carrier_pigeon"})
	assert.ErrorContains(t, err, "unknown transport")

	msg, err = m.Remove("EXTRA")
	require.NoError(t, err)
	assert.Contains(t, msg, "removed")
	servers, err = LoadServerConfigs(m.path)
	require.NoError(t, err)
	assert.NotContains(t, servers, "extra")

	_, err = m.Remove("extra")
	assert.ErrorContains(t, err, "not found")
}
