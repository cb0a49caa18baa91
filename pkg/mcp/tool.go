// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"fmt"

	"github.com/teradata-labs/treadle/pkg/dispatch"
)

// proxyTool adapts one discovered MCP tool to the dispatch Tool
// interface. Execution flows back through the manager so server
// reconnects stay transparent to the registry.
type proxyTool struct {
	manager *Manager
	server  string
	tool    string
	id      string
	info    ToolInfo
	schema  *dispatch.JSONSchema
}

func newProxyTool(manager *Manager, server, tool string, info ToolInfo) *proxyTool {
	var schema *dispatch.JSONSchema
	if len(info.InputSchema) > 0 {
		if parsed, err := dispatch.SchemaFromJSON(info.InputSchema); err == nil {
			schema = parsed
		}
	}
	return &proxyTool{
		manager: manager,
		server:  server,
		tool:    tool,
		id:      MakeActionID(server, tool),
		info:    info,
		schema:  schema,
	}
}

func (t *proxyTool) Name() string { return t.id }

func (t *proxyTool) Description() string {
	desc := t.info.Description
	if len(desc) > 80 {
		desc = desc[:80]
	}
	return fmt.Sprintf("%s (MCP:%s)", desc, t.server)
}

func (t *proxyTool) InputSchema() *dispatch.JSONSchema { return t.schema }

// SideEffects drives permission inference: safe read-only prefixes
// resolve to allow, everything else reaches the network and asks.
func (t *proxyTool) SideEffects() []string {
	if isSafeTool(t.tool) {
		return []string{"none"}
	}
	return []string{"network_io"}
}

func (t *proxyTool) Backend() string { return dispatch.BackendMCP }

func (t *proxyTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	output, err := t.manager.Call(ctx, t.server, t.tool, inputs)
	if err != nil {
		return dispatch.Failed(dispatch.NewError(t.id, dispatch.KindToolError, err.Error())), nil
	}
	return dispatch.OK(output), nil
}
