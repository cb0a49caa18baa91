// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxOutputBytes caps tool output fed back into conversation history.
const maxOutputBytes = 1 << 20

// Connection is one live MCP server: its transport, RPC client and the
// tool table discovered at connect time.
type Connection struct {
	name   string
	cfg    ServerConfig
	logger *zap.Logger

	// dial overrides the transport constructor in tests.
	dial func() (Transport, error)

	rpc       *rpcClient
	tools     map[string]ToolInfo
	connected bool
}

// NewConnection prepares a connection; Connect does the work.
func NewConnection(name string, cfg ServerConfig, logger *zap.Logger) *Connection {
	return &Connection{
		name:   name,
		cfg:    cfg.ResolveEnvRefs(),
		logger: logger.With(zap.String("mcp_server", name)),
		tools:  map[string]ToolInfo{},
	}
}

// Connect starts the transport, performs the MCP handshake and lists
// the server's tools.
func (c *Connection) Connect(ctx context.Context) error {
	dial := c.dial
	if dial == nil {
		dial = func() (Transport, error) { return newTransport(c.name, c.cfg, c.logger) }
	}
	transport, err := dial()
	if err != nil {
		return err
	}
	rpc := newRPCClient(transport, c.logger)

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      implementation{Name: "treadle", Version: "1.0"},
	}
	raw, err := rpc.Call(ctx, "initialize", params)
	if err != nil {
		_ = rpc.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	var initResult initializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		_ = rpc.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if err := rpc.Notify(ctx, "notifications/initialized", nil); err != nil {
		_ = rpc.Close()
		return fmt.Errorf("initialized notification: %w", err)
	}

	raw, err = rpc.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		_ = rpc.Close()
		return fmt.Errorf("tools/list: %w", err)
	}
	var listed toolsListResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		_ = rpc.Close()
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.rpc = rpc
	c.tools = make(map[string]ToolInfo, len(listed.Tools))
	for _, tool := range listed.Tools {
		c.tools[tool.Name] = tool
	}
	c.connected = true
	c.logger.Info("mcp server connected",
		zap.String("server_impl", initResult.ServerInfo.Name),
		zap.Int("tools", len(c.tools)))
	return nil
}

// Connected reports whether the handshake succeeded.
func (c *Connection) Connected() bool { return c.connected }

// Tools returns the discovered tool table.
func (c *Connection) Tools() map[string]ToolInfo { return c.tools }

// ToolNames returns the discovered tool names, sorted.
func (c *Connection) ToolNames() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveToolName maps a possibly mangled tool name to the server's
// actual one. Models routinely uppercase names, swap separators or
// prepend the server name; exact match, case-insensitive match,
// sanitized match and prefix-stripped sanitized match are tried in
// order.
func (c *Connection) resolveToolName(name string) (string, bool) {
	if _, ok := c.tools[name]; ok {
		return name, true
	}
	upper := strings.ToUpper(name)
	for t := range c.tools {
		if strings.ToUpper(t) == upper {
			return t, true
		}
	}
	for t := range c.tools {
		if SanitizeName(t) == upper {
			return t, true
		}
	}
	clean := upper
	for _, prefix := range []string{
		"MCP_" + SanitizeName(c.name) + "_",
		SanitizeName(c.name) + "_",
		"MCP_",
	} {
		if strings.HasPrefix(clean, prefix) {
			clean = clean[len(prefix):]
			break
		}
	}
	for t := range c.tools {
		if SanitizeName(t) == clean {
			return t, true
		}
	}
	return "", false
}

// normalizeArguments maps common alias keys onto the schema's actual
// property names, so a model that says "query" still reaches a tool
// whose schema wants "search_query".
func (c *Connection) normalizeArguments(toolName string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	props := c.schemaProperties(toolName)
	if props == nil {
		return out
	}

	aliasInto(out, props, "search_query", "query", "q", "keyword", "text")
	aliasInto(out, props, "url", "link", "uri", "href")
	return out
}

func aliasInto(args map[string]any, props map[string]json.RawMessage, canonical string, aliases ...string) {
	if _, schemaHas := props[canonical]; !schemaHas {
		return
	}
	if strings.TrimSpace(stringValue(args[canonical])) != "" {
		return
	}
	for _, alias := range aliases {
		if v := strings.TrimSpace(stringValue(args[alias])); v != "" {
			args[canonical] = args[alias]
			return
		}
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// schemaProperties returns the parsed properties block of a tool's
// input schema, nil when the schema is absent or malformed.
func (c *Connection) schemaProperties(toolName string) map[string]json.RawMessage {
	info, ok := c.tools[toolName]
	if !ok || len(info.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(info.InputSchema, &schema); err != nil {
		return nil
	}
	return schema.Properties
}

// missingRequired lists required schema keys that are absent or blank.
func (c *Connection) missingRequired(toolName string, args map[string]any) []string {
	info, ok := c.tools[toolName]
	if !ok || len(info.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(info.InputSchema, &schema); err != nil {
		return nil
	}
	var missing []string
	for _, key := range schema.Required {
		if strings.TrimSpace(stringValue(args[key])) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// CallTool invokes one tool and renders its content as text. The
// returned error covers transport and protocol failures as well as
// results the server flags with isError.
func (c *Connection) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	if !c.connected || c.rpc == nil {
		return "", fmt.Errorf("mcp server %q not connected", c.name)
	}
	actual, ok := c.resolveToolName(toolName)
	if !ok {
		return "", fmt.Errorf("tool %q not found on mcp server %q (known: %s)",
			toolName, c.name, strings.Join(c.ToolNames(), ", "))
	}

	args = c.normalizeArguments(actual, args)
	if missing := c.missingRequired(actual, args); len(missing) > 0 {
		if len(missing) > 5 {
			missing = missing[:5]
		}
		return "", fmt.Errorf("missing required args for %s.%s: %s",
			c.name, actual, strings.Join(missing, ", "))
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout())
	defer cancel()
	raw, err := c.rpc.Call(callCtx, "tools/call", callToolParams{Name: actual, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp call %s.%s: %w", c.name, actual, err)
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse %s.%s result: %w", c.name, actual, err)
	}

	output := renderContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp tool error [%s.%s]: %s", c.name, actual, output)
	}
	if output == "" {
		return "(no output from MCP tool)", nil
	}
	return output, nil
}

// renderContent joins text parts, marks binary parts by size and
// truncates only genuinely massive output.
func renderContent(parts []contentPart) string {
	rendered := make([]string, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Text != "":
			rendered = append(rendered, part.Text)
		case part.Data != "":
			rendered = append(rendered, fmt.Sprintf("[binary data: %d bytes]", len(part.Data)))
		}
	}
	output := strings.Join(rendered, "\n")
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...(MCP output truncated)"
	}
	return output
}

// Disconnect closes the RPC client and transport.
func (c *Connection) Disconnect() {
	c.connected = false
	if c.rpc != nil {
		if err := c.rpc.Close(); err != nil {
			c.logger.Debug("mcp disconnect cleanup", zap.Error(err))
		}
		c.rpc = nil
	}
	c.logger.Info("mcp server disconnected")
}
