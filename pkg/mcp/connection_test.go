// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeServerTransport plays the server side of the protocol in memory:
// it answers initialize, tools/list and tools/call from a canned tool
// table.
type fakeServerTransport struct {
	tools  []ToolInfo
	onCall func(name string, args map[string]any) callToolResult

	replies   chan []byte
	closeOnce sync.Once
}

func newFakeServer(tools []ToolInfo, onCall func(string, map[string]any) callToolResult) *fakeServerTransport {
	return &fakeServerTransport{
		tools:   tools,
		onCall:  onCall,
		replies: make(chan []byte, 16),
	}
}

func (f *fakeServerTransport) Send(ctx context.Context, message []byte) error {
	var req request
	if err := json.Unmarshal(message, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil // notification
	}
	reply := func(result any) {
		raw, _ := json.Marshal(result)
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": jsonrpcVersion,
			"id":      *req.ID,
			"result":  json.RawMessage(raw),
		})
		f.replies <- data
	}
	switch req.Method {
	case "initialize":
		reply(initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      implementation{Name: "fake", Version: "0.1"},
		})
	case "tools/list":
		reply(toolsListResult{Tools: f.tools})
	case "tools/call":
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return err
		}
		reply(f.onCall(params.Name, params.Arguments))
	default:
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": jsonrpcVersion,
			"id":      *req.ID,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
		f.replies <- data
	}
	return nil
}

func (f *fakeServerTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-f.replies:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (f *fakeServerTransport) Close() error {
	f.closeOnce.Do(func() { close(f.replies) })
	return nil
}

func searchSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"search_query": {"type": "string"}, "limit": {"type": "integer"}},
		"required": ["search_query"]
	}`)
}

func newTestConnection(t *testing.T, onCall func(string, map[string]any) callToolResult) *Connection {
	t.Helper()
	if onCall == nil {
		onCall = func(name string, args map[string]any) callToolResult {
			return callToolResult{Content: []contentPart{{Type: "text", Text: "ok"}}}
		}
	}
	tools := []ToolInfo{
		{Name: "search-nodes", Description: "search workflow nodes", InputSchema: searchSchema()},
		{Name: "fetch_page", Description: "fetch a page", InputSchema: json.RawMessage(
			`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)},
	}
	conn := NewConnection("n8n", ServerConfig{Transport: TransportStdio, Command: "fake"},
		zaptest.NewLogger(t))
	conn.dial = func() (Transport, error) {
		return newFakeServer(tools, onCall), nil
	}
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(conn.Disconnect)
	return conn
}

func TestConnection_ConnectDiscoversTools(t *testing.T) {
	conn := newTestConnection(t, nil)
	assert.True(t, conn.Connected())
	assert.Equal(t, []string{"fetch_page", "search-nodes"}, conn.ToolNames())
}

func TestConnection_DialFailure(t *testing.T) {
	conn := NewConnection("down", ServerConfig{}, zaptest.NewLogger(t))
	conn.dial = func() (Transport, error) { return nil, fmt.Errorf("spawn failed") }
	err := conn.Connect(context.Background())
	assert.ErrorContains(t, err, "spawn failed")
	assert.False(t, conn.Connected())
}

func TestResolveToolName(t *testing.T) {
	conn := newTestConnection(t, nil)

	cases := map[string]string{
		"search-nodes":         "search-nodes", // exact
		"SEARCH-NODES":         "search-nodes", // case-insensitive
		"SEARCH_NODES":         "search-nodes", // sanitized
		"search_nodes":         "search-nodes",
		"MCP_N8N_SEARCH_NODES": "search-nodes", // server prefix stripped
		"N8N_SEARCH_NODES":     "search-nodes",
		"MCP_FETCH_PAGE":       "fetch_page",
	}
	for input, want := range cases {
		got, ok := conn.resolveToolName(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}

	_, ok := conn.resolveToolName("does_not_exist")
	assert.False(t, ok)
}

func TestNormalizeArguments(t *testing.T) {
	conn := newTestConnection(t, nil)

	args := conn.normalizeArguments("search-nodes", map[string]any{"query": "webhooks"})
	assert.Equal(t, "webhooks", args["search_query"])

	// A populated canonical key is never overwritten.
	args = conn.normalizeArguments("search-nodes",
		map[string]any{"search_query": "keep", "query": "drop"})
	assert.Equal(t, "keep", args["search_query"])

	args = conn.normalizeArguments("fetch_page", map[string]any{"link": "http://x"})
	assert.Equal(t, "http://x", args["url"])

	// Tools without the canonical property are untouched.
	args = conn.normalizeArguments("fetch_page", map[string]any{"query": "q"})
	_, has := args["search_query"]
	assert.False(t, has)
}

func TestCallTool_Success(t *testing.T) {
	var gotName string
	var gotArgs map[string]any
	conn := newTestConnection(t, func(name string, args map[string]any) callToolResult {
		gotName, gotArgs = name, args
		return callToolResult{Content: []contentPart{
			{Type: "text", Text: "line one"},
			{Type: "text", Text: "line two"},
		}}
	})

	out, err := conn.CallTool(context.Background(), "SEARCH_NODES", map[string]any{"query": "slack"})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out)
	assert.Equal(t, "search-nodes", gotName, "fuzzy name resolved before the wire call")
	assert.Equal(t, "slack", gotArgs["search_query"], "alias key normalized before the wire call")
}

func TestCallTool_MissingRequiredArgs(t *testing.T) {
	conn := newTestConnection(t, nil)
	_, err := conn.CallTool(context.Background(), "search-nodes", map[string]any{"limit": 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required args")
	assert.Contains(t, err.Error(), "search_query")
}

func TestCallTool_ServerFlaggedError(t *testing.T) {
	conn := newTestConnection(t, func(string, map[string]any) callToolResult {
		return callToolResult{
			Content: []contentPart{{Type: "text", Text: "index unavailable"}},
			IsError: true,
		}
	})
	_, err := conn.CallTool(context.Background(), "search-nodes", map[string]any{"search_query": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp tool error")
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestCallTool_UnknownToolAndDisconnected(t *testing.T) {
	conn := newTestConnection(t, nil)
	_, err := conn.CallTool(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, "not found")

	conn.Disconnect()
	_, err = conn.CallTool(context.Background(), "search-nodes", map[string]any{"search_query": "x"})
	assert.ErrorContains(t, err, "not connected")
}

func TestCallTool_EmptyOutput(t *testing.T) {
	conn := newTestConnection(t, func(string, map[string]any) callToolResult {
		return callToolResult{}
	})
	out, err := conn.CallTool(context.Background(), "search-nodes", map[string]any{"search_query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "(no output from MCP tool)", out)
}

func TestRenderContent(t *testing.T) {
	out := renderContent([]contentPart{
		{Type: "text", Text: "hello"},
		{Type: "image", Data: "aGVsbG8="},
	})
	assert.Equal(t, "hello\n[binary data: 8 bytes]", out)

	// Only genuinely massive output is truncated.
	big := strings.Repeat("x", maxOutputBytes+10)
	out = renderContent([]contentPart{{Type: "text", Text: big}})
	assert.Len(t, out, maxOutputBytes+len("\n...(MCP output truncated)"))
	assert.True(t, strings.HasSuffix(out, "(MCP output truncated)"))

	small := renderContent([]contentPart{{Type: "text", Text: "fits"}})
	assert.Equal(t, "fits", small)
}
