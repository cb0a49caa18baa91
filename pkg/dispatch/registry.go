// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Backend names for Tool implementations.
const (
	BackendLocal    = "local"    // in-process Go handler
	BackendToolhost = "toolhost" // forwarded to the CLI subprocess
	BackendMCP      = "mcp"      // proxied to an MCP server
)

// Tool is the executable unit behind an action identifier. Local
// handlers, toolhost forwards and MCP proxies all implement it, so the
// executor runs one path regardless of where the work happens.
type Tool interface {
	// Name returns the canonical action identifier (DOMAIN.ACTION.vN).
	Name() string

	// Description returns a short human-readable summary for tool menus.
	Description() string

	// InputSchema returns the JSON Schema for inputs, nil when the
	// action takes anything.
	InputSchema() *JSONSchema

	// SideEffects declares what the action touches (filesystem_write,
	// network_io, proc_exec, ...). The permission engine falls back to
	// these when an identifier has no explicit default.
	SideEffects() []string

	// Execute runs the action. Domain failures are reported in
	// Result.Error; a non-nil error means the infrastructure itself
	// broke (subprocess spawn, connection loss).
	Execute(ctx context.Context, inputs map[string]interface{}) (*Result, error)

	// Backend reports where execution happens: local, toolhost or mcp.
	Backend() string
}

// Result is the outcome of one action execution.
type Result struct {
	// Output is the action's text output, truncated to the output cap.
	Output string

	// Error is set when the action failed; Output may still carry
	// partial output.
	Error *Error

	// Metadata carries action-specific extras (exit codes, paths).
	Metadata map[string]interface{}

	// ElapsedMs is wall-clock execution time.
	ElapsedMs int64
}

// OK wraps a successful output.
func OK(output string) *Result {
	return &Result{Output: output}
}

// Failed wraps a structured error.
func Failed(err *Error) *Result {
	return &Result{Error: err}
}

// IsError reports whether the result carries a failure.
func (r *Result) IsError() bool {
	return r != nil && r.Error != nil
}

// Text renders the result for conversation history: the output on
// success, the error envelope on failure.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if r.Error != nil {
		return r.Error.Text()
	}
	return r.Output
}

// Registry maps action identifiers to tools. Registration happens at
// startup for local handlers and at runtime for manifest and MCP tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register installs a tool under its identifier, replacing any previous
// registration. Identifiers that violate the naming convention are
// rejected.
func (r *Registry) Register(tool Tool) error {
	if err := ValidateActionID(tool.Name()); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Get retrieves a tool by canonical identifier.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// IsRegistered checks whether an identifier has a tool.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// List returns all registered identifiers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListTools returns all registered tools.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// ListByBackend returns the identifiers served by one backend, sorted.
func (r *Registry) ListByBackend(backend string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, tool := range r.tools {
		if tool.Backend() == backend {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Unregister removes one tool.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// ReplacePrefix swaps every tool under an identifier prefix for the
// given set in one critical section. The MCP bridge uses it so a server
// reload never exposes a half-updated tool list.
func (r *Registry) ReplacePrefix(prefix string, tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.tools {
		if strings.HasPrefix(id, prefix) {
			delete(r.tools, id)
		}
	}
	for _, tool := range tools {
		if ValidateActionID(tool.Name()) == nil {
			r.tools[tool.Name()] = tool
		}
	}
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
