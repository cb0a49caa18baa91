// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/config"
)

// stubTool is a configurable Tool for dispatcher tests.
type stubTool struct {
	name        string
	schema      *JSONSchema
	sideEffects []string
	backend     string
	execute     func(ctx context.Context, inputs map[string]interface{}) (*Result, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub" }
func (s *stubTool) InputSchema() *JSONSchema { return s.schema }
func (s *stubTool) SideEffects() []string    { return s.sideEffects }

func (s *stubTool) Backend() string {
	if s.backend == "" {
		return BackendLocal
	}
	return s.backend
}

func (s *stubTool) Execute(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	if s.execute != nil {
		return s.execute(ctx, inputs)
	}
	return OK("stub output"), nil
}

func newTestDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	// Point the host at a path that never exists so unknown actions
	// fall through to not_found.
	host := NewHost(t.TempDir()+"/missing_toolhost", t.TempDir(), zaptest.NewLogger(t))
	return NewDispatcher(DispatcherOptions{
		Registry: reg,
		Host:     host,
		Logger:   zaptest.NewLogger(t),
	})
}

func TestRegistry_Basics(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: ActionFSRead}))
	require.NoError(t, reg.Register(&stubTool{name: ActionShellExec, backend: BackendToolhost}))

	assert.Error(t, reg.Register(&stubTool{name: "not-a-valid-id"}))

	tool, ok := reg.Get(ActionFSRead)
	require.True(t, ok)
	assert.Equal(t, ActionFSRead, tool.Name())

	assert.True(t, reg.IsRegistered(ActionShellExec))
	assert.False(t, reg.IsRegistered("NOPE.v1"))
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{ActionFSRead, ActionShellExec}, reg.List())
	assert.Equal(t, []string{ActionShellExec}, reg.ListByBackend(BackendToolhost))

	reg.Unregister(ActionFSRead)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_ReplacePrefix(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "MCP.OLD.PING.v1", backend: BackendMCP}))
	require.NoError(t, reg.Register(&stubTool{name: ActionFSRead}))

	reg.ReplacePrefix("MCP.OLD.", []Tool{
		&stubTool{name: "MCP.OLD.ECHO.v1", backend: BackendMCP},
	})

	assert.False(t, reg.IsRegistered("MCP.OLD.PING.v1"))
	assert.True(t, reg.IsRegistered("MCP.OLD.ECHO.v1"))
	assert.True(t, reg.IsRegistered(ActionFSRead), "other prefixes untouched")
}

func TestDispatcher_Execute(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	d := newTestDispatcher(t, &stubTool{name: ActionFSRead})

	result := d.Execute(context.Background(), ActionFSRead,
		map[string]interface{}{"path": "a.txt"}, ExecOptions{})
	require.False(t, result.IsError())
	assert.Equal(t, "stub output", result.Output)
	assert.GreaterOrEqual(t, result.ElapsedMs, int64(0))
}

func TestDispatcher_ResolvesAliases(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	d := newTestDispatcher(t, &stubTool{name: ActionFSRead})

	result := d.Execute(context.Background(), "read_file", nil, ExecOptions{})
	assert.False(t, result.IsError())

	result = d.Execute(context.Background(), "AID.FILE.READ.v1", nil, ExecOptions{})
	assert.False(t, result.IsError())
}

func TestDispatcher_PermissionDeny(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "locked")
	d := newTestDispatcher(t, &stubTool{name: ActionShellExec})

	result := d.Execute(context.Background(), ActionShellExec,
		map[string]interface{}{"cmd": "ls"}, ExecOptions{})
	require.True(t, result.IsError())
	assert.Equal(t, KindToolError, result.Error.Kind)
	assert.Contains(t, result.Error.Detail, "permission denied")
	assert.Contains(t, result.Error.Detail, "mode=locked")
}

func TestDispatcher_AskRequiresApproval(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	t.Setenv(config.EnvAutonomicAutoApprove, "0")
	d := newTestDispatcher(t, &stubTool{name: ActionShellExec})

	unattended := d.Execute(context.Background(), ActionShellExec,
		map[string]interface{}{"cmd": "ls"}, ExecOptions{})
	require.True(t, unattended.IsError())
	assert.Equal(t, KindApprovalRequired, unattended.Error.Kind)

	approved := d.Execute(context.Background(), ActionShellExec,
		map[string]interface{}{"cmd": "ls"}, ExecOptions{CallerApproved: true})
	assert.False(t, approved.IsError())
}

func TestDispatcher_AutoApprovedProbe(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	d := newTestDispatcher(t, &stubTool{name: ActionHTTPGet})

	// NET.HTTP_GET is ask-level but in the safe probe set.
	result := d.Execute(context.Background(), ActionHTTPGet,
		map[string]interface{}{"url": "http://example.com"}, ExecOptions{})
	assert.False(t, result.IsError())
}

func TestDispatcher_UnknownAction(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	d := newTestDispatcher(t, &stubTool{name: ActionFSRead})

	result := d.Execute(context.Background(), "FS.RED.v1", nil, ExecOptions{})
	require.True(t, result.IsError())
	assert.Equal(t, KindNotFound, result.Error.Kind)
	assert.Contains(t, result.Error.Detail, "did you mean")
	assert.Contains(t, result.Error.Detail, ActionFSRead)
}

func TestDispatcher_SchemaValidation(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	var got map[string]interface{}
	tool := &stubTool{
		name: ActionFSRead,
		schema: NewObjectSchema("", map[string]*JSONSchema{
			"path":      NewStringSchema(""),
			"max_bytes": NewNumberSchema(""),
		}, []string{"path"}),
		execute: func(_ context.Context, inputs map[string]interface{}) (*Result, error) {
			got = inputs
			return OK("ok"), nil
		},
	}
	d := newTestDispatcher(t, tool)

	missing := d.Execute(context.Background(), ActionFSRead,
		map[string]interface{}{"max_bytes": 10}, ExecOptions{})
	require.True(t, missing.IsError())
	assert.Equal(t, KindInvalidInput, missing.Error.Kind)

	// camelCase keys land on the schema's snake_case spelling.
	ok := d.Execute(context.Background(), ActionFSRead,
		map[string]interface{}{"Path": "a.txt", "maxBytes": 10}, ExecOptions{})
	require.False(t, ok.IsError())
	assert.Equal(t, "a.txt", got["path"])
	assert.Equal(t, 10, got["max_bytes"])
}

func TestDispatcher_ToolErrorsBecomeStructured(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	tool := &stubTool{
		name: ActionFSRead,
		execute: func(context.Context, map[string]interface{}) (*Result, error) {
			return nil, errors.New("backend connection lost")
		},
	}
	d := newTestDispatcher(t, tool)

	result := d.Execute(context.Background(), ActionFSRead, nil, ExecOptions{})
	require.True(t, result.IsError())
	assert.Equal(t, KindException, result.Error.Kind)
	assert.Contains(t, result.Error.Detail, "backend connection lost")
}

func TestDispatcher_CodeOptionsReachTool(t *testing.T) {
	t.Setenv(config.EnvPermissionMode, "standard")
	var force, allowNet bool
	tool := &stubTool{
		name: ActionCodeExec,
		execute: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			force = ForceCodeFrom(ctx)
			allowNet = AllowNetFrom(ctx)
			return OK("ran"), nil
		},
	}
	d := newTestDispatcher(t, tool)

	d.Execute(context.Background(), ActionCodeExec, nil,
		ExecOptions{CallerApproved: true, ForceCode: true})
	assert.True(t, force)
	assert.False(t, allowNet)

	d.Execute(context.Background(), ActionCodeExec, nil,
		ExecOptions{CallerApproved: true, AllowNet: true})
	assert.False(t, force)
	assert.True(t, allowNet)
}

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 100))

	long := strings.Repeat("x", 2000)
	cut := TruncateOutput(long, 1000)
	assert.True(t, strings.HasSuffix(cut, truncationMarker))
	assert.LessOrEqual(t, len(cut), 1000+len(truncationMarker))

	// Multibyte text cuts on grapheme boundaries, never mid-rune.
	korean := strings.Repeat("안녕하세요", 100) // 3 bytes per rune
	cut = TruncateOutput(korean, 500)
	body := strings.TrimSuffix(cut, truncationMarker)
	assert.True(t, utf8.ValidString(body))
	assert.LessOrEqual(t, len(body), 500)
}

func TestRegistrySideEffects(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{
		name:        "GPU.SMOKE.v1",
		sideEffects: []string{"gpu_probe"},
	}))

	fn := RegistrySideEffects(reg)
	effects, ok := fn("GPU.SMOKE.v1")
	require.True(t, ok)
	assert.Equal(t, []string{"gpu_probe"}, effects)

	_, ok = fn("MISSING.v1")
	assert.False(t, ok)
}
