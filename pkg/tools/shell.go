// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"al.essio.dev/pkg/shellescape"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/sandbox"
)

// Shell timeout bounds: callers pick within [3s, 30s], default 10s.
const (
	shellTimeoutMin     = 3 * time.Second
	shellTimeoutMax     = 30 * time.Second
	shellTimeoutDefault = 10 * time.Second
)

// ShellTool runs a shell command line under the sandbox runner with the
// data directory as cwd and only work/ writable.
type ShellTool struct {
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewShellTool builds the SHELL.EXEC.v1 handler.
func NewShellTool(opts Options) *ShellTool {
	return &ShellTool{root: opts.Root, runner: opts.Runner, logger: opts.Logger}
}

func (t *ShellTool) Name() string        { return dispatch.ActionShellExec }
func (t *ShellTool) Description() string { return dispatch.Describe(dispatch.ActionShellExec) }
func (t *ShellTool) Backend() string     { return dispatch.BackendLocal }

func (t *ShellTool) SideEffects() []string {
	return []string{"proc_exec"}
}

func (t *ShellTool) InputSchema() *dispatch.JSONSchema {
	return dispatch.NewObjectSchema("run a shell command", map[string]*dispatch.JSONSchema{
		// Untyped: accepts a command string or an argv array.
		"cmd":        {Description: "command line, or argv list quoted element-wise"},
		"timeout_ms": dispatch.NewNumberSchema("wall-clock limit in milliseconds").WithDefault(10000),
	}, []string{"cmd"})
}

func (t *ShellTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	cmd := shellCommand(inputs["cmd"])
	if cmd == "" {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindInvalidInput, "no command provided")), nil
	}

	timeout := time.Duration(intInput(inputs, "timeout_ms", int(shellTimeoutDefault.Milliseconds()))) * time.Millisecond
	if timeout < shellTimeoutMin {
		timeout = shellTimeoutMin
	}
	if timeout > shellTimeoutMax {
		timeout = shellTimeoutMax
	}

	result, err := t.runner.Run(ctx, []string{"bash", "-c", cmd}, sandbox.RunOptions{
		Timeout:      timeout,
		Dir:          t.root,
		WritableDirs: []string{filepath.Join(t.root, "work")},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindTimeout,
			fmt.Sprintf("command timed out (%ds)", int(timeout.Seconds())))), nil
	}

	output := result.Stdout
	if result.ExitCode != 0 && result.Stderr != "" {
		output += "\n[stderr] " + result.Stderr
	}
	if output == "" {
		output = "(no output)"
	}

	t.logger.Debug("shell executed", zap.Int("exit_code", result.ExitCode))
	return dispatch.OK(output), nil
}

// shellCommand accepts a command string as-is, or an argv array whose
// elements are quoted individually so injection through one element
// cannot rewrite the command.
func shellCommand(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		args := make([]string, len(v))
		for i, item := range v {
			args[i] = fmt.Sprint(item)
		}
		return shellescape.QuoteCommand(args)
	case []string:
		return shellescape.QuoteCommand(v)
	}
	return ""
}
