// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/sandbox"
)

// CodeTool executes model-generated Python, Bash or C/C++ under the
// sandbox runner. Scripts land in work/scripts/ and run with the
// working tree as the only writable path.
//
// This tool intentionally executes generated code; the defense layers
// are the pattern blocklist, the sandbox (bwrap when installed), the
// wall-clock timeout, and the dispatcher's output cap. The dangerous
// and network blocks are overridable only through the dispatcher's
// per-call code options, which callers set after a real approval.
type CodeTool struct {
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewCodeTool builds the CODE.EXEC.v1 handler.
func NewCodeTool(opts Options) *CodeTool {
	return &CodeTool{root: opts.Root, runner: opts.Runner, logger: opts.Logger}
}

func (t *CodeTool) Name() string        { return dispatch.ActionCodeExec }
func (t *CodeTool) Description() string { return dispatch.Describe(dispatch.ActionCodeExec) }
func (t *CodeTool) Backend() string     { return dispatch.BackendLocal }

func (t *CodeTool) SideEffects() []string {
	return []string{"proc_exec", "filesystem_write"}
}

func (t *CodeTool) InputSchema() *dispatch.JSONSchema {
	return dispatch.NewObjectSchema("execute code in a sandbox", map[string]*dispatch.JSONSchema{
		"lang": dispatch.NewStringSchema("language").WithEnum("python", "bash", "c", "cpp", "c++").WithDefault("python"),
		// Deliberately untyped: models send strings, line arrays, or
		// {code: ...} objects, and the handler coerces all of them.
		"code":      {Description: "source code to run"},
		"timeout_s": dispatch.NewNumberSchema("wall-clock limit in seconds"),
	}, []string{"code"})
}

func (t *CodeTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	lang := strInput(inputs, "lang", "python")
	code := coerceCode(inputs["code"])
	if code == "" {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindInvalidInput, "no code provided")), nil
	}

	force := dispatch.ForceCodeFrom(ctx)
	allowNet := dispatch.AllowNetFrom(ctx)

	if !force {
		if matched := DangerousMatches(code); len(matched) > 0 {
			return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindDangerousCodeBlocked,
				strings.Join(matched, ","))), nil
		}
	}
	needsNet := len(NetworkMatches(code)) > 0
	if needsNet && !allowNet {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindNetworkCodeBlocked,
			strings.Join(NetworkMatches(code), ","))), nil
	}

	timeout := time.Duration(intInput(inputs, "timeout_s", 0)) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.GetInt(config.EnvCodeTimeout, config.DefaultCodeTimeout)) * time.Second
	}
	// Network code waits on page loads and APIs; give it room.
	if needsNet && allowNet && timeout < 60*time.Second {
		timeout = 60 * time.Second
	}

	code = unescapeSingleLine(code)
	var ext string
	switch lang {
	case "bash":
		ext = "sh"
		code = StripFences(code)
	case "c", "cpp", "c++":
		ext = "cpp"
		code = StripFences(code)
	default:
		lang = "python"
		ext = "py"
		code = PythonAutofix(ctx, code)
	}

	scriptsDir := filepath.Join(t.root, "work", "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(scriptsDir, fmt.Sprintf("run_%d.%s", time.Now().UnixMilli(), ext))
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return nil, err
	}

	workDir := filepath.Join(t.root, "work")
	runOpts := sandbox.RunOptions{
		Timeout:      timeout,
		Dir:          workDir,
		WritableDirs: []string{workDir},
		AllowNet:     allowNet,
	}

	var result *sandbox.RunResult
	var err error
	if ext == "cpp" {
		binPath := strings.TrimSuffix(scriptPath, ".cpp")
		compile, cerr := t.runner.Run(ctx, []string{"g++", "-std=c++17", "-O2", "-o", binPath, scriptPath}, runOpts)
		if cerr != nil {
			return nil, cerr
		}
		if compile.TimedOut {
			return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindTimeout,
				fmt.Sprintf("compilation timed out (%ds)", int(timeout.Seconds())))), nil
		}
		if compile.ExitCode != 0 {
			stderr := compile.Stderr
			if stderr == "" {
				stderr = "(no stderr)"
			}
			return dispatch.OK("compile error:\n" + truncBytes(stderr, 2000)), nil
		}
		result, err = t.runner.Run(ctx, []string{binPath}, runOpts)
	} else {
		interpreter := "python3"
		if lang == "bash" {
			interpreter = "bash"
		}
		result, err = t.runner.Run(ctx, []string{interpreter, scriptPath}, runOpts)
	}
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindTimeout,
			fmt.Sprintf("code execution timed out (%ds)", int(timeout.Seconds())))), nil
	}

	output := result.Stdout
	if result.ExitCode != 0 && result.Stderr != "" {
		output += "\n[stderr] " + result.Stderr
	}
	if strings.TrimSpace(output) == "" {
		output = fmt.Sprintf("(exit code: %d, no output)", result.ExitCode)
	}

	// The code did not declare network use but died on a DNS or
	// connection error: surface it as the network block so the caller
	// can re-run with approval instead of chasing a phantom bug.
	if !allowNet && result.ExitCode != 0 && looksLikeNetFailure(output+result.Stderr) {
		return dispatch.Failed(dispatch.NewError(t.Name(), dispatch.KindNetworkCodeBlocked,
			"sandbox_net_blocked")), nil
	}

	t.logger.Debug("code executed",
		zap.String("lang", lang),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("output_bytes", len(output)))
	return dispatch.OK(output), nil
}
