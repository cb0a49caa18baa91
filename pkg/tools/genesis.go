// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/sandbox"
)

const (
	genesisCompileTimeout = 60 * time.Second
	pluginLoadTimeout     = 30 * time.Second
)

var genesisOutNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// GenesisTool lets the agent author native tools for itself: write C++
// source into the genesis tree, compile it to a plugin and hand it to
// the tool host. When the host is absent, plugins queue for the next
// restart.
type GenesisTool struct {
	op     string
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewGenesisTools builds the GENESIS.* handler set.
func NewGenesisTools(opts Options) []dispatch.Tool {
	ops := []string{dispatch.ActionGenesisWriteFile, dispatch.ActionGenesisCompile, dispatch.ActionGenesisLoad}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &GenesisTool{op: op, root: opts.Root, runner: opts.Runner, logger: opts.Logger}
	}
	return tools
}

func (t *GenesisTool) Name() string        { return t.op }
func (t *GenesisTool) Description() string { return dispatch.Describe(t.op) }
func (t *GenesisTool) Backend() string     { return dispatch.BackendLocal }

func (t *GenesisTool) SideEffects() []string {
	switch t.op {
	case dispatch.ActionGenesisWriteFile:
		return []string{"filesystem_write"}
	case dispatch.ActionGenesisCompile:
		return []string{"proc_exec", "filesystem_write"}
	default:
		return []string{"proc_exec", "dynamic_library_load"}
	}
}

func (t *GenesisTool) InputSchema() *dispatch.JSONSchema {
	switch t.op {
	case dispatch.ActionGenesisWriteFile:
		return dispatch.NewObjectSchema("write source into the self-authored tool tree", map[string]*dispatch.JSONSchema{
			"relative_path": dispatch.NewStringSchema("path under the genesis source tree"),
			"content":       dispatch.NewStringSchema("file content"),
		}, []string{"relative_path", "content"})
	case dispatch.ActionGenesisCompile:
		return dispatch.NewObjectSchema("compile genesis source to a shared plugin", map[string]*dispatch.JSONSchema{
			"src_relative_path": dispatch.NewStringSchema("source path under the genesis tree"),
			"out_name":          dispatch.NewStringSchema("plugin name without extension"),
		}, []string{"src_relative_path", "out_name"})
	default: // GENESIS.LOAD.v1
		return dispatch.NewObjectSchema("load a compiled plugin into the tool host", map[string]*dispatch.JSONSchema{
			"plugin_relative_path": dispatch.NewStringSchema("plugin file (newest .so when empty)"),
			"action_id":            dispatch.NewStringSchema("action id the plugin declares"),
		}, nil)
	}
}

func (t *GenesisTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	switch t.op {
	case dispatch.ActionGenesisWriteFile:
		return t.writeFile(inputs)
	case dispatch.ActionGenesisCompile:
		return t.compile(ctx, inputs)
	default:
		return t.load(ctx, inputs)
	}
}

func (t *GenesisTool) srcDir() string {
	return filepath.Join(t.root, "toolpacks", "runtime_genesis", "src")
}

func (t *GenesisTool) pluginDir() string {
	return filepath.Join(t.root, "toolpacks", "runtime_plugins")
}

func (t *GenesisTool) writeFile(inputs map[string]interface{}) (*dispatch.Result, error) {
	rel := strInput(inputs, "relative_path", "")
	content := strInput(inputs, "content", "")
	if rel == "" || content == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"missing relative_path or content")), nil
	}
	if strings.Contains(rel, "..") {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"relative_path may not contain '..'")), nil
	}

	base := t.srcDir()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	baseReal, err := sandbox.Realpath(base)
	if err != nil {
		return nil, err
	}
	dst, err := sandbox.Realpath(filepath.Join(base, rel))
	if err != nil {
		return nil, err
	}
	if dst != baseReal && !strings.HasPrefix(dst, baseReal+string(os.PathSeparator)) {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindPathOutsideSandbox,
			fmt.Sprintf("genesis path escapes sandbox (%s not under %s)", dst, baseReal))), nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		return nil, err
	}
	out, err := json.Marshal(struct {
		OK      bool   `json:"ok"`
		Written string `json:"written"`
		Bytes   int    `json:"bytes"`
	}{true, dst, len(content)})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

func (t *GenesisTool) compile(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	srcRel := strInput(inputs, "src_relative_path", "")
	outName := strInput(inputs, "out_name", "")
	if srcRel == "" || outName == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"missing src_relative_path or out_name")), nil
	}
	if !genesisOutNameRe.MatchString(outName) {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			fmt.Sprintf("invalid out_name: %s", outName))), nil
	}

	srcPath := filepath.Join(t.srcDir(), srcRel)
	if _, err := os.Stat(srcPath); err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("source not found: %s", srcPath))), nil
	}

	pluginDir := t.pluginDir()
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return nil, err
	}
	outPath := filepath.Join(pluginDir, outName+".so")
	includeDir := filepath.Join(t.root, "core", "include")

	result, err := t.runner.Run(ctx, []string{
		"g++", "-shared", "-fPIC", "-std=c++2a", "-O2",
		"-I" + includeDir, "-o", outPath, srcPath,
	}, sandbox.RunOptions{
		Timeout:      genesisCompileTimeout,
		Dir:          t.srcDir(),
		WritableDirs: []string{pluginDir},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "compile timed out (60s)")), nil
	}
	if result.ExitCode != 0 {
		stderr := result.Stderr
		if stderr == "" {
			stderr = "(no stderr)"
		}
		return dispatch.OK("compile error:\n" + truncBytes(stderr, 2000)), nil
	}

	out, err := json.Marshal(struct {
		OK     bool   `json:"ok"`
		Plugin string `json:"plugin"`
	}{true, outPath})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

// newestPlugin returns the most recently modified .so in the plugin
// directory, or "" when none exist.
func (t *GenesisTool) newestPlugin() string {
	entries, err := os.ReadDir(t.pluginDir())
	if err != nil {
		return ""
	}
	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		info, ierr := entry.Info()
		if ierr != nil {
			continue
		}
		candidates = append(candidates, candidate{filepath.Join(t.pluginDir(), entry.Name()), info.ModTime()})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.After(candidates[j].mtime) })
	return candidates[0].path
}

func (t *GenesisTool) load(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	pluginPath := ""
	if rel := strInput(inputs, "plugin_relative_path", ""); rel != "" {
		pluginPath = filepath.Join(t.pluginDir(), rel)
	} else {
		pluginPath = t.newestPlugin()
	}
	if pluginPath == "" || !fileExists(pluginPath) {
		out, err := json.Marshal(struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}{false, fmt.Sprintf("plugin not found: %s", pluginPath)})
		if err != nil {
			return nil, err
		}
		return dispatch.OK(string(out)), nil
	}

	toolhost := filepath.Join(t.root, "build", "treadle_toolhost")
	if fileExists(toolhost) {
		result, err := t.runner.Run(ctx, []string{toolhost, "--load-plugin", pluginPath}, sandbox.RunOptions{
			Timeout: pluginLoadTimeout,
			Dir:     t.root,
		})
		if err == nil && !result.TimedOut && result.ExitCode == 0 {
			out, merr := json.Marshal(struct {
				OK     bool   `json:"ok"`
				Loaded string `json:"loaded"`
				Method string `json:"method"`
			}{true, pluginPath, "toolhost"})
			if merr != nil {
				return nil, merr
			}
			return dispatch.OK(string(out)), nil
		}
		t.logger.Warn("toolhost plugin load failed, queueing for restart",
			zap.String("plugin", pluginPath), zap.Error(err))
	}

	// No live host: queue the plugin for pickup on the next restart.
	pending := filepath.Join(t.pluginDir(), ".pending_load")
	f, err := os.OpenFile(pending, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(pluginPath + "\n"); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"ok":         true,
		"registered": pluginPath,
		"note":       "will load on next engine restart",
	}
	if aid := strInput(inputs, "action_id", ""); aid != "" {
		if verr := dispatch.ValidateActionID(aid); verr != nil {
			t.logger.Warn("plugin declares malformed action id", zap.String("action_id", aid), zap.Error(verr))
			payload["aid_warning"] = verr.Error()
		}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
