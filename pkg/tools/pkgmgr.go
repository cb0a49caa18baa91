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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/sandbox"
)

const (
	venvCreateTimeout = 60 * time.Second
	pipInstallTimeout = 120 * time.Second
	pipOpTimeout      = 60 * time.Second
)

var (
	venvNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	// Package specs may carry extras and a version constraint; anything
	// else smells like shell injection.
	pkgSpecRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+(\[.*\])?(==|>=|<=|~=|!=)?[a-zA-Z0-9_.*-]*$`)
	pkgNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// PkgTool manages Python packages in per-name virtualenvs under
// work/venvs, so agent experiments never touch the system interpreter.
type PkgTool struct {
	op     string
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewPkgTools builds the PKG.* handler set.
func NewPkgTools(opts Options) []dispatch.Tool {
	ops := []string{dispatch.ActionPkgInstall, dispatch.ActionPkgUninstall, dispatch.ActionPkgList}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &PkgTool{op: op, root: opts.Root, runner: opts.Runner, logger: opts.Logger}
	}
	return tools
}

func (t *PkgTool) Name() string        { return t.op }
func (t *PkgTool) Description() string { return dispatch.Describe(t.op) }
func (t *PkgTool) Backend() string     { return dispatch.BackendLocal }

func (t *PkgTool) SideEffects() []string {
	switch t.op {
	case dispatch.ActionPkgInstall:
		return []string{"proc_exec", "network_io", "filesystem_write"}
	case dispatch.ActionPkgUninstall:
		return []string{"proc_exec", "filesystem_write"}
	default:
		return []string{"proc_exec"}
	}
}

func (t *PkgTool) InputSchema() *dispatch.JSONSchema {
	switch t.op {
	case dispatch.ActionPkgInstall:
		return dispatch.NewObjectSchema("install Python packages into an isolated venv", map[string]*dispatch.JSONSchema{
			"packages":  dispatch.NewArraySchema("package specs, e.g. requests==2.31.0", dispatch.NewStringSchema("")),
			"venv_name": dispatch.NewStringSchema("virtualenv name").WithDefault("default"),
		}, []string{"packages"})
	case dispatch.ActionPkgUninstall:
		return dispatch.NewObjectSchema("remove Python packages from a venv", map[string]*dispatch.JSONSchema{
			"packages":  dispatch.NewArraySchema("package names", dispatch.NewStringSchema("")),
			"venv_name": dispatch.NewStringSchema("virtualenv name").WithDefault("default"),
		}, []string{"packages"})
	default: // PKG.LIST.v1
		return dispatch.NewObjectSchema("list packages installed in a venv", map[string]*dispatch.JSONSchema{
			"venv_name": dispatch.NewStringSchema("virtualenv name").WithDefault("default"),
		}, nil)
	}
}

func (t *PkgTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	venvName := strInput(inputs, "venv_name", "default")
	if !venvNameRe.MatchString(venvName) {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "invalid venv name")), nil
	}
	venvDir := filepath.Join(t.root, "work", "venvs", venvName)

	switch t.op {
	case dispatch.ActionPkgInstall:
		return t.install(ctx, inputs, venvName, venvDir)
	case dispatch.ActionPkgUninstall:
		return t.uninstall(ctx, inputs, venvName, venvDir)
	default:
		return t.list(ctx, venvName, venvDir)
	}
}

func (t *PkgTool) pipPath(venvDir string) string {
	return filepath.Join(venvDir, "bin", "pip")
}

// ensureVenv creates the virtualenv on first use.
func (t *PkgTool) ensureVenv(ctx context.Context, venvDir string) (*dispatch.Result, error) {
	if info, err := os.Stat(venvDir); err == nil && info.IsDir() {
		return nil, nil
	}
	venvsDir := filepath.Dir(venvDir)
	if err := os.MkdirAll(venvsDir, 0o755); err != nil {
		return nil, err
	}
	result, err := t.runner.Run(ctx, []string{"python3", "-m", "venv", venvDir}, sandbox.RunOptions{
		Timeout:      venvCreateTimeout,
		Dir:          filepath.Join(t.root, "work"),
		WritableDirs: []string{venvsDir},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "venv creation timed out (60s)")), nil
	}
	if result.ExitCode != 0 {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError,
			fmt.Sprintf("error creating venv: %s", truncBytes(result.Stderr, 500)))), nil
	}
	return nil, nil
}

func (t *PkgTool) install(ctx context.Context, inputs map[string]interface{}, venvName, venvDir string) (*dispatch.Result, error) {
	packages := stringList(inputs["packages"])
	if len(packages) == 0 {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no packages specified")), nil
	}
	for _, pkg := range packages {
		if !pkgSpecRe.MatchString(pkg) {
			return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
				fmt.Sprintf("invalid package spec: %s", pkg))), nil
		}
	}
	if failed, err := t.ensureVenv(ctx, venvDir); failed != nil || err != nil {
		return failed, err
	}
	pip := t.pipPath(venvDir)
	if _, err := os.Stat(pip); err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError,
			fmt.Sprintf("pip not found in venv: %s", venvDir))), nil
	}

	argv := append([]string{pip, "install", "--no-cache-dir"}, packages...)
	result, err := t.runner.Run(ctx, argv, sandbox.RunOptions{
		Timeout:      pipInstallTimeout,
		Dir:          filepath.Join(t.root, "work"),
		WritableDirs: []string{venvDir},
		AllowNet:     true,
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "pip install timed out (120s)")), nil
	}
	if result.ExitCode != 0 {
		return dispatch.OK("pip install error:\n" + truncBytes(result.Stderr, 1000)), nil
	}

	var installed []string
	for _, line := range splitLines(result.Stdout) {
		if strings.Contains(line, "Successfully") {
			installed = append(installed, line)
		}
	}
	summary := "installed"
	if len(installed) > 0 {
		summary = strings.Join(installed, "\n")
	}
	out, err := json.Marshal(struct {
		OK       bool     `json:"ok"`
		Venv     string   `json:"venv"`
		Packages []string `json:"packages"`
		Output   string   `json:"output"`
	}{true, venvDir, packages, summary})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

func (t *PkgTool) uninstall(ctx context.Context, inputs map[string]interface{}, venvName, venvDir string) (*dispatch.Result, error) {
	packages := stringList(inputs["packages"])
	if len(packages) == 0 {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no packages specified")), nil
	}
	for _, pkg := range packages {
		if !pkgNameRe.MatchString(pkg) {
			return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
				fmt.Sprintf("invalid package name: %s", pkg))), nil
		}
	}
	if info, err := os.Stat(venvDir); err != nil || !info.IsDir() {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("venv '%s' not found at %s", venvName, venvDir))), nil
	}
	pip := t.pipPath(venvDir)
	if _, err := os.Stat(pip); err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError,
			fmt.Sprintf("pip not found in venv: %s", venvDir))), nil
	}

	argv := append([]string{pip, "uninstall", "-y"}, packages...)
	result, err := t.runner.Run(ctx, argv, sandbox.RunOptions{
		Timeout:      pipOpTimeout,
		Dir:          filepath.Join(t.root, "work"),
		WritableDirs: []string{venvDir},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "pip uninstall timed out (60s)")), nil
	}
	if result.ExitCode != 0 {
		return dispatch.OK("pip uninstall error:\n" + truncBytes(result.Stderr, 1000)), nil
	}

	out, err := json.Marshal(struct {
		OK       bool     `json:"ok"`
		Venv     string   `json:"venv"`
		Packages []string `json:"packages"`
		Output   string   `json:"output"`
	}{true, venvDir, packages, truncBytes(strings.TrimSpace(result.Stdout), 1000)})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

func (t *PkgTool) list(ctx context.Context, venvName, venvDir string) (*dispatch.Result, error) {
	if info, err := os.Stat(venvDir); err != nil || !info.IsDir() {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("venv '%s' not found at %s", venvName, venvDir))), nil
	}
	pip := t.pipPath(venvDir)
	if _, err := os.Stat(pip); err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError,
			fmt.Sprintf("pip not found in venv: %s", venvDir))), nil
	}

	result, err := t.runner.Run(ctx, []string{pip, "list", "--format=json"}, sandbox.RunOptions{
		Timeout: pipOpTimeout,
		Dir:     filepath.Join(t.root, "work"),
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "pip list timed out (60s)")), nil
	}
	if result.ExitCode != 0 {
		return dispatch.OK("pip list error:\n" + truncBytes(result.Stderr, 500)), nil
	}

	var packages []map[string]interface{}
	if stdout := strings.TrimSpace(result.Stdout); stdout != "" {
		if perr := json.Unmarshal([]byte(stdout), &packages); perr != nil {
			return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindParseError,
				fmt.Sprintf("unparseable pip output: %v", perr))), nil
		}
	}
	out, err := json.Marshal(struct {
		OK       bool                     `json:"ok"`
		Venv     string                   `json:"venv"`
		Count    int                      `json:"count"`
		Packages []map[string]interface{} `json:"packages"`
	}{true, venvDir, len(packages), packages})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}
