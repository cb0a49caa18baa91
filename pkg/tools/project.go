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

const projectBuildTimeout = 120 * time.Second

var projectNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// ProjectTool scaffolds and builds multi-file projects. C++ projects
// land in the self-authored tool source tree so a successful build can
// be loaded as a plugin; Python projects live under work/projects.
type ProjectTool struct {
	op     string
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewProjectTools builds the PROJECT.* handler pair.
func NewProjectTools(opts Options) []dispatch.Tool {
	ops := []string{dispatch.ActionProjectCreate, dispatch.ActionProjectBuild}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &ProjectTool{op: op, root: opts.Root, runner: opts.Runner, logger: opts.Logger}
	}
	return tools
}

func (t *ProjectTool) Name() string        { return t.op }
func (t *ProjectTool) Description() string { return dispatch.Describe(t.op) }
func (t *ProjectTool) Backend() string     { return dispatch.BackendLocal }

func (t *ProjectTool) SideEffects() []string {
	if t.op == dispatch.ActionProjectBuild {
		return []string{"proc_exec", "filesystem_write"}
	}
	return []string{"filesystem_write"}
}

func (t *ProjectTool) InputSchema() *dispatch.JSONSchema {
	if t.op == dispatch.ActionProjectCreate {
		fileSpec := dispatch.NewObjectSchema("one project file", map[string]*dispatch.JSONSchema{
			"path":    dispatch.NewStringSchema("path relative to the project base"),
			"content": dispatch.NewStringSchema("file content"),
		}, []string{"path"})
		return dispatch.NewObjectSchema("create a multi-file project", map[string]*dispatch.JSONSchema{
			"name":  dispatch.NewStringSchema("project name (letters, digits, underscore)"),
			"lang":  dispatch.NewStringSchema("project language").WithEnum("cpp", "python"),
			"files": dispatch.NewArraySchema("files to create", fileSpec),
		}, []string{"name", "lang"})
	}
	return dispatch.NewObjectSchema("build a C++ project", map[string]*dispatch.JSONSchema{
		"name":       dispatch.NewStringSchema("project name"),
		"lang":       dispatch.NewStringSchema("project language").WithDefault("cpp"),
		"build_type": dispatch.NewStringSchema("artifact kind").WithEnum("shared", "binary").WithDefault("shared"),
	}, []string{"name"})
}

func (t *ProjectTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	if t.op == dispatch.ActionProjectCreate {
		return t.create(inputs)
	}
	return t.build(ctx, inputs)
}

func (t *ProjectTool) create(inputs map[string]interface{}) (*dispatch.Result, error) {
	name := strInput(inputs, "name", "")
	if !projectNameRe.MatchString(name) {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"invalid project name (alphanumeric + underscore only)")), nil
	}
	lang := strInput(inputs, "lang", "")
	var base string
	switch lang {
	case "cpp":
		base = filepath.Join(t.root, "toolpacks", "runtime_genesis", "src", name)
	case "python":
		base = filepath.Join(t.root, "work", "projects", name)
	default:
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			fmt.Sprintf("unsupported lang '%s' (use cpp or python)", lang))), nil
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	baseReal, err := sandbox.Realpath(base)
	if err != nil {
		return nil, err
	}

	created := []string{}
	files, _ := inputs["files"].([]interface{})
	for _, raw := range files {
		spec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		rel := strInput(spec, "path", "")
		if rel == "" || strings.Contains(rel, "..") {
			continue
		}
		full := filepath.Join(base, rel)
		fullReal, rerr := sandbox.Realpath(full)
		if rerr != nil || (fullReal != baseReal && !strings.HasPrefix(fullReal, baseReal+string(os.PathSeparator))) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(strInput(spec, "content", "")), 0o644); err != nil {
			return nil, err
		}
		created = append(created, rel)
	}

	if lang == "python" {
		initPath := filepath.Join(base, "__init__.py")
		if _, serr := os.Stat(initPath); os.IsNotExist(serr) {
			if err := os.WriteFile(initPath, []byte(fmt.Sprintf("\"\"\"Project %s.\"\"\"\n", name)), 0o644); err != nil {
				return nil, err
			}
			created = append(created, "__init__.py")
		}
	}

	out, err := json.Marshal(struct {
		OK      bool     `json:"ok"`
		Project string   `json:"project"`
		Lang    string   `json:"lang"`
		Base    string   `json:"base"`
		Files   []string `json:"files"`
	}{true, name, lang, base, created})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}

func (t *ProjectTool) build(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	if lang := strInput(inputs, "lang", "cpp"); lang != "cpp" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"build only supported for cpp projects")), nil
	}
	name := strInput(inputs, "name", "")
	if !projectNameRe.MatchString(name) {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput,
			"invalid project name (alphanumeric + underscore only)")), nil
	}

	srcDir := filepath.Join(t.root, "toolpacks", "runtime_genesis", "src", name)
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("project not found: %s", srcDir))), nil
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, entry := range entries { // ReadDir sorts by name
		if strings.HasSuffix(entry.Name(), ".cpp") || strings.HasSuffix(entry.Name(), ".cc") {
			sources = append(sources, filepath.Join(srcDir, entry.Name()))
		}
	}
	if len(sources) == 0 {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError,
			fmt.Sprintf("no .cpp/.cc files in %s", srcDir))), nil
	}

	includeDir := filepath.Join(t.root, "core", "include")
	pluginDir := filepath.Join(t.root, "toolpacks", "runtime_plugins")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return nil, err
	}

	buildType := strInput(inputs, "build_type", "shared")
	var outPath string
	var argv []string
	if buildType == "shared" {
		outPath = filepath.Join(pluginDir, name+".so")
		argv = append([]string{"g++", "-shared", "-fPIC", "-std=c++2a", "-O2",
			"-I" + includeDir, "-I" + srcDir, "-o", outPath}, sources...)
	} else {
		outPath = filepath.Join(pluginDir, name)
		argv = append([]string{"g++", "-std=c++2a", "-O2",
			"-I" + includeDir, "-I" + srcDir, "-o", outPath}, sources...)
	}

	result, err := t.runner.Run(ctx, argv, sandbox.RunOptions{
		Timeout:      projectBuildTimeout,
		Dir:          srcDir,
		WritableDirs: []string{pluginDir, srcDir},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout, "build timed out (120s)")), nil
	}
	if result.ExitCode != 0 {
		stderr := result.Stderr
		if stderr == "" {
			stderr = "(no stderr)"
		}
		return dispatch.OK("build error:\n" + truncBytes(stderr, 2000)), nil
	}

	out, err := json.Marshal(struct {
		OK      bool   `json:"ok"`
		Output  string `json:"output"`
		Sources int    `json:"sources"`
		Type    string `json:"type"`
	}{true, outPath, len(sources), buildType})
	if err != nil {
		return nil, err
	}
	t.logger.Info("project built", zap.String("project", name), zap.String("output", outPath))
	return dispatch.OK(string(out)), nil
}
