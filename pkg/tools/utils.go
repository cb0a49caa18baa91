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

const utilRunTimeout = 15 * time.Second

// UtilEntry is one saved utility in the manifest.
type UtilEntry struct {
	Name        string `json:"name"`
	Lang        string `json:"lang"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Created     int64  `json:"created"`
	Updated     int64  `json:"updated,omitempty"`
}

// UtilTool manages reusable scripts the agent saves for itself under
// work/scripts/utils. Names are fuzzy-matched on run so the model can
// recall a utility without remembering its exact name.
type UtilTool struct {
	op     string
	root   string
	runner *sandbox.Runner
	logger *zap.Logger
}

// NewUtilTools builds the UTIL.* handler set.
func NewUtilTools(opts Options) []dispatch.Tool {
	ops := []string{
		dispatch.ActionUtilSave, dispatch.ActionUtilRun, dispatch.ActionUtilList,
		dispatch.ActionUtilDelete, dispatch.ActionUtilUpdate,
	}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &UtilTool{op: op, root: opts.Root, runner: opts.Runner, logger: opts.Logger}
	}
	return tools
}

func (t *UtilTool) Name() string        { return t.op }
func (t *UtilTool) Description() string { return dispatch.Describe(t.op) }
func (t *UtilTool) Backend() string     { return dispatch.BackendLocal }

func (t *UtilTool) SideEffects() []string {
	switch t.op {
	case dispatch.ActionUtilRun:
		return []string{"proc_exec"}
	case dispatch.ActionUtilList:
		return []string{"filesystem_read"}
	case dispatch.ActionUtilDelete:
		return []string{"filesystem_delete"}
	default:
		return []string{"filesystem_write"}
	}
}

func (t *UtilTool) InputSchema() *dispatch.JSONSchema {
	switch t.op {
	case dispatch.ActionUtilSave:
		return dispatch.NewObjectSchema("save a reusable utility script", map[string]*dispatch.JSONSchema{
			"name":        dispatch.NewStringSchema("utility name"),
			"lang":        dispatch.NewStringSchema("script language").WithEnum("python", "bash").WithDefault("python"),
			"code":        {Description: "script source"},
			"description": dispatch.NewStringSchema("what the utility does"),
		}, []string{"name", "code"})
	case dispatch.ActionUtilRun:
		return dispatch.NewObjectSchema("run a saved utility", map[string]*dispatch.JSONSchema{
			"name": dispatch.NewStringSchema("utility name (fuzzy matched)"),
			"args": {Description: "arguments: string, list or map"},
		}, []string{"name"})
	case dispatch.ActionUtilList:
		return dispatch.NewObjectSchema("list saved utilities", nil, nil)
	case dispatch.ActionUtilDelete:
		return dispatch.NewObjectSchema("delete a saved utility", map[string]*dispatch.JSONSchema{
			"name": dispatch.NewStringSchema("utility name"),
		}, []string{"name"})
	default: // UTIL.UPDATE.v1
		return dispatch.NewObjectSchema("update a saved utility's code or description", map[string]*dispatch.JSONSchema{
			"name":        dispatch.NewStringSchema("utility name"),
			"code":        {Description: "replacement source"},
			"description": dispatch.NewStringSchema("replacement description"),
		}, []string{"name"})
	}
}

func (t *UtilTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	switch t.op {
	case dispatch.ActionUtilSave:
		return t.save(ctx, inputs)
	case dispatch.ActionUtilRun:
		return t.run(ctx, inputs)
	case dispatch.ActionUtilList:
		return t.list()
	case dispatch.ActionUtilDelete:
		return t.delete(inputs)
	default:
		return t.update(ctx, inputs)
	}
}

var utilNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeUtilName(name string) string {
	return strings.ToLower(utilNameRe.ReplaceAllString(name, "_"))
}

func (t *UtilTool) utilsDir() string {
	return filepath.Join(t.root, "work", "scripts", "utils")
}

func (t *UtilTool) manifestPath() string {
	return filepath.Join(t.utilsDir(), "manifest.json")
}

// loadManifest tolerates a missing or corrupt manifest and starts fresh.
func (t *UtilTool) loadManifest() map[string]UtilEntry {
	manifest := map[string]UtilEntry{}
	data, err := os.ReadFile(t.manifestPath())
	if err != nil {
		return manifest
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.logger.Debug("utility manifest unreadable, starting fresh", zap.Error(err))
		return map[string]UtilEntry{}
	}
	return manifest
}

func (t *UtilTool) saveManifest(manifest map[string]UtilEntry) error {
	if err := os.MkdirAll(t.utilsDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.manifestPath(), data, 0o644)
}

func sortedUtilNames(manifest map[string]UtilEntry) []string {
	names := make([]string, 0, len(manifest))
	for name := range manifest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func availableUtils(manifest map[string]UtilEntry) string {
	if len(manifest) == 0 {
		return "(none)"
	}
	return strings.Join(sortedUtilNames(manifest), ", ")
}

func (t *UtilTool) save(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	name := sanitizeUtilName(strInput(inputs, "name", ""))
	if name == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "invalid utility name")), nil
	}
	code := coerceCode(inputs["code"])
	if code == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no code provided")), nil
	}
	lang := strInput(inputs, "lang", "python")
	description := strInput(inputs, "description", "")

	code = unescapeSingleLine(code)
	if lang == "python" {
		code = PythonAutofix(ctx, code)
	}
	ext := "py"
	if lang == "bash" {
		ext = "sh"
	}

	if err := os.MkdirAll(t.utilsDir(), 0o755); err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(t.utilsDir(), name+"."+ext)
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return nil, err
	}

	manifest := t.loadManifest()
	manifest[name] = UtilEntry{
		Name:        name,
		Lang:        lang,
		Description: description,
		Path:        scriptPath,
		Created:     nowUnix(),
	}
	if err := t.saveManifest(manifest); err != nil {
		return nil, err
	}
	return dispatch.OK(fmt.Sprintf("utility '%s' saved (%s, %d bytes)\npath: %s\nrun: util_run %s",
		name, lang, len(code), scriptPath, name)), nil
}

// resolveUtilName finds a manifest entry for a possibly inexact name:
// exact, substring either direction, shared prefix of at least four
// characters, then description words.
func resolveUtilName(name string, manifest map[string]UtilEntry) (string, bool) {
	if _, ok := manifest[name]; ok {
		return name, true
	}
	names := sortedUtilNames(manifest)
	for _, k := range names {
		if strings.Contains(k, name) || strings.Contains(name, k) {
			return k, true
		}
		shared := 0
		for shared < len(name) && shared < len(k) && name[shared] == k[shared] {
			shared++
		}
		if shared >= 4 {
			return k, true
		}
	}
	for _, k := range names {
		desc := strings.ToLower(manifest[k].Description)
		if desc == "" {
			continue
		}
		if strings.Contains(desc, name) {
			return k, true
		}
		for _, w := range strings.Split(name, "_") {
			if len(w) > 2 && strings.Contains(desc, w) {
				return k, true
			}
		}
	}
	return "", false
}

func (t *UtilTool) run(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	requested := strInput(inputs, "name", "")
	name := sanitizeUtilName(requested)
	manifest := t.loadManifest()

	resolved, ok := resolveUtilName(name, manifest)
	if !ok {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("utility '%s' not found. available: %s", name, availableUtils(manifest)))), nil
	}
	if resolved != name {
		t.logger.Info("fuzzy matched utility", zap.String("requested", requested), zap.String("resolved", resolved))
		name = resolved
	}

	entry := manifest[name]
	if _, err := os.Stat(entry.Path); err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("script file missing: %s", entry.Path))), nil
	}

	interpreter := "python3"
	if entry.Lang == "bash" {
		interpreter = "bash"
	}
	argv := append([]string{interpreter, entry.Path}, utilArgs(inputs["args"])...)

	workDir := filepath.Join(t.root, "work")
	result, err := t.runner.Run(ctx, argv, sandbox.RunOptions{
		Timeout:      utilRunTimeout,
		Dir:          workDir,
		WritableDirs: []string{workDir},
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindTimeout,
			fmt.Sprintf("utility '%s' timed out (%ds)", name, int(utilRunTimeout.Seconds())))), nil
	}

	output := truncRunes(result.Stdout, 4000)
	if result.ExitCode != 0 && result.Stderr != "" {
		output += "\n[stderr] " + truncRunes(result.Stderr, 1000)
	}
	if strings.TrimSpace(output) == "" {
		output = fmt.Sprintf("(exit code: %d, no output)", result.ExitCode)
	}
	return dispatch.OK(output), nil
}

// utilArgs normalizes the args input: a string is split shell-style,
// a list passes through, a map contributes values in key order.
func utilArgs(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, item := range v {
			args = append(args, fmt.Sprint(item))
		}
		return args
	case []string:
		return v
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := make([]string, 0, len(keys))
		for _, k := range keys {
			args = append(args, fmt.Sprint(v[k]))
		}
		return args
	default:
		return splitArgs(fmt.Sprint(v))
	}
}

// splitArgs splits a command-line string on whitespace, honoring
// single and double quotes.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inSingle, inDouble, started := false, false, false
	for _, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			started = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			started = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}

func (t *UtilTool) list() (*dispatch.Result, error) {
	manifest := t.loadManifest()
	if len(manifest) == 0 {
		return dispatch.OK("no saved utilities yet. use 'util_save' to create one."), nil
	}
	lines := []string{fmt.Sprintf("saved utilities (%d):", len(manifest))}
	for _, name := range sortedUtilNames(manifest) {
		entry := manifest[name]
		line := fmt.Sprintf("  - %s (%s)", name, entry.Lang)
		if entry.Description != "" {
			line += ": " + entry.Description
		}
		lines = append(lines, line)
	}
	return dispatch.OK(strings.Join(lines, "\n")), nil
}

func (t *UtilTool) delete(inputs map[string]interface{}) (*dispatch.Result, error) {
	name := sanitizeUtilName(strInput(inputs, "name", ""))
	manifest := t.loadManifest()
	entry, ok := manifest[name]
	if !ok {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("utility '%s' not found. available: %s", name, availableUtils(manifest)))), nil
	}

	delete(manifest, name)
	if err := t.saveManifest(manifest); err != nil {
		return nil, err
	}
	if entry.Path != "" {
		if err := os.Remove(entry.Path); err == nil {
			return dispatch.OK(fmt.Sprintf("utility '%s' deleted (file + manifest entry removed)", name)), nil
		}
	}
	return dispatch.OK(fmt.Sprintf("utility '%s' removed from manifest (file was already missing)", name)), nil
}

func (t *UtilTool) update(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	name := sanitizeUtilName(strInput(inputs, "name", ""))
	manifest := t.loadManifest()
	entry, ok := manifest[name]
	if !ok {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound,
			fmt.Sprintf("utility '%s' not found", name))), nil
	}

	code := coerceCode(inputs["code"])
	description := strInput(inputs, "description", "")

	var parts []string
	if code != "" {
		code = unescapeSingleLine(code)
		if entry.Lang == "python" {
			code = PythonAutofix(ctx, code)
		}
		if err := os.WriteFile(entry.Path, []byte(code), 0o644); err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf("code updated (%d bytes)", len(code)))
	}
	if description != "" {
		entry.Description = description
		parts = append(parts, "description updated")
	}
	entry.Updated = nowUnix()
	manifest[name] = entry
	if err := t.saveManifest(manifest); err != nil {
		return nil, err
	}
	return dispatch.OK(fmt.Sprintf("utility '%s' updated: %s", name, strings.Join(parts, ", "))), nil
}
