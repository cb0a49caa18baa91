// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tools implements the built-in local action handlers: code and
// shell execution, the file operation suite, project scaffolding,
// package management, web access, memory access and the genesis path
// for self-authored native tools. Every handler implements
// dispatch.Tool and registers under its canonical action identifier;
// the dispatcher owns permission checks, schema validation and output
// capping, so handlers only do the work.
package tools

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/sandbox"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Options wires the built-in handlers to the runtime. Root is the data
// directory; everything else is optional and the affected tools degrade
// to structured errors when their dependency is missing.
type Options struct {
	Root     string
	Store    *storage.Store
	Searcher *retrieval.Searcher
	Graph    *graph.Memory
	Runner   *sandbox.Runner
	Client   *http.Client
	Logger   *zap.Logger
}

func (o *Options) fill() {
	if o.Root == "" {
		o.Root = config.GetDataDir()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Runner == nil {
		o.Runner = sandbox.NewRunner(o.Logger)
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: fetchTimeout}
	}
}

// RegisterAll installs every built-in handler into the registry.
func RegisterAll(reg *dispatch.Registry, opts Options) error {
	opts.fill()

	all := []dispatch.Tool{
		NewCodeTool(opts),
		NewShellTool(opts),
	}
	all = append(all, NewFSTools(opts)...)
	all = append(all, NewProjectTools(opts)...)
	all = append(all, NewPkgTools(opts)...)
	all = append(all,
		NewWebSearchTool(opts),
		NewHTTPGetTool(opts),
	)
	all = append(all, NewMemoryTools(opts)...)
	all = append(all, NewUtilTools(opts)...)
	all = append(all, NewGenesisTools(opts)...)

	for _, tool := range all {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}

// strInput reads a string input, with default.
func strInput(inputs map[string]interface{}, key, def string) string {
	if v, ok := inputs[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intInput reads a numeric input tolerantly: JSON numbers arrive as
// float64, some models send strings.
func intInput(inputs map[string]interface{}, key string, def int) int {
	switch v := inputs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// boolInput reads a boolean input, accepting string spellings.
func boolInput(inputs map[string]interface{}, key string, def bool) bool {
	switch v := inputs[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return def
}

// coerceCode turns whatever shape a model returned for a code input
// into a single string: lists join by newline, maps yield their code or
// content field.
func coerceCode(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		lines := make([]string, len(v))
		for i, item := range v {
			lines[i] = fmt.Sprint(item)
		}
		return strings.Join(lines, "\n")
	case map[string]interface{}:
		if s, ok := v["code"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["content"].(string); ok && s != "" {
			return s
		}
		return fmt.Sprint(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// unescapeSingleLine expands literal \n and \t sequences, but only when
// the code has no real newlines: multi-line code may legitimately carry
// regex escapes that must survive.
func unescapeSingleLine(code string) string {
	if strings.Contains(code, "\n") {
		return code
	}
	code = strings.ReplaceAll(code, `\n`, "\n")
	return strings.ReplaceAll(code, `\t`, "\t")
}

// stringList reads a list input that may arrive as a JSON array or a
// comma-separated string.
func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// truncRunes caps a string at n runes, never splitting a rune.
func truncRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// truncBytes caps a string at n bytes on a rune boundary, for error
// detail budgets.
func truncBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// nowUnix is stubbed in tests that assert timestamped paths.
var nowUnix = func() int64 { return time.Now().Unix() }
