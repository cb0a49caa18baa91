// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"context"
	"fmt"
	"sort"
)

// chainStep is one recipe step: an action and a function deriving its
// inputs from the chain's inputs.
type chainStep struct {
	actionID string
	inputs   func(map[string]interface{}) map[string]interface{}
}

// ChainStepResult pairs a step's action with its outcome.
type ChainStepResult struct {
	ActionID string
	Result   *Result
}

// chainRecipes are the named multi-step sequences the intent layer can
// invoke as a unit.
var chainRecipes = map[string][]chainStep{
	// Write C++ source, compile it to a shared object, load the plugin.
	"create_tool": {
		{ActionGenesisWriteFile, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"relative_path": chainStr(i, "name", "tool") + ".cpp",
				"content":       chainStr(i, "code", chainStr(i, "content", "")),
			}
		}},
		{ActionGenesisCompile, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"src_relative_path": chainStr(i, "name", "tool") + ".cpp",
				"out_name":          chainStr(i, "name", "tool"),
			}
		}},
		{ActionGenesisLoad, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{}
		}},
	},
	"analyze_file": {
		{ActionFSRead, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"path":      chainStr(i, "path", ""),
				"max_bytes": 8192,
			}
		}},
	},
	// Persist a note to disk and memory in one move.
	"save_and_remember": {
		{ActionFSWrite, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"path":    chainStr(i, "path", "work/note.txt"),
				"content": chainStr(i, "content", ""),
			}
		}},
		{ActionMemSave, func(i map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"stream": "chat",
				"event":  "user_note",
				"text":   firstRunes(chainStr(i, "content", ""), 300),
			}
		}},
	},
}

// ChainSteps returns the action identifiers a named recipe runs, in
// order. Unknown names yield nil. Callers use this to resolve
// permissions for every step before running the chain as a unit.
func ChainSteps(name string) []string {
	recipe, ok := chainRecipes[name]
	if !ok {
		return nil
	}
	ids := make([]string, len(recipe))
	for i, step := range recipe {
		ids[i] = step.actionID
	}
	return ids
}

// ChainNames returns the available chain recipes, sorted.
func ChainNames() []string {
	names := make([]string, 0, len(chainRecipes))
	for name := range chainRecipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteChain runs a named recipe step by step, threading the chain
// inputs through each step's input builder. The chain halts at the
// first failing step; every completed step's result is returned.
func (d *Dispatcher) ExecuteChain(ctx context.Context, chainName string, inputs map[string]interface{}, opts ExecOptions) []ChainStepResult {
	recipe, ok := chainRecipes[chainName]
	if !ok {
		return []ChainStepResult{{
			ActionID: chainName,
			Result:   Failed(NewError(chainName, KindNotFound, fmt.Sprintf("unknown chain: %s", chainName))),
		}}
	}
	if inputs == nil {
		inputs = map[string]interface{}{}
	}

	var results []ChainStepResult
	for _, step := range recipe {
		result := d.Execute(ctx, step.actionID, step.inputs(inputs), opts)
		results = append(results, ChainStepResult{ActionID: step.actionID, Result: result})
		if result.IsError() {
			break
		}
	}
	return results
}

func chainStr(inputs map[string]interface{}, key, fallback string) string {
	if v, ok := inputs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// firstRunes truncates on rune boundaries, not bytes.
func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
