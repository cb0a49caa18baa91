// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
)

// Level is a permission decision for one action.
type Level string

const (
	LevelAllow Level = "allow"
	LevelAsk   Level = "ask"
	LevelDeny  Level = "deny"
)

// ParseLevel validates a level string from overrides or config.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelAllow:
		return LevelAllow, true
	case LevelAsk:
		return LevelAsk, true
	case LevelDeny:
		return LevelDeny, true
	}
	return "", false
}

// Permission modes. Standard resolves per action; the others blanket.
const (
	ModeOpen       = "open"
	ModeLocked     = "locked"
	ModeSupervised = "supervised"
	ModeStandard   = "standard"
)

// defaultPermissions assigns levels to the built-in actions. Reads and
// work/-confined writes run free; anything destructive, networked or
// process-spawning asks.
var defaultPermissions = map[string]Level{
	ActionFSRead:           LevelAllow,
	ActionFSList:           LevelAllow,
	ActionFSSearch:         LevelAllow,
	ActionFSDiff:           LevelAllow,
	ActionMemFind:          LevelAllow,
	ActionMemSave:          LevelAllow,
	ActionGraphIngest:      LevelAllow,
	ActionUtilList:         LevelAllow,
	ActionUtilSave:         LevelAllow,
	ActionUtilRun:          LevelAllow,
	ActionUtilDelete:       LevelAllow,
	ActionUtilUpdate:       LevelAllow,
	ActionWebSearch:        LevelAllow,
	ActionFSWrite:          LevelAllow,
	ActionFSEdit:           LevelAllow,
	ActionFSAppend:         LevelAllow,
	ActionProjectCreate:    LevelAllow,
	ActionPkgList:          LevelAllow,
	ActionGenesisWriteFile: LevelAllow,

	ActionCodeExec:       LevelAsk,
	ActionFSDelete:       LevelAsk,
	ActionShellExec:      LevelAsk,
	ActionHTTPGet:        LevelAsk,
	ActionGenesisCompile: LevelAsk,
	ActionGenesisLoad:    LevelAsk,
	ActionProjectBuild:   LevelAsk,
	ActionPkgInstall:     LevelAsk,
	ActionPkgUninstall:   LevelAsk,
}

// readOnlyActions stay available even under locked mode.
var readOnlyActions = map[string]struct{}{
	ActionFSRead:   {},
	ActionFSList:   {},
	ActionFSSearch: {},
	ActionFSDiff:   {},
	ActionMemFind:  {},
	ActionUtilList: {},
	ActionPkgList:  {},
}

// safeAskActions are ask-level probes the background engine may run
// without a human: read-only introspection with no mutation surface.
var safeAskActions = map[string]struct{}{
	ActionHTTPGet:         {},
	ActionErrorScan:       {},
	ActionProcSelfMetrics: {},
	ActionGPUSmoke:        {},
	ActionGPUMetrics:      {},
}

// Side effects considered read-like for permission inference.
var safeReadEffects = map[string]struct{}{
	"none":                  {},
	"filesystem_read":       {},
	"process_introspection": {},
	"gpu_probe":             {},
}

// SideEffectsFunc reports an action's declared side effects, used for
// inference when an identifier has no explicit default. The executor
// wires this to the registry.
type SideEffectsFunc func(actionID string) ([]string, bool)

// Engine decides whether an action may run. Modes come from the
// environment so an operator can clamp a running agent; session grants
// live in memory and vanish on restart.
type Engine struct {
	mu          sync.Mutex
	session     map[string]struct{}
	sideEffects SideEffectsFunc
	logger      *zap.Logger
}

// NewEngine creates a permission engine. sideEffects may be nil when no
// manifest inference is wanted.
func NewEngine(sideEffects SideEffectsFunc, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session:     make(map[string]struct{}),
		sideEffects: sideEffects,
		logger:      logger,
	}
}

// Mode returns the active permission mode, normalized to standard when
// the environment carries an unknown value.
func (e *Engine) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(config.GetString(config.EnvPermissionMode, ModeStandard)))
	switch mode {
	case ModeOpen, ModeLocked, ModeSupervised, ModeStandard:
		return mode
	}
	return ModeStandard
}

// Check resolves the permission level for one action identifier.
func (e *Engine) Check(actionID string) Level {
	switch e.Mode() {
	case ModeOpen:
		return LevelAllow
	case ModeLocked:
		if _, ok := readOnlyActions[actionID]; ok {
			return LevelAllow
		}
		return LevelDeny
	case ModeSupervised:
		if _, ok := readOnlyActions[actionID]; ok {
			return LevelAllow
		}
		return LevelAsk
	}

	e.mu.Lock()
	_, granted := e.session[actionID]
	e.mu.Unlock()
	if granted {
		return LevelAllow
	}

	if level, ok := parseOverrides()[actionID]; ok {
		return level
	}

	if level, ok := defaultPermissions[actionID]; ok {
		return level
	}

	if e.sideEffects != nil {
		if effects, ok := e.sideEffects(actionID); ok {
			return inferFromSideEffects(effects)
		}
	}

	// Unknown actions ask.
	return LevelAsk
}

// GrantSession allows an action for the rest of the process lifetime
// (the "always allow" button).
func (e *Engine) GrantSession(actionID string) {
	e.mu.Lock()
	e.session[actionID] = struct{}{}
	e.mu.Unlock()
	e.logger.Info("session grant", zap.String("action_id", actionID))
}

// RevokeSession removes one session grant.
func (e *Engine) RevokeSession(actionID string) {
	e.mu.Lock()
	delete(e.session, actionID)
	e.mu.Unlock()
}

// ClearSession drops all session grants (restart or explicit clear).
func (e *Engine) ClearSession() {
	e.mu.Lock()
	e.session = make(map[string]struct{})
	e.mu.Unlock()
}

// SessionGrants returns the granted identifiers, sorted.
func (e *Engine) SessionGrants() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.session))
	for id := range e.session {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AutoApprove reports whether the background engine may execute an
// ask-level action without a human. Only the safe-ask probe set (plus
// any identifiers named in the environment) qualifies, and the feature
// can be switched off entirely.
func (e *Engine) AutoApprove(actionID string) bool {
	if !config.GetBool(config.EnvAutonomicAutoApprove, true) {
		return false
	}
	if _, ok := safeAskActions[actionID]; ok {
		return true
	}
	for _, extra := range strings.Split(config.GetString(config.EnvAutonomicSafeActions, ""), ",") {
		if strings.TrimSpace(extra) == actionID && actionID != "" {
			return true
		}
	}
	return false
}

// Summary renders a human-readable permission report for status output.
func (e *Engine) Summary() string {
	lines := []string{fmt.Sprintf("permission mode: %s", e.Mode())}
	if grants := e.SessionGrants(); len(grants) > 0 {
		lines = append(lines, fmt.Sprintf("session grants: %s", strings.Join(grants, ", ")))
	}
	overrides := parseOverrides()
	if len(overrides) > 0 {
		keys := make([]string, 0, len(overrides))
		for k := range overrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, overrides[k])
		}
		lines = append(lines, fmt.Sprintf("overrides: %s", strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

// parseOverrides reads per-action overrides from the environment:
// "FS.DELETE.v1=deny,SHELL.EXEC.v1=allow". Malformed entries are
// skipped rather than failing the whole set.
func parseOverrides() map[string]Level {
	raw := config.GetString(config.EnvPermissionOverrides, "")
	if raw == "" {
		return nil
	}
	overrides := make(map[string]Level)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		eq := strings.Index(entry, "=")
		if eq <= 0 {
			continue
		}
		id := strings.TrimSpace(entry[:eq])
		level, ok := ParseLevel(entry[eq+1:])
		if !ok || ValidateActionID(id) != nil {
			continue
		}
		overrides[id] = level
	}
	return overrides
}

func inferFromSideEffects(effects []string) Level {
	for _, eff := range effects {
		if _, ok := safeReadEffects[eff]; !ok {
			return LevelAsk
		}
	}
	return LevelAllow
}

// FormatApprovalMessage renders the approval prompt shown to the user
// when an ask-level action needs a decision.
func FormatApprovalMessage(actionID string, inputs map[string]interface{}) string {
	detail := func(key, fallback string) string {
		if v, ok := inputs[key].(string); ok && v != "" {
			if len(v) > 200 {
				return v[:200]
			}
			return v
		}
		return fallback
	}

	switch actionID {
	case ActionFSDelete:
		return fmt.Sprintf("delete file: %s\nallow?", detail("path", "?"))
	case ActionShellExec:
		return fmt.Sprintf("shell command: %s\nallow?", detail("cmd", "?"))
	case ActionHTTPGet:
		return fmt.Sprintf("network fetch: %s\nallow?", detail("url", "?"))
	case ActionGenesisCompile:
		return fmt.Sprintf("compile tool: %s\nallow?", detail("src_relative_path", "?"))
	case ActionGenesisLoad:
		return fmt.Sprintf("load plugin: %s\nallow?", detail("plugin_relative_path", "latest"))
	case ActionProjectBuild:
		return fmt.Sprintf("build project: %s\nallow?", detail("name", "?"))
	case ActionPkgInstall:
		if pkgs, ok := inputs["packages"].([]interface{}); ok {
			names := make([]string, 0, len(pkgs))
			for _, p := range pkgs {
				if s, ok := p.(string); ok {
					names = append(names, s)
				}
			}
			return fmt.Sprintf("install packages: %s\nallow?", strings.Join(names, ", "))
		}
		return "install packages\nallow?"
	}
	return fmt.Sprintf("run action: %s\nallow?", actionID)
}
