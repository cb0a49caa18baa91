// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/regression"
	"github.com/teradata-labs/treadle/pkg/sandbox"
	"github.com/teradata-labs/treadle/pkg/storage"
	"github.com/teradata-labs/treadle/pkg/tools"
)

const (
	healMaxPerHour    = 2
	healScriptLines   = 40
	healRunTimeout    = 30 * time.Second
	healOutputPreview = 1000
)

// Failure categories the healer knows deterministic shapes for.
const (
	CategoryEmptyOutput     = "empty_output"
	CategoryActionAsReply   = "intent_misclass_action_as_reply"
	CategoryReplyAsAction   = "intent_misclass_reply_as_action"
	CategoryClassifierError = "classifier_error"
)

// openWriteModeRe catches open() with a literal write/append mode;
// openVarModeRe catches a variable mode the static check cannot prove
// safe. Either blocks a generated diagnostic.
var (
	openWriteModeRe = regexp.MustCompile(`open\s*\([^)]*["'](?:[wxa][+b]*|rb?\+)["']`)
	openVarModeRe   = regexp.MustCompile(`open\s*\([^)]*,\s*[a-zA-Z_]\w*\s*\)`)
)

// HealerOptions wires a SelfHealer.
type HealerOptions struct {
	Store      *storage.Store
	Recorder   *learning.Recorder
	Curriculum *learning.CurriculumTracker
	Gate       *regression.Gate
	Provider   llm.Provider
	Runner     *sandbox.Runner
	Logger     *zap.Logger
}

// SelfHealer turns recurring failure categories into generated
// diagnostic utilities, rate-limited and regression-gated. Generated
// code runs read-only: anything that writes, spawns, or reaches the
// network is rejected before it ever executes.
type SelfHealer struct {
	store      *storage.Store
	recorder   *learning.Recorder
	curriculum *learning.CurriculumTracker
	gate       *regression.Gate
	provider   llm.Provider
	runner     *sandbox.Runner
	logger     *zap.Logger

	mu       sync.Mutex
	attempts []time.Time
}

// NewSelfHealer builds a healer.
func NewSelfHealer(opts HealerOptions) *SelfHealer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SelfHealer{
		store:      opts.Store,
		recorder:   opts.Recorder,
		curriculum: opts.Curriculum,
		gate:       opts.Gate,
		provider:   opts.Provider,
		runner:     opts.Runner,
		logger:     opts.Logger,
	}
}

// AnalyzeFailures buckets test failures into deterministic categories.
func (h *SelfHealer) AnalyzeFailures(failures []TestOutcome) map[string]int {
	categories := map[string]int{}
	for _, f := range failures {
		switch {
		case strings.Contains(f.Detail, "got=error"):
			categories[CategoryClassifierError]++
		case strings.Contains(f.Detail, "got=empty") || f.ActualType == "":
			categories[CategoryEmptyOutput]++
		case f.Scenario.Expect == "action" && f.ActualType == "reply":
			categories[CategoryActionAsReply]++
		case f.Scenario.Expect == "reply" && f.ActualType == "action":
			categories[CategoryReplyAsAction]++
		default:
			categories["other"]++
		}
	}
	return categories
}

// canAttempt enforces the sliding-window rate limit.
func (h *SelfHealer) canAttempt() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-time.Hour)
	kept := h.attempts[:0]
	for _, t := range h.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.attempts = kept
	if len(h.attempts) >= healMaxPerHour {
		return false
	}
	h.attempts = append(h.attempts, time.Now())
	return true
}

// AttemptHeal picks the dominant failure category and generates a
// diagnostic utility for it. Returns whether a utility was adopted.
func (h *SelfHealer) AttemptHeal(ctx context.Context, failures []TestOutcome) (bool, error) {
	if len(failures) == 0 || h.provider == nil {
		return false, nil
	}
	categories := h.AnalyzeFailures(failures)
	category := topCategory(categories)
	if category == "" || category == "other" {
		return false, nil
	}
	if h.curriculum != nil {
		if paused, err := h.curriculum.IsCategoryPaused(category); err == nil && paused {
			h.logger.Debug("heal category paused", zap.String("category", category))
			return false, nil
		}
	}
	if !h.canAttempt() {
		h.logger.Debug("heal rate limit reached")
		return false, nil
	}

	samples := make([]string, 0, 3)
	for _, f := range failures {
		if len(samples) == 3 {
			break
		}
		samples = append(samples, fmt.Sprintf("input=%q %s", f.Scenario.Input, f.Detail))
	}
	ok, err := h.generateAndAdopt(ctx, category,
		fmt.Sprintf("Recent self-test failures in category %q:\n%s",
			category, strings.Join(samples, "\n")))
	if h.curriculum != nil {
		if cerr := h.curriculum.RecordHealResult(category, ok); cerr != nil {
			h.logger.Warn("heal result not recorded", zap.Error(cerr))
		}
	}
	return ok, err
}

// HealSuggestion attempts one genesis suggestion from the stream.
func (h *SelfHealer) HealSuggestion(ctx context.Context, suggestion storage.Record) (bool, error) {
	if h.provider == nil {
		return false, nil
	}
	if !h.canAttempt() {
		return false, nil
	}
	category := storage.Str(suggestion, "suggestion_key")
	if category == "" {
		category = "suggestion"
	}
	detail := storage.Str(suggestion, "detail")
	if detail == "" {
		detail = storage.Str(suggestion, "reason")
	}
	ok, err := h.generateAndAdopt(ctx, category,
		fmt.Sprintf("Genesis suggestion %q: %s", category, detail))
	if h.curriculum != nil {
		if cerr := h.curriculum.RecordHealResult(category, ok); cerr != nil {
			h.logger.Warn("heal result not recorded", zap.Error(cerr))
		}
	}
	return ok, err
}

// generateAndAdopt asks the model for a short diagnostic script,
// safety-screens it, proves it runs in the sandbox, and adopts it
// through the regression gate.
func (h *SelfHealer) generateAndAdopt(ctx context.Context, category, problem string) (bool, error) {
	prompt := fmt.Sprintf(`%s

Write a Python diagnostic script (max %d lines) that investigates this failure class.
Constraints: read-only — no file writes, no subprocess, no network, no imports beyond
the standard library. Print findings to stdout. Reply with only the code.`,
		problem, healScriptLines)

	resp, err := h.provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: 1200})
	if err != nil {
		return false, fmt.Errorf("heal codegen: %w", err)
	}
	code := stripCodeFences(resp.Content)
	if code == "" {
		return false, nil
	}
	if lines := strings.Count(code, "\n") + 1; lines > healScriptLines {
		h.logger.Debug("heal script too long", zap.Int("lines", lines))
		return false, nil
	}
	if reason := screenGeneratedCode(code); reason != "" {
		h.logger.Warn("heal script rejected", zap.String("reason", reason),
			zap.String("category", category))
		return false, nil
	}

	scriptPath := filepath.Join(config.GetUtilsDir(),
		fmt.Sprintf("heal_%s.py", sanitizeScriptName(category)))
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		return false, err
	}

	run, err := h.runner.Run(ctx, []string{"python3", "-c", code},
		sandbox.RunOptions{Timeout: healRunTimeout})
	if err != nil {
		return false, fmt.Errorf("heal sandbox run: %w", err)
	}
	if run.ExitCode != 0 || run.TimedOut {
		h.logger.Info("heal script failed in sandbox",
			zap.Int("exit", run.ExitCode), zap.Bool("timeout", run.TimedOut),
			zap.String("stderr", truncRunes(run.Stderr, 200)))
		return false, nil
	}

	adopted := false
	apply := func() error {
		if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
			return err
		}
		adopted = true
		return nil
	}
	rollback := func() error {
		adopted = false
		return os.Remove(scriptPath)
	}
	if h.gate != nil {
		verdict, err := h.gate.Guard(ctx, apply, rollback)
		if err != nil {
			return false, err
		}
		if !verdict.Accepted {
			return false, nil
		}
	} else if err := apply(); err != nil {
		return false, err
	}

	if adopted && h.recorder != nil {
		output := run.Stdout
		if output == "" {
			output = "(no output)"
		}
		if _, err := h.recorder.RecordSkill(
			"heal_"+category, "python", code, truncRunes(output, healOutputPreview)); err != nil {
			h.logger.Warn("heal skill not recorded", zap.Error(err))
		}
	}
	if adopted {
		h.logger.Info("heal utility adopted",
			zap.String("category", category), zap.String("script", scriptPath))
	}
	return adopted, nil
}

func topCategory(categories map[string]int) string {
	keys := make([]string, 0, len(categories))
	for k := range categories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if categories[keys[i]] != categories[keys[j]] {
			return categories[keys[i]] > categories[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// screenGeneratedCode applies the shared dangerous/network blocklists
// plus the open() write checks. Empty means clean.
func screenGeneratedCode(code string) string {
	if matches := tools.DangerousMatches(code); len(matches) > 0 {
		return "dangerous pattern: " + matches[0]
	}
	if matches := tools.NetworkMatches(code); len(matches) > 0 {
		return "network pattern: " + matches[0]
	}
	if tools.OpensForWrite(code) || openWriteModeRe.MatchString(code) {
		return "opens file for writing"
	}
	if openVarModeRe.MatchString(code) {
		return "open() with variable mode"
	}
	return ""
}

var fenceRe = regexp.MustCompile("(?s)```(?:python|py|bash|sh)?\\s*\\n?(.*?)```")

// stripCodeFences extracts the first fenced block, or returns the
// trimmed text when unfenced.
func stripCodeFences(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

var scriptNameRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeScriptName(name string) string {
	clean := scriptNameRe.ReplaceAllString(strings.ToLower(name), "_")
	clean = strings.Trim(clean, "_")
	if clean == "" {
		clean = "unnamed"
	}
	if len(clean) > 48 {
		clean = clean[:48]
	}
	return clean
}

func truncRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
