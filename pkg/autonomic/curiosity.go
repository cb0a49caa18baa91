// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
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
)

const (
	gapExperienceWindow = 200
	goalCodeMin         = 30
	goalCodeMax         = 10000
	goalRunTimeout      = 10 * time.Second
	goalStrikeLimit     = 3
)

// Gap kinds the scanner emits.
const (
	GapHighFailure = "high_failure_tool"
	GapUnhandled   = "unhandled_capability"
	GapUntested    = "untested_tool"
)

// Gap is one observed capability hole.
type Gap struct {
	Kind   string
	Tool   string
	Detail string
}

// Goal is a synthesized exploration goal: a named diagnostic script.
type Goal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// CycleResult is the outcome of one curiosity cycle. Query carries a
// web-explore seed when the cycle was unproductive but identified a
// researchable gap.
type CycleResult struct {
	Productive bool
	Goal       string
	Query      string
}

// CuriosityOptions wires a CuriosityDriver.
type CuriosityOptions struct {
	Store     *storage.Store
	Recorder  *learning.Recorder
	Gate      *regression.Gate
	Provider  llm.Provider
	Runner    *sandbox.Runner
	Logger    *zap.Logger
	MaxPerDay int
	Cooldown  time.Duration
}

// CuriosityDriver scans for capability gaps and turns them into small
// sandboxed diagnostic utilities, rate-limited per day and gated by
// the regression suite.
type CuriosityDriver struct {
	store    *storage.Store
	recorder *learning.Recorder
	gate     *regression.Gate
	provider llm.Provider
	runner   *sandbox.Runner
	logger   *zap.Logger

	mu        sync.Mutex
	maxPerDay int
	cooldown  time.Duration
	day       string
	runsToday int
	lastRun   time.Time
	strikes   map[string]int
}

// NewCuriosityDriver builds a driver.
func NewCuriosityDriver(opts CuriosityOptions) *CuriosityDriver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CuriosityDriver{
		store:     opts.Store,
		recorder:  opts.Recorder,
		gate:      opts.Gate,
		provider:  opts.Provider,
		runner:    opts.Runner,
		logger:    opts.Logger,
		maxPerDay: opts.MaxPerDay,
		cooldown:  opts.Cooldown,
		strikes:   map[string]int{},
	}
}

// SetLimits updates the daily cap and cooldown, for mode switches.
func (d *CuriosityDriver) SetLimits(maxPerDay int, cooldown time.Duration) {
	d.mu.Lock()
	d.maxPerDay = maxPerDay
	d.cooldown = cooldown
	d.mu.Unlock()
}

// CanRun checks the cooldown and daily cap, resetting the counter on
// date change.
func (d *CuriosityDriver) CanRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	today := time.Now().Format("2006-01-02")
	if d.day != today {
		d.day = today
		d.runsToday = 0
	}
	if d.runsToday >= d.maxPerDay {
		return false
	}
	return time.Since(d.lastRun) >= d.cooldown
}

// ScanGaps inspects the tool profile and recent experiences for the
// three gap kinds, worst first.
func (d *CuriosityDriver) ScanGaps(profile ToolProfile, known []string) []Gap {
	var gaps []Gap
	for _, tool := range profile.FailingTools(3, 0.4) {
		st := profile[tool]
		gaps = append(gaps, Gap{
			Kind: GapHighFailure, Tool: tool,
			Detail: fmt.Sprintf("%d/%d recent uses failed", st.Fails, st.Uses),
		})
	}

	// Failures that never reached an action tool suggest a capability
	// the intent surface does not cover.
	unhandled := 0
	if exps, err := d.store.Read(storage.StreamExperiences, gapExperienceWindow); err == nil {
		for _, rec := range exps {
			if storage.Bool(rec, "success") {
				continue
			}
			if !strings.Contains(storage.Str(rec, "tool_used"), ".") {
				unhandled++
			}
		}
	}
	if unhandled >= 3 {
		gaps = append(gaps, Gap{
			Kind:   GapUnhandled,
			Detail: fmt.Sprintf("%d failures never reached a tool", unhandled),
		})
	}

	for _, tool := range profile.UntestedTools(known) {
		gaps = append(gaps, Gap{Kind: GapUntested, Tool: tool, Detail: "never exercised"})
	}
	return gaps
}

// SynthesizeGoal asks the model for a diagnostic goal; malformed
// output falls back to a deterministic template so a flaky model
// never stalls exploration.
func (d *CuriosityDriver) SynthesizeGoal(ctx context.Context, gap Gap) Goal {
	fallback := fallbackGoal(gap)
	if d.provider == nil {
		return fallback
	}
	prompt := fmt.Sprintf(`Capability gap: kind=%s tool=%s detail=%s

Propose one small read-only Python diagnostic script that investigates this gap.
Respond with JSON only: {"name": "...", "description": "...", "code": "..."}.
Constraints: standard library only, no writes, no subprocess, no network, under 60 lines.`,
		gap.Kind, gap.Tool, gap.Detail)
	content := llm.ContentOrEmpty(d.provider.Chat(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: 1500, JSONMode: true}))
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return fallback
	}
	var goal Goal
	if err := json.Unmarshal([]byte(raw), &goal); err != nil {
		return fallback
	}
	goal.Code = stripCodeFences(goal.Code)
	if goal.Name == "" || goal.Code == "" {
		return fallback
	}
	return goal
}

// fallbackGoal templates a deterministic diagnostic from the gap.
func fallbackGoal(gap Gap) Goal {
	switch gap.Kind {
	case GapHighFailure:
		return Goal{
			Name:        "gap_repair_" + sanitizeScriptName(gap.Tool),
			Description: "summarize recent failures of " + gap.Tool,
			Code: fmt.Sprintf(`import json, os
stream = os.path.expanduser(os.environ.get("TREADLE_ROOT", "~/.treadle")) + "/work/memory/experiences.jsonl"
fails = []
try:
    with open(stream) as fh:
        for line in fh:
            try:
                rec = json.loads(line)
            except ValueError:
                continue
            if rec.get("tool_used") == %q and not rec.get("success"):
                fails.append(rec.get("result_preview", "")[:120])
except OSError as exc:
    print("stream unavailable:", exc)
print("recent failures of %s:", len(fails))
for f in fails[-10:]:
    print("-", f)`, gap.Tool, gap.Tool),
		}
	case GapUntested:
		return Goal{
			Name:        "gap_coverage_" + sanitizeScriptName(gap.Tool),
			Description: "inventory inputs accepted by " + gap.Tool,
			Code: fmt.Sprintf(`import json, os
manifest = os.path.expanduser(os.environ.get("TREADLE_ROOT", "~/.treadle")) + "/toolpacks/tier0/manifest.json"
try:
    with open(manifest) as fh:
        data = json.load(fh)
except OSError as exc:
    print("manifest unavailable:", exc)
    data = {}
for action in data.get("actions", []):
    if action.get("id") == %q:
        print("action:", action.get("id"))
        print("inputs:", json.dumps(action.get("inputs", {}), ensure_ascii=False))
        break
else:
    print("action %s not in manifest")`, gap.Tool, gap.Tool),
		}
	default:
		return Goal{
			Name:        "gap_unhandled_capabilities",
			Description: "cluster failures that never reached a tool",
			Code: `import collections, json, os
stream = os.path.expanduser(os.environ.get("TREADLE_ROOT", "~/.treadle")) + "/work/memory/experiences.jsonl"
counts = collections.Counter()
try:
    with open(stream) as fh:
        for line in fh:
            try:
                rec = json.loads(line)
            except ValueError:
                continue
            if not rec.get("success") and "." not in rec.get("tool_used", ""):
                counts[rec.get("intent_type", "?")] += 1
except OSError as exc:
    print("stream unavailable:", exc)
for intent, n in counts.most_common(10):
    print(intent, n)`,
		}
	}
}

// goalWhitelist are the name tokens a goal must intersect to count as
// on-domain.
var goalWhitelist = map[string]bool{
	"gap": true, "repair": true, "coverage": true, "unhandled": true,
	"tool": true, "diag": true, "diagnostic": true, "probe": true,
	"check": true, "inspect": true, "audit": true, "scan": true,
	"shell": true, "code": true, "exec": true, "fs": true, "file": true,
	"mem": true, "memory": true, "web": true, "search": true, "net": true,
	"http": true, "util": true, "genesis": true, "intent": true,
	"fail": true, "failure": true, "error": true, "timeout": true,
	"parse": true, "capability": true, "capabilities": true, "test": true,
	"pkg": true, "project": true, "graph": true, "skill": true,
}

// RelevanceGate rejects goals that are off-domain, trivially short,
// oversized, or duplicates of recorded skills.
func (d *CuriosityDriver) RelevanceGate(goal Goal) error {
	n := len(goal.Code)
	if n < goalCodeMin {
		return fmt.Errorf("code too short (%d bytes)", n)
	}
	if n > goalCodeMax {
		return fmt.Errorf("code too long (%d bytes)", n)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(goal.Code)))
	if skills, err := d.store.Read(storage.StreamSkills, 0); err == nil {
		for _, rec := range skills {
			if storage.Str(rec, "code_hash") == hash {
				return fmt.Errorf("duplicate of recorded skill")
			}
		}
	}
	matched := false
	for _, tok := range strings.FieldsFunc(strings.ToLower(goal.Name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}) {
		if goalWhitelist[tok] {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("goal name %q off-domain", goal.Name)
	}
	return nil
}

// ExecuteGoal screens, runs, and adopts one goal. The artifact lands
// under the utils directory only after the sandbox run and the
// regression gate both pass.
func (d *CuriosityDriver) ExecuteGoal(ctx context.Context, goal Goal) (bool, error) {
	if reason := screenGeneratedCode(goal.Code); reason != "" {
		return false, fmt.Errorf("blocked: %s", reason)
	}
	run, err := d.runner.Run(ctx, []string{"python3", "-c", goal.Code},
		sandbox.RunOptions{Timeout: goalRunTimeout})
	if err != nil {
		return false, fmt.Errorf("sandbox run: %w", err)
	}
	if run.ExitCode != 0 || run.TimedOut {
		return false, fmt.Errorf("script failed: exit=%d timeout=%v stderr=%s",
			run.ExitCode, run.TimedOut, truncRunes(run.Stderr, 200))
	}

	scriptPath := filepath.Join(config.GetUtilsDir(),
		"curiosity_"+sanitizeScriptName(goal.Name)+".py")
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		return false, err
	}
	apply := func() error { return os.WriteFile(scriptPath, []byte(goal.Code), 0o644) }
	rollback := func() error { return os.Remove(scriptPath) }
	if d.gate != nil {
		verdict, err := d.gate.Guard(ctx, apply, rollback)
		if err != nil {
			return false, err
		}
		if !verdict.Accepted {
			return false, nil
		}
	} else if err := apply(); err != nil {
		return false, err
	}

	if d.recorder != nil {
		output := run.Stdout
		if output == "" {
			output = "(no output)"
		}
		if _, err := d.recorder.RecordSkill(goal.Name, "python", goal.Code,
			truncRunes(output, healOutputPreview)); err != nil {
			d.logger.Warn("curiosity skill not recorded", zap.Error(err))
		}
	}
	d.logger.Info("curiosity goal adopted",
		zap.String("goal", goal.Name), zap.String("script", scriptPath))
	return true, nil
}

// RunCycle performs one full curiosity pass: scan, pick an
// unsuppressed gap, synthesize, gate, execute. A goal that fails
// three times is suppressed until its strikes age out with the day.
func (d *CuriosityDriver) RunCycle(ctx context.Context, profile ToolProfile, known []string) (CycleResult, error) {
	gaps := d.ScanGaps(profile, known)
	if len(gaps) == 0 {
		return CycleResult{}, nil
	}

	d.mu.Lock()
	d.runsToday++
	d.lastRun = time.Now()
	d.mu.Unlock()

	for _, gap := range gaps {
		goal := d.SynthesizeGoal(ctx, gap)

		d.mu.Lock()
		suppressed := d.strikes[goal.Name] >= goalStrikeLimit
		d.mu.Unlock()
		if suppressed {
			continue
		}
		if err := d.RelevanceGate(goal); err != nil {
			d.logger.Debug("goal rejected", zap.String("goal", goal.Name), zap.Error(err))
			d.strike(goal.Name)
			continue
		}
		ok, err := d.ExecuteGoal(ctx, goal)
		d.recordGap(gap, goal, ok)
		if err != nil {
			d.logger.Info("goal execution failed",
				zap.String("goal", goal.Name), zap.Error(err))
			d.strike(goal.Name)
			continue
		}
		if ok {
			d.mu.Lock()
			delete(d.strikes, goal.Name)
			d.mu.Unlock()
			return CycleResult{Productive: true, Goal: goal.Name}, nil
		}
		d.strike(goal.Name)
	}

	// Nothing landed: hand the first gap to web exploration.
	first := gaps[0]
	query := first.Detail
	if first.Tool != "" {
		query = first.Tool + " error handling best practices"
	}
	return CycleResult{Query: query}, nil
}

func (d *CuriosityDriver) strike(goal string) {
	d.mu.Lock()
	d.strikes[goal]++
	d.mu.Unlock()
}

func (d *CuriosityDriver) recordGap(gap Gap, goal Goal, adopted bool) {
	rec := storage.Record{
		"ts_ms":   time.Now().UnixMilli(),
		"type":    "curiosity_gap",
		"kind":    gap.Kind,
		"tool":    gap.Tool,
		"goal":    goal.Name,
		"adopted": adopted,
	}
	if err := d.store.Append(storage.StreamInsights, rec); err != nil {
		d.logger.Debug("gap record append failed", zap.Error(err))
	}
}
