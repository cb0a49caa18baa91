// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	reflectWindow      = 100
	reflectRecentSlice = 50
	reflectSkipBackoff = 300 * time.Second
	reflectDedupWindow = 30 * time.Minute
	reflectMinUses     = 3

	rotateExperiences = 2000
	rotateInsights    = 1000
	rotateKnowledge   = 1000
	skillsKeep        = 100

	suggestionTTL  = 24 * time.Hour
	scratchTTL     = 7 * 24 * time.Hour
	archiveGzipAge = 7 * 24 * time.Hour

	logFileCap  = int64(2) << 30  // per-stream byte cap
	logTotalCap = int64(10) << 30 // memory-dir byte cap
)

// doReflect folds the recent experience window into per-tool failure
// rules and appends a tool_stats insight. Identical windows are
// skipped with a backoff so a quiet system does not re-derive the same
// rules every five minutes.
func (e *Engine) doReflect(ctx context.Context) (bool, error) {
	exps, err := e.store.Read(storage.StreamExperiences, reflectWindow)
	if err != nil {
		return false, err
	}
	if len(exps) == 0 {
		return false, nil
	}
	recent := exps
	if len(recent) > reflectRecentSlice {
		recent = recent[len(recent)-reflectRecentSlice:]
	}

	stats := map[string]*ToolStat{}
	for _, rec := range recent {
		tool := storage.Str(rec, "tool_used")
		if tool == "" {
			continue
		}
		st := stats[tool]
		if st == nil {
			st = &ToolStat{}
			stats[tool] = st
		}
		st.Uses++
		if !storage.Bool(rec, "success") {
			st.Fails++
		}
	}

	hash := statsHash(stats, len(exps))
	e.mu.Lock()
	memo := e.lastReflect
	e.mu.Unlock()
	if memo.hash == hash && time.Now().Before(memo.skipUntil) {
		return false, nil
	}
	if memo.hash == hash {
		e.mu.Lock()
		e.lastReflect.skipUntil = time.Now().Add(reflectSkipBackoff)
		e.mu.Unlock()
		return false, nil
	}

	var rules []string
	for _, tool := range sortedStatKeys(stats) {
		st := stats[tool]
		if st.Uses < reflectMinUses {
			continue
		}
		if st.FailRate() > 0.4 {
			rules = append(rules, fmt.Sprintf(
				"tool %s failing: %d/%d recent uses failed (%.0f%%) — prefer an alternative or repair it",
				tool, st.Fails, st.Uses, st.FailRate()*100))
		} else if st.Fails == 0 {
			rules = append(rules, fmt.Sprintf(
				"tool %s reliable: %d/%d recent uses succeeded", tool, st.Uses, st.Uses))
		}
	}
	if len(rules) == 0 {
		e.mu.Lock()
		e.lastReflect = reflectMemo{hash: hash, skipUntil: time.Now().Add(reflectSkipBackoff)}
		e.mu.Unlock()
		return false, nil
	}

	// Duplicate guard: an identical tool_stats insight in the last half
	// hour means nothing changed worth recording.
	if recents, err := e.store.Read(storage.StreamInsights, 20); err == nil {
		cutoff := time.Now().Add(-reflectDedupWindow).UnixMilli()
		for _, rec := range recents {
			if storage.Str(rec, "type") == "tool_stats" &&
				storage.TsMs(rec) > cutoff &&
				storage.Str(rec, "stats_hash") == hash {
				return false, nil
			}
		}
	}

	insight := storage.Record{
		"ts_ms":      time.Now().UnixMilli(),
		"type":       "tool_stats",
		"rules":      rules,
		"window":     len(exps),
		"stats_hash": hash,
	}
	if err := e.store.Append(storage.StreamInsights, insight); err != nil {
		return false, err
	}
	e.mu.Lock()
	e.lastReflect = reflectMemo{hash: hash}
	e.mu.Unlock()
	e.logger.Info("reflection recorded", zap.Int("rules", len(rules)))
	return true, nil
}

func statsHash(stats map[string]*ToolStat, window int) string {
	parts := make([]string, 0, len(stats)+1)
	for _, tool := range sortedStatKeys(stats) {
		st := stats[tool]
		parts = append(parts, fmt.Sprintf("%s:%d/%d", tool, st.Fails, st.Uses))
	}
	parts = append(parts, fmt.Sprintf("w%d", window))
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum)[:8]
}

func sortedStatKeys(stats map[string]*ToolStat) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// doTestAndLearn generates scenarios, runs them through the intent
// classifier, feeds the curriculum, and hands failures to the healer.
// A streak of fully green batches stretches the next run far out; the
// system has better uses for its idle time than re-proving itself.
func (e *Engine) doTestAndLearn(ctx context.Context, abort func() bool) (bool, error) {
	profile := e.profiles.get(e.store)
	known := []string{}
	if e.dispatcher != nil {
		known = e.dispatcher.Registry().List()
	}
	scenarios := e.questioner.GenerateScenarios(ctx, profile, known)
	if len(scenarios) == 0 {
		return false, nil
	}
	outcomes := e.tester.RunBatch(ctx, scenarios, abort)
	if len(outcomes) == 0 {
		return false, nil
	}

	if e.curriculum != nil {
		batch := make([]learning.ScenarioOutcome, 0, len(outcomes))
		for _, o := range outcomes {
			batch = append(batch, learning.ScenarioOutcome{
				Difficulty: o.Scenario.Difficulty, Passed: o.Passed,
			})
		}
		if err := e.curriculum.RecordResults(batch); err != nil {
			e.logger.Warn("curriculum update failed", zap.Error(err))
		}
	}

	passed := 0
	var failures []TestOutcome
	for _, o := range outcomes {
		if o.Passed {
			passed++
		} else {
			failures = append(failures, o)
		}
		if e.recorder != nil {
			_, _ = e.recorder.RecordExperience(learning.Experience{
				UserText: o.Scenario.Input,
				Intent:   learning.Intent{Type: o.ActualType},
				Result:   o.Detail,
				Success:  o.Passed,
				Source:   "self_test",
			})
		}
	}
	e.logger.Info("self-test batch done",
		zap.Int("passed", passed), zap.Int("failed", len(failures)))

	if len(failures) > 0 {
		categories := e.healer.AnalyzeFailures(failures)
		insight := storage.Record{
			"ts_ms":      time.Now().UnixMilli(),
			"type":       "self_test_failures",
			"categories": categories,
			"failed":     len(failures),
			"total":      len(outcomes),
		}
		if err := e.store.Append(storage.StreamInsights, insight); err != nil {
			e.logger.Warn("failure insight append failed", zap.Error(err))
		}
		if healed, err := e.healer.AttemptHeal(ctx, failures); err != nil {
			e.logger.Warn("heal attempt failed", zap.Error(err))
		} else if healed {
			e.profiles.invalidate()
		}
	}

	allPassed := len(failures) == 0
	e.mu.Lock()
	if allPassed {
		e.l2Streak++
	} else {
		e.l2Streak = 0
	}
	streak := e.l2Streak
	rate := e.profile.TestRate
	e.mu.Unlock()

	// Three green batches in a row: the robust signal. Stretch the next
	// test run to 8x the normal rate.
	if streak >= 3 {
		e.mu.Lock()
		e.levelDone[levelTest] = time.Now().Add(7 * rate)
		e.mu.Unlock()
		e.logger.Info("robust test streak, stretching test cadence", zap.Int("streak", streak))
	}

	if e.curriculum != nil && passed > 3 {
		if rates, err := e.curriculum.Rates(); err == nil && rates.Medium > 0.7 {
			e.runSelfQuestions(ctx, 3)
		}
	}
	return len(failures) > 0 || passed > 0, nil
}

// doHealSuggestions takes one pending genesis suggestion of priority
// >= 3 and hands it to the healer. Success or failure, the suggestion
// is marked executed so the stream cannot wedge on a bad one.
func (e *Engine) doHealSuggestions(ctx context.Context) (bool, error) {
	suggestions, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	if err != nil {
		return false, err
	}
	var target storage.Record
	for _, rec := range suggestions {
		if storage.Bool(rec, "executed") {
			continue
		}
		if storage.Float(rec, "priority") < 3 {
			continue
		}
		target = rec
		break
	}
	if target == nil {
		return false, nil
	}

	key := storage.Str(target, "suggestion_key")
	healed, err := e.healer.HealSuggestion(ctx, target)
	if markErr := e.markSuggestionExecuted(key); markErr != nil {
		e.logger.Warn("suggestion mark failed", zap.String("key", key), zap.Error(markErr))
	}
	if err != nil {
		return false, err
	}
	if healed {
		e.profiles.invalidate()
		e.alerts.Push(fmt.Sprintf("self-heal succeeded for %s", key))
	}
	return healed, nil
}

// markSuggestionExecuted rewrites the suggestion stream with the
// target flagged, under the stream's own write lock.
func (e *Engine) markSuggestionExecuted(key string) error {
	recs, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	if err != nil {
		return err
	}
	changed := false
	for _, rec := range recs {
		if storage.Str(rec, "suggestion_key") == key && !storage.Bool(rec, "executed") {
			rec["executed"] = true
			rec["executed_ts_ms"] = time.Now().UnixMilli()
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.store.Rewrite(storage.StreamGenesisSuggestions, recs)
}

// doHygiene is the housekeeping level: reward regression check, trust
// pruning, stream rotation, suggestion and scratch cleanup, and log
// size caps. It runs even in stasis; garbage accumulates regardless.
func (e *Engine) doHygiene(ctx context.Context) (bool, error) {
	productive := false

	if e.reward != nil {
		reg, err := e.reward.DetectRegression()
		if err == nil && reg.Regressed {
			productive = true
			e.autoRollbackRecent(reg.Delta)
		}
		if _, err := e.reward.Snapshot(); err != nil {
			e.logger.Debug("reward snapshot failed", zap.Error(err))
		}
	}

	if n := e.pruneLowTrustExperiences(); n > 0 {
		productive = true
		e.logger.Info("pruned low-trust experiences", zap.Int("removed", n))
	}

	for stream, max := range map[string]int{
		storage.StreamExperiences: rotateExperiences,
		storage.StreamInsights:    rotateInsights,
		storage.StreamKnowledge:   rotateKnowledge,
	} {
		if n, err := e.store.Rotate(stream, max, true); err == nil && n > 0 {
			productive = true
		}
	}

	if err := e.dedupSkills(); err != nil {
		e.logger.Warn("skill dedup failed", zap.Error(err))
	}
	if n, err := e.store.Rotate(storage.StreamSkills, skillsKeep, true); err == nil && n > 0 {
		productive = true
	}

	if n := e.cleanupSuggestions(); n > 0 {
		productive = true
	}
	if n := cleanupScratchScripts(config.GetScriptsDir(), scratchTTL); n > 0 {
		productive = true
	}
	e.gzipOldArchives()
	e.checkLogSizes()
	e.saveState()
	return productive, nil
}

// autoRollbackRecent responds to a reward regression: suspects go to
// the audit stream and an operator alert, and curiosity or heal
// artifacts written in the last hour are withdrawn to the trash.
func (e *Engine) autoRollbackRecent(delta float64) {
	e.logger.Warn("reward regression detected", zap.Float64("delta", delta))
	audit := storage.Record{
		"ts_ms": time.Now().UnixMilli(),
		"event": "reward_regression",
		"delta": delta,
	}
	if e.reward != nil {
		if suspects, err := e.reward.FindSuspects(); err == nil && len(suspects) > 0 {
			names := make([]string, 0, len(suspects))
			for _, s := range suspects {
				names = append(names, s.Tool)
			}
			audit["suspects"] = names
		}
	}
	if err := e.store.Append(storage.StreamAutonomicAudit, audit); err != nil {
		e.logger.Warn("regression audit append failed", zap.Error(err))
	}
	e.alerts.Push(fmt.Sprintf("reward regression: success rate dropped %.2f — recent artifacts withdrawn", delta))

	cutoff := time.Now().Add(-time.Hour)
	utils := config.GetUtilsDir()
	entries, err := os.ReadDir(utils)
	if err != nil {
		return
	}
	trash := config.GetTrashDir()
	_ = os.MkdirAll(trash, 0o755)
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasPrefix(name, "curiosity_") && !strings.HasPrefix(name, "heal_") {
			continue
		}
		info, err := ent.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		src := filepath.Join(utils, name)
		dst := filepath.Join(trash, fmt.Sprintf("%s.%d", name, time.Now().Unix()))
		if err := os.Rename(src, dst); err == nil {
			e.logger.Info("rolled back recent artifact", zap.String("script", name))
		}
	}
}

// pruneLowTrustExperiences drops experiences whose decayed trust fell
// under 0.1 and which were never reused.
func (e *Engine) pruneLowTrustExperiences() int {
	recs, err := e.store.Read(storage.StreamExperiences, 0)
	if err != nil {
		return 0
	}
	kept := make([]storage.Record, 0, len(recs))
	for _, rec := range recs {
		if learning.TrustScore(rec) < 0.1 && storage.Float(rec, "reuse") == 0 {
			continue
		}
		kept = append(kept, rec)
	}
	removed := len(recs) - len(kept)
	if removed == 0 {
		return 0
	}
	if err := e.store.Rewrite(storage.StreamExperiences, kept); err != nil {
		e.logger.Warn("trust prune rewrite failed", zap.Error(err))
		return 0
	}
	return removed
}

// dedupSkills compacts the skill stream to the latest record per code
// hash.
func (e *Engine) dedupSkills() error {
	return e.store.Compact(storage.StreamSkills,
		func(rec storage.Record) string { return storage.Str(rec, "code_hash") },
		nil)
}

// cleanupSuggestions drops executed genesis suggestions older than a
// day.
func (e *Engine) cleanupSuggestions() int {
	recs, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-suggestionTTL).UnixMilli()
	kept := make([]storage.Record, 0, len(recs))
	for _, rec := range recs {
		if storage.Bool(rec, "executed") && storage.TsMs(rec) < cutoff {
			continue
		}
		kept = append(kept, rec)
	}
	removed := len(recs) - len(kept)
	if removed == 0 {
		return 0
	}
	if err := e.store.Rewrite(storage.StreamGenesisSuggestions, kept); err != nil {
		return 0
	}
	return removed
}

// cleanupScratchScripts removes run_* scratch files older than the
// TTL from the scripts directory.
func cleanupScratchScripts(dir string, ttl time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), "run_") {
			continue
		}
		info, err := ent.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, ent.Name())) == nil {
			removed++
		}
	}
	return removed
}

// gzipOldArchives compresses archive files past the age threshold so
// the size sweep below sees them at their real cost.
func (e *Engine) gzipOldArchives() {
	entries, err := os.ReadDir(e.store.Dir())
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-archiveGzipAge)
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".archive.jsonl") {
			continue
		}
		info, err := ent.Info()
		if err != nil || info.ModTime().After(cutoff) || info.Size() == 0 {
			continue
		}
		path := filepath.Join(e.store.Dir(), name)
		if _, err := storage.GzipFile(path); err != nil {
			e.logger.Warn("archive gzip failed", zap.String("file", name), zap.Error(err))
		} else {
			e.logger.Info("archive compressed", zap.String("file", name))
		}
	}
}

// checkLogSizes enforces the per-stream and total byte caps on the
// memory directory by halving oversized streams, largest first, until
// the total is back under 80% of the cap.
func (e *Engine) checkLogSizes() {
	type streamSize struct {
		stream string
		size   int64
	}
	entries, err := os.ReadDir(e.store.Dir())
	if err != nil {
		return
	}
	var sizes []streamSize
	var total int64
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".archive") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		sizes = append(sizes, streamSize{
			stream: strings.TrimSuffix(name, ".jsonl"),
			size:   info.Size(),
		})
	}

	for _, ss := range sizes {
		if ss.size > logFileCap {
			e.halveStream(ss.stream)
		}
	}
	if total <= logTotalCap {
		return
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].size > sizes[j].size })
	target := logTotalCap * 8 / 10
	for _, ss := range sizes {
		if total <= target {
			break
		}
		if removedBytes := e.halveStream(ss.stream); removedBytes > 0 {
			total -= removedBytes
		}
	}
}

// halveStream rotates a stream down to half its record count (floor
// of 10), archiving the evicted records. Returns bytes reclaimed.
func (e *Engine) halveStream(stream string) int64 {
	before, err := os.Stat(e.store.Path(stream))
	if err != nil {
		return 0
	}
	count, err := e.store.Count(stream)
	if err != nil || count == 0 {
		return 0
	}
	keep := count / 2
	if keep < 10 {
		keep = 10
	}
	if _, err := e.store.Rotate(stream, keep, true); err != nil {
		e.logger.Warn("stream halve failed", zap.String("stream", stream), zap.Error(err))
		return 0
	}
	after, err := os.Stat(e.store.Path(stream))
	if err != nil {
		return 0
	}
	e.logger.Info("stream halved for size cap",
		zap.String("stream", stream), zap.Int("kept", keep))
	return before.Size() - after.Size()
}

// doCuriosity runs one curiosity cycle. An unproductive cycle falls
// through to web exploration with the gap as the seed query, so a
// blocked goal still produces new knowledge.
func (e *Engine) doCuriosity(ctx context.Context) (bool, error) {
	if !e.curiosity.CanRun() {
		return false, nil
	}
	res, err := e.curiosity.RunCycle(ctx, e.profiles.get(e.store), e.knownTools())
	if err != nil {
		return false, err
	}
	if res.Productive {
		e.profiles.invalidate()
		e.clearStasis()
		return true, nil
	}
	if res.Query != "" {
		return e.doWebExplore(ctx, res.Query)
	}
	return false, nil
}

func (e *Engine) knownTools() []string {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Registry().List()
}
