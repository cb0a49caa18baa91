// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Insight extraction parameters.
const (
	insightWindow      = 30  // experiences aggregated per extraction
	insightDedupWindow = 20  // recent insights compared for rule overlap
	insightMinQuality  = 0.3 // quality floor: 0.4·data + 0.6·specificity
	insightMaxOverlap  = 0.6 // rule-set overlap past which the insight is a repeat
	insightMaxRules    = 10
)

// extractInsights aggregates the recent experience window into
// natural-language rules (AVOID / PREFER / PATTERN / WORKS), scores
// them, and appends a rules insight unless it repeats a recent one.
// A successful extraction also feeds the genesis suggestion scan.
func (r *Recorder) extractInsights() error {
	_, span := r.tracer.StartSpan(context.Background(), observability.SpanLearningInsights)
	defer r.tracer.EndSpan(span)

	recent, err := r.store.Read(storage.StreamExperiences, insightWindow)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	toolStats := make(map[string]map[string]int)
	var successes, failures []storage.Record
	for _, e := range recent {
		tool := storage.Str(e, "tool_used")
		if tool == "" {
			tool = storage.Str(e, "intent_type")
		}
		if tool == "" {
			tool = "chat"
		}
		st, ok := toolStats[tool]
		if !ok {
			st = map[string]int{"ok": 0, "fail": 0}
			toolStats[tool] = st
		}
		if storage.Bool(e, "success") {
			successes = append(successes, e)
			st["ok"]++
		} else {
			failures = append(failures, e)
			st["fail"]++
		}
	}

	var rules []string
	for _, tool := range sortedKeys(toolStats) {
		st := toolStats[tool]
		total := st["ok"] + st["fail"]
		switch {
		case total >= 3 && float64(st["fail"])/float64(total) > 0.5:
			rules = append(rules, fmt.Sprintf(
				"AVOID: '%s' fails often (%d/%d). Try alternative tools.", tool, st["fail"], total))
		case total >= 3 && float64(st["ok"])/float64(total) > 0.8:
			rules = append(rules, fmt.Sprintf(
				"PREFER: '%s' is reliable (%d/%d success).", tool, st["ok"], total))
		}
	}

	failTypes := classifyFailures(failures)
	for _, ftype := range sortedKeys(failTypes) {
		if count := failTypes[ftype]; count >= 2 {
			rules = append(rules, fmt.Sprintf(
				"PATTERN: '%s' errors repeat (%dx). Check input format before execution.", ftype, count))
		}
	}

	successTail := successes
	if len(successTail) > 10 {
		successTail = successTail[len(successTail)-10:]
	}
	successPatterns := make(map[string][]string)
	for _, s := range successTail {
		req := truncRunes(storage.Str(s, "user_request"), 80)
		tool := storage.Str(s, "tool_used")
		if tool == "" {
			tool = storage.Str(s, "intent_type")
		}
		if tool != "" && req != "" {
			successPatterns[tool] = append(successPatterns[tool], req)
		}
	}
	for _, tool := range sortedKeys(successPatterns) {
		if reqs := successPatterns[tool]; len(reqs) >= 2 {
			rules = append(rules, fmt.Sprintf(
				"WORKS: '%s' succeeds for requests like: %s", tool, truncRunes(reqs[0], 50)))
		}
	}

	kept := rules[:0]
	for _, rule := range rules {
		if len(rule) > 10 {
			kept = append(kept, rule)
		}
	}
	rules = kept
	if len(rules) == 0 {
		return nil
	}

	dataScore := math.Min(float64(len(recent))/float64(insightWindow), 1.0)
	specific := 0
	for _, rule := range rules {
		if strings.Contains(rule, "PREFER") || strings.Contains(rule, "AVOID") ||
			strings.Contains(rule, "PATTERN") {
			specific++
		}
	}
	quality := math.Round((0.4*dataScore+0.6*float64(specific)/float64(len(rules)))*1000) / 1000
	if quality < insightMinQuality {
		r.logger.Info("insight below quality floor",
			zap.Float64("quality", quality), zap.Int("rules", len(rules)))
		return nil
	}

	if len(rules) > insightMaxRules {
		rules = rules[:insightMaxRules]
	}
	dup, err := r.rulesRepeatRecent(rules)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if dup {
		r.logger.Info("insight rules repeat a recent insight, skipped",
			zap.Int("rules", len(rules)))
		return nil
	}

	insight := storage.Record{
		"event":             "insight",
		"stream":            storage.StreamInsights,
		"type":              "rules",
		"rules":             rules,
		"tool_stats":        toolStats,
		"total_experiences": len(recent),
		"importance":        len(rules),
		"quality_score":     quality,
	}
	if err := r.store.Append(storage.StreamInsights, insight); err != nil {
		span.RecordError(err)
		return err
	}
	r.logger.Info("insight extracted",
		zap.Int("rules", len(rules)),
		zap.Float64("quality", quality),
		zap.Int("experiences", len(recent)))
	span.SetAttribute("rules", len(rules))

	r.suggestGenesis(toolStats, failTypes, failures)
	return nil
}

// classifyFailures buckets failure previews into parse / timeout /
// runtime by their leading markers.
func classifyFailures(failures []storage.Record) map[string]int {
	failTypes := make(map[string]int)
	for _, f := range failures {
		preview := strings.ToLower(truncRunes(storage.Str(f, "result_preview"), 100))
		switch {
		case strings.Contains(preview, "파싱 실패") || strings.Contains(preview, "json"):
			failTypes["parse"]++
		case strings.Contains(preview, "timeout"):
			failTypes["timeout"]++
		case strings.Contains(truncRunes(preview, 30), "error"):
			failTypes["runtime"]++
		}
	}
	return failTypes
}

// rulesRepeatRecent reports whether the new rule set overlaps a recent
// rules insight by 60% or more.
func (r *Recorder) rulesRepeatRecent(rules []string) (bool, error) {
	newSet := make(map[string]bool, len(rules))
	for _, rule := range rules {
		newSet[rule] = true
	}
	existing, err := r.store.Read(storage.StreamInsights, insightDedupWindow)
	if err != nil {
		return false, err
	}
	for _, ei := range existing {
		if storage.Str(ei, "type") != "rules" {
			continue
		}
		old := recordStrings(ei, "rules")
		if len(old) == 0 {
			continue
		}
		overlap := 0
		for _, rule := range old {
			if newSet[rule] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(newSet)) >= insightMaxOverlap {
			return true, nil
		}
	}
	return false, nil
}

// suggestGenesis writes non-destructive tool proposals when failure
// patterns repeat: a replacement for a tool failing over 60%, a new
// tool for a failure type seen three times, and a capability gap when
// three or more requests went unhandled. Suggestions are deduplicated
// by key across the stream's whole history.
func (r *Recorder) suggestGenesis(toolStats map[string]map[string]int, failTypes map[string]int, failures []storage.Record) {
	recs, err := r.store.Read(storage.StreamGenesisSuggestions, 0)
	if err != nil {
		r.logger.Debug("genesis suggestion read failed", zap.Error(err))
		return
	}
	existing := make(map[string]bool, len(recs))
	for _, rec := range recs {
		existing[storage.Str(rec, "suggestion_key")] = true
	}

	var suggestions []storage.Record

	for _, tool := range sortedKeys(toolStats) {
		st := toolStats[tool]
		total := st["ok"] + st["fail"]
		if total < 3 || float64(st["fail"])/float64(total) <= 0.6 {
			continue
		}
		key := "replace_" + tool
		if existing[key] {
			continue
		}
		suggestions = append(suggestions, storage.Record{
			"suggestion_key": key,
			"type":           "replace_tool",
			"target_tool":    tool,
			"reason": fmt.Sprintf("'%s' fails %d/%d times (%.0f%%)",
				tool, st["fail"], total, float64(st["fail"])/float64(total)*100),
			"proposal": fmt.Sprintf(
				"Create a more robust version of '%s' with better error handling or alternative approach", tool),
			"priority": min(st["fail"], 5),
		})
	}

	failProposals := map[string]string{
		"parse":   "Create an input sanitizer/validator tool that pre-checks format before tool execution",
		"timeout": "Create an async wrapper tool with progressive timeout and partial result capture",
		"runtime": "Create a sandbox pre-check tool that validates commands before execution",
	}
	for _, ftype := range sortedKeys(failTypes) {
		count := failTypes[ftype]
		if count < 3 {
			continue
		}
		key := "fix_" + ftype
		if existing[key] {
			continue
		}
		proposal, ok := failProposals[ftype]
		if !ok {
			proposal = fmt.Sprintf("Create a tool to handle '%s' failures", ftype)
		}
		suggestions = append(suggestions, storage.Record{
			"suggestion_key":  key,
			"type":            "new_tool",
			"failure_pattern": ftype,
			"reason":          fmt.Sprintf("'%s' errors repeat %dx in recent experiences", ftype, count),
			"proposal":        proposal,
			"priority":        min(count, 5),
		})
	}

	var unhandled []string
	for _, f := range failures {
		preview := strings.ToLower(storage.Str(f, "result_preview"))
		if preview == "" ||
			(!strings.Contains(truncRunes(preview, 30), "error") && !strings.Contains(preview, "timeout")) {
			unhandled = append(unhandled, storage.Str(f, "user_request"))
		}
	}
	if len(unhandled) >= 3 {
		key := fmt.Sprintf("capability_gap_%d", len(unhandled))
		if !existing[key] {
			samples := make([]string, 0, 3)
			for _, req := range unhandled[:3] {
				samples = append(samples, truncRunes(req, 60))
			}
			suggestions = append(suggestions, storage.Record{
				"suggestion_key":  key,
				"type":            "new_capability",
				"reason":          fmt.Sprintf("%d requests could not be handled by existing tools", len(unhandled)),
				"sample_requests": strings.Join(samples, "; "),
				"proposal":        "Analyze these requests and create a Genesis tool to handle this capability gap",
				"priority":        min(len(unhandled), 5),
			})
		}
	}

	for _, s := range suggestions {
		if err := r.store.Append(storage.StreamGenesisSuggestions, s); err != nil {
			r.logger.Warn("genesis suggestion append failed", zap.Error(err))
			return
		}
	}
	if len(suggestions) > 0 {
		r.logger.Info("genesis suggestions recorded", zap.Int("count", len(suggestions)))
	}
}

// sortedKeys returns a map's keys in lexical order for deterministic
// rule and suggestion output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
