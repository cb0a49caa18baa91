// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package learning turns raw interaction outcomes into reusable
// knowledge: experience records, failure reflections, extracted rules,
// skills, genesis suggestions, and distilled routing policies. All
// state persists through the storage JSONL streams so every part of
// the runtime (pulse, autonomic engine, CLI) sees the same memory.
package learning

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Experience limits and triggers.
const (
	requestLimit = 1000 // runes kept of the user request
	previewLimit = 200  // runes kept of the result preview
	dedupPrefix  = 80   // preview prefix compared for 24h dedup
	dedupWindow  = 30   // recent records scanned for dedup
	insightEvery = 10   // extract insights every N experiences
	wisdomLimit  = 2000 // rune cap on assembled wisdom

	dayMs = 24 * 3600 * 1000
)

// expectedGotRe spots auto-test dummies of the form "expected=X, got=X".
var expectedGotRe = regexp.MustCompile(`expected=([^,]+),?\s*got=(.+)`)

// Options configures a Recorder. Store is required; Graph is optional
// and enables entity ingestion plus graph context in wisdom.
type Options struct {
	Store  *storage.Store
	Graph  *graph.Memory
	Logger *zap.Logger
	Tracer observability.Tracer
}

// Recorder writes the experience, insight, skill, and genesis streams.
type Recorder struct {
	store  *storage.Store
	graph  *graph.Memory
	logger *zap.Logger
	tracer observability.Tracer

	skills skillHashCache
}

// NewRecorder builds a Recorder, filling in no-op defaults.
func NewRecorder(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	return &Recorder{
		store:  opts.Store,
		graph:  opts.Graph,
		logger: opts.Logger,
		tracer: opts.Tracer,
	}
}

// Intent describes the classified intent that led to an outcome.
type Intent struct {
	Type    string `json:"type"`
	Tool    string `json:"tool,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Query   string `json:"query,omitempty"`
}

// toolKey is the stream's tool_used value: the tool when one ran,
// otherwise the intent type.
func (i Intent) toolKey() string {
	if i.Tool != "" {
		return i.Tool
	}
	return i.Type
}

// Experience is one interaction outcome bound for the experience stream.
type Experience struct {
	UserText  string
	Intent    Intent
	Result    string
	Success   bool
	Elapsed   time.Duration
	Source    string // origin tag; "" for live traffic, "self_test" etc. for synthetic
	SessionID string
}

// RecordExperience appends an experience after passing the quality
// gates: dummy expected/got pairs (unless tagged with a source), stress
// marker spam, and 24-hour duplicates with the same tool, outcome, and
// preview prefix. On failure it also records a reflection; every tenth
// experience triggers insight extraction. Returns whether the record
// was kept.
func (r *Recorder) RecordExperience(exp Experience) (bool, error) {
	_, span := r.tracer.StartSpan(context.Background(), observability.SpanLearningRecord,
		observability.WithAttribute(observability.AttrToolName, exp.Intent.toolKey()))
	defer r.tracer.EndSpan(span)

	preview := truncRunes(exp.Result, previewLimit)
	if reason := r.gateExperience(exp, preview); reason != "" {
		r.logger.Debug("experience gate rejected record", zap.String("reason", reason))
		span.SetAttribute("rejected", reason)
		return false, nil
	}

	rec := storage.Record{
		"event":          "experience",
		"stream":         storage.StreamExperiences,
		"user_request":   truncRunes(exp.UserText, requestLimit),
		"intent_type":    exp.Intent.Type,
		"tool_used":      exp.Intent.toolKey(),
		"success":        exp.Success,
		"elapsed_sec":    math.Round(exp.Elapsed.Seconds()*10) / 10,
		"result_preview": preview,
	}
	if exp.Intent.Keyword != "" {
		rec["keyword"] = exp.Intent.Keyword
	}
	if exp.Intent.Query != "" {
		rec["query"] = exp.Intent.Query
	}
	if exp.Source != "" {
		rec["source"] = exp.Source
	}
	if exp.SessionID != "" {
		rec["session_id"] = exp.SessionID
	}
	if err := r.store.Append(storage.StreamExperiences, rec); err != nil {
		span.RecordError(err)
		return false, err
	}

	if r.graph != nil && utf8.RuneCountInString(exp.UserText) >= 10 {
		meta := map[string]interface{}{"source": "experience", "tool": exp.Intent.toolKey()}
		if _, err := r.graph.Ingest(exp.UserText, meta); err != nil {
			r.logger.Debug("experience graph ingest failed", zap.Error(err))
		}
	}

	if !exp.Success {
		if err := r.ReflectOnFailure(exp.UserText, exp.Intent, exp.Result); err != nil {
			r.logger.Warn("failure reflection not recorded", zap.Error(err))
		}
	}

	count, err := r.store.Count(storage.StreamExperiences)
	if err != nil {
		r.logger.Debug("experience count unavailable", zap.Error(err))
	} else if count > 0 && count%insightEvery == 0 {
		if err := r.extractInsights(); err != nil {
			r.logger.Warn("insight extraction failed", zap.Error(err))
		}
	}
	span.Status = observability.Status{Code: observability.StatusOK}
	return true, nil
}

// gateExperience returns a non-empty rejection reason when the record
// should be dropped.
func (r *Recorder) gateExperience(exp Experience, preview string) string {
	lower := strings.ToLower(preview)
	if lower != "" {
		// Auto-test dummies carry identical expected/got pairs. Tagged
		// records are attributable and pass through.
		if exp.Source == "" && strings.Contains(lower, "expected=") && strings.Contains(lower, "got=") {
			if m := expectedGotRe.FindStringSubmatch(lower); m != nil &&
				strings.TrimSpace(m[1]) == strings.TrimSpace(m[2]) {
				return "identical expected/got"
			}
		}
		if strings.Count(lower, "stress_test") >= 3 {
			return "stress marker spam"
		}
	}

	toolKey := exp.Intent.toolKey()
	if toolKey == "" {
		return ""
	}
	recent, err := r.store.Read(storage.StreamExperiences, dedupWindow)
	if err != nil {
		r.logger.Debug("experience dedup read failed", zap.Error(err))
		return ""
	}
	nowMs := time.Now().UnixMilli()
	prefix := truncRunes(preview, dedupPrefix)
	for _, prev := range recent {
		if nowMs-storage.TsMs(prev) > dayMs {
			continue
		}
		if storage.Str(prev, "tool_used") == toolKey &&
			storage.Bool(prev, "success") == exp.Success &&
			truncRunes(storage.Str(prev, "result_preview"), dedupPrefix) == prefix {
			return "duplicate within 24h"
		}
	}
	return ""
}

// ReflectOnFailure classifies a failed outcome and records the
// alternative worth trying next time. The classification is purely
// lexical: parse markers, timeout markers, error markers in the head of
// the output, empty output, and everything else as a wrong tool choice.
func (r *Recorder) ReflectOnFailure(userText string, intent Intent, result string) error {
	lower := strings.ToLower(result)
	head := truncRunes(lower, 80)

	var failType, alternative string
	switch {
	case strings.Contains(lower, "파싱 실패") ||
		strings.Contains(lower, "json parse") ||
		strings.Contains(lower, "jsondecode"):
		failType = "parse_error"
		alternative = "retry with simpler prompt or fallback to direct LLM"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		failType = "tool_error"
		alternative = "use shorter timeout or simpler command"
	case strings.Contains(head, "error") || strings.Contains(head, "traceback"):
		failType = "tool_error"
		alternative = "check command syntax or tool availability"
	case strings.TrimSpace(result) == "":
		failType = "empty"
		alternative = "tool may need different input format"
	default:
		failType = "wrong_tool"
		alternative = "try different tool or rephrase as chat"
	}

	intentJSON, err := json.Marshal(intent)
	if err != nil {
		intentJSON = []byte("{}")
	}
	errPreview := truncRunes(result, 1000)
	if errPreview == "" {
		errPreview = "no output"
	}

	rec := storage.Record{
		"event":         "reflection",
		"stream":        storage.StreamInsights,
		"type":          "failure",
		"fail_type":     failType,
		"user_request":  truncRunes(userText, requestLimit),
		"tool_used":     intent.Tool,
		"intent_tried":  truncRunes(string(intentJSON), 800),
		"error_preview": errPreview,
		"alternative":   alternative,
		"importance":    1,
	}
	if err := r.store.Append(storage.StreamInsights, rec); err != nil {
		return err
	}
	r.logger.Info("reflection recorded",
		zap.String("request", truncRunes(userText, 50)),
		zap.String("fail_type", failType),
		zap.String("alternative", alternative))
	return nil
}

// truncRunes caps a string at n runes.
func truncRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// recordStrings extracts a []string field from a JSONL record.
func recordStrings(rec storage.Record, key string) []string {
	raw, ok := rec[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
