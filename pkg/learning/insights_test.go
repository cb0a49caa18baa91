// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/treadle/pkg/storage"
)

// seedExperience writes straight to the stream, bypassing the recorder
// gates, so tests control the extraction window exactly.
func seedExperience(t *testing.T, store *storage.Store, tool, request, preview string, success bool) {
	t.Helper()
	require.NoError(t, store.Append(storage.StreamExperiences, storage.Record{
		"event":          "experience",
		"user_request":   request,
		"intent_type":    "action",
		"tool_used":      tool,
		"success":        success,
		"elapsed_sec":    0.5,
		"result_preview": preview,
	}))
}

func readRulesInsights(t *testing.T, store *storage.Store) []storage.Record {
	t.Helper()
	recs, err := store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	var rules []storage.Record
	for _, rec := range recs {
		if storage.Str(rec, "type") == "rules" {
			rules = append(rules, rec)
		}
	}
	return rules
}

func TestExtractInsights_RuleShapes(t *testing.T) {
	r, store := newTestRecorder(t)

	for i := 0; i < 3; i++ {
		seedExperience(t, store, "broken", "compile the project", "Error: exit status 1", false)
	}
	seedExperience(t, store, "solid", "list the files in the project", "a.go b.go", true)
	seedExperience(t, store, "solid", "list the files in src", "x.go", true)
	seedExperience(t, store, "solid", "list the files in docs", "readme.md", true)

	require.NoError(t, r.extractInsights())

	insights := readRulesInsights(t, store)
	require.Len(t, insights, 1)
	rules := recordStrings(insights[0], "rules")
	assert.Contains(t, rules, "AVOID: 'broken' fails often (3/3). Try alternative tools.")
	assert.Contains(t, rules, "PREFER: 'solid' is reliable (3/3 success).")
	assert.Contains(t, rules, "PATTERN: 'runtime' errors repeat (3x). Check input format before execution.")
	assert.Contains(t, rules, "WORKS: 'solid' succeeds for requests like: list the files in the project")
	assert.Equal(t, float64(len(rules)), storage.Float(insights[0], "importance"))
	assert.Equal(t, 6.0, storage.Float(insights[0], "total_experiences"))
	assert.Greater(t, storage.Float(insights[0], "quality_score"), 0.3)
}

func TestExtractInsights_QualityFloorSkipsThinRules(t *testing.T) {
	r, store := newTestRecorder(t)

	// Two successes produce only a WORKS rule: no specific marker and
	// barely any data, so the quality score stays under the floor.
	seedExperience(t, store, "t", "first request for t", "ok one", true)
	seedExperience(t, store, "t", "second request for t", "ok two", true)

	require.NoError(t, r.extractInsights())
	assert.Empty(t, readRulesInsights(t, store))
}

func TestExtractInsights_RepeatRulesSkipped(t *testing.T) {
	r, store := newTestRecorder(t)

	for i := 0; i < 3; i++ {
		seedExperience(t, store, "broken", "compile the project", "Error: exit status 1", false)
	}
	require.NoError(t, r.extractInsights())
	require.Len(t, readRulesInsights(t, store), 1)

	// Same window again: the rule set fully overlaps the stored insight.
	require.NoError(t, r.extractInsights())
	assert.Len(t, readRulesInsights(t, store), 1)
}

func TestExtractInsights_EmptyStream(t *testing.T) {
	r, store := newTestRecorder(t)
	require.NoError(t, r.extractInsights())
	count, err := store.Count(storage.StreamInsights)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSuggestGenesis_ReplaceAndFix(t *testing.T) {
	r, store := newTestRecorder(t)

	for i := 0; i < 3; i++ {
		seedExperience(t, store, "broken", "compile the project", "Error: exit status 1", false)
	}
	seedExperience(t, store, "solid", "list the files in the project", "a.go b.go", true)
	seedExperience(t, store, "solid", "list the files in src", "x.go", true)
	seedExperience(t, store, "solid", "list the files in docs", "readme.md", true)

	require.NoError(t, r.extractInsights())

	recs, err := store.Read(storage.StreamGenesisSuggestions, 0)
	require.NoError(t, err)
	byKey := make(map[string]storage.Record)
	for _, rec := range recs {
		byKey[storage.Str(rec, "suggestion_key")] = rec
	}
	require.Len(t, byKey, 2)

	replace := byKey["replace_broken"]
	require.NotNil(t, replace)
	assert.Equal(t, "replace_tool", storage.Str(replace, "type"))
	assert.Equal(t, "'broken' fails 3/3 times (100%)", storage.Str(replace, "reason"))
	assert.Equal(t, 3.0, storage.Float(replace, "priority"))

	fix := byKey["fix_runtime"]
	require.NotNil(t, fix)
	assert.Equal(t, "new_tool", storage.Str(fix, "type"))
	assert.Equal(t,
		"Create a sandbox pre-check tool that validates commands before execution",
		storage.Str(fix, "proposal"))
}

func TestSuggestGenesis_CapabilityGap(t *testing.T) {
	r, store := newTestRecorder(t)

	seedExperience(t, store, "ghost", "translate this document", "", false)
	seedExperience(t, store, "ghost", "summarize the meeting", "", false)
	seedExperience(t, store, "ghost", "draw a diagram", "", false)

	require.NoError(t, r.extractInsights())

	recs, err := store.Read(storage.StreamGenesisSuggestions, 0)
	require.NoError(t, err)
	var gap storage.Record
	for _, rec := range recs {
		if storage.Str(rec, "type") == "new_capability" {
			gap = rec
		}
	}
	require.NotNil(t, gap)
	assert.Equal(t, "capability_gap_3", storage.Str(gap, "suggestion_key"))
	assert.Equal(t, "3 requests could not be handled by existing tools", storage.Str(gap, "reason"))
	assert.Equal(t,
		"translate this document; summarize the meeting; draw a diagram",
		storage.Str(gap, "sample_requests"))
}

func TestSuggestGenesis_KeyDedupAcrossHistory(t *testing.T) {
	r, store := newTestRecorder(t)

	for i := 0; i < 3; i++ {
		seedExperience(t, store, "broken", "compile the project", "Error: exit status 1", false)
	}
	require.NoError(t, r.extractInsights())
	first, err := store.Count(storage.StreamGenesisSuggestions)
	require.NoError(t, err)
	require.Greater(t, first, 0)

	// A fresh window with the same failure shape must not duplicate the
	// suggestions: the keys already exist in the stream.
	for i := 0; i < 3; i++ {
		seedExperience(t, store, "broken", "compile the project again", "Error: exit status 2", false)
	}
	require.NoError(t, r.extractInsights())
	second, err := store.Count(storage.StreamGenesisSuggestions)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClassifyFailures(t *testing.T) {
	failures := []storage.Record{
		{"result_preview": "파싱 실패: bad json"},
		{"result_preview": "json decode error"},
		{"result_preview": "request timeout after 30s"},
		{"result_preview": "Error: boom"},
		{"result_preview": "nothing recognizable here"},
	}
	got := classifyFailures(failures)
	assert.Equal(t, 2, got["parse"])
	assert.Equal(t, 1, got["timeout"])
	assert.Equal(t, 1, got["runtime"])
}
