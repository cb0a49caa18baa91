// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func newTestRecorder(t *testing.T) (*Recorder, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return NewRecorder(Options{Store: store, Logger: zaptest.NewLogger(t)}), store
}

func TestRecordExperience_AppendsRecord(t *testing.T) {
	r, store := newTestRecorder(t)

	kept, err := r.RecordExperience(Experience{
		UserText: "check the weather in Seoul",
		Intent:   Intent{Type: "action", Tool: "web_search", Keyword: "weather"},
		Result:   "sunny, 22 degrees",
		Success:  true,
		Elapsed:  1234 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, kept)

	recs, err := store.Read(storage.StreamExperiences, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "experience", storage.Str(rec, "event"))
	assert.Equal(t, "check the weather in Seoul", storage.Str(rec, "user_request"))
	assert.Equal(t, "web_search", storage.Str(rec, "tool_used"))
	assert.Equal(t, "action", storage.Str(rec, "intent_type"))
	assert.Equal(t, "weather", storage.Str(rec, "keyword"))
	assert.True(t, storage.Bool(rec, "success"))
	assert.InDelta(t, 1.2, storage.Float(rec, "elapsed_sec"), 0.001)
	assert.Equal(t, "sunny, 22 degrees", storage.Str(rec, "result_preview"))
}

func TestRecordExperience_ToolFallsBackToIntentType(t *testing.T) {
	r, store := newTestRecorder(t)

	_, err := r.RecordExperience(Experience{
		UserText: "just chatting",
		Intent:   Intent{Type: "chat"},
		Result:   "hello there",
		Success:  true,
	})
	require.NoError(t, err)

	recs, err := store.Read(storage.StreamExperiences, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "chat", storage.Str(recs[0], "tool_used"))
}

func TestRecordExperience_RejectsIdenticalExpectedGot(t *testing.T) {
	r, store := newTestRecorder(t)

	kept, err := r.RecordExperience(Experience{
		UserText: "run check",
		Intent:   Intent{Type: "action", Tool: "check_a"},
		Result:   "Expected=42, got=42",
		Success:  true,
	})
	require.NoError(t, err)
	assert.False(t, kept, "identical expected/got pairs are auto-test dummies")

	kept, err = r.RecordExperience(Experience{
		UserText: "run check",
		Intent:   Intent{Type: "action", Tool: "check_b"},
		Result:   "expected=42, got=43",
		Success:  true,
	})
	require.NoError(t, err)
	assert.True(t, kept, "a real mismatch is a legitimate outcome")

	count, err := store.Count(storage.StreamExperiences)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordExperience_SourceTagBypassesDummyGate(t *testing.T) {
	r, _ := newTestRecorder(t)

	kept, err := r.RecordExperience(Experience{
		UserText: "self test scenario",
		Intent:   Intent{Type: "action", Tool: "check_a"},
		Result:   "expected=42, got=42",
		Success:  true,
		Source:   "self_test",
	})
	require.NoError(t, err)
	assert.True(t, kept, "tagged records are attributable and pass the gate")
}

func TestRecordExperience_RejectsStressMarkerSpam(t *testing.T) {
	r, _ := newTestRecorder(t)

	kept, err := r.RecordExperience(Experience{
		UserText: "spam",
		Intent:   Intent{Type: "action", Tool: "shell"},
		Result:   "stress_test stress_test stress_test done",
		Success:  true,
	})
	require.NoError(t, err)
	assert.False(t, kept)
}

func TestRecordExperience_DedupWithin24h(t *testing.T) {
	r, store := newTestRecorder(t)

	exp := Experience{
		UserText: "list files",
		Intent:   Intent{Type: "action", Tool: "shell"},
		Result:   "file_a file_b file_c",
		Success:  true,
	}
	kept, err := r.RecordExperience(exp)
	require.NoError(t, err)
	assert.True(t, kept)

	kept, err = r.RecordExperience(exp)
	require.NoError(t, err)
	assert.False(t, kept, "same tool, outcome, and preview within a day is a duplicate")

	exp.Result = "file_a file_b file_c file_d"
	kept, err = r.RecordExperience(exp)
	require.NoError(t, err)
	assert.True(t, kept, "a different preview is a new outcome")

	count, err := store.Count(storage.StreamExperiences)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordExperience_FailureRecordsReflection(t *testing.T) {
	r, store := newTestRecorder(t)

	_, err := r.RecordExperience(Experience{
		UserText: "delete the temp dir",
		Intent:   Intent{Type: "action", Tool: "shell"},
		Result:   "Error: permission denied",
		Success:  false,
	})
	require.NoError(t, err)

	insights, err := store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "failure", storage.Str(insights[0], "type"))
	assert.Equal(t, "tool_error", storage.Str(insights[0], "fail_type"))
	assert.Equal(t, "delete the temp dir", storage.Str(insights[0], "user_request"))
}

func TestRecordExperience_EveryTenthTriggersInsights(t *testing.T) {
	r, store := newTestRecorder(t)

	for i := 1; i <= 10; i++ {
		kept, err := r.RecordExperience(Experience{
			UserText: fmt.Sprintf("find item %d", i),
			Intent:   Intent{Type: "action", Tool: "web_search"},
			Result:   fmt.Sprintf("result %d", i),
			Success:  true,
		})
		require.NoError(t, err)
		require.True(t, kept)
	}

	insights, err := store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, 1, "the tenth experience triggers extraction")
	assert.Equal(t, "rules", storage.Str(insights[0], "type"))
	rules := recordStrings(insights[0], "rules")
	assert.Contains(t, rules, "PREFER: 'web_search' is reliable (10/10 success).")
}

func TestReflectOnFailure_Classification(t *testing.T) {
	r, store := newTestRecorder(t)

	cases := []struct {
		result      string
		failType    string
		alternative string
	}{
		{"JSON parse failed at line 3", "parse_error", "retry with simpler prompt or fallback to direct LLM"},
		{"파싱 실패: malformed response", "parse_error", "retry with simpler prompt or fallback to direct LLM"},
		{"command timed out after 30s", "tool_error", "use shorter timeout or simpler command"},
		{"Error: no such file", "tool_error", "check command syntax or tool availability"},
		{"", "empty", "tool may need different input format"},
		{"the answer is 42", "wrong_tool", "try different tool or rephrase as chat"},
	}
	for i, tc := range cases {
		err := r.ReflectOnFailure(fmt.Sprintf("request %d", i), Intent{Type: "action", Tool: "shell"}, tc.result)
		require.NoError(t, err)
	}

	insights, err := store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, len(cases))
	for i, tc := range cases {
		rec := insights[i]
		assert.Equal(t, tc.failType, storage.Str(rec, "fail_type"), "result %q", tc.result)
		assert.Equal(t, tc.alternative, storage.Str(rec, "alternative"), "result %q", tc.result)
		assert.Equal(t, "failure", storage.Str(rec, "type"))
		assert.Contains(t, storage.Str(rec, "intent_tried"), "shell")
	}
}

func TestReflectOnFailure_EmptyOutputPreview(t *testing.T) {
	r, store := newTestRecorder(t)

	require.NoError(t, r.ReflectOnFailure("do something", Intent{Type: "action"}, ""))

	insights, err := store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "no output", storage.Str(insights[0], "error_preview"))
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "가나다", truncRunes("가나다라마", 3))
	assert.Equal(t, "ab", truncRunes("ab", 5))
	assert.Equal(t, "", truncRunes("", 3))
}
