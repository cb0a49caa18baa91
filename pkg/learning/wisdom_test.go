// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/storage"
)

func seedRulesInsight(t *testing.T, store *storage.Store, rules []string) {
	t.Helper()
	require.NoError(t, store.Append(storage.StreamInsights, storage.Record{
		"event": "insight",
		"type":  "rules",
		"rules": rules,
	}))
}

func TestWisdom_EmptyStore(t *testing.T) {
	r, _ := newTestRecorder(t)
	assert.Empty(t, r.Wisdom(""))
	assert.Empty(t, r.Wisdom("some request"))
}

func TestWisdom_RulesThenReflections(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.ReflectOnFailure("first bad request", Intent{Type: "action"}, "Error: one"))
	require.NoError(t, r.ReflectOnFailure("second bad request", Intent{Type: "action"}, "Error: two"))
	seedRulesInsight(t, r.store, []string{"PREFER: 'shell' is reliable (5/5 success)."})

	w := r.Wisdom("")
	assert.True(t, strings.HasPrefix(w, "PREFER: 'shell'"), "rules lead the wisdom: %q", w)
	assert.Contains(t, w, "avoid: ")
	assert.Contains(t, w, "first bad request→check command syntax or tool availability")
	assert.Less(t, strings.Index(w, "second bad request"), strings.Index(w, "first bad request"),
		"newest reflection comes first")
}

func TestWisdom_NewestRulesWinCappedAtFive(t *testing.T) {
	r, _ := newTestRecorder(t)

	seedRulesInsight(t, r.store, []string{"OLD-RULE: superseded entirely"})
	seedRulesInsight(t, r.store, []string{
		"RULE-1: alpha alpha", "RULE-2: beta beta", "RULE-3: gamma gamma",
		"RULE-4: delta delta", "RULE-5: epsilon epsilon", "RULE-6: zeta zeta",
	})

	w := r.Wisdom("")
	assert.NotContains(t, w, "OLD-RULE")
	assert.Contains(t, w, "RULE-5")
	assert.NotContains(t, w, "RULE-6", "only the top five rules are injected")
}

func TestWisdom_LegacyPatternOnlyWithoutRules(t *testing.T) {
	r, _ := newTestRecorder(t)

	require.NoError(t, r.store.Append(storage.StreamInsights, storage.Record{
		"type":          "pattern",
		"success_tools": map[string]int{"shell": 5, "web_search": 2},
	}))

	w := r.Wisdom("")
	assert.Contains(t, w, "good:shell(5),web_search(2)")

	seedRulesInsight(t, r.store, []string{"PREFER: 'shell' is reliable (5/5 success)."})
	w = r.Wisdom("")
	assert.NotContains(t, w, "good:", "rules supersede legacy tool stats")
}

func TestWisdom_IncludesSkillHints(t *testing.T) {
	r, _ := newTestRecorder(t)

	_, err := r.RecordSkill("sort a list of numbers", "python", sortSnippet, "[1, 2, 3]")
	require.NoError(t, err)

	w := r.Wisdom("sort the numbers list")
	assert.Contains(t, w, "[skills] [python] sort a list of numbers")
}

func TestWisdom_IncludesGraphContext(t *testing.T) {
	store, err := storage.NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	mem := graph.NewMemory(store, zaptest.NewLogger(t), nil)
	_, err = mem.AddRelation("treadle", "redis", "uses", 0.8)
	require.NoError(t, err)

	r := NewRecorder(Options{Store: store, Graph: mem, Logger: zaptest.NewLogger(t)})
	w := r.Wisdom("treadle redis")
	assert.Contains(t, w, "[graph] ")
}

func TestWisdom_CappedAt2000Runes(t *testing.T) {
	r, _ := newTestRecorder(t)

	seedRulesInsight(t, r.store, []string{
		"RULE-A: " + strings.Repeat("가", 1500),
		"RULE-B: " + strings.Repeat("나", 1500),
	})

	w := r.Wisdom("")
	assert.Equal(t, 2000, utf8.RuneCountInString(w))
}

func TestTopSuccessTools_SortsByCountThenName(t *testing.T) {
	entry := storage.Record{"success_tools": map[string]interface{}{
		"web": 2.0, "shell": 5.0, "file": 2.0, "code": 1.0,
	}}
	assert.Equal(t, "shell(5),file(2),web(2)", topSuccessTools(entry))
	assert.Empty(t, topSuccessTools(storage.Record{}))
}
