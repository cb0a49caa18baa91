// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/storage"
)

func TestQuestioner_EmbeddedBankParses(t *testing.T) {
	q := NewSelfQuestioner(newTestStore(t), nil, zaptest.NewLogger(t))
	for _, diff := range []string{"easy", "medium", "hard"} {
		require.NotEmpty(t, q.bank[diff], diff)
		for _, sc := range q.bank[diff] {
			assert.NotEmpty(t, sc.Input)
			assert.Contains(t, []string{"reply", "action", "config"}, sc.Expect)
			assert.Equal(t, diff, sc.Difficulty)
		}
	}
}

func TestQuestioner_SelectDifficultyLadder(t *testing.T) {
	store := newTestStore(t)
	curriculum := learning.NewCurriculumTracker(store, zaptest.NewLogger(t))
	q := NewSelfQuestioner(store, curriculum, zaptest.NewLogger(t))

	// No history: start at easy.
	assert.Equal(t, "easy", q.selectDifficulty())

	// Easy mastered: move to medium.
	var outcomes []learning.ScenarioOutcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, learning.ScenarioOutcome{Difficulty: "easy", Passed: i != 0})
	}
	require.NoError(t, curriculum.RecordResults(outcomes))
	assert.Equal(t, "medium", q.selectDifficulty())

	// Medium mastered too: hard.
	outcomes = outcomes[:0]
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, learning.ScenarioOutcome{Difficulty: "medium", Passed: i != 0})
	}
	require.NoError(t, curriculum.RecordResults(outcomes))
	assert.Equal(t, "hard", q.selectDifficulty())

	// Nil curriculum always reads easy.
	assert.Equal(t, "easy", NewSelfQuestioner(store, nil, zaptest.NewLogger(t)).selectDifficulty())
}

func TestQuestioner_GenerateScenarios(t *testing.T) {
	store := newTestStore(t)
	q := NewSelfQuestioner(store, nil, zaptest.NewLogger(t))

	scenarios := q.GenerateScenarios(context.Background(), ToolProfile{}, []string{"SHELL.EXEC.v1"})
	require.NotEmpty(t, scenarios)
	assert.LessOrEqual(t, len(scenarios), scenarioCap)

	coverage := 0
	seen := map[string]bool{}
	for _, sc := range scenarios {
		assert.False(t, seen[sc.Input], "inputs are deduplicated")
		seen[sc.Input] = true
		if sc.Category == "coverage:SHELL.EXEC.v1" {
			coverage++
			assert.Equal(t, "action", sc.Expect)
		}
	}
	assert.Equal(t, 1, coverage, "untested tool gets one coverage scenario")
}

func TestQuestioner_FailureReplays(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Append(storage.StreamExperiences, storage.Record{
		"user_request":   "디스크 사용량 확인해줘",
		"source":         "self_test",
		"success":        false,
		"result_preview": "expected=action, got=reply",
	}))
	// A live failure without the expected/got shape is not replayed.
	require.NoError(t, store.Append(storage.StreamExperiences, storage.Record{
		"user_request":   "그냥 실패",
		"success":        false,
		"result_preview": "timeout",
	}))

	q := NewSelfQuestioner(store, nil, zaptest.NewLogger(t))
	replays := q.failureReplays()
	require.Len(t, replays, 1)
	assert.Equal(t, "디스크 사용량 확인해줘", replays[0].Input)
	assert.Equal(t, "action", replays[0].Expect)
	assert.Equal(t, "replay", replays[0].Category)
}

func TestTokenSetAndNovelty(t *testing.T) {
	toks := tokenSet("디스크 사용량 확인해줘 disk usage")
	assert.True(t, toks["디스크"])
	assert.True(t, toks["disk"])
	assert.False(t, toks["a"], "single-rune tokens dropped")

	// Identical text has zero novelty; unrelated text is fully novel.
	corpus := []map[string]bool{tokenSet("디스크 사용량 확인해줘")}
	assert.InDelta(t, 0.0, novelty("디스크 사용량 확인해줘", corpus), 0.001)
	assert.InDelta(t, 1.0, novelty("completely unrelated text", corpus), 0.001)
	assert.Zero(t, novelty("", corpus), "empty text is never novel")
}

func TestJaccard(t *testing.T) {
	a := tokenSet("alpha beta gamma")
	b := tokenSet("beta gamma delta")
	assert.InDelta(t, 0.5, jaccard(a, b), 0.001)
	assert.Zero(t, jaccard(a, map[string]bool{}))
}
