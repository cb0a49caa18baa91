// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func newTestCurriculum(t *testing.T) (*CurriculumTracker, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return NewCurriculumTracker(store, zaptest.NewLogger(t)), store
}

func TestCurriculum_RecordResultsAndRates(t *testing.T) {
	c, _ := newTestCurriculum(t)

	require.NoError(t, c.RecordResults([]ScenarioOutcome{
		{Difficulty: "easy", Passed: true},
		{Difficulty: "easy", Passed: false},
		{Difficulty: "medium", Passed: true},
		{Difficulty: "hard", Passed: false},
		{Difficulty: "", Passed: true}, // unknown difficulty counts as easy
	}))

	rates, err := c.Rates()
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, rates.Easy, 0.001)
	assert.Equal(t, 3, rates.EasyTotal)
	assert.Equal(t, 1.0, rates.Medium)
	assert.Equal(t, 1, rates.MediumTotal)
	assert.Equal(t, 0.0, rates.Hard)
	assert.Equal(t, 1, rates.HardTotal)
}

func TestCurriculum_EmptyStateRates(t *testing.T) {
	c, _ := newTestCurriculum(t)
	rates, err := c.Rates()
	require.NoError(t, err)
	assert.Zero(t, rates.Easy)
	assert.Zero(t, rates.EasyTotal)
}

func TestCurriculum_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	c1 := NewCurriculumTracker(store, zaptest.NewLogger(t))
	require.NoError(t, c1.RecordResults([]ScenarioOutcome{
		{Difficulty: "medium", Passed: true},
		{Difficulty: "medium", Passed: true},
	}))
	require.NoError(t, c1.RecordHealResult("pipeline", false))

	store2, err := storage.NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	c2 := NewCurriculumTracker(store2, zaptest.NewLogger(t))

	rates, err := c2.Rates()
	require.NoError(t, err)
	assert.Equal(t, 2, rates.MediumTotal)
	assert.Equal(t, 1.0, rates.Medium)

	status, err := c2.Status()
	require.NoError(t, err)
	fails, ok := status["category_fails"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, fails["pipeline"])
}

func TestCurriculum_ThreeFailuresPauseCategory(t *testing.T) {
	c, _ := newTestCurriculum(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, c.RecordHealResult("intent", false))
		paused, err := c.IsCategoryPaused("intent")
		require.NoError(t, err)
		assert.False(t, paused)
	}

	require.NoError(t, c.RecordHealResult("intent", false))
	paused, err := c.IsCategoryPaused("intent")
	require.NoError(t, err)
	assert.True(t, paused, "the third consecutive failure trips the breaker")

	// A later success clears the fail count but the pause runs out on
	// its own clock.
	require.NoError(t, c.RecordHealResult("intent", true))
	paused, err = c.IsCategoryPaused("intent")
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestCurriculum_SuccessResetsFailCount(t *testing.T) {
	c, _ := newTestCurriculum(t)

	require.NoError(t, c.RecordHealResult("net", false))
	require.NoError(t, c.RecordHealResult("net", false))
	require.NoError(t, c.RecordHealResult("net", true))
	require.NoError(t, c.RecordHealResult("net", false))

	paused, err := c.IsCategoryPaused("net")
	require.NoError(t, err)
	assert.False(t, paused, "the streak restarted after the success")
}

func TestCurriculum_ExpiredPauseLifts(t *testing.T) {
	c, store := newTestCurriculum(t)

	require.NoError(t, store.Rewrite(storage.StreamCurriculum, []storage.Record{{
		"paused_categories": map[string]int64{"old": time.Now().Unix() - 10},
	}}))

	paused, err := c.IsCategoryPaused("old")
	require.NoError(t, err)
	assert.False(t, paused)

	paused, err = c.IsCategoryPaused("unknown")
	require.NoError(t, err)
	assert.False(t, paused)
}
