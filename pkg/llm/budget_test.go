// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyBudget_CallLimit(t *testing.T) {
	b := NewDailyBudget()

	over, _ := b.Exceeded(2, 0)
	require.False(t, over, "fresh budget should not be exceeded")

	b.Record(Usage{InputTokens: 10, OutputTokens: 5})
	b.Record(Usage{InputTokens: 10, OutputTokens: 5})

	over, reason := b.Exceeded(2, 0)
	assert.True(t, over)
	assert.Contains(t, reason, "daily call limit reached (2)")
}

func TestDailyBudget_TokenLimit(t *testing.T) {
	b := NewDailyBudget()
	b.Record(Usage{InputTokens: 150, OutputTokens: 60})

	over, reason := b.Exceeded(0, 200)
	assert.True(t, over)
	assert.Contains(t, reason, "daily token limit reached (200)")
}

func TestDailyBudget_ZeroLimitsAreUnlimited(t *testing.T) {
	b := NewDailyBudget()
	for i := 0; i < 100; i++ {
		b.Record(Usage{InputTokens: 1000, OutputTokens: 1000})
	}

	over, reason := b.Exceeded(0, 0)
	assert.False(t, over)
	assert.Empty(t, reason)
}

func TestDailyBudget_CallsCheckedBeforeTokens(t *testing.T) {
	b := NewDailyBudget()
	b.Record(Usage{InputTokens: 500, OutputTokens: 500})

	over, reason := b.Exceeded(1, 100)
	require.True(t, over)
	assert.Contains(t, reason, "call limit")
}

func TestDailyBudget_RollsOverAtMidnight(t *testing.T) {
	b := NewDailyBudget()
	b.Record(Usage{InputTokens: 10, OutputTokens: 10})

	// Backdate the counters so the next check sees a stale day.
	b.mu.Lock()
	b.date = "2026-01-01"
	b.mu.Unlock()

	over, _ := b.Exceeded(1, 0)
	assert.False(t, over, "counters from a previous day should reset")

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.Calls)
	assert.Equal(t, 0, snap.Tokens)
	assert.Equal(t, time.Now().Format("2006-01-02"), snap.Date)
}

func TestDailyBudget_Snapshot(t *testing.T) {
	b := NewDailyBudget()
	b.Record(Usage{InputTokens: 100, OutputTokens: 24})
	b.Record(Usage{InputTokens: 50, OutputTokens: 26})

	snap := b.Snapshot()
	assert.Equal(t, 2, snap.Calls)
	assert.Equal(t, 200, snap.Tokens)
	assert.Equal(t, time.Now().Format("2006-01-02"), snap.Date)
}
