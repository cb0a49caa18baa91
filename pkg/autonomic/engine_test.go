// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	profile := NormalProfile()
	profile.StasisThreshold = 3
	e, err := New(Options{
		Store:   newTestStore(t),
		Logger:  zaptest.NewLogger(t),
		Profile: &profile,
	})
	require.NoError(t, err)
	return e
}

func TestEngine_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "store is required")
}

func TestEngine_TouchResetsIdleAndStasis(t *testing.T) {
	e := newTestEngine(t)
	e.lastActivity.Store(time.Now().Add(-time.Hour).Unix())
	e.mu.Lock()
	e.stasis = true
	e.mu.Unlock()

	assert.Greater(t, e.IdleSeconds(), 3000.0)
	e.Touch()
	assert.Less(t, e.IdleSeconds(), 5.0)
	assert.False(t, e.Status()["stasis"].(bool))
}

func TestEngine_DueGates(t *testing.T) {
	e := newTestEngine(t)

	// Fresh level with enough idle: due.
	assert.True(t, e.due(levelReflect, time.Hour, time.Minute, time.Minute))
	// Not idle long enough.
	assert.False(t, e.due(levelReflect, 10*time.Second, time.Minute, time.Minute))
	// Ran too recently.
	e.mu.Lock()
	e.levelDone[levelReflect] = time.Now()
	e.mu.Unlock()
	assert.False(t, e.due(levelReflect, time.Hour, time.Minute, time.Hour))
	// Rate window elapsed.
	e.mu.Lock()
	e.levelDone[levelReflect] = time.Now().Add(-2 * time.Hour)
	e.mu.Unlock()
	assert.True(t, e.due(levelReflect, time.Hour, time.Minute, time.Hour))
}

func TestEngine_BurstDueIgnoresIdle(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, e.burstDue(levelTest, time.Hour))

	e.mu.Lock()
	e.levelDone[levelTest] = time.Now().Add(-40 * time.Minute)
	e.mu.Unlock()
	// Half cadence: an hour-rated level is due after thirty minutes.
	assert.True(t, e.burstDue(levelTest, time.Hour))
	e.mu.Lock()
	e.levelDone[levelTest] = time.Now().Add(-10 * time.Minute)
	e.mu.Unlock()
	assert.False(t, e.burstDue(levelTest, time.Hour))
}

func TestEngine_StateHashShape(t *testing.T) {
	e := newTestEngine(t)
	h := e.stateHash()
	assert.Len(t, h, 8)
	assert.Equal(t, h, e.stateHash(), "stable while nothing changes")

	require.NoError(t, e.store.Append(storage.StreamSkills, storage.Record{"name": "s"}))
	assert.NotEqual(t, h, e.stateHash(), "a new skill rolls the hash")
}

func TestEngine_StasisDetectionAndExpiry(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 3; i++ {
		assert.False(t, e.Status()["stasis"].(bool))
		e.updateStasis()
	}
	assert.True(t, e.Status()["stasis"].(bool), "a full window of identical hashes")

	// Stasis expires on its own clock.
	e.mu.Lock()
	e.stasisSince = time.Now().Add(-stasisExpiry - time.Minute)
	e.mu.Unlock()
	e.updateStasis()
	assert.False(t, e.Status()["stasis"].(bool))

	// Productive work clears it immediately too.
	for i := 0; i < 3; i++ {
		e.updateStasis()
	}
	require.True(t, e.Status()["stasis"].(bool))
	e.clearStasis()
	assert.False(t, e.Status()["stasis"].(bool))
}

func TestEngine_StatePersistsAcrossInstances(t *testing.T) {
	store := newTestStore(t)
	profile := NormalProfile()
	e1, err := New(Options{Store: store, Logger: zaptest.NewLogger(t), Profile: &profile})
	require.NoError(t, err)

	stamp := time.Now().Add(-10 * time.Minute)
	e1.mu.Lock()
	e1.levelDone[levelHygiene] = stamp
	e1.l2Streak = 4
	e1.mu.Unlock()
	e1.saveState()

	e2, err := New(Options{Store: store, Logger: zaptest.NewLogger(t), Profile: &profile})
	require.NoError(t, err)
	e2.mu.Lock()
	defer e2.mu.Unlock()
	assert.Equal(t, 4, e2.l2Streak)
	assert.WithinDuration(t, stamp, e2.levelDone[levelHygiene], time.Second)
}

func TestEngine_DrainInbox(t *testing.T) {
	store := newTestStore(t)
	queue, err := storage.NewQueue(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	profile := NormalProfile()
	e, err := New(Options{
		Store: store, Queue: queue,
		Logger: zaptest.NewLogger(t), Profile: &profile,
	})
	require.NoError(t, err)
	e.tester.runFn = stubClassifier(map[string]string{
		"디스크 확인해줘": `{"type": "action", "tool": "SHELL.EXEC.v1"}`,
	})

	_, err = queue.Enqueue(storage.Record{"text": "디스크 확인해줘"})
	require.NoError(t, err)

	e.drainInbox(context.Background())

	pending, err := queue.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestEngine_StatusSurface(t *testing.T) {
	e := newTestEngine(t)
	status := e.Status()
	assert.Contains(t, status, "idle_seconds")
	assert.Contains(t, status, "in_burst")
	assert.Contains(t, status, "level_done")
	assert.Equal(t, false, status["paused"])
	assert.Equal(t, 0, status["alerts"])
	assert.Equal(t, 0, status["skills"])
}

func TestEngine_PausedTickIsNoop(t *testing.T) {
	e := newTestEngine(t)
	e.SetPaused(true)
	e.Tick(context.Background(), nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.levelDone, "no level ran while paused")
}

func TestEngine_TestNeeded(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.testNeeded(ToolProfile{}, nil))
	assert.True(t, e.testNeeded(ToolProfile{"X.v1": {Uses: 3, Fails: 2}}, nil))
	assert.True(t, e.testNeeded(ToolProfile{}, []string{"Y.v1"}), "untested tool is signal")

	for i := 0; i < 2; i++ {
		require.NoError(t, e.store.Append(storage.StreamExperiences, storage.Record{
			"tool_used": "chat", "success": false,
		}))
	}
	assert.True(t, e.testNeeded(ToolProfile{"chat": {Uses: 2}}, []string{"chat"}),
		"two live failures in the recent window")
}
