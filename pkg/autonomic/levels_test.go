// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func TestReflect_DerivesToolRules(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 4; i++ {
		appendExperience(t, e.store, "SHELL.EXEC.v1", i == 0) // 3/4 failing
		appendExperience(t, e.store, "FS.READ.v1", true)      // all green
	}

	productive, err := e.doReflect(context.Background())
	require.NoError(t, err)
	assert.True(t, productive)

	insights, err := e.store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "tool_stats", storage.Str(insights[0], "type"))
	rules, ok := insights[0]["rules"].([]interface{})
	require.True(t, ok)
	require.Len(t, rules, 2)
	assert.Contains(t, rules[0], "FS.READ.v1 reliable")
	assert.Contains(t, rules[1], "SHELL.EXEC.v1 failing")
}

func TestReflect_SkipsUnchangedWindow(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 4; i++ {
		appendExperience(t, e.store, "FS.READ.v1", true)
	}

	productive, err := e.doReflect(context.Background())
	require.NoError(t, err)
	require.True(t, productive)

	// Same window again: the memo short-circuits without a new insight.
	productive, err = e.doReflect(context.Background())
	require.NoError(t, err)
	assert.False(t, productive)
	count, err := e.store.Count(storage.StreamInsights)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReflect_EmptyStreamIsNoop(t *testing.T) {
	e := newTestEngine(t)
	productive, err := e.doReflect(context.Background())
	require.NoError(t, err)
	assert.False(t, productive)
}

func TestHealSuggestions_SkipsLowPriorityAndExecuted(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"suggestion_key": "minor", "priority": 1,
	}))
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"suggestion_key": "done", "priority": 5, "executed": true,
	}))

	// No eligible suggestion: nothing happens, nothing is marked.
	productive, err := e.doHealSuggestions(context.Background())
	require.NoError(t, err)
	assert.False(t, productive)

	recs, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	require.NoError(t, err)
	assert.False(t, storage.Bool(recs[0], "executed"))
}

func TestHealSuggestions_MarksEligibleExecuted(t *testing.T) {
	e := newTestEngine(t) // provider nil: the healer declines, but marking still happens
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"suggestion_key": "cache_tool_outputs", "priority": 4, "detail": "repeated slow calls",
	}))

	productive, err := e.doHealSuggestions(context.Background())
	require.NoError(t, err)
	assert.False(t, productive)

	recs, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, storage.Bool(recs[0], "executed"),
		"a consumed suggestion never wedges the stream")
}

func TestCleanupSuggestions(t *testing.T) {
	e := newTestEngine(t)
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"ts_ms": old, "suggestion_key": "stale", "executed": true,
	}))
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"ts_ms": old, "suggestion_key": "stale_but_pending",
	}))
	require.NoError(t, e.store.Append(storage.StreamGenesisSuggestions, storage.Record{
		"suggestion_key": "fresh", "executed": true,
	}))

	assert.Equal(t, 1, e.cleanupSuggestions())
	recs, err := e.store.Read(storage.StreamGenesisSuggestions, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "stale_but_pending", storage.Str(recs[0], "suggestion_key"))
}

func TestCleanupScratchScripts(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "run_old.py")
	require.NoError(t, os.WriteFile(oldFile, []byte("print(1)"), 0o644))
	past := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_new.py"), []byte("print(2)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.py"), []byte("print(3)"), 0o644))

	assert.Equal(t, 1, cleanupScratchScripts(dir, scratchTTL))
	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "run_new.py"))
	assert.NoError(t, err)
}

func TestPruneLowTrustExperiences(t *testing.T) {
	e := newTestEngine(t)
	stale := time.Now().Add(-60 * 24 * time.Hour).UnixMilli()
	require.NoError(t, e.store.Append(storage.StreamExperiences, storage.Record{
		"ts_ms": stale, "tool_used": "X.v1", "success": false,
	}))
	require.NoError(t, e.store.Append(storage.StreamExperiences, storage.Record{
		"ts_ms": stale, "tool_used": "Y.v1", "success": false, "reuse": 2,
	}))
	appendExperience(t, e.store, "Z.v1", true)

	assert.Equal(t, 1, e.pruneLowTrustExperiences())
	recs, err := e.store.Read(storage.StreamExperiences, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Y.v1", storage.Str(recs[0], "tool_used"), "reused records survive")
}

func TestDedupSkills(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.Append(storage.StreamSkills, storage.Record{
		"name": "v1", "code_hash": "abc",
	}))
	require.NoError(t, e.store.Append(storage.StreamSkills, storage.Record{
		"name": "v2", "code_hash": "abc",
	}))
	require.NoError(t, e.store.Append(storage.StreamSkills, storage.Record{
		"name": "other", "code_hash": "def",
	}))

	require.NoError(t, e.dedupSkills())
	recs, err := e.store.Read(storage.StreamSkills, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "v2", storage.Str(recs[0], "name"), "latest record per hash wins")
}
