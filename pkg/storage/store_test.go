// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return store
}

func TestStore_AppendAndRead(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 3; i++ {
		err := store.Append(StreamExperiences, Record{"goal": fmt.Sprintf("goal-%d", i)})
		require.NoError(t, err)
	}

	records, err := store.Read(StreamExperiences, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("goal-%d", i), Str(rec, "goal"))
		assert.Greater(t, TsMs(rec), int64(0), "ts_ms should be stamped")
	}
}

func TestStore_ReadMax(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(StreamInsights, Record{"n": i}))
	}

	records, err := store.Read(StreamInsights, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(3), Float(records[0], "n"))
	assert.Equal(t, float64(4), Float(records[1], "n"))
}

func TestStore_ReadMissingStream(t *testing.T) {
	store := setupTestStore(t)

	records, err := store.Read("nonexistent", 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	count, err := store.Count("nonexistent")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_ReadSince(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Append(StreamKnowledge, Record{"ts_ms": int64(1000), "topic": "old"}))
	require.NoError(t, store.Append(StreamKnowledge, Record{"ts_ms": int64(2000), "topic": "mid"}))
	require.NoError(t, store.Append(StreamKnowledge, Record{"ts_ms": int64(3000), "topic": "new"}))

	records, err := store.ReadSince(StreamKnowledge, 1000)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "mid", Str(records[0], "topic"))
	assert.Equal(t, "new", Str(records[1], "topic"))
}

func TestStore_SkipsMalformedLines(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Append(StreamSkills, Record{"name": "first"}))

	f, err := os.OpenFile(store.Path(StreamSkills), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(StreamSkills, Record{"name": "second"}))

	records, err := store.Read(StreamSkills, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", Str(records[0], "name"))
	assert.Equal(t, "second", Str(records[1], "name"))
}

func TestStore_Compact(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Append(StreamSkills, Record{"name": "alpha", "version": 1}))
	require.NoError(t, store.Append(StreamSkills, Record{"name": "beta", "version": 1}))
	require.NoError(t, store.Append(StreamSkills, Record{"name": "alpha", "version": 2}))
	require.NoError(t, store.Append(StreamSkills, Record{"name": "drop", "version": 1}))

	err := store.Compact(StreamSkills,
		func(rec Record) string { return Str(rec, "name") },
		func(rec Record) bool { return Str(rec, "name") != "drop" })
	require.NoError(t, err)

	records, err := store.Read(StreamSkills, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byName := map[string]float64{}
	for _, rec := range records {
		byName[Str(rec, "name")] = Float(rec, "version")
	}
	assert.Equal(t, float64(2), byName["alpha"], "compact keeps the newest record per key")
	assert.Equal(t, float64(1), byName["beta"])
}

func TestStore_Rotate(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append(StreamExperiences, Record{"n": i}))
	}

	evicted, err := store.Rotate(StreamExperiences, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 6, evicted)

	records, err := store.Read(StreamExperiences, 0)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, float64(6), Float(records[0], "n"))

	archive, err := os.ReadFile(store.ArchivePath(StreamExperiences))
	require.NoError(t, err)
	assert.Contains(t, string(archive), `"n":0`)
	assert.Contains(t, string(archive), `"n":5`)

	// Under the cap, a second rotate is a no-op.
	evicted, err = store.Rotate(StreamExperiences, 4, true)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestStore_TailBytes(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Append(StreamInsights, Record{"text": "abcdefgh"}))

	all, err := store.TailBytes(StreamInsights, 1<<20)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	tail, err := store.TailBytes(StreamInsights, 5)
	require.NoError(t, err)
	assert.Len(t, tail, 5)
	assert.Equal(t, string(all[len(all)-5:]), string(tail))
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := setupTestStore(t)

	const workers = 10
	const perWorker = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := store.Append(StreamExperiences, Record{"worker": w, "i": i}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.Count(StreamExperiences)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, count)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(StreamCurriculum, Record{"subject": "parsing"}))

	reopened, err := NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	records, err := reopened.Read(StreamCurriculum, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "parsing", Str(records[0], "subject"))
}

func TestStore_Verify(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Append(StreamKnowledge, Record{"id": "a"}))
	require.NoError(t, store.Append(StreamKnowledge, Record{"id": "b"}))

	// Inject one corrupt line and one exact duplicate of the first line.
	data, err := os.ReadFile(store.Path(StreamKnowledge))
	require.NoError(t, err)
	firstLine := strings.SplitN(string(data), "\n", 2)[0]

	f, err := os.OpenFile(store.Path(StreamKnowledge), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("corrupt{{{\n" + firstLine + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := store.Verify(StreamKnowledge, false)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Corrupt)
	assert.Equal(t, 1, res.Duplicates)
	assert.False(t, res.Fixed)

	res, err = store.Verify(StreamKnowledge, true)
	require.NoError(t, err)
	assert.True(t, res.Fixed)
	assert.FileExists(t, store.Path(StreamKnowledge)+".bak")

	res, err = store.Verify(StreamKnowledge, false)
	require.NoError(t, err)
	assert.Zero(t, res.Corrupt)
	assert.Zero(t, res.Duplicates)
}

func TestGzipFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.jsonl")
	content := `{"a":1}` + "\n" + `{"b":2}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	gzPath, err := GzipFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+".gz", gzPath)
	assert.NoFileExists(t, path)

	outPath, err := GunzipFile(gzPath)
	require.NoError(t, err)
	assert.Equal(t, path, outPath)

	restored, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(restored))
}
