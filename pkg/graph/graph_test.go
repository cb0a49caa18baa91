// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func setupTestMemory(t *testing.T) *Memory {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return NewMemory(store, zaptest.NewLogger(t), nil)
}

func TestEntityID_Deterministic(t *testing.T) {
	assert.Equal(t, EntityID("Redis"), EntityID("redis"))
	assert.Equal(t, EntityID("Redis"), EntityID("  Redis  "))
	assert.NotEqual(t, EntityID("Redis"), EntityID("Postgres"))
	assert.Len(t, EntityID("Redis"), 16)
}

func TestRelationID_BareConcatenation(t *testing.T) {
	src, tgt := EntityID("machina"), EntityID("Ollama")

	// The id hashes src+tgt+predicate with nothing in between, so
	// stored records match the documented derivation byte for byte.
	sum := sha256.Sum256([]byte(src + tgt + "uses"))
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], RelationID(src, tgt, "uses"))

	assert.Len(t, RelationID(src, tgt, "uses"), 16)
	assert.NotEqual(t, RelationID(src, tgt, "uses"), RelationID(tgt, src, "uses"))
}

func TestMemory_AddEntityStrengthens(t *testing.T) {
	m := setupTestMemory(t)

	id1, err := m.AddEntity("Ollama", "tech", nil)
	require.NoError(t, err)
	id2, err := m.AddEntity("ollama", "tech", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same name should resolve to same entity")

	ent, ok := m.QueryEntity("Ollama")
	require.True(t, ok)
	assert.Equal(t, 2, ent.MentionCount)
	assert.Equal(t, "tech", ent.Type)
}

func TestMemory_AddRelationStrengthens(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("machina", "Ollama", "uses", 0.5)
	require.NoError(t, err)
	_, err = m.AddRelation("machina", "Ollama", "uses", 0.5)
	require.NoError(t, err)

	neighbors, err := m.QueryNeighbors("machina", "", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Ollama", neighbors[0].Entity)
	assert.Equal(t, "uses", neighbors[0].Predicate)
	// 0.5 + (1-0.5)*0.2 = 0.6
	assert.InDelta(t, 0.6, neighbors[0].Weight, 0.01)
	assert.Equal(t, 2, neighbors[0].MentionCount)
}

func TestMemory_AddRelationCreatesEntities(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("alpha", "beta", "depends_on", 0.7)
	require.NoError(t, err)

	_, ok := m.QueryEntity("alpha")
	assert.True(t, ok)
	_, ok = m.QueryEntity("beta")
	assert.True(t, ok)
}

func TestMemory_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	m1 := NewMemory(store, zaptest.NewLogger(t), nil)
	_, err = m1.AddRelation("server", "Redis", "uses", 0.8)
	require.NoError(t, err)

	store2, err := storage.NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	m2 := NewMemory(store2, zaptest.NewLogger(t), nil)

	neighbors, err := m2.QueryNeighbors("server", "", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Redis", neighbors[0].Entity)
}

func TestMemory_QuerySubgraphMultiHop(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("app", "database", "uses", 0.9)
	require.NoError(t, err)
	_, err = m.AddRelation("database", "disk", "runs", 0.9)
	require.NoError(t, err)
	_, err = m.AddRelation("unrelated", "island", "related_to", 0.9)
	require.NoError(t, err)

	sub, err := m.QuerySubgraph([]string{"app"}, 2, 10, 0.1)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, ent := range sub.Entities {
		names[ent.Name] = true
	}
	assert.True(t, names["app"])
	assert.True(t, names["database"])
	assert.True(t, names["disk"], "two hops should reach disk")
	assert.False(t, names["unrelated"], "disconnected component must not appear")
	assert.NotEmpty(t, sub.Paths)
}

func TestMemory_QuerySubgraphMinWeight(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("hub", "strong", "uses", 0.9)
	require.NoError(t, err)
	_, err = m.AddRelation("hub", "weak", "uses", 0.05)
	require.NoError(t, err)

	sub, err := m.QuerySubgraph([]string{"hub"}, 1, 10, 0.1)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, ent := range sub.Entities {
		names[ent.Name] = true
	}
	assert.True(t, names["strong"])
	assert.False(t, names["weak"], "edges under the weight floor are skipped")
}

func TestMemory_QuerySubgraphUnknownSeed(t *testing.T) {
	m := setupTestMemory(t)
	sub, err := m.QuerySubgraph([]string{"ghost"}, 2, 10, 0.1)
	require.NoError(t, err)
	assert.Empty(t, sub.Entities)
	assert.Empty(t, sub.Relations)
}

func TestMemory_SearchEntities(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddEntity("PostgreSQL", "tech", map[string]interface{}{"role": "database"})
	require.NoError(t, err)
	_, err = m.AddEntity("Telegram", "tech", nil)
	require.NoError(t, err)

	hits, err := m.SearchEntities("postgresql database", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "PostgreSQL", hits[0].Name)
}

func TestMemory_Context(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("machina", "Ollama", "uses", 0.8)
	require.NoError(t, err)
	_, err = m.AddEntity("machina", "tech", nil)
	require.NoError(t, err)

	ctx, err := m.Context("machina ollama", 5)
	require.NoError(t, err)
	assert.Contains(t, ctx, "[graph] ")
	assert.Contains(t, ctx, "machina")
}

func TestMemory_ContextEmptyGraph(t *testing.T) {
	m := setupTestMemory(t)
	ctx, err := m.Context("anything", 5)
	require.NoError(t, err)
	assert.Empty(t, ctx)
}

func TestMemory_CompactCollapsesHistory(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	m := NewMemory(store, zaptest.NewLogger(t), nil)

	for i := 0; i < 5; i++ {
		_, err := m.AddEntity("Docker", "tech", nil)
		require.NoError(t, err)
	}
	count, err := store.Count(storage.StreamEntities)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "each mention appends a line")

	require.NoError(t, m.Compact())

	count, err = store.Count(storage.StreamEntities)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "compaction keeps one line per entity")

	ent, ok := m.QueryEntity("Docker")
	require.True(t, ok)
	assert.Equal(t, 5, ent.MentionCount)
}

func TestMemory_GetStats(t *testing.T) {
	m := setupTestMemory(t)

	_, err := m.AddRelation("a", "b", "uses", 0.5)
	require.NoError(t, err)
	_, err = m.AddEntity("c", "person", nil)
	require.NoError(t, err)

	stats, err := m.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 1, stats.Relations)
	assert.Equal(t, 2, stats.EntityTypes["concept"])
	assert.Equal(t, 1, stats.EntityTypes["person"])
}

func TestExtractEntities_Regex(t *testing.T) {
	text := "Contact admin@example.com about the 2025-03-14 deploy at https://example.com/app on 192.168.0.1 using /var/log/app.log with Docker"
	entities := ExtractEntities(text)

	byType := make(map[string][]string)
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e.Name)
	}
	assert.Contains(t, byType["email"], "admin@example.com")
	assert.Contains(t, byType["date"], "2025-03-14")
	assert.Contains(t, byType["ip"], "192.168.0.1")
	assert.Contains(t, byType["path"], "/var/log/app.log")
	assert.Contains(t, byType["tech"], "Docker")
	require.NotEmpty(t, byType["url"])
	assert.Contains(t, byType["url"][0], "https://example.com/app")
}

func TestExtractEntities_KoreanPerson(t *testing.T) {
	entities := ExtractEntities("김철수는 오늘 서울에 갔다")

	var persons []string
	for _, e := range entities {
		if e.Type == "person" {
			persons = append(persons, e.Name)
		}
	}
	assert.Contains(t, persons, "김철수")
}

func TestExtractEntities_StopwordsFiltered(t *testing.T) {
	entities := ExtractEntities("그리고 하지만 the is and")
	assert.Empty(t, entities)
}

func TestExtractEntities_Dedupe(t *testing.T) {
	entities := ExtractEntities("Docker and docker and DOCKER")
	count := 0
	for _, e := range entities {
		if nameKey(e.Name) == "docker" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractRelations_PredicateInference(t *testing.T) {
	text := "machina uses Ollama"
	entities := []Extracted{
		{Name: "machina", Type: "tech"},
		{Name: "Ollama", Type: "tech"},
	}
	relations := ExtractRelations(text, entities)
	require.Len(t, relations, 1)
	assert.Equal(t, "machina", relations[0].Source)
	assert.Equal(t, "Ollama", relations[0].Target)
	assert.Equal(t, "uses", relations[0].Predicate)
	assert.InDelta(t, 0.7, relations[0].Confidence, 0.001)
}

func TestExtractRelations_CooccurrenceFallback(t *testing.T) {
	text := "Alpha Beta"
	entities := []Extracted{
		{Name: "Alpha", Type: "concept"},
		{Name: "Beta", Type: "concept"},
	}
	relations := ExtractRelations(text, entities)
	require.Len(t, relations, 1)
	assert.Equal(t, "related_to", relations[0].Predicate)
	assert.InDelta(t, 0.4, relations[0].Confidence, 0.001)
}

func TestExtractRelations_SentenceBoundary(t *testing.T) {
	text := "Alpha is here. Beta is there."
	entities := []Extracted{
		{Name: "Alpha", Type: "concept"},
		{Name: "Beta", Type: "concept"},
	}
	relations := ExtractRelations(text, entities)
	assert.Empty(t, relations, "entities in different sentences are not paired")
}

func TestMemory_Ingest(t *testing.T) {
	m := setupTestMemory(t)

	result, err := m.Ingest("Machina uses Ollama for local inference", nil)
	require.NoError(t, err)
	assert.Greater(t, result.EntitiesAdded, 0)
	assert.Greater(t, result.RelationsAdded, 0)

	neighbors, err := m.QueryNeighbors("machina", "uses", 10)
	require.NoError(t, err)
	require.NotEmpty(t, neighbors)
	assert.Equal(t, "Ollama", neighbors[0].Entity)
}

func TestMemory_IngestShortText(t *testing.T) {
	m := setupTestMemory(t)
	result, err := m.Ingest("hi", nil)
	require.NoError(t, err)
	assert.Zero(t, result.EntitiesAdded)
	assert.Zero(t, result.RelationsAdded)
}
