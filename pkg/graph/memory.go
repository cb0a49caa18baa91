// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package graph is the runtime's entity-relation memory. Entities and
// relations live in two JSONL streams; an in-memory adjacency index is
// the source of truth during a session, with appends mirrored to the
// streams and periodic compaction rewriting them to the current state.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Graph limits. Past these, the weakest fifth is pruned.
const (
	maxEntities           = 5000
	maxRelations          = 20000
	maxRelationsPerEntity = 50
	compactionThreshold   = 200
)

// BFS defaults.
const (
	defaultMaxHops   = 2
	defaultBeamWidth = 10
	defaultMinWeight = 0.1
)

// Time decay: 30-day half-life with a floor so nothing is ever fully
// forgotten.
var decayLambda = math.Ln2 / 30.0

const decayFloor = 0.05

// Entity is a graph node keyed by the SHA-256 of its lowercased name.
type Entity struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Aliases      []string               `json:"aliases"`
	FirstSeenMs  int64                  `json:"first_seen_ms"`
	LastSeenMs   int64                  `json:"last_seen_ms"`
	MentionCount int                    `json:"mention_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Relation is a weighted edge. Re-adding an existing relation
// strengthens it instead of duplicating it.
type Relation struct {
	ID           string  `json:"id"`
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	SourceName   string  `json:"source_name"`
	TargetName   string  `json:"target_name"`
	Predicate    string  `json:"predicate"`
	Weight       float64 `json:"weight"`
	FirstSeenMs  int64   `json:"first_seen_ms"`
	LastSeenMs   int64   `json:"last_seen_ms"`
	MentionCount int     `json:"mention_count"`
}

// edge carries no weight of its own: the relation record is the source
// of truth so that strengthening is visible without an index rebuild.
type edge struct {
	neighborID string
	relationID string
	predicate  string
}

// Memory is the in-memory graph with JSONL persistence.
type Memory struct {
	store  *storage.Store
	logger *zap.Logger
	tracer observability.Tracer

	mu          sync.Mutex
	entities    map[string]*Entity
	nameIndex   map[string]string
	relations   map[string]*Relation
	adj         map[string][]edge
	loaded      bool
	appendCount int
}

// NewMemory creates a graph memory backed by the given store.
func NewMemory(store *storage.Store, logger *zap.Logger, tracer observability.Tracer) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Memory{
		store:     store,
		logger:    logger,
		tracer:    tracer,
		entities:  make(map[string]*Entity),
		nameIndex: make(map[string]string),
		relations: make(map[string]*Relation),
		adj:       make(map[string][]edge),
	}
}

// EntityID derives the deterministic id for an entity name.
func EntityID(name string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name))))
	return hex.EncodeToString(sum[:])[:16]
}

// RelationID derives the deterministic id for a (source, target, predicate) edge.
func RelationID(srcID, tgtID, predicate string) string {
	sum := sha256.Sum256([]byte(srcID + tgtID + predicate))
	return hex.EncodeToString(sum[:])[:16]
}

// load replays the streams into memory. Later records win, so the file
// may contain multiple versions of the same logical record between
// compactions. Callers must hold mu.
func (m *Memory) load() error {
	if m.loaded {
		return nil
	}

	entRecs, err := m.store.Read(storage.StreamEntities, 0)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	for _, rec := range entRecs {
		ent := entityFromRecord(rec)
		if ent.ID == "" {
			continue
		}
		m.entities[ent.ID] = ent
		if key := nameKey(ent.Name); key != "" {
			m.nameIndex[key] = ent.ID
		}
		for _, alias := range ent.Aliases {
			if key := nameKey(alias); key != "" {
				m.nameIndex[key] = ent.ID
			}
		}
	}

	relRecs, err := m.store.Read(storage.StreamRelations, 0)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	for _, rec := range relRecs {
		rel := relationFromRecord(rec)
		if rel.ID == "" {
			continue
		}
		m.relations[rel.ID] = rel
	}

	m.rebuildAdjacency()
	m.loaded = true

	if len(m.entities) > 0 || len(m.relations) > 0 {
		m.logger.Info("graph loaded",
			zap.Int("entities", len(m.entities)),
			zap.Int("relations", len(m.relations)))
	}
	return nil
}

func (m *Memory) rebuildAdjacency() {
	m.adj = make(map[string][]edge, len(m.entities))
	for id, rel := range m.relations {
		if rel.SourceID == "" || rel.TargetID == "" {
			continue
		}
		m.adj[rel.SourceID] = append(m.adj[rel.SourceID],
			edge{neighborID: rel.TargetID, relationID: id, predicate: rel.Predicate})
		m.adj[rel.TargetID] = append(m.adj[rel.TargetID],
			edge{neighborID: rel.SourceID, relationID: id, predicate: rel.Predicate})
	}
}

// AddEntity adds or strengthens an entity and returns its id.
func (m *Memory) AddEntity(name, etype string, metadata map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return "", err
	}
	return m.addEntityLocked(name, etype, metadata)
}

func (m *Memory) addEntityLocked(name, etype string, metadata map[string]interface{}) (string, error) {
	key := nameKey(name)
	if key == "" {
		return "", fmt.Errorf("empty entity name")
	}
	nowMs := time.Now().UnixMilli()

	if id, ok := m.nameIndex[key]; ok {
		if ent, ok := m.entities[id]; ok {
			ent.LastSeenMs = nowMs
			ent.MentionCount++
			if len(metadata) > 0 {
				if ent.Metadata == nil {
					ent.Metadata = make(map[string]interface{}, len(metadata))
				}
				for k, v := range metadata {
					ent.Metadata[k] = v
				}
			}
			if err := m.store.Append(storage.StreamEntities, entityToRecord(ent)); err != nil {
				return "", err
			}
			m.appendCount++
			return id, nil
		}
	}

	if len(m.entities) >= maxEntities {
		m.pruneEntities()
	}

	ent := &Entity{
		ID:           EntityID(name),
		Name:         strings.TrimSpace(name),
		Type:         etype,
		Aliases:      []string{},
		FirstSeenMs:  nowMs,
		LastSeenMs:   nowMs,
		MentionCount: 1,
		Metadata:     metadata,
	}
	m.entities[ent.ID] = ent
	m.nameIndex[key] = ent.ID
	if err := m.store.Append(storage.StreamEntities, entityToRecord(ent)); err != nil {
		return "", err
	}
	m.appendCount++
	m.maybeCompactLocked()
	return ent.ID, nil
}

// AddRelation adds or strengthens a relation between two named
// entities, creating them as needed. Returns the relation id.
// Strengthening moves the weight a fifth of the way toward 1.
func (m *Memory) AddRelation(sourceName, targetName, predicate string, confidence float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return "", err
	}
	if predicate == "" {
		predicate = "related_to"
	}

	srcID, ok := m.nameIndex[nameKey(sourceName)]
	if !ok {
		var err error
		if srcID, err = m.addEntityLocked(sourceName, "concept", nil); err != nil {
			return "", err
		}
	}
	tgtID, ok := m.nameIndex[nameKey(targetName)]
	if !ok {
		var err error
		if tgtID, err = m.addEntityLocked(targetName, "concept", nil); err != nil {
			return "", err
		}
	}

	rid := RelationID(srcID, tgtID, predicate)
	nowMs := time.Now().UnixMilli()

	if rel, ok := m.relations[rid]; ok {
		rel.LastSeenMs = nowMs
		rel.MentionCount++
		rel.Weight = math.Min(1.0, rel.Weight+(1.0-rel.Weight)*0.2)
		if err := m.store.Append(storage.StreamRelations, relationToRecord(rel)); err != nil {
			return "", err
		}
		m.appendCount++
		return rid, nil
	}

	if len(m.relations) >= maxRelations {
		m.pruneRelations()
	}
	if len(m.adj[srcID]) >= maxRelationsPerEntity {
		m.pruneEntityRelations(srcID)
	}

	rel := &Relation{
		ID:           rid,
		SourceID:     srcID,
		TargetID:     tgtID,
		SourceName:   strings.TrimSpace(sourceName),
		TargetName:   strings.TrimSpace(targetName),
		Predicate:    predicate,
		Weight:       confidence,
		FirstSeenMs:  nowMs,
		LastSeenMs:   nowMs,
		MentionCount: 1,
	}
	m.relations[rid] = rel
	m.adj[srcID] = append(m.adj[srcID], edge{neighborID: tgtID, relationID: rid, predicate: predicate})
	m.adj[tgtID] = append(m.adj[tgtID], edge{neighborID: srcID, relationID: rid, predicate: predicate})
	if err := m.store.Append(storage.StreamRelations, relationToRecord(rel)); err != nil {
		return "", err
	}
	m.appendCount++
	m.maybeCompactLocked()
	return rid, nil
}

func decayWeight(lastSeenMs int64) float64 {
	daysAgo := float64(time.Now().UnixMilli()-lastSeenMs) / float64(86400*1000)
	if daysAgo <= 0 {
		return 1.0
	}
	return math.Max(decayFloor, math.Exp(-decayLambda*daysAgo))
}

// Subgraph is the result of a multi-hop traversal.
type Subgraph struct {
	Entities  []*Entity
	Relations []*Relation
	Paths     [][]string
}

// QuerySubgraph walks outward from the seed entities with beam pruning.
// Edge score is weight × time decay; edges below minWeight are skipped.
func (m *Memory) QuerySubgraph(seedNames []string, maxHops, beamWidth int, minWeight float64) (*Subgraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	if beamWidth <= 0 {
		beamWidth = defaultBeamWidth
	}
	if minWeight <= 0 {
		minWeight = defaultMinWeight
	}

	seedIDs := make(map[string]bool)
	for _, name := range seedNames {
		if id, ok := m.nameIndex[nameKey(name)]; ok {
			seedIDs[id] = true
		}
	}
	result := &Subgraph{}
	if len(seedIDs) == 0 {
		return result, nil
	}

	type frontierItem struct {
		id   string
		path []string
	}
	visitedEnts := make(map[string]bool, len(seedIDs))
	visitedRels := make(map[string]bool)
	var frontier []frontierItem
	for id := range seedIDs {
		visitedEnts[id] = true
		if ent, ok := m.entities[id]; ok {
			frontier = append(frontier, frontierItem{id: id, path: []string{ent.Name}})
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].id < frontier[j].id })

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []frontierItem
		for _, item := range frontier {
			type scoredEdge struct {
				edge
				score float64
			}
			var scored []scoredEdge
			for _, e := range m.adj[item.id] {
				if visitedEnts[e.neighborID] {
					continue
				}
				rel, ok := m.relations[e.relationID]
				if !ok {
					continue
				}
				score := rel.Weight * decayWeight(rel.LastSeenMs)
				if score >= minWeight {
					scored = append(scored, scoredEdge{edge: e, score: score})
				}
			}
			sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
			if len(scored) > beamWidth {
				scored = scored[:beamWidth]
			}
			for _, se := range scored {
				visitedEnts[se.neighborID] = true
				visitedRels[se.relationID] = true
				name := se.neighborID
				if ent, ok := m.entities[se.neighborID]; ok {
					name = ent.Name
				}
				path := append(append([]string{}, item.path...), se.predicate, name)
				result.Paths = append(result.Paths, path)
				next = append(next, frontierItem{id: se.neighborID, path: path})
			}
		}
		frontier = next
	}

	for id := range visitedEnts {
		if ent, ok := m.entities[id]; ok {
			result.Entities = append(result.Entities, ent)
		}
	}
	for id := range visitedRels {
		if rel, ok := m.relations[id]; ok {
			result.Relations = append(result.Relations, rel)
		}
	}
	sort.Slice(result.Entities, func(i, j int) bool { return result.Entities[i].Name < result.Entities[j].Name })
	sort.Slice(result.Relations, func(i, j int) bool { return result.Relations[i].ID < result.Relations[j].ID })
	return result, nil
}

// QueryEntity looks up one entity by name or alias.
func (m *Memory) QueryEntity(name string) (*Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, false
	}
	id, ok := m.nameIndex[nameKey(name)]
	if !ok {
		return nil, false
	}
	ent, ok := m.entities[id]
	if !ok {
		return nil, false
	}
	cp := *ent
	return &cp, true
}

// Neighbor is a direct neighbor with its decayed edge weight.
type Neighbor struct {
	Entity       string  `json:"entity"`
	Type         string  `json:"type"`
	Predicate    string  `json:"predicate"`
	Weight       float64 `json:"weight"`
	MentionCount int     `json:"mention_count"`
}

// QueryNeighbors returns an entity's direct neighbors, strongest first.
func (m *Memory) QueryNeighbors(name, predicate string, limit int) ([]Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	id, ok := m.nameIndex[nameKey(name)]
	if !ok {
		return nil, nil
	}
	var out []Neighbor
	for _, e := range m.adj[id] {
		if predicate != "" && e.predicate != predicate {
			continue
		}
		ent, ok := m.entities[e.neighborID]
		if !ok {
			continue
		}
		rel, ok := m.relations[e.relationID]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			Entity:       ent.Name,
			Type:         ent.Type,
			Predicate:    e.predicate,
			Weight:       math.Round(rel.Weight*decayWeight(rel.LastSeenMs)*1000) / 1000,
			MentionCount: rel.MentionCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchEntities ranks entities against a query with BM25 over names,
// aliases, types, and metadata values.
func (m *Memory) SearchEntities(query string, limit int) ([]*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	if len(m.entities) == 0 {
		return nil, nil
	}

	ents := make([]*Entity, 0, len(m.entities))
	for _, ent := range m.entities {
		ents = append(ents, ent)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].ID < ents[j].ID })

	texts := make([]string, len(ents))
	for i, ent := range ents {
		parts := []string{ent.Name}
		parts = append(parts, ent.Aliases...)
		parts = append(parts, ent.Type)
		for _, v := range ent.Metadata {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		texts[i] = strings.Join(parts, " ")
	}

	bm25 := retrieval.NewBM25()
	bm25.Index(texts)
	hits := bm25.Query(query, limit)

	var out []*Entity
	for _, hit := range hits {
		if hit.Score < 0.05 {
			continue
		}
		out = append(out, ents[hit.Index])
	}
	return out, nil
}

// Context renders a compact one-line graph summary for LLM injection:
// matched entities plus their one-hop neighborhood.
func (m *Memory) Context(query string, limit int) (string, error) {
	_, span := m.tracer.StartSpan(context.Background(), observability.SpanGraphContext)
	defer m.tracer.EndSpan(span)

	if limit <= 0 {
		limit = 5
	}
	matched, err := m.SearchEntities(query, limit)
	if err != nil || len(matched) == 0 {
		return "", err
	}
	seeds := make([]string, 0, len(matched))
	for _, ent := range matched {
		seeds = append(seeds, ent.Name)
	}
	sub, err := m.QuerySubgraph(seeds, 1, 5, defaultMinWeight)
	if err != nil {
		return "", err
	}

	var lines []string
	for i, ent := range sub.Entities {
		if i >= limit {
			break
		}
		switch {
		case ent.Type != "" && ent.Type != "concept":
			lines = append(lines, fmt.Sprintf("%s (%s, x%d)", ent.Name, ent.Type, ent.MentionCount))
		case ent.MentionCount > 1:
			lines = append(lines, fmt.Sprintf("%s (x%d)", ent.Name, ent.MentionCount))
		}
	}
	seen := make(map[string]bool)
	for i, rel := range sub.Relations {
		if i >= limit*2 {
			break
		}
		key := rel.SourceName + "-" + rel.Predicate + "-" + rel.TargetName
		if !seen[key] {
			seen[key] = true
			lines = append(lines, fmt.Sprintf("%s → %s → %s", rel.SourceName, rel.Predicate, rel.TargetName))
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	if len(lines) > 8 {
		lines = lines[:8]
	}
	span.SetAttribute("lines", len(lines))
	return "[graph] " + strings.Join(lines, " | "), nil
}

// Stats summarizes the graph for the status surface.
type Stats struct {
	Entities    int            `json:"entities"`
	Relations   int            `json:"relations"`
	EntityTypes map[string]int `json:"entity_types"`
	AvgDegree   float64        `json:"avg_degree"`
	AppendCount int            `json:"append_count"`
}

// GetStats returns current graph statistics.
func (m *Memory) GetStats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return Stats{}, err
	}
	types := make(map[string]int)
	for _, ent := range m.entities {
		types[ent.Type]++
	}
	degree := 0
	for _, edges := range m.adj {
		degree += len(edges)
	}
	avg := 0.0
	if len(m.adj) > 0 {
		avg = math.Round(float64(degree)/float64(len(m.adj))*10) / 10
	}
	return Stats{
		Entities:    len(m.entities),
		Relations:   len(m.relations),
		EntityTypes: types,
		AvgDegree:   avg,
		AppendCount: m.appendCount,
	}, nil
}

// pruneEntities drops the weakest 20% of entities (mention count ×
// decay) together with their relations. Callers must hold mu.
func (m *Memory) pruneEntities() {
	type scored struct {
		id    string
		score float64
	}
	items := make([]scored, 0, len(m.entities))
	for id, ent := range m.entities {
		items = append(items, scored{id: id, score: float64(ent.MentionCount) * decayWeight(ent.LastSeenMs)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score < items[j].score
		}
		return items[i].id < items[j].id
	})

	removeCount := len(items) / 5
	for _, item := range items[:removeCount] {
		ent := m.entities[item.id]
		delete(m.nameIndex, nameKey(ent.Name))
		for _, alias := range ent.Aliases {
			delete(m.nameIndex, nameKey(alias))
		}
		for _, e := range m.adj[item.id] {
			delete(m.relations, e.relationID)
		}
		delete(m.entities, item.id)
		delete(m.adj, item.id)
	}
	m.rebuildAdjacency()
	m.logger.Info("graph pruned entities", zap.Int("removed", removeCount))
}

func (m *Memory) pruneRelations() {
	type scored struct {
		id    string
		score float64
	}
	items := make([]scored, 0, len(m.relations))
	for id, rel := range m.relations {
		items = append(items, scored{id: id, score: rel.Weight * decayWeight(rel.LastSeenMs) * float64(rel.MentionCount)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score < items[j].score
		}
		return items[i].id < items[j].id
	})
	removeCount := len(items) / 5
	for _, item := range items[:removeCount] {
		delete(m.relations, item.id)
	}
	m.rebuildAdjacency()
	m.logger.Info("graph pruned relations", zap.Int("removed", removeCount))
}

func (m *Memory) pruneEntityRelations(id string) {
	edges := m.adj[id]
	if len(edges) < maxRelationsPerEntity {
		return
	}
	type scored struct {
		relationID string
		score      float64
	}
	items := make([]scored, 0, len(edges))
	for _, e := range edges {
		rel, ok := m.relations[e.relationID]
		if !ok {
			continue
		}
		items = append(items, scored{relationID: e.relationID, score: rel.Weight * decayWeight(rel.LastSeenMs)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score < items[j].score
		}
		return items[i].relationID < items[j].relationID
	})
	for _, item := range items[:len(items)/3] {
		delete(m.relations, item.relationID)
	}
	m.rebuildAdjacency()
}

func (m *Memory) maybeCompactLocked() {
	if m.appendCount >= compactionThreshold {
		if err := m.compactLocked(); err != nil {
			m.logger.Error("graph compaction failed", zap.Error(err))
		}
	}
}

// Compact rewrites both streams from the in-memory state, collapsing the
// update history of each entity and relation to one line.
func (m *Memory) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	return m.compactLocked()
}

func (m *Memory) compactLocked() error {
	ents := make([]*Entity, 0, len(m.entities))
	for _, ent := range m.entities {
		ents = append(ents, ent)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].FirstSeenMs < ents[j].FirstSeenMs })
	entRecs := make([]storage.Record, len(ents))
	for i, ent := range ents {
		entRecs[i] = entityToRecord(ent)
	}
	if err := m.store.Rewrite(storage.StreamEntities, entRecs); err != nil {
		return fmt.Errorf("compact entities: %w", err)
	}

	rels := make([]*Relation, 0, len(m.relations))
	for _, rel := range m.relations {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].FirstSeenMs < rels[j].FirstSeenMs })
	relRecs := make([]storage.Record, len(rels))
	for i, rel := range rels {
		relRecs[i] = relationToRecord(rel)
	}
	if err := m.store.Rewrite(storage.StreamRelations, relRecs); err != nil {
		return fmt.Errorf("compact relations: %w", err)
	}

	m.appendCount = 0
	m.logger.Info("graph compacted",
		zap.Int("entities", len(ents)), zap.Int("relations", len(rels)))
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func entityToRecord(ent *Entity) storage.Record {
	rec := storage.Record{
		"ts_ms":         ent.LastSeenMs,
		"id":            ent.ID,
		"name":          ent.Name,
		"type":          ent.Type,
		"aliases":       ent.Aliases,
		"first_seen_ms": ent.FirstSeenMs,
		"last_seen_ms":  ent.LastSeenMs,
		"mention_count": ent.MentionCount,
	}
	if len(ent.Metadata) > 0 {
		rec["metadata"] = ent.Metadata
	}
	return rec
}

func entityFromRecord(rec storage.Record) *Entity {
	ent := &Entity{
		ID:           storage.Str(rec, "id"),
		Name:         storage.Str(rec, "name"),
		Type:         storage.Str(rec, "type"),
		FirstSeenMs:  int64(storage.Float(rec, "first_seen_ms")),
		LastSeenMs:   int64(storage.Float(rec, "last_seen_ms")),
		MentionCount: int(storage.Float(rec, "mention_count")),
	}
	if aliases, ok := rec["aliases"].([]interface{}); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				ent.Aliases = append(ent.Aliases, s)
			}
		}
	}
	if meta, ok := rec["metadata"].(map[string]interface{}); ok {
		ent.Metadata = meta
	}
	if ent.MentionCount == 0 {
		ent.MentionCount = 1
	}
	return ent
}

func relationToRecord(rel *Relation) storage.Record {
	return storage.Record{
		"ts_ms":         rel.LastSeenMs,
		"id":            rel.ID,
		"source_id":     rel.SourceID,
		"target_id":     rel.TargetID,
		"source_name":   rel.SourceName,
		"target_name":   rel.TargetName,
		"predicate":     rel.Predicate,
		"weight":        rel.Weight,
		"first_seen_ms": rel.FirstSeenMs,
		"last_seen_ms":  rel.LastSeenMs,
		"mention_count": rel.MentionCount,
	}
}

func relationFromRecord(rec storage.Record) *Relation {
	rel := &Relation{
		ID:           storage.Str(rec, "id"),
		SourceID:     storage.Str(rec, "source_id"),
		TargetID:     storage.Str(rec, "target_id"),
		SourceName:   storage.Str(rec, "source_name"),
		TargetName:   storage.Str(rec, "target_name"),
		Predicate:    storage.Str(rec, "predicate"),
		Weight:       storage.Float(rec, "weight"),
		FirstSeenMs:  int64(storage.Float(rec, "first_seen_ms")),
		LastSeenMs:   int64(storage.Float(rec, "last_seen_ms")),
		MentionCount: int(storage.Float(rec, "mention_count")),
	}
	if rel.Predicate == "" {
		rel.Predicate = "related_to"
	}
	if rel.MentionCount == 0 {
		rel.MentionCount = 1
	}
	return rel
}
