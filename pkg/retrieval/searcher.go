// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Search modes.
const (
	ModeBM25   = "bm25"
	ModeHybrid = "hybrid"
)

const (
	// tailWindow bounds how many trailing records form the recall pool.
	tailWindow = 500
	// recentCount is how many newest records are always surfaced.
	recentCount = 3
	// snippetLimit caps each returned memory, in runes.
	snippetLimit = 500
	// scoreFloor drops matches with negligible relevance.
	scoreFloor = 0.05
)

// GraphContexter supplies graph-memory context lines for a query.
// Optional; a nil graph disables graph context.
type GraphContexter interface {
	Context(query string, limit int) (string, error)
}

// Embedder produces vector embeddings for hybrid re-ranking. Optional;
// without one, hybrid mode degrades to plain BM25.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// SearcherOptions configures a Searcher. Store is required.
type SearcherOptions struct {
	Store    *storage.Store
	Graph    GraphContexter
	Embedder Embedder
	Logger   *zap.Logger
	Tracer   observability.Tracer
}

// Searcher answers recall queries over the learning streams.
type Searcher struct {
	store    *storage.Store
	graph    GraphContexter
	embedder Embedder
	logger   *zap.Logger
	tracer   observability.Tracer
}

// NewSearcher builds a Searcher, filling in no-op defaults.
func NewSearcher(opts SearcherOptions) *Searcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	return &Searcher{
		store:    opts.Store,
		graph:    opts.Graph,
		embedder: opts.Embedder,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
}

// SearchOptions tunes one search call.
type SearchOptions struct {
	TopK      int    // default 5
	SessionID string // boosts records from the same conversation
	Mode      string // ModeBM25 (default) or ModeHybrid
}

type memEntry struct {
	text       string
	importance float64
	topicTag   string
	sessionID  string
}

type candidate struct {
	entry memEntry
	score float64
}

// Search returns relevant memories for a query plus the newest few
// records, formatted in two labeled sections. An empty result means
// the stream has nothing useful.
//
// Relevance is BM25 with three multiplicative boosts: record importance
// (1 + 0.2·importance), same-session (×1.5), and matching topic tag
// (×1.3). Hybrid mode re-ranks an oversampled pool with embeddings.
func (s *Searcher) Search(ctx context.Context, stream, query string, opts SearchOptions) (string, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanRetrievalSearch,
		observability.WithAttribute(observability.AttrStream, stream))
	defer s.tracer.EndSpan(span)

	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Mode == "" {
		opts.Mode = ModeBM25
	}

	records, err := s.store.Read(stream, tailWindow)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	entries := make([]memEntry, 0, len(records))
	for _, rec := range records {
		text := coerceText(rec)
		if text == "" {
			continue
		}
		entries = append(entries, memEntry{
			text:       text,
			importance: storage.Float(rec, "importance"),
			topicTag:   storage.Str(rec, "topic_tag"),
			sessionID:  storage.Str(rec, "session_id"),
		})
	}
	if len(entries) == 0 {
		return "", nil
	}

	var recent, pool []memEntry
	if len(entries) > recentCount {
		recent = entries[len(entries)-recentCount:]
		pool = entries[:len(entries)-recentCount]
	} else {
		recent = entries
	}

	var relevant []string
	if len(pool) > 0 && strings.TrimSpace(query) != "" {
		ranked := s.rank(ctx, pool, query, opts)
		for _, c := range ranked {
			prefix := ""
			if tag := c.entry.topicTag; tag != "" && tag != "fact" {
				prefix = "[" + tag + "] "
			}
			relevant = append(relevant, prefix+truncRunes(c.entry.text, snippetLimit))
		}
	}

	var combined []string
	if len(relevant) > 0 {
		combined = append(combined, "[관련 기억]")
		combined = append(combined, relevant...)
	}
	if len(recent) > 0 {
		combined = append(combined, "[최근 대화]")
		for _, r := range recent {
			combined = append(combined, truncRunes(r.text, snippetLimit))
		}
	}
	span.SetAttribute("matches", len(relevant))
	return strings.Join(combined, "\n"), nil
}

// rank scores the pool against the query and returns the top matches.
func (s *Searcher) rank(ctx context.Context, pool []memEntry, query string, opts SearchOptions) []candidate {
	texts := make([]string, len(pool))
	for i, e := range pool {
		texts[i] = e.text
	}
	bm25 := NewBM25()
	bm25.Index(texts)
	// Oversample so the boosts and re-ranker have room to reorder.
	hits := bm25.Query(query, opts.TopK*3)

	queryTopic := InferTopicTag(query)
	scored := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < scoreFloor {
			continue
		}
		entry := pool[hit.Index]
		score := hit.Score

		imp := entry.importance
		if imp == 0 {
			imp = 2
		}
		score *= 1.0 + 0.2*imp

		if opts.SessionID != "" && entry.sessionID == opts.SessionID {
			score *= 1.5
		}
		if queryTopic != "fact" && entry.topicTag == queryTopic {
			score *= 1.3
		}
		scored = append(scored, candidate{entry: entry, score: score})
	}

	sortCandidates(scored)

	if opts.Mode == ModeHybrid && s.embedder != nil && len(scored) > 1 {
		if reranked, err := s.mmrRerank(ctx, query, scored, opts.TopK); err == nil {
			return reranked
		} else {
			s.logger.Debug("hybrid rerank unavailable, using bm25 order", zap.Error(err))
		}
	}

	if len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}
	return scored
}

// GraphContext returns graph-memory context for a query, or "" when no
// graph backend is attached.
func (s *Searcher) GraphContext(query string, limit int) (string, error) {
	if s.graph == nil {
		return "", nil
	}
	return s.graph.Context(query, limit)
}

// coerceText extracts a usable text field from a record. Values written
// by older tool versions may be nested objects or arrays.
func coerceText(rec storage.Record) string {
	v, ok := rec["text"]
	if !ok {
		v = rec["content"]
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["text"].(string); ok {
			return s
		}
		if s, ok := t["content"].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
