// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// mmrLambda balances relevance against diversity in MMR re-ranking.
const mmrLambda = 0.72

// mmrRerank combines the BM25-boosted scores with embedding cosine
// similarity, then applies maximal-marginal-relevance selection so the
// returned memories are relevant but not redundant.
func (s *Searcher) mmrRerank(ctx context.Context, query string, cands []candidate, topK int) ([]candidate, error) {
	texts := make([]string, 0, len(cands)+1)
	texts = append(texts, query)
	for _, c := range cands {
		texts = append(texts, c.entry.text)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	queryVec := vecs[0]
	candVecs := vecs[1:]

	// Normalize BM25-side scores so they share a [0,1] range with cosine.
	maxScore := 0.0
	for _, c := range cands {
		if c.score > maxScore {
			maxScore = c.score
		}
	}
	combined := make([]float64, len(cands))
	for i, c := range cands {
		lexical := 0.0
		if maxScore > 0 {
			lexical = c.score / maxScore
		}
		combined[i] = 0.5*lexical + 0.5*cosine(queryVec, candVecs[i])
	}

	selected := make([]int, 0, topK)
	remaining := make(map[int]bool, len(cands))
	for i := range cands {
		remaining[i] = true
	}
	for len(selected) < topK && len(remaining) > 0 {
		best, bestVal := -1, math.Inf(-1)
		for i := range remaining {
			redundancy := 0.0
			for _, sel := range selected {
				if sim := cosine(candVecs[i], candVecs[sel]); sim > redundancy {
					redundancy = sim
				}
			}
			val := mmrLambda*combined[i] - (1-mmrLambda)*redundancy
			if val > bestVal {
				best, bestVal = i, val
			}
		}
		selected = append(selected, best)
		delete(remaining, best)
	}

	out := make([]candidate, 0, len(selected))
	for _, idx := range selected {
		c := cands[idx]
		c.score = combined[idx]
		out = append(out, c)
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
}
