// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package retrieval ranks learning-stream records for recall. BM25 is
// the base ranker; callers can layer importance, session, and topic
// boosts on top, or plug in an embedding backend for hybrid MMR
// re-ranking. All queries are stateless reads over storage.
package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// koSuffixes strips common Korean postpositions and endings so that
// agglutinated forms match their stems ("생일은" finds "생일"). Both the
// stripped and original forms are indexed for recall.
var koSuffixes = regexp.MustCompile(
	`(은|는|이|가|을|를|의|에|와|과|도|로|으로|에서|까지|부터|만|밖에|처럼|같이|야|이야|이다|다|해|였어|인데|하는|하고)$`)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// stopwords are dropped before indexing and querying. The set is small
// on purpose: BM25's idf already down-weights common terms, this only
// removes pure glue words.
var stopwords = map[string]bool{
	"the": true, "and": true, "are": true, "was": true, "were": true,
	"this": true, "that": true, "with": true, "for": true, "from": true,
	"have": true, "has": true, "had": true, "not": true, "but": true,
	"you": true, "your": true, "what": true, "how": true, "can": true,
	"will": true, "would": true, "should": true, "about": true,
	"그리고": true, "그러나": true, "하지만": true, "그래서": true,
	"있는": true, "있다": true, "한다": true, "합니다": true,
}

// Tokenize lowercases, splits on non-word characters, drops tokens
// shorter than two characters and stopwords, and applies Korean
// particle stripping (keeping both forms when a suffix was removed).
func Tokenize(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	var result []string
	for _, w := range strings.Fields(cleaned) {
		if len([]rune(w)) < 2 || stopwords[w] {
			continue
		}
		stripped := koSuffixes.ReplaceAllString(w, "")
		if len([]rune(stripped)) >= 2 {
			if stripped != w {
				result = append(result, w, stripped)
			} else {
				result = append(result, w)
			}
		} else {
			result = append(result, w)
		}
	}
	return result
}

// Hit is one ranked document: its index in the indexed corpus and its
// BM25 relevance score.
type Hit struct {
	Index int
	Score float64
}

// BM25 is an Okapi BM25 ranker over an in-memory corpus.
type BM25 struct {
	K1 float64
	B  float64

	docFreqs   []map[string]int
	docLen     []int
	avgdl      float64
	idf        map[string]float64
	corpusSize int
}

// NewBM25 returns a ranker with the standard Okapi parameters.
func NewBM25() *BM25 {
	return &BM25{K1: 1.5, B: 0.75}
}

// Index builds the term statistics from raw document strings.
func (b *BM25) Index(documents []string) {
	b.corpusSize = len(documents)
	b.docFreqs = make([]map[string]int, 0, len(documents))
	b.docLen = make([]int, 0, len(documents))
	b.idf = make(map[string]float64)
	if b.corpusSize == 0 {
		return
	}

	nd := make(map[string]int)
	totalLen := 0
	for _, doc := range documents {
		tokens := Tokenize(doc)
		b.docLen = append(b.docLen, len(tokens))
		totalLen += len(tokens)
		freqs := make(map[string]int, len(tokens))
		for _, word := range tokens {
			freqs[word]++
		}
		b.docFreqs = append(b.docFreqs, freqs)
		for word := range freqs {
			nd[word]++
		}
	}
	b.avgdl = float64(totalLen) / float64(b.corpusSize)
	if b.avgdl == 0 {
		b.avgdl = 1.0
	}
	for word, freq := range nd {
		idf := math.Log((float64(b.corpusSize)-float64(freq)+0.5)/(float64(freq)+0.5) + 1.0)
		b.idf[word] = math.Max(idf, 0.01)
	}
}

// Query returns the top-k documents by relevance, highest first.
// Documents with zero score are omitted.
func (b *BM25) Query(text string, topK int) []Hit {
	if b.corpusSize == 0 {
		return nil
	}
	scores := make([]float64, b.corpusSize)
	for _, q := range Tokenize(text) {
		idf, ok := b.idf[q]
		if !ok {
			continue
		}
		for i, freqs := range b.docFreqs {
			tf := float64(freqs[q])
			if tf == 0 {
				continue
			}
			dl := float64(b.docLen[i])
			scores[i] += idf * (tf * (b.K1 + 1)) / (tf + b.K1*(1-b.B+b.B*dl/b.avgdl))
		}
	}

	hits := make([]Hit, 0, b.corpusSize)
	for i, score := range scores {
		if score > 0 {
			hits = append(hits, Hit{Index: i, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
