// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/storage"
)

// Distillation parameters. A keyword's best tool becomes a policy at a
// 0.7 success rate; the pulse fast path only routes on it at 0.8.
const (
	distillWindow  = 500
	distillTTL     = 10 * time.Minute
	distillMinUses = 2
	distillKeepAt  = 0.7
	distillRouteAt = 0.8
	distillJaccard = 0.3
	distillKeyLen  = 40
)

// distillNonWord strips punctuation but keeps letters (any script),
// digits, underscore, and whitespace.
var distillNonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// Policy is one distilled keyword→tool rule.
type Policy struct {
	Tool        string  `json:"tool"`
	SuccessRate float64 `json:"success_rate"`
	Count       int     `json:"count"`
}

// Distiller folds per-keyword tool outcomes from the experience stream
// into routing policies: when a keyword's best tool keeps succeeding,
// matching requests can skip LLM intent classification entirely.
type Distiller struct {
	store  *storage.Store
	logger *zap.Logger

	mu    sync.Mutex
	rules map[string]Policy
	built time.Time
}

// NewDistiller builds a Distiller over the given store.
func NewDistiller(store *storage.Store, logger *zap.Logger) *Distiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distiller{store: store, logger: logger}
}

// Rules returns the distilled policy map, rebuilding it from the last
// 500 experiences when the cache is older than ten minutes or force is
// set. Keys are lowercased keyword prefixes of at most 40 runes.
func (d *Distiller) Rules(force bool) (map[string]Policy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !force && d.rules != nil && time.Since(d.built) < distillTTL {
		return d.rules, nil
	}

	exps, err := d.store.Read(storage.StreamExperiences, distillWindow)
	if err != nil {
		return nil, err
	}
	type stat struct{ ok, fail int }
	agg := make(map[string]map[string]*stat)
	for _, e := range exps {
		tool := storage.Str(e, "tool_used")
		if tool == "" {
			tool = storage.Str(e, "intent_type")
		}
		kw := storage.Str(e, "keyword")
		if kw == "" {
			kw = storage.Str(e, "query")
		}
		if tool == "" || kw == "" {
			continue
		}
		kw = truncRunes(strings.TrimSpace(strings.ToLower(kw)), distillKeyLen)
		tools, found := agg[kw]
		if !found {
			tools = make(map[string]*stat)
			agg[kw] = tools
		}
		st, found := tools[tool]
		if !found {
			st = &stat{}
			tools[tool] = st
		}
		if storage.Bool(e, "success") {
			st.ok++
		} else {
			st.fail++
		}
	}

	rules := make(map[string]Policy)
	for kw, tools := range agg {
		var best Policy
		for _, tool := range sortedKeys(tools) {
			st := tools[tool]
			total := st.ok + st.fail
			if total < distillMinUses {
				continue
			}
			rate := float64(st.ok) / float64(total)
			if rate > best.SuccessRate || (rate == best.SuccessRate && total > best.Count) {
				best = Policy{Tool: tool, SuccessRate: rate, Count: total}
			}
		}
		if best.Tool != "" && best.SuccessRate >= distillKeepAt {
			best.SuccessRate = math.Round(best.SuccessRate*100) / 100
			rules[kw] = best
		}
	}
	d.rules = rules
	d.built = time.Now()
	d.logger.Debug("distilled policies rebuilt",
		zap.Int("rules", len(rules)), zap.Int("experiences", len(exps)))
	return rules, nil
}

// Lookup routes text to a distilled tool. An exact policy-key hit wins
// outright; otherwise the best keyword by Jaccard token overlap (at
// least 0.3) scaled by its success rate is taken. Either way the
// matched policy must have a success rate of at least 0.8. The returned
// confidence is that rate; a miss returns ("", 0).
func (d *Distiller) Lookup(text, intentKey string) (string, float64) {
	if utf8Len(text) < 2 {
		return "", 0
	}
	rules, err := d.Rules(false)
	if err != nil {
		d.logger.Debug("distilled lookup unavailable", zap.Error(err))
		return "", 0
	}
	if len(rules) == 0 {
		return "", 0
	}
	if intentKey != "" {
		if p, ok := rules[intentKey]; ok && p.SuccessRate >= distillRouteAt {
			return p.Tool, p.SuccessRate
		}
	}

	txtTokens := normTokens(text)
	if len(txtTokens) == 0 {
		return "", 0
	}
	var bestTool string
	var bestScore, bestRate float64
	bestCount := 0
	for _, kw := range sortedKeys(rules) {
		p := rules[kw]
		kwTokens := normTokens(kw)
		if len(kwTokens) == 0 {
			continue
		}
		inter := 0
		for t := range kwTokens {
			if txtTokens[t] {
				inter++
			}
		}
		if inter == 0 {
			continue
		}
		jaccard := float64(inter) / float64(len(txtTokens)+len(kwTokens)-inter)
		if jaccard < distillJaccard {
			continue
		}
		score := jaccard * p.SuccessRate
		if score > bestScore || (score == bestScore && p.Count > bestCount) {
			bestTool, bestScore, bestRate, bestCount = p.Tool, score, p.SuccessRate, p.Count
		}
	}
	if bestTool != "" && bestRate >= distillRouteAt {
		return bestTool, bestRate
	}
	return "", 0
}

// normTokens lowercases, strips punctuation, and keeps tokens longer
// than one rune as a set for Jaccard matching.
func normTokens(s string) map[string]bool {
	cleaned := distillNonWord.ReplaceAllString(strings.ToLower(s), "")
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(cleaned) {
		if utf8Len(t) > 1 {
			tokens[t] = true
		}
	}
	return tokens
}

func utf8Len(s string) int {
	return len([]rune(s))
}
