// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	webMaxRounds      = 3
	webDeepReadURLs   = 3
	webPageContentLen = 8000
	webSummaryTokens  = 800
	webMinPages       = 3
	webSourceCap      = 5
)

// actionMarkers flag summary lines the engine can act on directly.
var actionMarkers = []string{
	"try running", "test the", "use tool", "테스트해", "실행해",
	"remember:", "기억:", "note:",
}

var urlRe = regexp.MustCompile(`https?://[^\s"'<>\])]+`)

// doWebExplore runs one deep-search cycle. The seed query comes from
// an unproductive curiosity cycle, or is synthesized from the current
// tool profile and recent knowledge when empty.
func (e *Engine) doWebExplore(ctx context.Context, seed string) (bool, error) {
	if e.dispatcher == nil {
		return false, nil
	}
	query := seed
	reason := "curiosity_fallthrough"
	if query == "" {
		query, reason = e.synthesizeWebQuery(ctx)
	}
	if query == "" {
		return false, nil
	}

	res, err := e.deepWebSearch(ctx, query, reason)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	e.tryApplyKnowledge(ctx, res.Summary)
	return true, nil
}

// synthesizeWebQuery builds a search query from the system's current
// weak spots: failing tools first, then an LLM look at recent
// knowledge gaps, then nothing.
func (e *Engine) synthesizeWebQuery(ctx context.Context) (string, string) {
	profile := e.profiles.get(e.store)
	if failing := profile.FailingTools(2, 0.4); len(failing) > 0 {
		return failing[0] + " error handling best practices", "failing_tool"
	}
	if e.provider == nil {
		return "", ""
	}

	var topics []string
	if recs, err := e.store.Read(storage.StreamKnowledge, 5); err == nil {
		for _, rec := range recs {
			if q := storage.Str(rec, "query"); q != "" {
				topics = append(topics, q)
			}
		}
	}
	prompt := fmt.Sprintf(`You maintain an LLM agent runtime (tool dispatch, JSONL memory,
BM25 retrieval, sandboxed code execution). Recently researched: %s.
Propose one new web search query that would most improve the runtime.
Respond with JSON only: {"query": "...", "reason": "..."}.`,
		strings.Join(topics, "; "))
	content := llm.ContentOrEmpty(e.provider.Chat(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: 200, JSONMode: true}))
	var out struct {
		Query  string `json:"query"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &out); err != nil {
		return "", ""
	}
	return strings.TrimSpace(out.Query), out.Reason
}

type webResult struct {
	Summary string
	Sources []string
	Rounds  int
	Pages   int
}

// deepWebSearch iterates search rounds until the model judges the
// gathered pages sufficient, then summarizes and records knowledge.
func (e *Engine) deepWebSearch(ctx context.Context, query, reason string) (*webResult, error) {
	var pages, sources, queried []string
	var rounds int
	curQuery := query
	for rounds = 1; rounds <= webMaxRounds; rounds++ {
		queried = append(queried, curQuery)
		search := e.dispatcher.Execute(ctx, "WEB.SEARCH.v1",
			map[string]interface{}{"query": curQuery}, dispatch.ExecOptions{})
		if search.IsError() {
			if rounds == 1 {
				return nil, fmt.Errorf("web search: %s", search.Error.Detail)
			}
			break
		}

		urls := urlRe.FindAllString(search.Output, -1)
		readBudget := webDeepReadURLs
		for _, url := range urls {
			if readBudget == 0 {
				break
			}
			fetch := e.dispatcher.Execute(ctx, "NET.HTTP_GET.v1",
				map[string]interface{}{"url": url}, dispatch.ExecOptions{})
			if fetch.IsError() || strings.TrimSpace(fetch.Output) == "" {
				continue
			}
			text := fetch.Output
			if len(text) > webPageContentLen {
				text = text[:webPageContentLen]
			}
			pages = append(pages, text)
			sources = append(sources, url)
			readBudget--
		}

		if len(pages) >= webMinPages {
			break
		}
		next := e.judgeSufficiency(ctx, curQuery, pages)
		if next == "" {
			break
		}
		curQuery = next
	}
	if len(pages) == 0 {
		return nil, nil
	}

	summary := e.summarizePages(ctx, query, pages)
	if summary == "" {
		return nil, nil
	}
	if len(sources) > webSourceCap {
		sources = sources[:webSourceCap]
	}
	rec := storage.Record{
		"ts_ms":         time.Now().UnixMilli(),
		"query":         query,
		"reason":        reason,
		"queries_tried": queried,
		"rounds":        rounds,
		"results_count": len(pages),
		"summary":       summary,
		"sources":       sources,
		"deep_read":     true,
		"pages_read":    len(pages),
	}
	if err := e.store.Append(storage.StreamKnowledge, rec); err != nil {
		return nil, err
	}
	e.logger.Info("web exploration recorded",
		zap.String("query", query), zap.Int("pages", len(pages)))
	return &webResult{Summary: summary, Sources: sources, Rounds: rounds, Pages: len(pages)}, nil
}

// judgeSufficiency asks whether the gathered pages answer the query;
// an insufficient verdict supplies the next query.
func (e *Engine) judgeSufficiency(ctx context.Context, query string, pages []string) string {
	if e.provider == nil || len(pages) == 0 {
		return ""
	}
	excerpt := strings.Join(pages, "\n---\n")
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	prompt := fmt.Sprintf(`Query: %s
Pages gathered so far:
%s

Is this sufficient to answer the query? Respond with JSON only:
{"sufficient": true|false, "next_query": "...", "why": "..."}`, query, excerpt)
	content := llm.ContentOrEmpty(e.provider.Chat(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: 150, JSONMode: true}))
	var out struct {
		Sufficient bool   `json:"sufficient"`
		NextQuery  string `json:"next_query"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &out); err != nil {
		return ""
	}
	if out.Sufficient {
		return ""
	}
	return strings.TrimSpace(out.NextQuery)
}

// summarizePages condenses the gathered pages; without a model the
// first page excerpt stands in.
func (e *Engine) summarizePages(ctx context.Context, query string, pages []string) string {
	if e.provider == nil {
		first := pages[0]
		if len(first) > 1000 {
			first = first[:1000]
		}
		return first
	}
	joined := strings.Join(pages, "\n---\n")
	if len(joined) > 12000 {
		joined = joined[:12000]
	}
	prompt := fmt.Sprintf(`Summarize what these pages say about %q in under 10 bullet points.
When a finding is directly actionable for an agent runtime, prefix the line with "try running"
or "remember:".

%s`, query, joined)
	return strings.TrimSpace(llm.ContentOrEmpty(e.provider.Chat(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: webSummaryTokens})))
}

// tryApplyKnowledge scans summary lines for action markers and applies
// the cheap ones: remembered facts go to memory, tool suggestions get
// a probe through the dispatcher.
func (e *Engine) tryApplyKnowledge(ctx context.Context, summary string) {
	for _, line := range strings.Split(summary, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if lower == "" {
			continue
		}
		marked := false
		for _, m := range actionMarkers {
			if strings.Contains(lower, m) {
				marked = true
				break
			}
		}
		if !marked {
			continue
		}
		switch {
		case strings.Contains(lower, "remember:") || strings.Contains(lower, "기억:"):
			rec := storage.Record{
				"ts_ms":  time.Now().UnixMilli(),
				"type":   "knowledge_actionable",
				"rules":  []string{strings.TrimSpace(line)},
				"source": "web_explore",
			}
			if err := e.store.Append(storage.StreamInsights, rec); err != nil {
				e.logger.Debug("actionable insight append failed", zap.Error(err))
			}
		case e.dispatcher != nil:
			// A tool suggestion: probe the mentioned action if one parses.
			if id := firstActionID(line); id != "" {
				res := e.dispatcher.Execute(ctx, id,
					map[string]interface{}{}, dispatch.ExecOptions{})
				e.logger.Debug("knowledge probe",
					zap.String("action", id), zap.Bool("ok", !res.IsError()))
			}
		}
	}
}

var actionIDRe = regexp.MustCompile(`[A-Z][A-Z0-9_]*(?:\.[A-Z][A-Z0-9_]*)+\.v\d+`)

func firstActionID(line string) string {
	id := actionIDRe.FindString(line)
	if id == "" {
		return ""
	}
	if dispatch.ValidateActionID(id) != nil {
		return ""
	}
	return id
}
