// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Wisdom assembles accumulated knowledge for injection ahead of intent
// classification: the newest rules insight (top five rules), up to
// three failure reflections with their alternatives, legacy tool stats
// when no rules exist, matching skill snippets, and graph context.
// Capped at 2000 runes. Errors along the way degrade to less context,
// never to a failure.
func (r *Recorder) Wisdom(userText string) string {
	_, span := r.tracer.StartSpan(context.Background(), observability.SpanLearningWisdom)
	defer r.tracer.EndSpan(span)

	var rules, reflections, patterns []string

	insights, err := r.store.Read(storage.StreamInsights, insightWindow)
	if err != nil {
		r.logger.Debug("wisdom insights read failed", zap.Error(err))
	}
	for i := len(insights) - 1; i >= 0; i-- {
		entry := insights[i]
		switch storage.Str(entry, "type") {
		case "rules":
			if len(rules) == 0 {
				rules = recordStrings(entry, "rules")
				if len(rules) > 5 {
					rules = rules[:5]
				}
			}
		case "failure":
			if len(reflections) < 3 {
				if alt := storage.Str(entry, "alternative"); alt != "" {
					reflections = append(reflections, fmt.Sprintf("%s: %s→%s",
						storage.Str(entry, "fail_type"),
						truncRunes(storage.Str(entry, "user_request"), 100), alt))
				}
			}
		case "pattern":
			if len(patterns) == 0 {
				if top := topSuccessTools(entry); top != "" {
					patterns = append(patterns, "good:"+top)
				}
			}
		}
	}

	var parts []string
	if len(rules) > 0 {
		parts = append(parts, strings.Join(rules, " | "))
	}
	if len(reflections) > 0 {
		parts = append(parts, "avoid: "+strings.Join(reflections, "; "))
	}
	if len(patterns) > 0 && len(rules) == 0 {
		parts = append(parts, strings.Join(patterns, " "))
	}

	if strings.TrimSpace(userText) != "" {
		if hint, err := r.SearchSkills(userText, 3); err == nil && hint != "" {
			parts = append(parts, "[skills] "+truncRunes(hint, 500))
		} else if err != nil {
			r.logger.Debug("wisdom skill search failed", zap.Error(err))
		}
		if r.graph != nil {
			if graphCtx, err := r.graph.Context(userText, 5); err == nil && graphCtx != "" {
				parts = append(parts, graphCtx)
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	span.SetAttribute("parts", len(parts))
	return truncRunes(strings.Join(parts, " "), wisdomLimit)
}

// topSuccessTools renders the top three tools of a legacy pattern
// insight as "tool(count),tool(count)".
func topSuccessTools(entry storage.Record) string {
	st, ok := entry["success_tools"].(map[string]interface{})
	if !ok || len(st) == 0 {
		return ""
	}
	type toolCount struct {
		tool  string
		count int
	}
	items := make([]toolCount, 0, len(st))
	for tool, v := range st {
		count, _ := v.(float64)
		items = append(items, toolCount{tool: tool, count: int(count)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].tool < items[j].tool
	})
	if len(items) > 3 {
		items = items[:3]
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%s(%d)", item.tool, item.count)
	}
	return strings.Join(parts, ",")
}
