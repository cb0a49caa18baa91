// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Turn is one chat history entry.
type Turn struct {
	Role    string
	Content string
}

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
)

// countTokens estimates token usage with the cl100k_base encoding,
// falling back to a length heuristic when the encoding data is
// unavailable offline.
func countTokens(text string) int {
	tokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEnc = enc
		}
	})
	if tokenEnc == nil {
		return len(text) / 4
	}
	return len(tokenEnc.Encode(text, nil, nil))
}

// maxHistoryTokens caps the prompt weight of retained turns; oversized
// histories compress even before the turn cap hits.
const maxHistoryTokens = 4000

func historyTokens(history []Turn) int {
	total := 0
	for _, turn := range history {
		total += countTokens(turn.Content)
	}
	return total
}

// trimHistory keeps the most recent maxTurns*2 messages (fewer when
// they blow the token budget) and folds the rest into a single summary
// exchange so long sessions keep early context without unbounded
// prompt growth.
func trimHistory(history []Turn, maxTurns int) []Turn {
	keep := maxTurns * 2
	if len(history) <= keep && historyTokens(history) <= maxHistoryTokens {
		return history
	}
	if len(history) < keep {
		keep = len(history)
	}
	recent := history[len(history)-keep:]
	for len(recent) > 4 && historyTokens(recent) > maxHistoryTokens {
		recent = recent[2:]
	}
	old := history[:len(history)-len(recent)]
	if len(old) == 0 {
		return recent
	}
	summary := compressOldMessages(old)
	if summary == "" {
		return recent
	}
	out := make([]Turn, 0, len(recent)+2)
	out = append(out,
		Turn{Role: "user", Content: "[이전 대화 요약] " + summary},
		Turn{Role: "assistant", Content: "네, 이전 맥락 이해했어."},
	)
	return append(out, recent...)
}

// compressOldMessages reduces dropped turns to a list of unique request
// first-lines plus referenced entities, capped at 400 characters.
func compressOldMessages(old []Turn) string {
	var requests []string
	seen := map[string]bool{}
	var entities []string
	for _, turn := range old {
		if turn.Role != "user" {
			continue
		}
		line := strings.TrimSpace(strings.SplitN(turn.Content, "\n", 2)[0])
		if line == "" || strings.HasPrefix(line, "[이전 대화 요약]") {
			continue
		}
		if r := []rune(line); len(r) > 80 {
			line = string(r[:80])
		}
		if !seen[line] && len(requests) < 5 {
			seen[line] = true
			requests = append(requests, line)
		}
		for _, e := range ExtractEntities(turn.Content) {
			if !containsString(entities, e) && len(entities) < 5 {
				entities = append(entities, e)
			}
		}
	}
	if len(requests) == 0 && len(entities) == 0 {
		return ""
	}
	var parts []string
	if len(requests) > 0 {
		parts = append(parts, fmt.Sprintf("요청: %s", strings.Join(requests, " -> ")))
	}
	if len(entities) > 0 {
		parts = append(parts, fmt.Sprintf("참조: %s", strings.Join(entities, ", ")))
	}
	summary := strings.Join(parts, " | ")
	if r := []rune(summary); len(r) > 400 {
		summary = string(r[:400])
	}
	return summary
}

// lastUserTurns collects up to n most recent user messages in order.
func lastUserTurns(history []Turn, n int) []string {
	var out []string
	for _, turn := range history {
		if turn.Role == "user" {
			out = append(out, turn.Content)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
