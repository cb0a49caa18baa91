// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"regexp"
	"sort"
	"strings"
)

// DialogueState is a lightweight running summary of the conversation:
// the dominant topic keyword, the recent intent chain, how many turns
// stayed on the same topic, and concrete entities the user mentioned.
type DialogueState struct {
	Topic       string
	IntentChain []string
	TurnCount   int
	Entities    []string
}

var dstStopWords = map[string]bool{
	"그거": true, "이거": true, "저거": true, "여기": true, "거기": true,
	"뭐": true, "왜": true, "어떻게": true, "그리고": true, "그래서": true,
	"하지만": true, "근데": true, "그냥": true, "좀": true, "약간": true,
	"진짜": true, "정말": true, "the": true, "and": true, "for": true,
	"with": true, "this": true, "that": true, "what": true, "how": true,
}

var koreanVerbSuffixes = []string{
	"해줘", "해봐", "할래", "해야", "하자", "했어", "하고", "해서",
	"인데", "이야", "예요", "에요", "습니다", "입니다",
}

var dstTokenRe = regexp.MustCompile(`[가-힣]{2,}|[a-zA-Z_][a-zA-Z0-9_./-]{2,}|\d{3,}`)

// stripVerbSuffix removes common Korean verb/copula endings so that
// "실행해줘" and "실행하고" count as the same topic token.
func stripVerbSuffix(token string) string {
	for _, suffix := range koreanVerbSuffixes {
		if strings.HasSuffix(token, suffix) && len(token) > len(suffix)+3 {
			return strings.TrimSuffix(token, suffix)
		}
	}
	return token
}

var intentKeywords = []struct {
	intent string
	words  []string
}{
	{"search", []string{"검색", "찾아", "알아봐", "search", "find"}},
	{"code", []string{"코드", "실행", "code", "python", "스크립트"}},
	{"shell", []string{"명령", "shell", "터미널", "시스템"}},
	{"file", []string{"파일", "file", "읽어", "저장", "써"}},
	{"memory", []string{"기억", "memory", "메모", "remember"}},
	{"chat", []string{"안녕", "고마워", "hello", "thanks"}},
}

func classifyTurnIntent(text string) string {
	lower := strings.ToLower(text)
	for _, ik := range intentKeywords {
		for _, w := range ik.words {
			if strings.Contains(lower, w) {
				return ik.intent
			}
		}
	}
	return "chat"
}

// TrackDialogueState recomputes the state from the last few user turns.
// The topic is the most frequent non-stopword token; the intent chain
// keeps the last five classified intents.
func TrackDialogueState(prev DialogueState, userTurns []string) DialogueState {
	state := DialogueState{
		IntentChain: prev.IntentChain,
		Entities:    prev.Entities,
		TurnCount:   prev.TurnCount,
	}
	if len(userTurns) == 0 {
		return state
	}
	recent := userTurns
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	counts := map[string]int{}
	order := []string{}
	for _, turn := range recent {
		for _, token := range dstTokenRe.FindAllString(turn, -1) {
			token = stripVerbSuffix(strings.ToLower(token))
			if dstStopWords[token] || len([]rune(token)) < 2 {
				continue
			}
			if counts[token] == 0 {
				order = append(order, token)
			}
			counts[token]++
		}
	}
	if len(order) > 0 {
		sort.SliceStable(order, func(i, j int) bool {
			return counts[order[i]] > counts[order[j]]
		})
		state.Topic = order[0]
	}

	latest := userTurns[len(userTurns)-1]
	intent := classifyTurnIntent(latest)
	chain := state.IntentChain
	if len(chain) >= 4 {
		chain = chain[len(chain)-4:]
	}
	chain = append(chain, intent)
	if len(chain) > 5 {
		chain = chain[len(chain)-5:]
	}
	state.IntentChain = chain

	if state.Topic != "" && state.Topic == prev.Topic {
		state.TurnCount = prev.TurnCount + 1
	} else {
		state.TurnCount = 1
	}

	for _, entity := range ExtractEntities(latest) {
		if !containsString(state.Entities, entity) {
			state.Entities = append(state.Entities, entity)
		}
	}
	if len(state.Entities) > 10 {
		state.Entities = state.Entities[len(state.Entities)-10:]
	}
	return state
}

var (
	entityFileRe   = regexp.MustCompile(`[\w./-]+\.(?:txt|md|py|go|json|yaml|yml|csv|log|sh|cpp|h|hpp|js|ts|html|css)\b`)
	entityURLRe    = regexp.MustCompile(`https?://[^\s<>"']+`)
	entityNumberRe = regexp.MustCompile(`\b(?:\d{1,3}(?:\.\d{1,3}){3}|\d{4,5}|\d+\.\d+\.\d+)\b`)
	entityNameRe   = regexp.MustCompile(`(?:이름|name|성명)\s*[:은는이가]?\s*([가-힣]{2,4}|[A-Z][a-z]+)`)
	entityToolRe   = regexp.MustCompile(`\b(?:shell|search|code|genesis|memory_save|memory_find|file_read|file_write|util_run)\b`)
)

// ExtractEntities pulls file paths, URLs, significant numbers, names,
// and tool mentions out of a message, capped per category.
func ExtractEntities(text string) []string {
	var out []string
	add := func(matches []string, cap int) {
		n := 0
		for _, m := range matches {
			if n >= cap {
				break
			}
			if !containsString(out, m) {
				out = append(out, m)
				n++
			}
		}
	}
	add(entityFileRe.FindAllString(text, -1), 10)
	add(entityURLRe.FindAllString(text, -1), 5)
	add(entityNumberRe.FindAllString(text, -1), 10)
	names := []string{}
	for _, m := range entityNameRe.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	add(names, 10)
	add(entityToolRe.FindAllString(strings.ToLower(text), -1), 10)
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
