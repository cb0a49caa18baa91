// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teradata-labs/treadle/pkg/llm"
)

var complexKeywords = []string{
	"알고리즘", "설계", "분석", "최적화", "아키텍처", "구현", "리팩토링",
	"디버깅", "알려줘 자세히", "비교", "장단점", "전략",
	"algorithm", "design", "analyze", "optimize", "architecture",
	"implement", "refactor", "debug", "compare", "strategy",
	"왜", "어떻게", "원리", "이유",
}

var multiStepHintKeywords = []string{
	"그리고", "다음에", "그 후", "이어서", "순서대로",
	"and then", "after that", "step", "first", "second",
}

// computeComplexity scores a request 0..1 from length, analytic
// keywords, multi-step phrasing, and conversation depth. Scores above
// the routing threshold upgrade local requests to the hosted backend.
func computeComplexity(text string, historyLen int) float64 {
	lower := strings.ToLower(text)

	score := float64(len(text)) / 500.0
	if score > 0.3 {
		score = 0.3
	}

	hits := 0.0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			hits += 0.1
		}
	}
	if hits > 0.3 {
		hits = 0.3
	}
	score += hits

	steps := 0.0
	for _, kw := range multiStepHintKeywords {
		if strings.Contains(lower, kw) {
			steps += 0.1
		}
	}
	if steps > 0.2 {
		steps = 0.2
	}
	score += steps

	if historyLen > 6 {
		score += 0.1
	}
	if historyLen > 12 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

const autoMemoryPrompt = `사용자 메시지에서 장기적으로 기억할 가치가 있는 사실만 추출해.
기억할 가치: 이름, 선호, 프로젝트 정보, 일정, 관계, 중요한 결정.
기억 불필요: 인사, 단순 명령, 일회성 질문, 잡담.

반드시 JSON만 출력: {"facts": ["사실1", "사실2"]}
기억할 게 없으면: {"facts": []}

사용자 메시지: %s`

var factsBlockRe = regexp.MustCompile(`\{[^{}]*"facts"[^{}]*\}`)

// detectMemorableFacts asks a cheap local model whether the message
// contains durable personal facts worth saving. Short messages and any
// model failure yield nothing rather than blocking the reply.
func detectMemorableFacts(ctx context.Context, provider llm.Provider, userText string) []string {
	if provider == nil || len([]rune(strings.TrimSpace(userText))) < 5 {
		return nil
	}
	resp, err := provider.Chat(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(autoMemoryPrompt, userText)}},
		llm.ChatOptions{
			MaxTokens:   200,
			Temperature: llm.Float64(0.1),
			Think:       llm.Bool(false),
			Timeout:     30 * time.Second,
		})
	if err != nil || resp == nil {
		return nil
	}
	block := factsBlockRe.FindString(llm.ExtractJSON(resp.Content))
	if block == "" {
		return nil
	}
	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil
	}
	var out []string
	for _, fact := range parsed.Facts {
		if len([]rune(strings.TrimSpace(fact))) > 3 {
			out = append(out, strings.TrimSpace(fact))
		}
		if len(out) >= 3 {
			break
		}
	}
	return out
}
