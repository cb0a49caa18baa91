// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimHistory_KeepsShortHistories(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	}
	assert.Equal(t, history, trimHistory(history, 5))
}

func TestTrimHistory_CompressesOldTurns(t *testing.T) {
	var history []Turn
	for i := 0; i < 20; i++ {
		history = append(history,
			Turn{Role: "user", Content: fmt.Sprintf("요청 번호 %d 처리해줘", i)},
			Turn{Role: "assistant", Content: "done"},
		)
	}
	trimmed := trimHistory(history, 5)
	require.Len(t, trimmed, 12, "summary pair plus ten recent messages")
	assert.Contains(t, trimmed[0].Content, "[이전 대화 요약]")
	assert.Equal(t, "네, 이전 맥락 이해했어.", trimmed[1].Content)
	assert.Equal(t, history[len(history)-10:], trimmed[2:])
}

func TestCompressOldMessages(t *testing.T) {
	old := []Turn{
		{Role: "user", Content: "work/a.txt 읽어줘"},
		{Role: "assistant", Content: "읽었어"},
		{Role: "user", Content: "work/a.txt 읽어줘"},
		{Role: "user", Content: "결과를 검색해봐"},
	}
	summary := compressOldMessages(old)
	assert.Contains(t, summary, "요청: work/a.txt 읽어줘 -> 결과를 검색해봐")
	assert.Contains(t, summary, "참조: work/a.txt")
	assert.LessOrEqual(t, len([]rune(summary)), 400)

	assert.Empty(t, compressOldMessages([]Turn{{Role: "assistant", Content: "x"}}))
}

func TestTrimHistory_TokenBudgetCompressesEarly(t *testing.T) {
	big := strings.Repeat("데이터 분석 결과 ", 2000)
	history := []Turn{
		{Role: "user", Content: big},
		{Role: "assistant", Content: big},
		{Role: "user", Content: big},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "마지막 질문"},
		{Role: "assistant", Content: "답"},
	}
	trimmed := trimHistory(history, 5)
	require.NotEqual(t, history, trimmed, "token weight forces compression under the turn cap")
	assert.Contains(t, trimmed[0].Content, "[이전 대화 요약]")
	assert.Equal(t, "답", trimmed[len(trimmed)-1].Content)
}

func TestCountTokens_NonZero(t *testing.T) {
	// Works with either the real encoder or the length fallback.
	assert.Greater(t, countTokens("hello world, this is a token count check"), 0)
	assert.Equal(t, 0, countTokens(""))
}

func TestLastUserTurns(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "r"},
		{Role: "user", Content: "two"},
		{Role: "user", Content: "three"},
	}
	assert.Equal(t, []string{"two", "three"}, lastUserTurns(history, 2))
	assert.Equal(t, []string{"one", "two", "three"}, lastUserTurns(history, 9))
}
