// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/treadle/pkg/llm"
)

// scriptedProvider replays canned responses in order; past the script it
// repeats the last one. It records the requests for assertions.
type scriptedProvider struct {
	name      string
	model     string
	responses []string
	err       error
	calls     [][]llm.Message
	lastOpts  llm.ChatOptions
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	s.calls = append(s.calls, messages)
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	if idx < 0 {
		return &llm.Response{}, nil
	}
	return &llm.Response{Content: s.responses[idx]}, nil
}

func (s *scriptedProvider) Name() string {
	if s.name == "" {
		return "oai_compat"
	}
	return s.name
}

func (s *scriptedProvider) Model() string {
	if s.model == "" {
		return "test-model"
	}
	return s.model
}

func TestComputeComplexity(t *testing.T) {
	simple := computeComplexity("안녕", 0)
	hard := computeComplexity(
		"이 시스템 아키텍처를 분석하고 최적화 전략을 설계해줘. 그리고 다음에 비교 결과도 정리해줘.", 0)
	assert.Less(t, simple, 0.2)
	assert.Greater(t, hard, 0.5)
	assert.Greater(t, computeComplexity("안녕", 14), simple, "deep history raises the score")
	assert.LessOrEqual(t, hard, 1.0)
}

func TestDetectMemorableFacts(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"facts": ["사용자 이름은 민수", "회의는 매주 화요일", "x", "네번째 사실", "다섯번째"]}`,
	}}
	facts := detectMemorableFacts(context.Background(), provider, "내 이름은 민수야, 회의는 매주 화요일이야")
	assert.Equal(t, []string{"사용자 이름은 민수", "회의는 매주 화요일", "네번째 사실"}, facts,
		"short facts drop, output caps at three")
	assert.NotNil(t, provider.lastOpts.Temperature)
	assert.Equal(t, 0.1, *provider.lastOpts.Temperature)
}

func TestDetectMemorableFacts_Degrades(t *testing.T) {
	assert.Nil(t, detectMemorableFacts(context.Background(), nil, "내 이름은 민수야"))
	assert.Nil(t, detectMemorableFacts(context.Background(), &scriptedProvider{err: fmt.Errorf("down")}, "내 이름은 민수야"))
	assert.Nil(t, detectMemorableFacts(context.Background(), &scriptedProvider{responses: []string{"말로 된 답변"}}, "내 이름은 민수야"))
	assert.Nil(t, detectMemorableFacts(context.Background(), &scriptedProvider{}, "짧다"))
}
