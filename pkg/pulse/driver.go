// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/llm"
)

const intentPrompt = `너는 도구를 다루는 비서야. 사용자 메시지를 분석해서 JSON 하나만 출력해.

사용 가능한 도구:
- shell: 시스템 명령 실행 {"type":"shell","cmd":"free -h"}
- search: 웹 검색 {"type":"search","query":"검색어"}
- code: 파이썬/코드 실행 {"type":"code","lang":"python","code":"print(1)"}
- file_read/file_write/file_list/file_search/file_diff/file_edit/file_append/file_delete: 파일 작업
- memory_save: 기억 저장 {"type":"memory_save","text":"내용"}
- memory_find: 기억 검색 {"type":"memory_find","text":"질문"}
- web: URL 내용 가져오기 {"type":"web","url":"https://..."}
- genesis: 새 도구 생성 {"type":"genesis","name":"tool_name","code":"..."}
- util_save/util_run/util_list/util_delete/util_update: 저장된 유틸리티
- project_create/project_build, pip_install/pip_uninstall/pip_list
- config: 설정 변경 {"type":"config","key":"model","value":"qwen3:14b-q8_0"}
- mcp: 외부 MCP 도구 {"type":"mcp","mcp_server":"서버","mcp_tool":"도구","args":{}}

일반 대화는 {"type":"chat","msg":"답변"}.
규칙: 질문은 무조건 chat, 명령만 도구 실행. 애매하면 chat.
연속 작업이 필요하면 "_next"에 다음 단계를 넣어:
{"type":"shell","cmd":"ls work","_next":{"type":"file_read","path":"work/a.txt"}}
코드를 쓸 때는 완전한 실행 가능한 코드만. 설명 없이 JSON 하나만 출력해.`

const chatPrompt = `너는 친근한 한국어 비서야. 간결하고 자연스럽게 대답해.
과거 기억이 주어지면 참고하되, 기억에 없는 건 지어내지 마.
%s`

const summaryPrompt = `아래 도구 실행 결과를 사용자에게 한국어로 간결하게 요약해줘.
숫자와 핵심 결과는 그대로 전달하고, 원본 JSON은 보여주지 마.`

const continuePrompt = `도구 실행 결과를 보고 다음을 판단해서 JSON 하나만 출력해.
- 작업이 끝났으면: {"type":"done","summary":"사용자에게 전달할 요약"}
- 추가 작업이 필요하면 다음 도구 호출 JSON을 출력해 (intent 형식 동일).
에러가 보이면 포기하지 말고 고치는 다른 방법을 시도해.
이미 쓴 도구만 반복하지 말고, 남은 단계가 있으면 계속해.`

const planPrompt = `사용자의 요청을 실행 가능한 단계들로 나눠. JSON 하나만 출력:
{"steps":[{"tool":"shell","cmd":"...","desc":"설명"},{"tool":"file_read","path":"...","desc":"설명"}]}
각 단계는 위 intent 형식의 필드를 그대로 써. 최대 12단계.
사용 가능한 MCP 도구:
%s`

// driverInputs carries the retrieval context injected into classifier
// prompts for one turn.
type driverInputs struct {
	Memory      string
	Wisdom      string
	Skill       string
	MCPMenu     string
	MCPExamples string
	State       DialogueState
	Timeout     time.Duration
}

func (e *Executor) intentSystemPrompt(in driverInputs) string {
	var b strings.Builder
	b.WriteString(intentPrompt)
	if in.MCPMenu != "" {
		b.WriteString("\n\nMCP 도구 목록:\n")
		b.WriteString(in.MCPMenu)
		if in.MCPExamples != "" {
			b.WriteString("\n사용 예시:\n")
			b.WriteString(in.MCPExamples)
		}
	}
	if in.Memory != "" {
		b.WriteString("\n\n[기억] " + truncateRunes(in.Memory, 300))
	}
	if in.Wisdom != "" {
		b.WriteString("\n[경험 교훈] " + truncateRunes(in.Wisdom, 200))
	}
	if in.Skill != "" {
		b.WriteString("\n[비슷한 성공] " + truncateRunes(in.Skill, 200))
	}
	if in.State.Topic != "" {
		b.WriteString(fmt.Sprintf("\n[현재 주제: %s]", in.State.Topic))
	}
	if len(in.State.Entities) > 0 {
		b.WriteString(fmt.Sprintf("\n[활성 엔티티: %s]", strings.Join(in.State.Entities, ", ")))
	}
	return b.String()
}

// classifyIntent asks the active model to classify the user message and
// maps the result. Parse failures degrade to a reply rather than an
// error so the conversation never dead-ends.
func (e *Executor) classifyIntent(ctx context.Context, provider llm.Provider,
	history []Turn, userMsg string, in driverInputs) *Intent {

	messages := []llm.Message{{Role: llm.RoleSystem, Content: e.intentSystemPrompt(in)}}
	messages = append(messages, historyMessages(trimHistory(history, 6))...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg})

	anthropic := provider.Name() == config.BackendAnthropic
	attempts := 1
	if anthropic {
		attempts = 2
		messages[0].Content += "\nIMPORTANT: Output ONLY a single JSON object. No prose, no markdown fences."
	}

	var lastContent string
	for i := 0; i < attempts; i++ {
		resp, err := provider.Chat(ctx, messages, llm.ChatOptions{
			Temperature: llm.Float64(0),
			JSONMode:    true,
			Think:       llm.Bool(false),
			Timeout:     in.Timeout,
		})
		if err != nil {
			e.logger.Warn("intent classification failed", zap.Error(err))
			if anthropic {
				return &Intent{Type: "reply", Content: "Claude 연결에 문제가 있어. 잠시 후 다시 해봐."}
			}
			return &Intent{Type: "reply", Content: "잠시 연결이 불안정해. 다시 시도해줘!"}
		}
		lastContent = llm.ContentOrEmpty(resp, nil)
		var raw map[string]interface{}
		if jsonErr := json.Unmarshal([]byte(llm.ExtractJSON(lastContent)), &raw); jsonErr == nil {
			intent := mapIntent(raw, userMsg)
			// "What can you do" questions that the model turned into a
			// tool run still want a chat answer.
			if intent.Type == "action" && isMetaQuestion(userMsg) {
				return &Intent{Type: "reply",
					Content: e.chatReply(ctx, provider, history, userMsg, in)}
			}
			if intent.Type == "reply" && strings.TrimSpace(intent.Content) == "" {
				intent.Content = e.chatReply(ctx, provider, history, userMsg, in)
			}
			return intent
		}
	}

	// Not JSON at all: the raw text may still be a usable answer.
	if text := strings.TrimSpace(lastContent); text != "" {
		return &Intent{Type: "reply", Content: truncateRunes(text, 500)}
	}
	if anthropic {
		return &Intent{Type: "reply", Content: "다시 말해줄래?"}
	}
	return &Intent{Type: "reply", Content: "무슨 말인지 잘 모르겠어. 다시 말해줄래?"}
}

// chatReply generates a plain conversational answer with memory
// context.
func (e *Executor) chatReply(ctx context.Context, provider llm.Provider,
	history []Turn, userMsg string, in driverInputs) string {

	memoryBlock := ""
	if in.Memory != "" {
		memoryBlock = "[과거 기억]\n" + truncateRunes(in.Memory, 500)
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(chatPrompt, memoryBlock)}}
	messages = append(messages, historyMessages(tailTurns(history, 12))...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg})

	resp, err := provider.Chat(ctx, messages, llm.ChatOptions{Timeout: in.Timeout})
	if err != nil {
		e.logger.Warn("chat reply failed", zap.Error(err))
		return "LLM 연결에 문제가 있어. 잠시 후 다시 해봐."
	}
	if text := strings.TrimSpace(llm.ContentOrEmpty(resp, nil)); text != "" {
		return text
	}
	return "무슨 말인지 잘 모르겠어. 다시 말해줄래?"
}

// summarizeResult turns raw tool output into a short user-facing
// answer, falling back to the raw output when the model is unavailable.
func (e *Executor) summarizeResult(ctx context.Context, provider llm.Provider,
	userMsg, observation string, timeout time.Duration) string {

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("요청: %s\n\n실행 결과:\n%s",
			userMsg, truncateRunes(observation, 4000))},
	}
	resp, err := provider.Chat(ctx, messages, llm.ChatOptions{Timeout: timeout})
	if err == nil {
		if text := strings.TrimSpace(llm.ContentOrEmpty(resp, nil)); text != "" {
			return text
		}
	}
	return truncateRunes(observation, 1000)
}

var continuationKeywords = []string{"계속", "다음", "이어서", "돌려볼", "next"}

// classifyContinue decides, from the latest observation, whether to
// finish or run another action. Connection failures and unusable JSON
// end the loop with the observation as the summary; explicit
// continuation phrasing in a malformed reply keeps it going.
func (e *Executor) classifyContinue(ctx context.Context, provider llm.Provider,
	history []Turn, userMsg, observation string, usedTools []string, cycle int,
	in driverInputs) map[string]interface{} {

	var system strings.Builder
	system.WriteString(intentPrompt)
	system.WriteString("\n\n")
	system.WriteString(continuePrompt)
	if in.Wisdom != "" {
		system.WriteString("\n[경험 교훈] " + truncateRunes(in.Wisdom, 150))
	}
	if in.MCPMenu != "" {
		system.WriteString("\nMCP 도구 목록:\n" + in.MCPMenu)
	}
	system.WriteString(fmt.Sprintf("\n[진행 상황] 사이클 %d, 사용한 도구: %s",
		cycle, strings.Join(usedTools, ", ")))

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system.String()}}
	messages = append(messages, historyMessages(trimHistory(history, 4))...)
	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: userMsg},
		llm.Message{Role: llm.RoleAssistant, Content: "(도구 실행 완료)"},
		llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
			"실행 결과:\n%s\n\n위 결과를 보고 추가 작업이 필요한지 판단해.",
			truncateRunes(observation, 4000))},
	)

	resp, err := provider.Chat(ctx, messages, llm.ChatOptions{
		Temperature: llm.Float64(0),
		JSONMode:    true,
		Think:       llm.Bool(false),
		Timeout:     in.Timeout,
	})
	if err != nil {
		e.logger.Warn("continuation classification failed", zap.Error(err))
		return map[string]interface{}{"type": "done", "summary": truncateRunes(observation, 1000)}
	}
	content := llm.ContentOrEmpty(resp, nil)
	var raw map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(llm.ExtractJSON(content)), &raw); jsonErr != nil {
		lower := strings.ToLower(content)
		for _, kw := range continuationKeywords {
			if strings.Contains(lower, kw) {
				return map[string]interface{}{"type": "continue_signal"}
			}
		}
		return map[string]interface{}{"type": "done", "summary": truncateRunes(observation, 1000)}
	}
	return raw
}

// planSteps asks the model to break a multi-step request into a step
// queue. An unusable plan returns nil and the loop falls back to
// single-action mode.
func (e *Executor) planSteps(ctx context.Context, provider llm.Provider,
	history []Turn, userMsg string, in driverInputs) []planStep {

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: intentPrompt + "\n\n" + fmt.Sprintf(planPrompt, in.MCPMenu)},
	}
	messages = append(messages, historyMessages(trimHistory(history, 4))...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg})

	resp, err := provider.Chat(ctx, messages, llm.ChatOptions{
		Temperature: llm.Float64(0),
		JSONMode:    true,
		Think:       llm.Bool(false),
		Timeout:     30 * time.Second,
	})
	if err != nil {
		e.logger.Warn("plan generation failed", zap.Error(err))
		return nil
	}
	var parsed struct {
		Steps []map[string]interface{} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(llm.ContentOrEmpty(resp, nil))), &parsed); err != nil {
		return nil
	}
	var steps []planStep
	for _, fields := range parsed.Steps {
		if len(steps) >= 12 {
			break
		}
		desc := rawStr(fields, "desc")
		delete(fields, "desc")
		if rawStr(fields, "tool") == "" && rawStr(fields, "type") == "" {
			continue
		}
		if desc == "" {
			desc = rawStr(fields, "tool")
		}
		steps = append(steps, planStep{Desc: desc, Fields: fields})
	}
	return steps
}

func historyMessages(history []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == "assistant" {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: turn.Content})
	}
	return out
}

func tailTurns(history []Turn, n int) []Turn {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
