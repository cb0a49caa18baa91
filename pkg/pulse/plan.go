// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import "strings"

// planStep is one queued step of a multi-step plan: a simplified
// intent body plus a short description for progress messages.
type planStep struct {
	Desc   string
	Fields map[string]interface{}
}

// stepToIntent maps a queued step to an executable intent.
func stepToIntent(step planStep, userMsg string) *Intent {
	raw := map[string]interface{}{"type": "run"}
	for k, v := range step.Fields {
		raw[k] = v
	}
	// Top-level convenience fields on MCP steps belong in args.
	if rawStr(raw, "tool") == "mcp" {
		args, ok := raw["args"].(map[string]interface{})
		if !ok {
			args = map[string]interface{}{}
		}
		for _, key := range []string{"search_query", "query", "url", "text", "keyword"} {
			if v, has := raw[key]; has {
				args[key] = v
				delete(raw, key)
			}
		}
		raw["args"] = args
	}
	return mapIntent(raw, userMsg)
}

var multiStepKeywords = []string{
	"하나씩", "전부", "모두", "순서대로", "차례대로", "쭉",
	"다 해", "다 사용", "다 써", "다 실행", "다 돌려",
	"all", "each", "every", "one by one", "try all",
}

var allToolsKeywords = []string{
	"전부", "모두", "하나씩", "다 해", "다 사용", "다 써", "다 실행",
	"다 돌려", "all", "every", "try all",
}

// isMultiStepRequest reports whether the user asked for a sequence of
// operations rather than a single action.
func isMultiStepRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range multiStepKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isAllToolsRequest detects "run every tool" style demos, which get a
// fixed plan instead of an LLM-generated one.
func isAllToolsRequest(text string) bool {
	lower := strings.ToLower(text)
	mentionsTools := strings.Contains(lower, "도구") || strings.Contains(lower, "툴") ||
		strings.Contains(lower, "tool")
	if !mentionsTools {
		return false
	}
	for _, kw := range allToolsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// buildAllToolsPlan exercises one representative action per builtin
// tool family.
func buildAllToolsPlan() []planStep {
	return []planStep{
		{Desc: "시스템 정보 확인", Fields: map[string]interface{}{
			"tool": "shell", "cmd": "uname -a && uptime"}},
		{Desc: "웹 검색", Fields: map[string]interface{}{
			"tool": "search", "query": "latest technology news"}},
		{Desc: "코드 실행", Fields: map[string]interface{}{
			"tool": "code", "lang": "python",
			"code": "import math\nprint(math.factorial(10))"}},
		{Desc: "기억 저장", Fields: map[string]interface{}{
			"tool": "memory_save", "text": "도구 데모를 실행했다"}},
		{Desc: "기억 검색", Fields: map[string]interface{}{
			"tool": "memory_find", "text": "도구 데모"}},
		{Desc: "파일 쓰기", Fields: map[string]interface{}{
			"tool": "file_write", "path": "work/tool_demo.txt",
			"content": "tool demo output"}},
		{Desc: "파일 읽기", Fields: map[string]interface{}{
			"tool": "file_read", "path": "work/tool_demo.txt"}},
		{Desc: "파일 목록", Fields: map[string]interface{}{
			"tool": "file_list", "path": "work"}},
		{Desc: "유틸리티 목록", Fields: map[string]interface{}{
			"tool": "util_list"}},
	}
}
