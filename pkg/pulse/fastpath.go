// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"regexp"
	"strings"

	"github.com/teradata-labs/treadle/pkg/learning"
)

// fastPathRule matches clear-cut requests without an LLM round trip.
type fastPathRule struct {
	tool         string
	keywords     []string
	excludes     []string
	pathRequired bool
	build        func(text string) map[string]interface{}
}

var fastPathRules = []fastPathRule{
	{
		tool: "shell",
		keywords: []string{
			"메모리", "gpu", "디스크", "프로세스", "nvidia", "uptime",
			"df", "top", "free", "시스템", "서버 상태", "uname", "lsb_release",
		},
		build: buildShellInputs,
	},
	{
		tool:         "file_read",
		keywords:     []string{"읽어", "읽어줘", "내용", "보여줘", "열어줘", "cat"},
		pathRequired: true,
		build:        buildFileReadInputs,
	},
	{
		tool:     "search",
		keywords: []string{"검색", "찾아줘", "알아봐", "search", "뉴스", "최신"},
		build: func(text string) map[string]interface{} {
			return map[string]interface{}{"query": strings.TrimSpace(text)}
		},
	},
	{
		tool:     "memory_save",
		keywords: []string{"기억해", "기억해줘", "remember", "저장해", "메모해"},
		build: func(text string) map[string]interface{} {
			return map[string]interface{}{
				"stream": "chat", "event": "user_note", "text": strings.TrimSpace(text),
			}
		},
	},
	{
		tool:     "memory_find",
		keywords: []string{"기억", "전에", "아까", "memory", "recall"},
		excludes: []string{"기억해", "기억해줘", "저장"},
		build: func(text string) map[string]interface{} {
			return map[string]interface{}{
				"text": strings.TrimSpace(text), "stream": "chat", "top_k": 5,
			}
		},
	},
}

var fastPathFileRe = regexp.MustCompile(`[\w~./-]*/[\w./-]+|[\w-]+\.[a-zA-Z0-9]{1,6}\b`)

func buildShellInputs(text string) map[string]interface{} {
	lower := strings.ToLower(text)
	cmd := "uname -a"
	switch {
	case strings.Contains(lower, "gpu") || strings.Contains(lower, "nvidia"):
		cmd = "nvidia-smi"
	case strings.Contains(lower, "메모리") || strings.Contains(lower, "free"):
		cmd = "free -h"
	case strings.Contains(lower, "디스크") || strings.Contains(lower, "df"):
		cmd = "df -h"
	case strings.Contains(lower, "프로세스") || strings.Contains(lower, "top"):
		cmd = "ps aux --sort=-%mem | head -20"
	}
	return map[string]interface{}{"cmd": cmd}
}

func buildFileReadInputs(text string) map[string]interface{} {
	path := fastPathFileRe.FindString(text)
	return map[string]interface{}{"path": path, "max_bytes": 8192}
}

// tryFastPath matches the rule table against the text. A two-way tie on
// keyword hits is ambiguous; the classifier decides then. Meta
// questions about capabilities always go to the classifier.
func tryFastPath(text string) map[string]interface{} {
	if isMetaQuestion(text) {
		return nil
	}
	lower := strings.ToLower(text)

	type scored struct {
		rule fastPathRule
		hits int
	}
	var top []scored
	for _, rule := range fastPathRules {
		excluded := false
		for _, ex := range rule.excludes {
			if strings.Contains(lower, ex) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		if rule.pathRequired && fastPathFileRe.FindString(text) == "" {
			continue
		}
		top = append(top, scored{rule, hits})
	}
	if len(top) == 0 {
		return nil
	}
	best := top[0]
	tie := false
	for _, s := range top[1:] {
		if s.hits > best.hits {
			best = s
			tie = false
		} else if s.hits == best.hits {
			tie = true
		}
	}
	if tie {
		return nil
	}
	intent := map[string]interface{}{"type": "run", "tool": best.rule.tool}
	for k, v := range best.rule.build(text) {
		intent[k] = v
	}
	return intent
}

// Distilled tool names → simplified intent tool names the mapper knows.
var distilledToolMap = map[string]string{
	"shell": "shell", "search": "search", "code": "code",
	"file_read": "file_read", "memory_save": "memory_save",
	"memory_find": "memory_find", "web": "web",
}

// resolveIntentFast combines the static rule table with learned
// routing: rules first, then high-confidence distilled policies.
func resolveIntentFast(text string, distiller *learning.Distiller, intentKey string) map[string]interface{} {
	if intent := tryFastPath(text); intent != nil {
		return intent
	}
	if distiller == nil || isMetaQuestion(text) {
		return nil
	}
	tool, conf := distiller.Lookup(text, intentKey)
	if conf == 0 {
		return nil
	}
	mapped, ok := distilledToolMap[tool]
	if !ok {
		return nil
	}
	intent := map[string]interface{}{"type": "run", "tool": mapped}
	switch mapped {
	case "shell":
		for k, v := range buildShellInputs(text) {
			intent[k] = v
		}
	case "search":
		intent["query"] = strings.TrimSpace(text)
	case "file_read":
		for k, v := range buildFileReadInputs(text) {
			intent[k] = v
		}
	case "memory_save", "memory_find":
		intent["text"] = strings.TrimSpace(text)
	}
	return intent
}

var commandSuffixes = []string{
	"해줘", "해봐", "실행", "보여줘", "알려줘", "찾아줘", "읽어줘",
	"저장해", "만들어", "돌려", "실행해",
}

var questionEndings = []string{
	"어때", "될까", "맞아", "있어", "할까", "뭐야", "인가요",
	"인가", "습니까", "나요",
}

var metaKeywords = []string{
	"도구", "기능", "할 수 있", "가능", "지원", "뭐 할", "무엇을",
	"어떤 일", "capabilities", "능력",
}

// isMetaQuestion detects "what can you do" style questions that look
// like tool requests but want a chat answer.
func isMetaQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, suffix := range commandSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return false
		}
	}
	isQuestion := strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？")
	for _, ending := range questionEndings {
		if strings.HasSuffix(strings.TrimRight(trimmed, "?？ "), ending) {
			isQuestion = true
			break
		}
	}
	if !isQuestion {
		return false
	}
	hasMeta := false
	for _, kw := range metaKeywords {
		if strings.Contains(trimmed, kw) {
			hasMeta = true
			break
		}
	}
	if !hasMeta {
		return false
	}
	// Concrete paths, URLs, or code mean the user wants action anyway.
	if fastPathFileRe.MatchString(trimmed) || entityURLRe.MatchString(trimmed) ||
		strings.Contains(trimmed, "```") {
		return false
	}
	return true
}
