// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package retrieval

import "strings"

// topicKeywords maps topic tags to trigger keywords. Checked in order;
// "fact" is the fallback tag.
var topicOrder = []string{
	"birthday", "preference", "identity", "system", "learning", "project", "schedule",
}

var topicKeywords = map[string][]string{
	"birthday":   {"생일", "birthday", "born"},
	"preference": {"좋아", "싫어", "prefer", "favorite"},
	"identity":   {"이름", "나이", "직업", "name", "age", "job"},
	"system":     {"서버", "gpu", "메모리", "디스크", "server", "memory"},
	"learning":   {"배우", "공부", "learn", "study"},
	"project":    {"프로젝트", "코드", "project", "code"},
	"schedule":   {"일정", "약속", "schedule", "meeting"},
}

// InferTopicTag tags text with a lightweight keyword lookup, no LLM call.
func InferTopicTag(text string) string {
	lower := strings.ToLower(text)
	for _, tag := range topicOrder {
		for _, kw := range topicKeywords[tag] {
			if strings.Contains(lower, kw) {
				return tag
			}
		}
	}
	return "fact"
}

// InferImportance scores text 1-5 by content type. Personal identifiers
// rank highest, generic chatter lowest.
func InferImportance(text string) int {
	lower := strings.ToLower(text)
	containsAny := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case containsAny("생일", "이름", "birthday", "name", "비밀번호"):
		return 5
	case containsAny("좋아", "싫어", "prefer", "favorite"):
		return 4
	case containsAny("기억", "remember", "중요", "important"):
		return 4
	case containsAny("서버", "gpu", "코드", "project"):
		return 3
	default:
		return 2
	}
}
