// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"regexp"
	"strings"
)

// JSONOnlyInstruction is appended to the system prompt when a backend
// has no constrained-decoding switch: it steers the model toward
// replies ExtractJSON can recover a document from.
const JSONOnlyInstruction = "Respond with ONLY a valid JSON object. No markdown, no explanation, " +
	"no code fences, no text before or after. Your entire response must " +
	"parse as a single JSON document."

var jsonFenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ExtractJSON pulls a JSON document out of model output that may wrap
// it in prose or markdown fences. Three layers, cheapest first:
//
//  1. The trimmed text already starts with { or [ — return as is.
//  2. A ``` fence whose body starts with { or [ — return the body.
//  3. Brace-depth scan from the first { to its balanced close.
//
// An unbalanced trailing object yields an empty string rather than a
// truncated fragment, so callers fail parsing instead of acting on
// half a document. Text with no opening brace is returned unchanged.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return text
	}

	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
			return candidate
		}
	}

	idx := strings.Index(text, "{")
	if idx == -1 {
		return text
	}
	depth := 0
	end := idx
scan:
	for i := idx; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
				break scan
			}
		}
	}
	return text[idx:end]
}
