// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object returned as is",
			input: `{"action": "FS.READ.v1", "args": {"path": "README.md"}}`,
			want:  `{"action": "FS.READ.v1", "args": {"path": "README.md"}}`,
		},
		{
			name:  "bare array returned as is",
			input: "  [1, 2, 3]  ",
			want:  "[1, 2, 3]",
		},
		{
			name:  "fenced json block",
			input: "Here is the plan:\n```json\n{\"steps\": 2}\n```",
			want:  `{"steps": 2}`,
		},
		{
			name:  "fence without language marker",
			input: "```\n{\"steps\": 2}\n```\nLet me know if that works.",
			want:  `{"steps": 2}`,
		},
		{
			name:  "object buried in prose",
			input: `Sure! The result is {"ok": true, "nested": {"n": 1}} as requested.`,
			want:  `{"ok": true, "nested": {"n": 1}}`,
		},
		{
			name:  "fence with prose body falls through to brace scan",
			input: "```\nthe object {\"ok\": true} above\n```",
			want:  `{"ok": true}`,
		},
		{
			name:  "unbalanced object yields empty string",
			input: `partial reply {"a": {"b": 1}`,
			want:  "",
		},
		{
			name:  "no json returned unchanged",
			input: "I could not produce a structured answer.",
			want:  "I could not produce a structured answer.",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.input))
		})
	}
}
