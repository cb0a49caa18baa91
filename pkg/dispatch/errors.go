// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Error kinds form a closed taxonomy. Everything a handler can fail
// with maps to exactly one of these, so downstream consumers (learning
// recorder, healer, hints) can switch on kind instead of parsing text.
const (
	KindNotFound             = "not_found"
	KindCrash                = "crash"
	KindEmptyOutput          = "empty_output"
	KindParseError           = "parse_error"
	KindToolError            = "tool_error"
	KindTimeout              = "timeout"
	KindException            = "exception"
	KindApprovalRequired     = "approval_required"
	KindDangerousCodeBlocked = "dangerous_code_blocked"
	KindNetworkCodeBlocked   = "network_code_blocked"
	KindPathOutsideSandbox   = "path_outside_sandbox"
	KindInvalidInput         = "invalid_input"
)

// Error is the structured failure record handlers return instead of a
// result string. It serializes with error:true so LLM-facing callers
// can distinguish it from tool output that merely contains the word.
type Error struct {
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
	Hint     *Hint  `json:"hint,omitempty"`
}

// Hint is an actionable suggestion attached to an error by the pattern
// table, guiding the caller's (usually the LLM's) next step.
type Hint struct {
	Hint            string `json:"hint"`
	SuggestedAction string `json:"suggested_action,omitempty"`
	Fix             string `json:"fix,omitempty"`
}

// NewError builds a structured dispatch error, attaching a hint when
// the detail matches the pattern table.
func NewError(actionID, kind, detail string) *Error {
	return &Error{
		ActionID: actionID,
		Kind:     kind,
		Detail:   detail,
		Hint:     LookupHint(detail),
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.ActionID, e.Kind, e.Detail)
}

// MarshalJSON emits the wire form {error:true, action_id, kind, detail, ...}.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"error":     true,
		"action_id": e.ActionID,
		"kind":      e.Kind,
		"detail":    e.Detail,
	}
	if e.Hint != nil {
		out["hint"] = e.Hint.Hint
		if e.Hint.SuggestedAction != "" {
			out["suggested_action"] = e.Hint.SuggestedAction
		}
		if e.Hint.Fix != "" {
			out["fix"] = e.Hint.Fix
		}
	}
	return json.Marshal(out)
}

// Text renders the error as the string a chat-facing caller shows or
// feeds back to the model.
func (e *Error) Text() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":true,"action_id":%q,"kind":%q}`, e.ActionID, e.Kind)
	}
	return string(b)
}

type hintEntry struct {
	pattern string
	hint    Hint
}

// Error hints, checked in order against lowercased error text; the
// first matching pattern wins. Suggested actions are alias names so
// they resolve through the normal alias table.
var errorHints = []hintEntry{
	{"undefined reference", Hint{
		Hint:            "likely a missing #include or link target",
		SuggestedAction: "create_tool",
		Fix:             "add the missing include and recompile",
	}},
	{"no such file", Hint{
		Hint:            "file path does not exist",
		SuggestedAction: "file_read",
		Fix:             "list the directory first or use an absolute path",
	}},
	{"permission denied", Hint{
		Hint:            "insufficient permission; only work/ paths are writable",
		SuggestedAction: "file_write",
		Fix:             "move the target under work/",
	}},
	{"compilation failed", Hint{
		Hint:            "C++ syntax error; the source needs fixing",
		SuggestedAction: "create_tool",
		Fix:             "correct the compile error and retry",
	}},
	{"timed out", Hint{
		Hint:            "wall-clock limit exceeded; try a simpler command",
		SuggestedAction: "run_shell",
		Fix:             "raise the timeout or simplify the command",
	}},
	{"command not found", Hint{
		Hint:            "the command is not installed",
		SuggestedAction: "run_shell",
		Fix:             "install it or use an equivalent command",
	}},
	{"json", Hint{
		Hint: "JSON parsing failed; check the input shape",
		Fix:  "retry with valid JSON",
	}},
	{"traceback", Hint{
		Hint:            "Python runtime error",
		SuggestedAction: "execute_code",
		Fix:             "read the error message and fix the code",
	}},
	{"path outside sandbox", Hint{
		Hint:            "path escapes the sandbox root",
		SuggestedAction: "file_read",
		Fix:             "only paths under the runtime root are reachable",
	}},
}

// LookupHint matches error text against the hint table. Returns nil
// when no pattern applies.
func LookupHint(errorText string) *Hint {
	if errorText == "" {
		return nil
	}
	lower := strings.ToLower(errorText)
	for _, entry := range errorHints {
		if strings.Contains(lower, entry.pattern) {
			h := entry.hint
			return &h
		}
	}
	return nil
}
