// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm defines the provider abstraction the runtime talks to
// language models through, plus the shared rate limiter, daily budget,
// and JSON extraction helpers the concrete clients build on.
//
// Two providers exist: anthropic (hosted Messages API) and oaicompat
// (local Ollama-style or OpenAI-compatible server). The factory package
// selects between them from the runtime configuration.
package llm

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption and cost for a single call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Response is a completed model reply.
type Response struct {
	Content    string
	StopReason string
	Usage      Usage
	Metadata   map[string]interface{}
}

// ChatOptions tunes a single Chat call. Zero values defer to the
// client's configured defaults; pointer fields distinguish "unset"
// from an explicit zero (deterministic sampling needs temperature 0).
type ChatOptions struct {
	// System is the system prompt. Providers place it wherever their
	// API expects: a system block for anthropic, a leading system-role
	// message for oaicompat.
	System string

	// MaxTokens caps the reply length. 0 uses the client default.
	MaxTokens int

	// Temperature overrides the client default when non-nil.
	Temperature *float64

	// JSONMode requests a machine-parseable JSON reply. oaicompat uses
	// the server's native format=json constrained decoding; anthropic
	// has no equivalent, so the client appends a JSON-only instruction
	// to the system prompt and extracts the object from the reply.
	JSONMode bool

	// Think controls reasoning-mode models (Qwen3): false disables
	// thinking to save tokens, nil leaves the server default.
	Think *bool

	// Timeout bounds the call. 0 uses the client default.
	Timeout time.Duration
}

// Provider is a chat-completion backend.
type Provider interface {
	// Chat sends a conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error)

	// Name identifies the backend ("anthropic", "oai_compat").
	Name() string

	// Model returns the configured model identifier.
	Model() string
}

// TokenCallback receives incremental output during streaming.
type TokenCallback func(token string)

// StreamingProvider is a Provider that can stream tokens as they are
// generated.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, messages []Message, opts ChatOptions, cb TokenCallback) (*Response, error)
}

// Float64 returns a pointer to v, for ChatOptions fields.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer to v, for ChatOptions fields.
func Bool(v bool) *bool { return &v }

// ContentOrEmpty flattens a Chat result for call sites that must not
// fail a turn: any error degrades to an empty string.
func ContentOrEmpty(resp *Response, err error) string {
	if err != nil || resp == nil {
		return ""
	}
	return resp.Content
}
