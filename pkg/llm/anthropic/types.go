// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package anthropic

// MessagesRequest is a request to the Anthropic Messages API.
// Temperature is always serialized: an explicit 0 means deterministic
// sampling, not "use the API default".
type MessagesRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	System      []TextBlockParam `json:"system,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Message is a single wire-format conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextBlockParam is a system prompt block. Marking it with
// cache_control caches the prompt server-side; cached tokens don't
// count against the per-minute input-token rate limit.
type TextBlockParam struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl marks a block for prompt caching.
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// MessagesResponse is a response from the Anthropic Messages API.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock is a response content block. Only text blocks carry
// reply content for this client.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage reports token consumption, including prompt-cache activity.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// StreamEvent is a streaming event from the Messages API.
type StreamEvent struct {
	Type    string       `json:"type"` // message_start, content_block_delta, message_delta, message_stop
	Message *StreamStart `json:"message,omitempty"`
	Index   int          `json:"index,omitempty"`
	Delta   *StreamDelta `json:"delta,omitempty"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// StreamStart carries the usage snapshot in a message_start event.
type StreamStart struct {
	Usage Usage `json:"usage"`
}

// StreamDelta is the delta payload of a streaming event.
type StreamDelta struct {
	Type       string `json:"type,omitempty"`        // text_delta
	Text       string `json:"text,omitempty"`        // for text deltas
	StopReason string `json:"stop_reason,omitempty"` // for message_delta events
}
