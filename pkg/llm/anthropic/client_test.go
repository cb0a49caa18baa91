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

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/treadle/pkg/llm"
)

// disabledLimiter bypasses the process-wide rate limiter so tests do
// not construct the shared singleton with test settings.
func disabledLimiter() *llm.RateLimiterConfig {
	return &llm.RateLimiterConfig{Enabled: false}
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		RateLimiter: disabledLimiter(),
	})
}

func writeMessagesResponse(w http.ResponseWriter, text, stopReason string, in, out int) {
	resp := MessagesResponse{
		ID:         "msg_test",
		Type:       "message",
		Role:       "assistant",
		Model:      DefaultModel,
		StopReason: stopReason,
		Content:    []ContentBlock{{Type: "text", Text: text}},
		Usage:      Usage{InputTokens: in, OutputTokens: out},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k", RateLimiter: disabledLimiter()})

	assert.Equal(t, DefaultModel, c.model)
	assert.Equal(t, DefaultBaseURL+messagesPath, c.endpoint)
	assert.Equal(t, DefaultMaxTokens, c.maxTokens)
	assert.InDelta(t, DefaultTemperature, c.temperature, 1e-9)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Nil(t, c.rateLimiter, "Enabled=false should bypass the limiter")
	assert.Equal(t, "anthropic", c.Name())
	assert.Equal(t, DefaultModel, c.Model())
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient(Config{
		APIKey:      "k",
		BaseURL:     "https://proxy.example.com/",
		RateLimiter: disabledLimiter(),
	})
	assert.Equal(t, "https://proxy.example.com/v1/messages", c.endpoint)
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name        string
		in          []llm.Message
		wantSystems []string
		want        []Message
	}{
		{
			name: "alternating roles pass through",
			in: []llm.Message{
				{Role: llm.RoleUser, Content: "a"},
				{Role: llm.RoleAssistant, Content: "b"},
				{Role: llm.RoleUser, Content: "c"},
			},
			want: []Message{
				{Role: "user", Content: "a"},
				{Role: "assistant", Content: "b"},
				{Role: "user", Content: "c"},
			},
		},
		{
			name: "consecutive same-role turns merge",
			in: []llm.Message{
				{Role: llm.RoleUser, Content: "a"},
				{Role: llm.RoleUser, Content: "b"},
				{Role: llm.RoleAssistant, Content: "c"},
				{Role: llm.RoleAssistant, Content: "d"},
				{Role: llm.RoleUser, Content: "e"},
			},
			want: []Message{
				{Role: "user", Content: "a\nb"},
				{Role: "assistant", Content: "c\nd"},
				{Role: "user", Content: "e"},
			},
		},
		{
			name: "assistant-first history gets placeholder",
			in: []llm.Message{
				{Role: llm.RoleAssistant, Content: "hi"},
			},
			want: []Message{
				{Role: "user", Content: "."},
				{Role: "assistant", Content: "hi"},
			},
		},
		{
			name: "empty history gets placeholder",
			in:   nil,
			want: []Message{{Role: "user", Content: "."}},
		},
		{
			name: "system turns extracted",
			in: []llm.Message{
				{Role: llm.RoleSystem, Content: "s1"},
				{Role: llm.RoleUser, Content: "a"},
				{Role: llm.RoleSystem, Content: "s2"},
			},
			wantSystems: []string{"s1", "s2"},
			want:        []Message{{Role: "user", Content: "a"}},
		},
		{
			name: "unknown roles dropped",
			in: []llm.Message{
				{Role: "tool", Content: "x"},
				{Role: llm.RoleUser, Content: "a"},
			},
			want: []Message{{Role: "user", Content: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			systems, msgs := convertMessages(tt.in)
			assert.Equal(t, tt.wantSystems, systems)
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestClient_Chat(t *testing.T) {
	var got MessagesRequest
	var gotHeaders http.Header
	var rawBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, messagesPath, r.URL.Path)
		gotHeaders = r.Header.Clone()

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rawBody = string(body)
		require.NoError(t, json.Unmarshal(body, &got))

		writeMessagesResponse(w, "fine.", "end_turn", 12, 4)
	}))
	defer server.Close()

	c := NewClient(Config{
		APIKey:      "secret",
		BaseURL:     server.URL,
		Model:       "claude-sonnet-4-5-20250929",
		RateLimiter: disabledLimiter(),
	})

	resp, err := c.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "status?"},
	}, llm.ChatOptions{
		System:      "You are the runtime.",
		MaxTokens:   256,
		Temperature: llm.Float64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, "fine.", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.Metadata["stop_reason"])

	assert.Equal(t, "claude-sonnet-4-5-20250929", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "status?", got.Messages[0].Content)

	// Explicit temperature zero must reach the wire.
	assert.Contains(t, rawBody, `"temperature":0`)

	require.Len(t, got.System, 1)
	assert.Equal(t, "You are the runtime.", got.System[0].Text)
	require.NotNil(t, got.System[0].CacheControl)
	assert.Equal(t, "ephemeral", got.System[0].CacheControl.Type)

	assert.Equal(t, "secret", gotHeaders.Get("x-api-key"))
	assert.Equal(t, apiVersion, gotHeaders.Get("anthropic-version"))
	assert.Equal(t, betaFeatures, gotHeaders.Get("anthropic-beta"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestClient_Chat_NoAPIKey(t *testing.T) {
	c := NewClient(Config{RateLimiter: disabledLimiter()})
	_, err := c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestClient_Chat_ConcatenatesTextBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := MessagesResponse{
			StopReason: "end_turn",
			Content: []ContentBlock{
				{Type: "text", Text: "Hello"},
				{Type: "tool_use"},
				{Type: "text", Text: ", world"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Content)
}

func TestClient_Chat_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := MessagesResponse{
			StopReason: "max_tokens",
			Content:    []ContentBlock{{Type: "text", Text: "   "}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
	assert.Contains(t, err.Error(), "max_tokens")
}

func TestClient_Chat_JSONMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.System, 1)
		assert.Contains(t, req.System[0].Text, "You decide intent.")
		assert.Contains(t, req.System[0].Text, "ONLY a valid JSON object")

		writeMessagesResponse(w, "```json\n{\"intent\": \"status\"}\n```", "end_turn", 8, 6)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "what now"}},
		llm.ChatOptions{System: "You decide intent.", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"intent": "status"}`, resp.Content)
	assert.True(t, json.Valid([]byte(resp.Content)))
}

func TestClient_Chat_JSONModeParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessagesResponse(w, "I cannot produce structured output here.", "end_turn", 8, 6)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "plan"}},
		llm.ChatOptions{JSONMode: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestClient_Chat_APIErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error": {"type": "api_error"}}`))
		}))

		_, err := newTestClient(server.URL).Chat(context.Background(),
			[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})
		server.Close()

		require.Error(t, err, "status %d", status)
		assert.Contains(t, err.Error(), "API error (status", "status %d", status)
	}
}

// This is the only test that may construct the process-wide limiter:
// it installs fast retry settings, and every other test bypasses the
// singleton entirely.
func TestClient_Chat_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
			return
		}
		writeMessagesResponse(w, "made it", "end_turn", 5, 2)
	}))
	defer server.Close()

	c := NewClient(Config{
		APIKey:  "k",
		BaseURL: server.URL,
		RateLimiter: &llm.RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			BurstCapacity:     10,
			MinDelay:          time.Millisecond,
			MaxRetries:        4,
			RetryBackoff:      time.Millisecond,
			QueueTimeout:      5 * time.Second,
		},
	})

	resp, err := c.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "made it", resp.Content)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestClient_CalculateCost(t *testing.T) {
	tests := []struct {
		model                 string
		in, out, read, create int
		want                  float64
	}{
		{"claude-sonnet-4-5-20250929", 1_000_000, 0, 0, 0, 3.0},
		{"claude-sonnet-4-5-20250929", 0, 1_000_000, 0, 0, 15.0},
		{"claude-opus-4-1-20250805", 1_000_000, 1_000_000, 0, 0, 90.0},
		{"claude-haiku-4-5-20251001", 1_000_000, 1_000_000, 0, 0, 6.0},
		{"claude-sonnet-4-5-20250929", 0, 0, 1_000_000, 0, 0.30},
		{"claude-sonnet-4-5-20250929", 0, 0, 0, 1_000_000, 3.75},
		{"some-future-model", 1_000_000, 0, 0, 0, 3.0},
	}

	for _, tt := range tests {
		c := NewClient(Config{APIKey: "k", Model: tt.model, RateLimiter: disabledLimiter()})
		got := c.calculateCost(tt.in, tt.out, tt.read, tt.create)
		assert.InDelta(t, tt.want, got, 1e-9, tt.model)
	}
}

func TestClient_ChatStream(t *testing.T) {
	events := []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":7}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		``,
		`data: {"type":"message_stop"}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, strings.Join(events, "\n"))
	}))
	defer server.Close()

	var tokens []string
	resp, err := newTestClient(server.URL).ChatStream(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{},
		func(token string) { tokens = append(tokens, token) })
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}

func TestClient_ImplementsProviderInterfaces(t *testing.T) {
	var p interface{} = newTestClient("http://127.0.0.1:1")
	_, ok := p.(llm.Provider)
	assert.True(t, ok)
	_, ok = p.(llm.StreamingProvider)
	assert.True(t, ok)
}
