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

// Package oaicompat implements the local model backend. It speaks two
// dialects: Ollama's native /api/chat (detected from the base URL),
// which supports constrained JSON decoding and thinking control, and
// the generic OpenAI-compatible /v1/chat/completions for everything
// else (llama.cpp, vLLM, LM Studio).
package oaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/llm"
)

const (
	// DefaultBaseURL is the default local Ollama endpoint.
	DefaultBaseURL = "http://127.0.0.1:11434"
	// DefaultModel is the default local model.
	DefaultModel = "qwen3:14b-q8_0"
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
	// DefaultTimeout is the default HTTP timeout per request. Local
	// models on modest hardware can take a while on long prompts.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the local backend client.
type Config struct {
	BaseURL     string        // Default: http://127.0.0.1:11434
	Model       string        // Default: qwen3:14b-q8_0
	APIKey      string        // Optional: bearer token for hosted OpenAI-compatible servers
	MaxTokens   int           // Default: model-aware (see getDefaultMaxTokens)
	Temperature float64       // Default: 0.7
	Timeout     time.Duration // Default: 120s
	Logger      *zap.Logger
}

// Client talks to a local or OpenAI-compatible model server. No rate
// limiter: the server is typically on the same machine and has no
// quota to protect.
type Client struct {
	baseURL     string
	model       string
	apiKey      string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
	native      bool
	logger      *zap.Logger
}

// getDefaultMaxTokens sizes the reply cap from the model name. Larger
// models handle longer outputs; small or unrecognized models get a
// conservative default.
func getDefaultMaxTokens(model string) int {
	modelLower := strings.ToLower(model)

	if strings.Contains(modelLower, "70b") || strings.Contains(modelLower, "72b") ||
		strings.Contains(modelLower, "405b") ||
		strings.Contains(modelLower, "claude") || strings.Contains(modelLower, "gpt-4") {
		return 8192
	}

	if strings.Contains(modelLower, "13b") || strings.Contains(modelLower, "14b") ||
		strings.Contains(modelLower, "20b") || strings.Contains(modelLower, "32b") {
		return 6144
	}

	return 4096
}

// isOllamaEndpoint reports whether the base URL looks like an Ollama
// server, which prefers the native /api/chat dialect.
func isOllamaEndpoint(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	return strings.Contains(lower, "11434") || strings.Contains(lower, "ollama")
}

// NewClient creates a local backend client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = getDefaultMaxTokens(cfg.Model)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		native:      isOllamaEndpoint(cfg.BaseURL),
		logger:      cfg.Logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the backend name.
func (c *Client) Name() string {
	return "oai_compat"
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a conversation to the model server and returns the reply.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if c.native {
		return c.chatNative(ctx, messages, opts)
	}
	return c.chatOpenAI(ctx, messages, opts)
}

// chatNative calls Ollama's /api/chat. JSON mode uses the server's
// constrained decoding (format=json) rather than prompt steering.
func (c *Client) chatNative(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	req := nativeChatRequest{
		Model:    c.model,
		Messages: buildMessages(messages, opts.System),
		Stream:   false,
		Think:    opts.Think,
		Options:  c.sampleOptions(opts),
	}
	if opts.JSONMode {
		req.Format = "json"
	}

	resp, err := c.callNative(ctx, req)
	if err != nil {
		return nil, err
	}

	content := resp.Message.Content
	if content == "" && resp.Message.Thinking != "" {
		// Reasoning models occasionally put the whole reply in the
		// thinking field.
		c.logger.Debug("model returned content in thinking field",
			zap.String("model", c.model))
		content = resp.Message.Thinking
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("model returned empty content")
	}

	if opts.JSONMode {
		content, err = normalizeJSON(content)
		if err != nil {
			return nil, err
		}
	}

	return &llm.Response{
		Content:    content,
		StopReason: "stop",
		Usage: llm.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
			CostUSD:      0, // local inference is free
		},
		Metadata: map[string]interface{}{
			"model":         resp.Model,
			"eval_duration": resp.EvalDuration,
			"transport":     "native",
		},
	}, nil
}

// chatOpenAI calls /v1/chat/completions. JSON mode is steered by an
// appended system instruction and recovered by extraction, since
// response format support varies across servers.
func (c *Client) chatOpenAI(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	system := opts.System
	if opts.JSONMode {
		if system != "" {
			system += "\n\n" + llm.JSONOnlyInstruction
		} else {
			system = llm.JSONOnlyInstruction
		}
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	req := openAIChatRequest{
		Model:       c.model,
		Messages:    buildMessages(messages, system),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("model returned empty content")
	}

	if opts.JSONMode {
		content, err = normalizeJSON(content)
		if err != nil {
			return nil, err
		}
	}

	stopReason := resp.Choices[0].FinishReason
	if stopReason == "" {
		stopReason = "stop"
	}

	return &llm.Response{
		Content:    content,
		StopReason: stopReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
			CostUSD:      0,
		},
		Metadata: map[string]interface{}{
			"model":     c.model,
			"transport": "openai",
		},
	}, nil
}

// sampleOptions builds the native options block. repeat_penalty and
// top_p stay fixed; they keep small quantized models from looping.
func (c *Client) sampleOptions(opts llm.ChatOptions) map[string]interface{} {
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return map[string]interface{}{
		"temperature":    temperature,
		"num_predict":    maxTokens,
		"repeat_penalty": 1.1,
		"top_p":          0.9,
	}
}

// buildMessages prepends the system prompt, when present, as a
// system-role message.
func buildMessages(messages []llm.Message, system string) []wireMessage {
	out := make([]wireMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, wireMessage{Role: llm.RoleSystem, Content: system})
	}
	for _, m := range messages {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// normalizeJSON strips the wrapping small models add around JSON
// replies and verifies the result parses. The error message is load
// bearing: health scoring buckets it as a parse failure.
func normalizeJSON(content string) (string, error) {
	content = cleanJSONString(content)
	if !json.Valid([]byte(content)) {
		content = llm.ExtractJSON(content)
	}
	if !json.Valid([]byte(content)) {
		return "", fmt.Errorf("failed to parse model reply as JSON")
	}
	return content, nil
}

// cleanJSONString removes backtick wrapping and a leading "json"
// language marker.
func cleanJSONString(s string) string {
	s = strings.TrimSpace(s)

	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = strings.Trim(s, "`")
		s = strings.TrimSpace(s)
	}

	if strings.HasPrefix(s, "json") {
		rest := strings.TrimPrefix(s, "json")
		if rest == "" || rest[0] == '\n' || rest[0] == '\r' || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '{' || rest[0] == '[' {
			s = strings.TrimSpace(rest)
		}
	}

	return s
}

// callNative makes the HTTP request to /api/chat.
func (c *Client) callNative(ctx context.Context, req nativeChatRequest) (*nativeChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp nativeChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// ChatStream streams tokens over the native newline-delimited JSON
// protocol, invoking cb per chunk. OpenAI-compatible servers vary too
// much in their SSE framing to support here; callers fall back to
// Chat.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb llm.TokenCallback) (*llm.Response, error) {
	if !c.native {
		return nil, fmt.Errorf("streaming requires a native chat endpoint")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := nativeChatRequest{
		Model:    c.model,
		Messages: buildMessages(messages, opts.System),
		Stream:   true,
		Think:    opts.Think,
		Options:  c.sampleOptions(opts),
	}
	if opts.JSONMode {
		req.Format = "json"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var content strings.Builder
	var last nativeChatResponse

	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		var chunk nativeChatResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			// Malformed lines are skipped, not fatal.
			continue
		}

		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if cb != nil {
				cb(chunk.Message.Content)
			}
		}

		if chunk.Done {
			last = chunk
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stream: %w", err)
	}

	return &llm.Response{
		Content:    content.String(),
		StopReason: "stop",
		Usage: llm.Usage{
			InputTokens:  last.PromptEvalCount,
			OutputTokens: last.EvalCount,
			TotalTokens:  last.PromptEvalCount + last.EvalCount,
			CostUSD:      0,
		},
		Metadata: map[string]interface{}{
			"model":         last.Model,
			"eval_duration": last.EvalDuration,
			"transport":     "native",
			"streaming":     true,
		},
	}, nil
}

// Native /api/chat wire types.

type nativeChatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	// Format "json" turns on constrained decoding.
	Format string `json:"format,omitempty"`
	// Think toggles reasoning mode on models that support it; nil
	// leaves the server default.
	Think   *bool                  `json:"think,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type nativeChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   nativeMessage `json:"message"`
	Done      bool          `json:"done"`

	TotalDuration   int64 `json:"total_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	EvalDuration    int64 `json:"eval_duration"`
}

type nativeMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// OpenAI-compatible /v1/chat/completions wire types. Temperature is
// always serialized: an explicit 0 means deterministic sampling.

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Ensure Client implements the provider interfaces.
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
