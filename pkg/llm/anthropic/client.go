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

// Package anthropic implements the hosted Claude backend over the
// Messages API. All clients in the process share one rate limiter so
// background engine levels and interactive turns draw from the same
// quota.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/llm"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultBaseURL is the default Anthropic API base URL.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultMaxTokens is the default reply length cap.
	DefaultMaxTokens = 1024
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
	// DefaultTimeout is the default HTTP timeout per request.
	DefaultTimeout = 180 * time.Second

	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"
	// Prompt caching keeps cached tokens off the per-minute input
	// token limit.
	betaFeatures = "prompt-caching-2024-07-31"
)

// Global singleton rate limiter shared across all Anthropic clients.
var (
	globalRateLimiter     *llm.RateLimiter
	globalRateLimiterOnce sync.Once
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string        // Default: claude-sonnet-4-5-20250929
	BaseURL     string        // Default: https://api.anthropic.com
	MaxTokens   int           // Default: 1024
	Temperature float64       // Default: 0.7
	Timeout     time.Duration // Default: 180s

	// RateLimiter overrides the shared limiter's settings. nil enables
	// the limiter with defaults; Enabled=false bypasses it for this
	// client.
	RateLimiter *llm.RateLimiterConfig

	Logger *zap.Logger
}

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
	rateLimiter *llm.RateLimiter
	logger      *zap.Logger
}

// NewClient creates an Anthropic client. The API key may be empty at
// construction time; Chat fails with a clear error if it is still
// missing when a call is made.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	// Proxies and test servers are the only legitimate reasons for a
	// plain-HTTP endpoint; anything else would leak the API key.
	if !strings.HasPrefix(config.BaseURL, "https://") &&
		!strings.HasPrefix(config.BaseURL, "http://127.") &&
		!strings.HasPrefix(config.BaseURL, "http://localhost") {
		config.Logger.Warn("anthropic base URL is not HTTPS",
			zap.String("base_url", config.BaseURL))
	}

	var rateLimiter *llm.RateLimiter
	if config.RateLimiter == nil {
		rateLimiter = getOrCreateGlobalRateLimiter(llm.DefaultRateLimiterConfig())
	} else if config.RateLimiter.Enabled {
		rateLimiter = getOrCreateGlobalRateLimiter(*config.RateLimiter)
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		baseURL:     config.BaseURL,
		endpoint:    config.BaseURL + messagesPath,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		rateLimiter: rateLimiter,
		logger:      config.Logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// getOrCreateGlobalRateLimiter returns the process-wide limiter,
// creating it on first use. Caller-supplied non-zero fields override
// the defaults; later callers share whatever the first one built.
func getOrCreateGlobalRateLimiter(config llm.RateLimiterConfig) *llm.RateLimiter {
	globalRateLimiterOnce.Do(func() {
		merged := llm.DefaultRateLimiterConfig()
		merged.Enabled = config.Enabled
		if config.Logger != nil {
			merged.Logger = config.Logger
		}
		if config.RequestsPerSecond > 0 {
			merged.RequestsPerSecond = config.RequestsPerSecond
		}
		if config.TokensPerMinute > 0 {
			merged.TokensPerMinute = config.TokensPerMinute
		}
		if config.BurstCapacity > 0 {
			merged.BurstCapacity = config.BurstCapacity
		}
		if config.MinDelay > 0 {
			merged.MinDelay = config.MinDelay
		}
		if config.MaxRetries > 0 {
			merged.MaxRetries = config.MaxRetries
		}
		if config.RetryBackoff > 0 {
			merged.RetryBackoff = config.RetryBackoff
		}
		if config.QueueTimeout > 0 {
			merged.QueueTimeout = config.QueueTimeout
		}
		globalRateLimiter = llm.NewRateLimiter(merged)
	})
	return globalRateLimiter
}

// Name returns the backend name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a conversation to Claude and returns the reply.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := c.buildRequest(messages, opts, false)

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := text.String()
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("anthropic returned empty content (stop_reason %q)", resp.StopReason)
	}

	if opts.JSONMode {
		content = llm.ExtractJSON(content)
		if !json.Valid([]byte(content)) {
			return nil, fmt.Errorf("failed to parse model reply as JSON (stop_reason %q)", resp.StopReason)
		}
	}

	usage := llm.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CostUSD: c.calculateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens,
			resp.Usage.CacheReadInputTokens, resp.Usage.CacheCreationInputTokens),
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(usage.TotalTokens))
	}

	return &llm.Response{
		Content:    content,
		StopReason: resp.StopReason,
		Usage:      usage,
		Metadata: map[string]interface{}{
			"model":                       resp.Model,
			"stop_reason":                 resp.StopReason,
			"cache_read_input_tokens":     resp.Usage.CacheReadInputTokens,
			"cache_creation_input_tokens": resp.Usage.CacheCreationInputTokens,
		},
	}, nil
}

// buildRequest assembles the wire request from the conversation and
// per-call options.
func (c *Client) buildRequest(messages []llm.Message, opts llm.ChatOptions, stream bool) *MessagesRequest {
	systems, apiMessages := convertMessages(messages)

	systemParts := make([]string, 0, len(systems)+2)
	if opts.System != "" {
		systemParts = append(systemParts, opts.System)
	}
	systemParts = append(systemParts, systems...)
	if opts.JSONMode {
		// The Messages API has no constrained-decoding switch; the
		// reply is steered by instruction and extracted afterwards.
		systemParts = append(systemParts, llm.JSONOnlyInstruction)
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}

	if systemText := strings.Join(systemParts, "\n\n"); systemText != "" {
		req.System = []TextBlockParam{
			{
				Type:         "text",
				Text:         systemText,
				CacheControl: &CacheControl{Type: "ephemeral"},
			},
		}
	}

	return req
}

// convertMessages splits out system turns and flattens the rest to the
// wire format. The Messages API accepts only user and assistant roles,
// rejects consecutive same-role turns, and must start with a user
// turn: adjacent same-role turns are joined with a newline and a
// placeholder user turn is prepended when the history opens with the
// assistant.
func convertMessages(messages []llm.Message) ([]string, []Message) {
	var systems []string
	var merged []Message

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				systems = append(systems, m.Content)
			}
		case llm.RoleUser, llm.RoleAssistant:
			if len(merged) > 0 && merged[len(merged)-1].Role == m.Role {
				merged[len(merged)-1].Content += "\n" + m.Content
				continue
			}
			merged = append(merged, Message{Role: m.Role, Content: m.Content})
		}
	}

	if len(merged) == 0 || merged[0].Role != llm.RoleUser {
		merged = append([]Message{{Role: llm.RoleUser, Content: "."}}, merged...)
	}

	return systems, merged
}

// callAPI makes the HTTP request to the Messages API. The closure
// builds a fresh request on each attempt so the body can be re-read on
// a 429 retry; a 429 response is converted to an error so the rate
// limiter's backoff-and-retry fires.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	post := func(ctx context.Context) (interface{}, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(r)

		resp, err := c.httpClient.Do(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			respBody, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("API error (status 429): %s", string(respBody))
		}
		return resp, nil
	}

	var httpResp *http.Response
	if c.rateLimiter != nil {
		result, err := c.rateLimiter.Do(ctx, post)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		httpResp = result.(*http.Response)
	} else {
		result, err := post(ctx)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		httpResp = result.(*http.Response)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)
	r.Header.Set("anthropic-beta", betaFeatures)
}

// ChatStream streams tokens as Claude generates them, invoking cb for
// each text delta.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb llm.TokenCallback) (*llm.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := c.buildRequest(messages, opts, true)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	post := func(ctx context.Context) (interface{}, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(r)

		resp, err := c.httpClient.Do(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			respBody, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("API error (status 429): %s", string(respBody))
		}
		return resp, nil
	}

	var httpResp *http.Response
	if c.rateLimiter != nil {
		result, err := c.rateLimiter.Do(ctx, post)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		httpResp = result.(*http.Response)
	} else {
		result, err := post(ctx)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		httpResp = result.(*http.Response)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var content strings.Builder
	var usage Usage
	var stopReason string
	tokenCount := 0

	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimPrefix(line, "data: ")

		var event StreamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Malformed events are skipped, not fatal.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
				usage.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				tokenCount++
				if cb != nil {
					cb(event.Delta.Text)
				}
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
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

	if usage.OutputTokens == 0 {
		usage.OutputTokens = tokenCount
	}

	finalUsage := llm.Usage{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.InputTokens + usage.OutputTokens,
		CostUSD: c.calculateCost(usage.InputTokens, usage.OutputTokens,
			usage.CacheReadInputTokens, usage.CacheCreationInputTokens),
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(finalUsage.TotalTokens))
	}

	return &llm.Response{
		Content:    content.String(),
		StopReason: stopReason,
		Usage:      finalUsage,
		Metadata: map[string]interface{}{
			"model":       c.model,
			"stop_reason": stopReason,
			"streaming":   true,
		},
	}, nil
}

// modelPricing maps model name prefixes to USD per million tokens.
// Cache writes bill at 1.25x input, cache reads at 0.10x input.
var modelPricing = []struct {
	prefix string
	input  float64
	output float64
}{
	{"claude-opus-4", 15.0, 75.0},
	{"claude-sonnet-4", 3.0, 15.0},
	{"claude-haiku-4", 1.0, 5.0},
}

// calculateCost estimates the call cost in USD from token usage.
// Unknown models fall back to mid-tier pricing.
func (c *Client) calculateCost(inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int) float64 {
	input, output := 3.0, 15.0
	for _, p := range modelPricing {
		if strings.HasPrefix(c.model, p.prefix) {
			input, output = p.input, p.output
			break
		}
	}
	inputCost := float64(inputTokens) * input / 1_000_000
	outputCost := float64(outputTokens) * output / 1_000_000
	cacheWriteCost := float64(cacheCreationTokens) * input * 1.25 / 1_000_000
	cacheReadCost := float64(cacheReadTokens) * input * 0.10 / 1_000_000
	return inputCost + outputCost + cacheWriteCost + cacheReadCost
}

// Ensure Client implements the provider interfaces.
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
