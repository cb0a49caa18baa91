// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package factory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/llm"
)

// Engine call defaults. Background activities favor short, cool
// replies; individual calls override per need.
const (
	engineTemperature = 0.2
	engineMaxTokens   = 2048
	engineTimeout     = 90 * time.Second
)

// EngineProvider routes the autonomic engine's model calls. Hosted
// calls run only while the anthropic backend is active, a key is
// present, and the daily budget has headroom; everything else, and
// every hosted failure, falls back to the local backend. Interactive
// turns never touch this budget.
type EngineProvider struct {
	factory *Factory
	budget  *llm.DailyBudget
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]llm.Provider

	// build is the provider constructor; tests substitute it to avoid
	// real clients.
	build func(backend, model string) (llm.Provider, error)
}

// NewEngineProvider creates the engine router on top of a factory.
func NewEngineProvider(f *Factory, logger *zap.Logger) *EngineProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &EngineProvider{
		factory: f,
		budget:  llm.NewDailyBudget(),
		logger:  logger,
		cache:   make(map[string]llm.Provider),
	}
	e.build = f.Provider
	return e
}

// Name returns the router's backend name. Metrics rows carry the real
// backend of whichever provider served the call.
func (e *EngineProvider) Name() string {
	return "engine"
}

// Model returns the active backend's configured model.
func (e *EngineProvider) Model() string {
	return config.GetActiveModel()
}

// Chat routes a call. Configuration is read fresh on every call so a
// backend switch takes effect immediately.
func (e *EngineProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	if opts.Temperature == nil {
		opts.Temperature = llm.Float64(engineTemperature)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = engineMaxTokens
	}
	if opts.Timeout == 0 {
		opts.Timeout = engineTimeout
	}

	backend := config.GetActiveBackend()
	apiKey := config.GetString(config.EnvAnthropicAPIKey, "")
	if backend != config.BackendAnthropic || apiKey == "" {
		return e.local(ctx, messages, opts)
	}

	maxCalls := config.GetInt(config.EnvEngineDailyCalls, config.DefaultDailyCallLimit)
	maxTokens := config.GetInt(config.EnvEngineDailyTokens, config.DefaultDailyTokenLimit)
	if over, reason := e.budget.Exceeded(maxCalls, maxTokens); over {
		e.logger.Warn("engine daily budget reached, falling back to local backend",
			zap.String("reason", reason))
		return e.local(ctx, messages, opts)
	}

	hosted, err := e.provider(config.BackendAnthropic)
	if err != nil {
		e.logger.Error("hosted provider unavailable, falling back to local backend",
			zap.Error(err))
		return e.local(ctx, messages, opts)
	}

	resp, err := hosted.Chat(ctx, messages, opts)
	if err != nil {
		e.logger.Error("hosted engine call failed, falling back to local backend",
			zap.Error(err))
		return e.local(ctx, messages, opts)
	}

	// Budget counts only successful hosted calls; a failed call left
	// the quota for the next one.
	e.budget.Record(resp.Usage)
	return resp, nil
}

// Budget returns today's hosted usage for status reporting.
func (e *EngineProvider) Budget() llm.BudgetSnapshot {
	return e.budget.Snapshot()
}

func (e *EngineProvider) local(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	p, err := e.provider(config.BackendOAICompat)
	if err != nil {
		return nil, err
	}
	return p.Chat(ctx, messages, opts)
}

// provider returns a cached client for the backend's current model and
// base URL, building one on first use. The key carries both so a model
// or endpoint change gets a fresh client instead of a stale one.
func (e *EngineProvider) provider(backend string) (llm.Provider, error) {
	var model, baseURL string
	switch backend {
	case config.BackendAnthropic:
		model = config.GetString(config.EnvAnthropicModel, config.DefaultAnthropicModel)
		baseURL = config.GetString(config.EnvAnthropicBaseURL, config.DefaultAnthropicBaseURL)
	default:
		model = config.GetString(config.EnvOAIModel, config.DefaultOAIModel)
		baseURL = config.GetString(config.EnvOAIBaseURL, config.DefaultOAIBaseURL)
	}
	key := backend + "|" + model + "|" + baseURL

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[key]; ok {
		return p, nil
	}
	p, err := e.build(backend, model)
	if err != nil {
		return nil, err
	}
	e.cache[key] = p
	return p, nil
}

// Ensure EngineProvider implements the provider interface.
var _ llm.Provider = (*EngineProvider)(nil)
