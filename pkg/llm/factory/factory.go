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

// Package factory builds configured, instrumented model providers.
// Configuration is read at build time, so providers constructed after
// a backend switch pick up the new settings.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/llm/anthropic"
	"github.com/teradata-labs/treadle/pkg/llm/oaicompat"
	"github.com/teradata-labs/treadle/pkg/metrics"
	"github.com/teradata-labs/treadle/pkg/observability"
)

// Factory creates providers from runtime configuration and wraps them
// with instrumentation so every call lands in the metrics store.
type Factory struct {
	tracer observability.Tracer
	store  *metrics.Store
	logger *zap.Logger
}

// New creates a factory. tracer and store may be nil; instrumentation
// degrades to spans-only or pass-through accordingly.
func New(tracer observability.Tracer, store *metrics.Store, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		tracer: tracer,
		store:  store,
		logger: logger,
	}
}

// Provider builds an instrumented provider for the given backend. An
// empty backend resolves to the configured active backend; an empty
// model resolves to that backend's configured model.
func (f *Factory) Provider(backend, model string) (llm.Provider, error) {
	if backend == "" {
		backend = config.GetActiveBackend()
	}

	var p llm.Provider
	switch backend {
	case config.BackendAnthropic:
		apiKey := config.GetString(config.EnvAnthropicAPIKey, "")
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured (set %s)", config.EnvAnthropicAPIKey)
		}
		if model == "" {
			model = config.GetString(config.EnvAnthropicModel, config.DefaultAnthropicModel)
		}
		p = anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			Model:       model,
			BaseURL:     config.GetString(config.EnvAnthropicBaseURL, config.DefaultAnthropicBaseURL),
			MaxTokens:   config.GetInt(config.EnvChatMaxTokens, 0),
			Temperature: config.GetFloat(config.EnvChatTemperature, 0),
			Logger:      f.logger,
		})

	case config.BackendOAICompat:
		if model == "" {
			model = config.GetString(config.EnvOAIModel, config.DefaultOAIModel)
		}
		p = oaicompat.NewClient(oaicompat.Config{
			BaseURL:     config.GetString(config.EnvOAIBaseURL, config.DefaultOAIBaseURL),
			Model:       model,
			APIKey:      config.GetString(config.EnvOAIAPIKey, ""),
			MaxTokens:   config.GetInt(config.EnvChatMaxTokens, 0),
			Temperature: config.GetFloat(config.EnvChatTemperature, 0),
			Logger:      f.logger,
		})

	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}

	return llm.NewInstrumentedProvider(p, f.tracer, f.store, f.logger), nil
}

// ChatProvider builds a provider for the active backend and model, as
// interactive turns use it.
func (f *Factory) ChatProvider() (llm.Provider, error) {
	return f.Provider(config.GetActiveBackend(), config.GetActiveModel())
}

// IsBackendAvailable reports whether a backend can be constructed with
// the current configuration. It does not probe the endpoint.
func IsBackendAvailable(backend string) bool {
	switch backend {
	case config.BackendAnthropic:
		return config.GetString(config.EnvAnthropicAPIKey, "") != ""
	case config.BackendOAICompat:
		return true
	default:
		return false
	}
}
