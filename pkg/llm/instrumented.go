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
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/metrics"
	"github.com/teradata-labs/treadle/pkg/observability"
)

// InstrumentedProvider wraps a Provider with span emission and
// persistent call accounting. The recorded failure, timeout, and parse
// rates are what backend health scoring reads, so every model call the
// runtime makes should pass through this wrapper.
type InstrumentedProvider struct {
	provider Provider
	tracer   observability.Tracer
	store    *metrics.Store
	logger   *zap.Logger
}

// NewInstrumentedProvider wraps provider. tracer, store, and logger
// may each be nil; recording is skipped for whichever is absent.
func NewInstrumentedProvider(provider Provider, tracer observability.Tracer, store *metrics.Store, logger *zap.Logger) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{
		provider: provider,
		tracer:   tracer,
		store:    store,
		logger:   logger,
	}
}

// Chat delegates to the wrapped provider, timing the call and
// persisting its outcome.
func (p *InstrumentedProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMCompletion,
		observability.WithAttribute(observability.AttrBackend, p.provider.Name()),
		observability.WithAttribute(observability.AttrModel, p.provider.Model()),
	)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	resp, err := p.provider.Chat(ctx, messages, opts)
	latency := time.Since(start)

	span.SetAttribute("latency_ms", latency.Milliseconds())
	if resp != nil {
		span.SetAttribute("input_tokens", resp.Usage.InputTokens)
		span.SetAttribute("output_tokens", resp.Usage.OutputTokens)
	}
	if err != nil {
		span.RecordError(err)
	}

	p.record(ctx, err, latency)
	return resp, err
}

// ChatStream streams when the wrapped provider supports it.
func (p *InstrumentedProvider) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, cb TokenCallback) (*Response, error) {
	sp, ok := p.provider.(StreamingProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support streaming", p.provider.Name())
	}

	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMCompletion,
		observability.WithAttribute(observability.AttrBackend, p.provider.Name()),
		observability.WithAttribute(observability.AttrModel, p.provider.Model()),
		observability.WithAttribute("streaming", true),
	)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	resp, err := sp.ChatStream(ctx, messages, opts, cb)
	latency := time.Since(start)

	span.SetAttribute("latency_ms", latency.Milliseconds())
	if err != nil {
		span.RecordError(err)
	}

	p.record(ctx, err, latency)
	return resp, err
}

// Name returns the wrapped provider's backend name.
func (p *InstrumentedProvider) Name() string { return p.provider.Name() }

// Model returns the wrapped provider's model identifier.
func (p *InstrumentedProvider) Model() string { return p.provider.Model() }

func (p *InstrumentedProvider) record(ctx context.Context, err error, latency time.Duration) {
	if p.store == nil {
		return
	}
	call := metrics.BackendCall{
		Backend:   p.provider.Name(),
		Model:     p.provider.Model(),
		OK:        err == nil,
		ErrorKind: classifyError(err),
		Latency:   latency,
	}
	// The caller's context is already past its deadline when a
	// timed-out call lands here; detach so the row is still written.
	if recErr := p.store.RecordBackendCall(context.WithoutCancel(ctx), call); recErr != nil {
		p.logger.Debug("failed to record backend call", zap.Error(recErr))
	}
}

// classifyError buckets a call failure for health scoring: timeouts
// and unparseable replies are scored separately from plain HTTP
// failures.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.ErrorKindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return metrics.ErrorKindTimeout
	case strings.Contains(msg, "parse"):
		return metrics.ErrorKindParse
	default:
		return "http_error"
	}
}
