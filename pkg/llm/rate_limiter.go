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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// tokenWindowSpan is the sliding window over which token consumption
// counts against TokensPerMinute.
const tokenWindowSpan = time.Minute

// RateLimiterConfig configures the shared hosted-API rate limiter.
type RateLimiterConfig struct {
	// Enabled turns rate limiting on. When false, Do calls through
	// directly.
	Enabled bool

	// RequestsPerSecond is the sustained request rate across all
	// callers sharing the limiter.
	RequestsPerSecond float64

	// TokensPerMinute caps token consumption over a sliding minute.
	// Requests wait while the window is saturated. 0 disables the cap.
	TokensPerMinute int64

	// BurstCapacity is the token-bucket size: how many requests may
	// fire back to back before the sustained rate applies.
	BurstCapacity int

	// MinDelay is enforced between consecutive dispatches even when
	// the bucket has tokens.
	MinDelay time.Duration

	// MaxRetries is how many times a throttled (HTTP 429) call is
	// retried before giving up.
	MaxRetries int

	// RetryBackoff is the initial backoff before a throttling retry.
	// It doubles on each subsequent retry.
	RetryBackoff time.Duration

	// QueueTimeout bounds how long a request may wait for a queue
	// slot before being dropped.
	QueueTimeout time.Duration

	// Logger for throttle warnings and periodic usage reports.
	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns defaults sized for a single
// workstation agent talking to a hosted messages API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.7,
		TokensPerMinute:   80000,
		BurstCapacity:     3,
		MinDelay:          800 * time.Millisecond,
		MaxRetries:        5,
		RetryBackoff:      2 * time.Second,
		QueueTimeout:      5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiter serializes hosted-API calls behind a token bucket with a
// sliding per-minute token budget and automatic retry on throttling.
// All requests funnel through a single processing goroutine, so the
// engine's background levels and the interactive pulse share one quota.
type RateLimiter struct {
	config RateLimiterConfig

	// Token bucket for request pacing.
	tokens     float64
	maxTokens  float64
	refillRate float64 // bucket tokens per second
	lastRefill time.Time
	mu         sync.Mutex

	// Sliding window of model-token consumption.
	tokenWindow   []tokenUsage
	tokenWindowMu sync.Mutex

	queue      chan *rateLimitedRequest
	queueDepth atomic.Int64

	metrics   RateLimiterMetrics
	metricsMu sync.RWMutex

	stopCh chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

type rateLimitedRequest struct {
	ctx      context.Context
	call     func(context.Context) (interface{}, error)
	resultCh chan *rateLimitedResult
}

type rateLimitedResult struct {
	result interface{}
	err    error
}

// RateLimiterMetrics tracks limiter behavior for the periodic report.
type RateLimiterMetrics struct {
	TotalRequests      int64
	ThrottledRequests  int64
	QueuedRequests     int64
	DroppedRequests    int64
	AverageQueueTimeMs int64
	CurrentQueueDepth  int64
	TokensConsumed     int64
	LastThrottleTime   time.Time
}

// NewRateLimiter creates a rate limiter and starts its processing and
// reporting goroutines. Callers own the limiter and must Close it.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		config:      config,
		tokens:      float64(config.BurstCapacity),
		maxTokens:   float64(config.BurstCapacity),
		refillRate:  config.RequestsPerSecond,
		lastRefill:  time.Now(),
		tokenWindow: make([]tokenUsage, 0, 100),
		queue:       make(chan *rateLimitedRequest, config.BurstCapacity*2),
		stopCh:      make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.processQueue()

	rl.wg.Add(1)
	go rl.reportMetrics()

	return rl
}

// Do executes call under the limiter: the request queues for a
// dispatch slot, waits out the request and token budgets, and retries
// automatically on throttling errors.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	if !rl.config.Enabled {
		return call(ctx)
	}

	if rl.closed.Load() {
		return nil, fmt.Errorf("rate limiter stopped")
	}

	req := &rateLimitedRequest{
		ctx:      ctx,
		call:     call,
		resultCh: make(chan *rateLimitedResult, 1),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	queueCtx, cancel := context.WithTimeout(ctx, rl.config.QueueTimeout)
	defer cancel()

	rl.queueDepth.Add(1)
	defer rl.queueDepth.Add(-1)

	queueStart := time.Now()
	select {
	case <-rl.stopCh:
		return nil, fmt.Errorf("rate limiter stopped")
	case <-ctx.Done():
		rl.recordMetric("dropped", 0)
		return nil, ctx.Err()
	case <-queueCtx.Done():
		rl.recordMetric("dropped", 0)
		return nil, fmt.Errorf("rate limiter queue timeout after %v", rl.config.QueueTimeout)
	case rl.queue <- req:
		rl.recordMetric("queued", 0)
	}

	select {
	case result := <-req.resultCh:
		rl.updateAverageQueueTime(time.Since(queueStart))
		return result.result, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rl.stopCh:
		return nil, fmt.Errorf("rate limiter stopped")
	}
}

func (rl *RateLimiter) processQueue() {
	defer rl.wg.Done()

	for {
		select {
		case req := <-rl.queue:
			rl.processRequest(req)
		case <-rl.stopCh:
			return
		}
	}
}

// processRequest waits for both budgets, spaces the dispatch, and runs
// the call with throttling retry.
func (rl *RateLimiter) processRequest(req *rateLimitedRequest) {
	for {
		// Token budget is checked first so a saturated window does not
		// drain the request bucket while we wait.
		if rl.withinTokenBudget() && rl.acquireToken() {
			break
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-req.ctx.Done():
			req.resultCh <- &rateLimitedResult{err: req.ctx.Err()}
			return
		case <-rl.stopCh:
			req.resultCh <- &rateLimitedResult{err: fmt.Errorf("rate limiter stopped")}
			return
		}
	}

	if rl.config.MinDelay > 0 {
		time.Sleep(rl.config.MinDelay)
	}

	result, err := rl.executeWithRetry(req.ctx, req.call)

	select {
	case req.resultCh <- &rateLimitedResult{result: result, err: err}:
	case <-req.ctx.Done():
	case <-rl.stopCh:
	}
}

// executeWithRetry runs call, retrying with doubling backoff while the
// error looks like throttling.
func (rl *RateLimiter) executeWithRetry(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	backoff := rl.config.RetryBackoff

	for attempt := 0; attempt <= rl.config.MaxRetries; attempt++ {
		result, err := call(ctx)
		rl.recordMetric("request", 0)

		if err != nil && isThrottlingError(err) {
			rl.recordMetric("throttled", 0)
			rl.config.Logger.Warn("LLM request throttled, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", rl.config.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			if attempt < rl.config.MaxRetries {
				select {
				case <-time.After(backoff):
					backoff *= 2
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-rl.stopCh:
					return nil, fmt.Errorf("rate limiter stopped during retry")
				}
			}
			continue
		}

		return result, err
	}

	return nil, fmt.Errorf("LLM request failed after %d retries due to throttling", rl.config.MaxRetries+1)
}

// acquireToken refills the bucket for elapsed time and takes one token
// if available.
func (rl *RateLimiter) acquireToken() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

// withinTokenBudget reports whether the sliding-window token count is
// under the per-minute cap. A zero cap means unlimited.
func (rl *RateLimiter) withinTokenBudget() bool {
	if rl.config.TokensPerMinute <= 0 {
		return true
	}
	return rl.GetTokenUsageLastMinute() < rl.config.TokensPerMinute
}

// isThrottlingError reports whether err indicates the upstream API is
// rate limiting us.
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "ThrottlingException") ||
		strings.Contains(errStr, "TooManyRequests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "throttle")
}

// RecordTokenUsage adds a completed call's token count to the sliding
// window. Clients call this after each successful response.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()

	now := time.Now()
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{
		timestamp: now,
		tokens:    tokens,
	})

	// Drop expired entries on write so the slice cannot grow without
	// bound between reads.
	cutoff := now.Add(-tokenWindowSpan)
	kept := rl.tokenWindow[:0]
	for _, usage := range rl.tokenWindow {
		if usage.timestamp.After(cutoff) {
			kept = append(kept, usage)
		}
	}
	rl.tokenWindow = kept

	rl.recordMetric("tokens", tokens)
}

// GetTokenUsageLastMinute returns token consumption over the window.
func (rl *RateLimiter) GetTokenUsageLastMinute() int64 {
	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()

	var total int64
	cutoff := time.Now().Add(-tokenWindowSpan)

	for _, usage := range rl.tokenWindow {
		if usage.timestamp.After(cutoff) {
			total += usage.tokens
		}
	}

	return total
}

func (rl *RateLimiter) recordMetric(event string, value int64) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()

	switch event {
	case "request":
		rl.metrics.TotalRequests++
	case "throttled":
		rl.metrics.ThrottledRequests++
		rl.metrics.LastThrottleTime = time.Now()
	case "queued":
		rl.metrics.QueuedRequests++
	case "dropped":
		rl.metrics.DroppedRequests++
	case "tokens":
		rl.metrics.TokensConsumed += value
	}
}

func (rl *RateLimiter) updateAverageQueueTime(queueTime time.Duration) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()

	currentAvg := time.Duration(rl.metrics.AverageQueueTimeMs) * time.Millisecond
	newAvg := (currentAvg + queueTime) / 2
	rl.metrics.AverageQueueTimeMs = newAvg.Milliseconds()
}

// GetMetrics returns a snapshot of limiter counters.
func (rl *RateLimiter) GetMetrics() RateLimiterMetrics {
	rl.metricsMu.RLock()
	defer rl.metricsMu.RUnlock()
	m := rl.metrics
	m.CurrentQueueDepth = rl.queueDepth.Load()
	return m
}

// reportMetrics logs limiter counters every 30 seconds. Debug level:
// the engine runs continuously and the report is routine.
func (rl *RateLimiter) reportMetrics() {
	defer rl.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := rl.GetMetrics()
			rl.config.Logger.Debug("Rate limiter metrics",
				zap.Int64("total_requests", metrics.TotalRequests),
				zap.Int64("throttled_requests", metrics.ThrottledRequests),
				zap.Int64("queued_requests", metrics.QueuedRequests),
				zap.Int64("dropped_requests", metrics.DroppedRequests),
				zap.Int64("current_queue_depth", metrics.CurrentQueueDepth),
				zap.Int64("avg_queue_time_ms", metrics.AverageQueueTimeMs),
				zap.Int64("tokens_consumed", metrics.TokensConsumed),
				zap.Int64("tokens_last_minute", rl.GetTokenUsageLastMinute()),
			)
		case <-rl.stopCh:
			return
		}
	}
}

// Close stops the limiter and waits for its goroutines. Idempotent.
func (rl *RateLimiter) Close() error {
	if !rl.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(rl.stopCh)
	rl.wg.Wait()
	close(rl.queue)

	return nil
}
