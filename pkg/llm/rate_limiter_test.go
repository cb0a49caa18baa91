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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastLimiterConfig keeps tests quick: high rates, millisecond delays.
func fastLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		BurstCapacity:     10,
		MinDelay:          time.Millisecond,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		QueueTimeout:      2 * time.Second,
	}
}

func TestRateLimiter_Do(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	defer func() { _ = rl.Close() }()

	result, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	m := rl.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.QueuedRequests)
	assert.Equal(t, int64(0), m.CurrentQueueDepth)
}

func TestRateLimiter_DisabledCallsThrough(t *testing.T) {
	cfg := fastLimiterConfig()
	cfg.Enabled = false
	rl := NewRateLimiter(cfg)
	defer func() { _ = rl.Close() }()

	called := false
	_, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, int64(0), rl.GetMetrics().TotalRequests, "disabled limiter should bypass accounting")
}

func TestRateLimiter_RetriesThrottling(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	defer func() { _ = rl.Close() }()

	attempts := 0
	result, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("API error (status 429): slow down")
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(2), rl.GetMetrics().ThrottledRequests)
}

func TestRateLimiter_ExhaustsRetries(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	defer func() { _ = rl.Close() }()

	attempts := 0
	_, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, fmt.Errorf("rate limit exceeded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "due to throttling")
	assert.Equal(t, 3, attempts, "MaxRetries=2 means three attempts total")
}

func TestRateLimiter_NonThrottlingErrorNotRetried(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	defer func() { _ = rl.Close() }()

	attempts := 0
	_, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, "connection refused", err.Error())
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int64(0), rl.GetMetrics().ThrottledRequests)
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())

	_, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter stopped")
}

func TestRateLimiter_TokenWindow(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	defer func() { _ = rl.Close() }()

	rl.RecordTokenUsage(100)
	rl.RecordTokenUsage(250)
	assert.Equal(t, int64(350), rl.GetTokenUsageLastMinute())

	// Age every entry past the window; reads must ignore them and the
	// next write must prune them.
	rl.tokenWindowMu.Lock()
	for i := range rl.tokenWindow {
		rl.tokenWindow[i].timestamp = time.Now().Add(-2 * tokenWindowSpan)
	}
	rl.tokenWindowMu.Unlock()

	assert.Equal(t, int64(0), rl.GetTokenUsageLastMinute())

	rl.RecordTokenUsage(40)
	assert.Equal(t, int64(40), rl.GetTokenUsageLastMinute())

	rl.tokenWindowMu.Lock()
	assert.Len(t, rl.tokenWindow, 1, "expired entries should be pruned on write")
	rl.tokenWindowMu.Unlock()
}

func TestRateLimiter_WithinTokenBudget(t *testing.T) {
	cfg := fastLimiterConfig()
	cfg.TokensPerMinute = 100
	rl := NewRateLimiter(cfg)
	defer func() { _ = rl.Close() }()

	assert.True(t, rl.withinTokenBudget())
	rl.RecordTokenUsage(99)
	assert.True(t, rl.withinTokenBudget())
	rl.RecordTokenUsage(1)
	assert.False(t, rl.withinTokenBudget())
}

func TestRateLimiter_ZeroTokenCapIsUnlimited(t *testing.T) {
	cfg := fastLimiterConfig()
	cfg.TokensPerMinute = 0
	rl := NewRateLimiter(cfg)
	defer func() { _ = rl.Close() }()

	rl.RecordTokenUsage(1 << 20)

	result, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRateLimiter_SaturatedTokenBudgetBlocksDispatch(t *testing.T) {
	cfg := fastLimiterConfig()
	cfg.TokensPerMinute = 100
	rl := NewRateLimiter(cfg)
	defer func() { _ = rl.Close() }()

	rl.RecordTokenUsage(150)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := rl.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_QueueTimeout(t *testing.T) {
	cfg := fastLimiterConfig()
	cfg.BurstCapacity = 1 // queue capacity 2
	cfg.TokensPerMinute = 10
	cfg.QueueTimeout = 30 * time.Millisecond
	rl := NewRateLimiter(cfg)

	// Stall the dispatcher on the token budget so queued requests never
	// drain.
	rl.RecordTokenUsage(100)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ { // one in flight plus two queue slots
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
				return nil, nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)

	_, err := rl.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue timeout")

	require.NoError(t, rl.Close())
	wg.Wait()
}

func TestIsThrottlingError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "http 429", err: errors.New("API error (status 429): too many requests"), want: true},
		{name: "throttling exception", err: errors.New("ThrottlingException: reduce rate"), want: true},
		{name: "too many requests", err: errors.New("TooManyRequests"), want: true},
		{name: "rate limit text", err: errors.New("rate limit exceeded, retry later"), want: true},
		{name: "throttle text", err: errors.New("request throttled by upstream"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isThrottlingError(tt.err))
		})
	}
}
