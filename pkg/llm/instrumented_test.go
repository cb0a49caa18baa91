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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/metrics"
)

type stubProvider struct {
	name  string
	model string
	resp  *Response
	err   error
	calls int
}

func (s *stubProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Model() string { return s.model }

type stubStreamProvider struct {
	stubProvider
	tokens []string
}

func (s *stubStreamProvider) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, cb TokenCallback) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for _, tok := range s.tokens {
		cb(tok)
	}
	return s.resp, nil
}

func openTestStore(t *testing.T) *metrics.Store {
	t.Helper()
	store, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.db"), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInstrumentedProvider_RecordsSuccess(t *testing.T) {
	store := openTestStore(t)
	stub := &stubProvider{
		name:  "oai_compat",
		model: "qwen3:14b-q8_0",
		resp: &Response{
			Content: "hello",
			Usage:   Usage{InputTokens: 10, OutputTokens: 3, TotalTokens: 13},
		},
	}
	p := NewInstrumentedProvider(stub, nil, store, zaptest.NewLogger(t))

	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "oai_compat", p.Name())
	assert.Equal(t, "qwen3:14b-q8_0", p.Model())

	health, err := store.BackendHealth(context.Background(), "oai_compat", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Calls)
	assert.Zero(t, health.FailureRate)
}

func TestInstrumentedProvider_ClassifiesTimeout(t *testing.T) {
	store := openTestStore(t)
	stub := &stubProvider{name: "anthropic", model: "m", err: context.DeadlineExceeded}
	p := NewInstrumentedProvider(stub, nil, store, zaptest.NewLogger(t))

	_, err := p.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)

	health, err := store.BackendHealth(context.Background(), "anthropic", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Calls)
	assert.Equal(t, 1.0, health.FailureRate)
	assert.Equal(t, 1.0, health.TimeoutRate)
}

func TestInstrumentedProvider_ClassifiesParseError(t *testing.T) {
	store := openTestStore(t)
	stub := &stubProvider{name: "anthropic", model: "m", err: errors.New(`failed to parse model reply as JSON (stop_reason "end_turn")`)}
	p := NewInstrumentedProvider(stub, nil, store, zaptest.NewLogger(t))

	_, err := p.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)

	health, err := store.BackendHealth(context.Background(), "anthropic", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1.0, health.ParseErrorRate)
	assert.Zero(t, health.TimeoutRate)
}

func TestInstrumentedProvider_RecordsWithCanceledContext(t *testing.T) {
	store := openTestStore(t)
	stub := &stubProvider{name: "anthropic", model: "m", err: context.DeadlineExceeded}
	p := NewInstrumentedProvider(stub, nil, store, zaptest.NewLogger(t))

	// The caller's context is dead by the time a timed-out call returns;
	// the outcome row must be written anyway.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, nil, ChatOptions{})
	require.Error(t, err)

	health, err := store.BackendHealth(context.Background(), "anthropic", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Calls)
}

func TestInstrumentedProvider_NilStore(t *testing.T) {
	stub := &stubProvider{name: "oai_compat", model: "m", resp: &Response{Content: "ok"}}
	p := NewInstrumentedProvider(stub, nil, nil, nil)

	resp, err := p.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestInstrumentedProvider_ChatStream(t *testing.T) {
	store := openTestStore(t)
	stub := &stubStreamProvider{
		stubProvider: stubProvider{name: "oai_compat", model: "m", resp: &Response{Content: "ab"}},
		tokens:       []string{"a", "b"},
	}
	p := NewInstrumentedProvider(stub, nil, store, zaptest.NewLogger(t))

	var got []string
	resp, err := p.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{}, func(token string) {
		got = append(got, token)
	})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content)
	assert.Equal(t, []string{"a", "b"}, got)

	health, err := store.BackendHealth(context.Background(), "oai_compat", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Calls)
}

func TestInstrumentedProvider_ChatStreamUnsupported(t *testing.T) {
	stub := &stubProvider{name: "anthropic", model: "m"}
	p := NewInstrumentedProvider(stub, nil, nil, nil)

	_, err := p.ChatStream(context.Background(), nil, ChatOptions{}, func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support streaming")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline exceeded sentinel", err: context.DeadlineExceeded, want: metrics.ErrorKindTimeout},
		{name: "timeout text", err: errors.New("request timeout after 90s"), want: metrics.ErrorKindTimeout},
		{name: "wrapped deadline text", err: errors.New("Post \"http://x\": context deadline exceeded"), want: metrics.ErrorKindTimeout},
		{name: "parse failure", err: errors.New("failed to parse model reply as JSON"), want: metrics.ErrorKindParse},
		{name: "http failure", err: errors.New("API error (status 500): upstream"), want: "http_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}
