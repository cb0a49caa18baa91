// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// stubProvider returns canned replies in order, then repeats the last.
type stubProvider struct {
	replies []string
	calls   int
}

func (p *stubProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	return &llm.Response{Content: p.replies[idx]}, nil
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func TestSelfQuestion_RequiresProvider(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.runSelfQuestion(context.Background()))
}

func TestSelfQuestion_CooldownAndStreaks(t *testing.T) {
	e := newTestEngine(t)
	e.provider = &stubProvider{replies: []string{`{"question":"?","action":"reflect"}`}}

	e.mu.Lock()
	e.lastSQ = time.Now()
	e.mu.Unlock()
	assert.False(t, e.runSelfQuestion(context.Background()), "cooldown blocks the turn")

	e.mu.Lock()
	e.lastSQ = time.Time{}
	e.sqNoopStreak = sqNoopBackoff
	e.mu.Unlock()
	assert.False(t, e.runSelfQuestion(context.Background()), "noop streak backs off")

	e.mu.Lock()
	e.sqNoopStreak = 0
	e.sqFailStreak = sqFailBackoff
	e.mu.Unlock()
	assert.False(t, e.runSelfQuestion(context.Background()), "failure streak backs off")
}

func TestSelfQuestion_ReflectActionRecordsInsight(t *testing.T) {
	e := newTestEngine(t)
	e.provider = &stubProvider{replies: []string{
		`{"question": "which tool fails most often and why?", "action": "reflect"}`,
		"The shell tool fails on long-running commands; shorten the timeout.",
	}}

	assert.True(t, e.runSelfQuestion(context.Background()))

	insights, err := e.store.Read(storage.StreamInsights, 0)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "self_reflection", storage.Str(insights[0], "type"))

	audit, err := e.store.Read(storage.StreamAutonomicAudit, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "self_question", storage.Str(audit[0], "event"))
	assert.True(t, storage.Bool(audit[0], "success"))
}

func TestExecuteSQAction_GuardsTargets(t *testing.T) {
	e := newTestEngine(t)

	// No dispatcher: search and tool probes are noops.
	out, ok := e.executeSQAction(context.Background(), sqDecision{Action: "search", Target: "x"})
	assert.Empty(t, out)
	assert.False(t, ok)

	out, ok = e.executeSQAction(context.Background(),
		sqDecision{Action: "test_tool", Target: "FS.DELETE.v1"})
	assert.Empty(t, out, "mutating tools are never probed")
	assert.False(t, ok)

	// Generated code is screened before it runs.
	out, ok = e.executeSQAction(context.Background(),
		sqDecision{Action: "code", Code: "import subprocess.run"})
	assert.Contains(t, out, "blocked")
	assert.False(t, ok)

	out, ok = e.executeSQAction(context.Background(), sqDecision{Action: "unknown"})
	assert.Empty(t, out)
	assert.False(t, ok)
}

func TestBumpSQStreak(t *testing.T) {
	e := newTestEngine(t)
	e.bumpSQStreak(true, false)
	e.bumpSQStreak(true, false)
	e.mu.Lock()
	assert.Equal(t, 2, e.sqNoopStreak)
	e.mu.Unlock()

	e.bumpSQStreak(false, true)
	e.bumpSQStreak(false, true)
	e.mu.Lock()
	assert.Zero(t, e.sqNoopStreak, "a real turn resets the noop streak")
	assert.Equal(t, 2, e.sqFailStreak)
	e.mu.Unlock()

	e.bumpSQStreak(false, false)
	e.mu.Lock()
	assert.Zero(t, e.sqFailStreak)
	e.mu.Unlock()
}

func TestAuditRegistry_NoDispatcher(t *testing.T) {
	e := newTestEngine(t)
	assert.Empty(t, e.auditRegistry())
}
