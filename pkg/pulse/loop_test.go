// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/storage"
)

type scriptedApprover struct {
	verdict bool
	asked   []string
}

func (a *scriptedApprover) Approve(ctx context.Context, chatID int64, actionID, prompt string) bool {
	a.asked = append(a.asked, actionID)
	return a.verdict
}

// newChainExecutor wires an executor in standard permission mode with
// stub handlers for the create_tool recipe steps.
func newChainExecutor(t *testing.T, approver Approver) (*Executor, map[string]*fakeTool) {
	t.Helper()
	t.Setenv(config.EnvRoot, t.TempDir())
	t.Setenv(config.EnvPermissionMode, "standard")

	stubs := map[string]*fakeTool{}
	registry := dispatch.NewRegistry()
	for _, id := range dispatch.ChainSteps("create_tool") {
		stub := &fakeTool{id: id, fn: func(map[string]interface{}) *dispatch.Result {
			return dispatch.OK("ok")
		}}
		stubs[id] = stub
		require.NoError(t, registry.Register(stub))
	}
	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherOptions{
		Registry: registry,
		Logger:   zaptest.NewLogger(t),
	})
	store, err := storage.NewStore(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	exec := NewExecutor(Options{
		Dispatcher: dispatcher,
		Store:      store,
		Approver:   approver,
		Logger:     zaptest.NewLogger(t),
	})
	return exec, stubs
}

func chainAction() []Action {
	return []Action{{Kind: "chain", ID: "create_tool", Inputs: map[string]interface{}{
		"name": "probe_x", "code": "int main() { return 0; }",
	}}}
}

func TestChainRejectedWithoutApprover(t *testing.T) {
	exec, stubs := newChainExecutor(t, nil)

	allowed := exec.precheckActions(context.Background(), 1, chainAction())
	assert.Empty(t, allowed, "ask-level chain steps need an approval path")

	perms := exec.opts.Dispatcher.Permissions()
	assert.Equal(t, dispatch.LevelAsk, perms.Check(dispatch.ActionGenesisCompile))
	assert.Empty(t, perms.SessionGrants())
	for id, stub := range stubs {
		assert.Zero(t, stub.calls, id)
	}
}

func TestChainRunsAfterStepApprovals(t *testing.T) {
	approver := &scriptedApprover{verdict: true}
	exec, stubs := newChainExecutor(t, approver)

	allowed := exec.precheckActions(context.Background(), 1, chainAction())
	require.Len(t, allowed, 1)
	assert.ElementsMatch(t, []string{dispatch.ActionGenesisCompile, dispatch.ActionGenesisLoad},
		approver.asked, "each ask-level step gets its own approval")

	perms := exec.opts.Dispatcher.Permissions()
	assert.Contains(t, perms.SessionGrants(), dispatch.ActionGenesisCompile)
	assert.Contains(t, perms.SessionGrants(), dispatch.ActionGenesisLoad)

	bgt := budget{deadline: time.Now().Add(60 * time.Second)}
	observation, noCommand := exec.executeActions(context.Background(), 1, &chatState{}, allowed, bgt)
	assert.False(t, noCommand)
	assert.Contains(t, observation, "["+dispatch.ActionGenesisCompile+"]")
	for id, stub := range stubs {
		assert.Equal(t, 1, stub.calls, id)
	}
}

func TestChainDeniedStepRejectsWholeChain(t *testing.T) {
	approver := &scriptedApprover{verdict: true}
	exec, stubs := newChainExecutor(t, approver)
	t.Setenv(config.EnvPermissionOverrides, dispatch.ActionGenesisCompile+"=deny")

	allowed := exec.precheckActions(context.Background(), 1, chainAction())
	assert.Empty(t, allowed)
	assert.NotContains(t, approver.asked, dispatch.ActionGenesisCompile,
		"a denied step is not offered for approval")
	for id, stub := range stubs {
		assert.Zero(t, stub.calls, id)
	}
}
