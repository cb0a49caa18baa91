// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubClassifier routes inputs to canned classifier outputs.
func stubClassifier(responses map[string]string) func(ctx context.Context, text string) ([]byte, error) {
	return func(ctx context.Context, text string) ([]byte, error) {
		out, ok := responses[text]
		if !ok {
			return nil, fmt.Errorf("no stub for %q", text)
		}
		return []byte(out), nil
	}
}

func TestTester_Classify(t *testing.T) {
	tester := NewSelfTester("", zaptest.NewLogger(t))
	tester.runFn = stubClassifier(map[string]string{
		"ls 실행해줘": `{"type": "action", "tool": "SHELL.EXEC.v1"}`,
		"안녕":      "not json",
	})

	intent, err := tester.Classify(context.Background(), "ls 실행해줘")
	require.NoError(t, err)
	assert.Equal(t, "action", intent.Type)
	assert.Equal(t, "SHELL.EXEC.v1", intent.Tool)

	_, err = tester.Classify(context.Background(), "안녕")
	assert.ErrorContains(t, err, "classifier output")

	_, err = tester.Classify(context.Background(), "unknown input")
	assert.Error(t, err)
}

func TestTester_NoBinaryConfigured(t *testing.T) {
	tester := NewSelfTester("", zaptest.NewLogger(t))
	_, err := tester.Classify(context.Background(), "hello")
	assert.ErrorContains(t, err, "not configured")
}

func TestTester_RunBatch(t *testing.T) {
	tester := NewSelfTester("", zaptest.NewLogger(t))
	tester.runFn = stubClassifier(map[string]string{
		"pass":  `{"type": "action"}`,
		"wrong": `{"type": "reply"}`,
		"empty": `{"type": ""}`,
	})

	scenarios := []Scenario{
		{Input: "pass", Expect: "action"},
		{Input: "wrong", Expect: "action"},
		{Input: "empty", Expect: "action"},
		{Input: "boom", Expect: "action"},
	}
	outcomes := tester.RunBatch(context.Background(), scenarios, nil)
	require.Len(t, outcomes, 4)

	assert.True(t, outcomes[0].Passed)
	assert.Equal(t, "expected=action, got=action", outcomes[0].Detail)

	assert.False(t, outcomes[1].Passed)
	assert.Equal(t, "expected=action, got=reply", outcomes[1].Detail)

	assert.False(t, outcomes[2].Passed)
	assert.Equal(t, "expected=action, got=empty", outcomes[2].Detail)

	assert.False(t, outcomes[3].Passed)
	assert.Contains(t, outcomes[3].Detail, "got=error")
}

func TestTester_RunBatchAbort(t *testing.T) {
	tester := NewSelfTester("", zaptest.NewLogger(t))
	tester.runFn = stubClassifier(map[string]string{"a": `{"type":"reply"}`})

	calls := 0
	abort := func() bool { calls++; return calls > 1 }
	outcomes := tester.RunBatch(context.Background(),
		[]Scenario{{Input: "a", Expect: "reply"}, {Input: "a", Expect: "reply"}}, abort)
	assert.Len(t, outcomes, 1, "abort cuts the batch after the first scenario")
}
