// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const testerTimeout = 60 * time.Second

// ClassifiedIntent is the subset of the classifier's output the tester
// cares about.
type ClassifiedIntent struct {
	Type string `json:"type"`
	Tool string `json:"tool,omitempty"`
}

// TestOutcome is one scenario's verdict.
type TestOutcome struct {
	Scenario   Scenario
	Passed     bool
	ActualType string
	Detail     string
}

// SelfTester runs the intent classifier as a subprocess (`treadle
// intent`: JSON on stdin, JSON on stdout). The subprocess boundary is
// the point: it tests the same code path a real request takes, in a
// fresh process, without touching this process's state.
type SelfTester struct {
	cliPath string
	timeout time.Duration
	logger  *zap.Logger

	// runFn is swapped in tests to avoid spawning processes.
	runFn func(ctx context.Context, text string) ([]byte, error)
}

// NewSelfTester builds a tester around the given classifier binary.
func NewSelfTester(cliPath string, logger *zap.Logger) *SelfTester {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &SelfTester{cliPath: cliPath, timeout: testerTimeout, logger: logger}
	t.runFn = t.runSubprocess
	return t
}

func (t *SelfTester) runSubprocess(ctx context.Context, text string) ([]byte, error) {
	if t.cliPath == "" {
		return nil, fmt.Errorf("classifier binary path not configured")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, t.cliPath, "intent")
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("classifier run: %w (%s)",
			err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Classify runs one input through the classifier.
func (t *SelfTester) Classify(ctx context.Context, text string) (ClassifiedIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.runFn(ctx, text)
	if err != nil {
		return ClassifiedIntent{}, err
	}
	var intent ClassifiedIntent
	if err := json.Unmarshal(bytes.TrimSpace(out), &intent); err != nil {
		return ClassifiedIntent{}, fmt.Errorf("classifier output: %w", err)
	}
	return intent, nil
}

// RunBatch classifies every scenario and scores it by intent-type
// match. The abort predicate is checked between scenarios so a burst
// or user arrival can cut the batch short.
func (t *SelfTester) RunBatch(ctx context.Context, scenarios []Scenario, abort func() bool) []TestOutcome {
	outcomes := make([]TestOutcome, 0, len(scenarios))
	for _, sc := range scenarios {
		if abort != nil && abort() {
			t.logger.Info("test batch aborted", zap.Int("completed", len(outcomes)))
			break
		}
		intent, err := t.Classify(ctx, sc.Input)
		outcome := TestOutcome{Scenario: sc, ActualType: intent.Type}
		switch {
		case err != nil:
			outcome.Detail = fmt.Sprintf("expected=%s, got=error: %v", sc.Expect, err)
		case intent.Type == "":
			outcome.Detail = fmt.Sprintf("expected=%s, got=empty", sc.Expect)
		case intent.Type == sc.Expect:
			outcome.Passed = true
			outcome.Detail = fmt.Sprintf("expected=%s, got=%s", sc.Expect, intent.Type)
		default:
			outcome.Detail = fmt.Sprintf("expected=%s, got=%s", sc.Expect, intent.Type)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
