// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package regression gates self-modifications behind an end-to-end test
// suite. The baseline pass count only ever goes up: a change that makes
// the suite pass fewer tests than the baseline is rolled back. When the
// suite itself cannot run, changes pass ungated rather than blocking
// the runtime on broken test infrastructure.
package regression

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	baselineFile   = "regression_baseline.json"
	defaultTimeout = 5 * time.Minute
	errorLimit     = 200
)

// summaryRe matches the suite's verdict line, e.g. "12 PASS / 1 FAIL / 13 TOTAL".
var summaryRe = regexp.MustCompile(`(\d+)\s+PASS\s*/\s*(\d+)\s+FAIL\s*/\s*(\d+)\s+TOTAL`)

// Result is one suite run. Error is set when the run never produced a
// verdict: command missing, spawn failure, timeout, or unparsable
// output.
type Result struct {
	PassCount int    `json:"pass_count"`
	FailCount int    `json:"fail_count"`
	Total     int    `json:"total"`
	TsMs      int64  `json:"ts_ms"`
	Error     string `json:"error,omitempty"`
}

// Options configures a Gate. Store is required; Command is the e2e
// suite argv and may be empty, in which case every run fails open.
type Options struct {
	Store   *storage.Store
	Command []string
	Dir     string
	Timeout time.Duration
	Logger  *zap.Logger
	Tracer  observability.Tracer
}

// Gate runs the suite and enforces the monotone baseline.
type Gate struct {
	store   *storage.Store
	command []string
	dir     string
	timeout time.Duration
	logger  *zap.Logger
	tracer  observability.Tracer

	mu       sync.Mutex
	baseline Result
}

// NewGate builds a Gate and loads the stored baseline. A missing or
// corrupt baseline file starts from zero, so the first clean run
// establishes it.
func NewGate(opts Options) *Gate {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	g := &Gate{
		store:   opts.Store,
		command: opts.Command,
		dir:     opts.Dir,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
	g.baseline = g.loadBaseline()
	return g
}

// Baseline returns the current baseline result.
func (g *Gate) Baseline() Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baseline
}

// Run executes the suite and parses its verdict line from stdout. A
// non-zero exit with a parsable summary still counts: the suite reports
// its own verdict. Only spawn failures, timeouts, and missing summaries
// produce an error result.
func (g *Gate) Run(ctx context.Context) Result {
	_, span := g.tracer.StartSpan(ctx, observability.SpanRegressionRun)
	defer g.tracer.EndSpan(span)

	if len(g.command) == 0 {
		span.SetAttribute("error", "e2e command not configured")
		return Result{TsMs: time.Now().UnixMilli(), Error: "e2e command not configured"}
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, g.command[0], g.command[1:]...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		span.SetAttribute("error", "timeout")
		return Result{TsMs: time.Now().UnixMilli(), Error: "timeout"}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		msg := truncate(err.Error(), errorLimit)
		span.RecordError(err)
		return Result{TsMs: time.Now().UnixMilli(), Error: msg}
	}

	m := summaryRe.FindStringSubmatch(stdout.String())
	if m == nil {
		span.SetAttribute("error", "parse_failed")
		return Result{TsMs: time.Now().UnixMilli(), Error: "parse_failed"}
	}
	pass, _ := strconv.Atoi(m[1])
	fail, _ := strconv.Atoi(m[2])
	total, _ := strconv.Atoi(m[3])
	span.SetAttribute("pass", pass)
	span.SetAttribute("total", total)
	span.Status = observability.Status{Code: observability.StatusOK}
	return Result{PassCount: pass, FailCount: fail, Total: total, TsMs: time.Now().UnixMilli()}
}

// EnsureBaseline establishes the baseline by running the suite once,
// when none exists yet. Errors leave the baseline at zero so a later
// clean run can still establish it.
func (g *Gate) EnsureBaseline(ctx context.Context) {
	g.mu.Lock()
	established := g.baseline.Total > 0
	g.mu.Unlock()
	if established {
		return
	}
	result := g.Run(ctx)
	if result.Error != "" || result.Total == 0 {
		return
	}
	g.mu.Lock()
	g.baseline = result
	err := g.saveBaseline(result)
	g.mu.Unlock()
	if err != nil {
		g.logger.Warn("baseline save failed", zap.Error(err))
	}
	g.logger.Info("regression baseline established",
		zap.Int("pass", result.PassCount), zap.Int("total", result.Total))
}

// Check reports whether a result holds the baseline. With no baseline
// everything passes.
func (g *Gate) Check(result Result) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.baseline.Total == 0 {
		return true
	}
	return result.PassCount >= g.baseline.PassCount
}

// Accept moves the baseline up to the result. A result below the
// baseline is ignored; the baseline never regresses.
func (g *Gate) Accept(result Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if result.PassCount < g.baseline.PassCount {
		return
	}
	g.baseline = result
	if err := g.saveBaseline(result); err != nil {
		g.logger.Warn("baseline save failed", zap.Error(err))
	}
}

// Verdict is the outcome of guarding one change.
type Verdict struct {
	Accepted bool    `json:"accepted"`
	Gated    bool    `json:"gated"`
	After    Result  `json:"after"`
	Baseline *Result `json:"baseline,omitempty"`
}

// Guard applies a change and keeps it only if the suite holds the
// baseline. An apply error propagates with nothing run. A suite error
// fails open: the change stays, ungated. A regression triggers
// rollback; a rollback failure is logged and written to the audit
// stream but never returned, since the verdict already stands.
func (g *Gate) Guard(ctx context.Context, apply, rollback func() error) (Verdict, error) {
	g.EnsureBaseline(ctx)
	if err := apply(); err != nil {
		return Verdict{}, err
	}
	after := g.Run(ctx)
	if after.Error != "" {
		g.logger.Warn("e2e suite unavailable, change passes ungated",
			zap.String("error", after.Error))
		return Verdict{Accepted: true, Gated: false, After: after}, nil
	}
	if g.Check(after) {
		g.Accept(after)
		g.logger.Info("change accepted",
			zap.Int("pass", after.PassCount), zap.Int("total", after.Total))
		return Verdict{Accepted: true, Gated: true, After: after}, nil
	}

	base := g.Baseline()
	g.logger.Warn("change rejected, pass count regressed",
		zap.Int("pass", after.PassCount), zap.Int("total", after.Total),
		zap.Int("baseline_pass", base.PassCount), zap.Int("baseline_total", base.Total))
	if rollback != nil {
		if err := rollback(); err != nil {
			g.logger.Error("rollback failed", zap.Error(err))
			audit := storage.Record{
				"event":         "rollback_failed",
				"error":         truncate(err.Error(), errorLimit),
				"pass_count":    after.PassCount,
				"baseline_pass": base.PassCount,
			}
			if aerr := g.store.Append(storage.StreamAutonomicAudit, audit); aerr != nil {
				g.logger.Warn("rollback audit append failed", zap.Error(aerr))
			}
		}
	}
	return Verdict{Accepted: false, Gated: true, After: after, Baseline: &base}, nil
}

func (g *Gate) baselinePath() string {
	return filepath.Join(g.store.Dir(), baselineFile)
}

func (g *Gate) loadBaseline() Result {
	raw, err := os.ReadFile(g.baselinePath())
	if err != nil {
		return Result{}
	}
	var base Result
	if err := json.Unmarshal(raw, &base); err != nil {
		g.logger.Warn("baseline file corrupt, starting from zero", zap.Error(err))
		return Result{}
	}
	return base
}

func (g *Gate) saveBaseline(result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	path := g.baselinePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
