// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package sandbox confines agent file access to the data directory and
// runs generated code under bubblewrap isolation when available.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
)

// DefaultRunTimeout bounds a sandboxed command when the caller does not
// set one.
const DefaultRunTimeout = 30 * time.Second

// Runner executes commands inside a bubblewrap sandbox when bwrap is
// installed, falling back to a plain subprocess otherwise. The sandbox
// provides a read-only root, /dev, /proc, a private /tmp, an isolated
// pid namespace, and no network unless explicitly allowed.
type Runner struct {
	bwrapPath string
	logger    *zap.Logger
	warnOnce  sync.Once
}

// RunOptions controls a single sandboxed execution.
type RunOptions struct {
	// Timeout bounds wall-clock time; DefaultRunTimeout when zero.
	Timeout time.Duration
	// Dir is the working directory for the command.
	Dir string
	// WritableDirs are bind-mounted read-write inside the sandbox.
	// Missing directories are skipped.
	WritableDirs []string
	// AllowNet keeps the network namespace shared with the host.
	AllowNet bool
}

// RunResult captures a completed (or killed) command.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// NewRunner probes for bwrap and returns a runner. A nil logger is
// replaced with a no-op logger.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	path, err := exec.LookPath("bwrap")
	if err != nil {
		path = ""
	}
	return &Runner{bwrapPath: path, logger: logger}
}

// Sandboxed reports whether commands will run under bwrap.
func (r *Runner) Sandboxed() bool {
	return r.bwrapPath != ""
}

// Run executes argv and captures its output. A non-zero exit or a
// timeout is reported in the result, not as an error; the error return
// is reserved for infrastructure failures (missing binary, cancelled
// context, bwrap required but absent).
func (r *Runner) Run(ctx context.Context, argv []string, opts RunOptions) (*RunResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	command := argv
	if r.bwrapPath != "" {
		command = r.wrap(argv, opts)
	} else {
		if config.GetBool(config.EnvBwrapRequired, false) {
			return nil, fmt.Errorf("%s is set but bwrap is not installed — install bubblewrap", config.EnvBwrapRequired)
		}
		if strings.ToLower(config.GetString(config.EnvProfile, "")) == "prod" {
			r.warnOnce.Do(func() {
				r.logger.Warn("bwrap not found in prod profile — generated code runs unsandboxed")
			})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &RunResult{Stdout: stdout.String(), Stderr: stderr.String()}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, runErr
	}
	return result, nil
}

// wrap builds the bwrap invocation around argv.
func (r *Runner) wrap(argv []string, opts RunOptions) []string {
	cmd := []string{
		r.bwrapPath,
		"--ro-bind", "/", "/",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
	}
	if !opts.AllowNet {
		cmd = append(cmd, "--unshare-net")
	}
	cmd = append(cmd, "--unshare-pid", "--die-with-parent")
	for _, dir := range opts.WritableDirs {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		if info, err := os.Stat(real); err != nil || !info.IsDir() {
			continue
		}
		cmd = append(cmd, "--bind", real, real)
	}
	cmd = append(cmd, "--")
	return append(cmd, argv...)
}
