// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// stdioTransport speaks newline-delimited JSON-RPC with a subprocess.
// bufio.Reader rather than Scanner: tool results can be arbitrarily
// large and Scanner's line cap would truncate them.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	stderr io.ReadCloser

	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

func newStdioTransport(cfg ServerConfig, logger *zap.Logger) (*stdioTransport, error) {
	// #nosec G204 -- server commands come from the operator's own config
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	t := &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		stderr: stderr,
		logger: logger,
	}
	go t.drainStderr()

	logger.Info("mcp server process started",
		zap.String("command", cfg.Command),
		zap.Int("pid", cmd.Process.Pid))
	return t, nil
}

// drainStderr keeps the subprocess from blocking on a full stderr pipe.
// Servers log to their own files; their stderr is discarded here.
func (t *stdioTransport) drainStderr() {
	reader := bufio.NewReader(t.stderr)
	for {
		if _, err := reader.ReadBytes('\n'); err != nil {
			return
		}
	}
}

func (t *stdioTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.stdin.Write(append(message, '\n')); err != nil {
		return fmt.Errorf("write to mcp server: %w", err)
	}
	return nil
}

func (t *stdioTransport) Receive(ctx context.Context) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := t.reader.ReadBytes('\n')
		if err != nil {
			ch <- readResult{nil, err}
			return
		}
		for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
			data = data[:len(data)-1]
		}
		ch <- readResult{data, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	// Closing stdin is the shutdown signal; escalate to kill when the
	// process ignores it.
	t.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.logger.Warn("mcp server exited with error", zap.Error(err))
		}
	case <-time.After(5 * time.Second):
		t.logger.Warn("mcp server did not exit, killing",
			zap.Int("pid", t.cmd.Process.Pid))
		_ = t.cmd.Process.Kill()
		<-done
	}
	return nil
}
