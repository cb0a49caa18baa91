// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
)

const (
	// Tool-host responses are hard-capped; anything past the cap is cut
	// with an explicit marker so the model knows data is missing.
	maxToolhostOutput  = 1 << 20
	warnToolhostOutput = 512 << 10
)

// Host forwards action execution to the native tool-host binary. The
// protocol is one JSON request on stdin, one JSON envelope on the first
// line of stdout:
//
//	stdin:  {"input_json": "<inputs as JSON string>", "ds_state": {"slots": {}}}
//	stdout: {"status": "OK", "output_json": ..., "error": ""}
type Host struct {
	cliPath string
	root    string
	logger  *zap.Logger
}

// NewHost creates a tool-host forwarder. Empty cliPath and root fall
// back to the configured layout.
func NewHost(cliPath, root string, logger *zap.Logger) *Host {
	if cliPath == "" {
		cliPath = config.GetToolhostPath()
	}
	if root == "" {
		root = config.GetDataDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{cliPath: cliPath, root: root, logger: logger}
}

// Available reports whether the tool-host binary exists.
func (h *Host) Available() bool {
	info, err := os.Stat(h.cliPath)
	return err == nil && !info.IsDir()
}

// Run executes one action in the tool-host subprocess and returns its
// output. Failures come back as structured errors, never Go errors, so
// the caller can hand them straight to the model.
func (h *Host) Run(ctx context.Context, actionID string, inputs map[string]interface{}) (string, *Error) {
	if !h.Available() {
		return "", NewError(actionID, KindNotFound,
			fmt.Sprintf("tool host binary not found at %s", h.cliPath))
	}

	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", NewError(actionID, KindInvalidInput, fmt.Sprintf("inputs not serializable: %v", err))
	}
	req, err := json.Marshal(map[string]interface{}{
		"input_json": string(inputJSON),
		"ds_state":   map[string]interface{}{"slots": map[string]interface{}{}},
	})
	if err != nil {
		return "", NewError(actionID, KindInvalidInput, fmt.Sprintf("request not serializable: %v", err))
	}

	timeout := time.Duration(config.GetInt(config.EnvSubprocessTimeout, config.DefaultSubprocTimeout)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.cliPath, "tool_exec", actionID)
	cmd.Dir = h.root
	cmd.Stdin = strings.NewReader(string(req) + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", NewError(actionID, KindTimeout,
			fmt.Sprintf("tool host timed out (%ds)", int(timeout.Seconds())))
	}

	output := stdout.String()
	if len(output) > warnToolhostOutput {
		h.logger.Warn("large tool host output",
			zap.String("action_id", actionID),
			zap.Int("kb", len(output)/1024))
	}
	if len(output) > maxToolhostOutput {
		output = TruncateOutput(output, maxToolhostOutput)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = fmt.Sprintf("rc=%d", exitErr.ExitCode())
			}
			if body := strings.TrimSpace(output); body != "" {
				detail = body + "\n" + detail
			}
			h.logger.Error("tool host crashed",
				zap.String("action_id", actionID),
				zap.Int("rc", exitErr.ExitCode()))
			return "", NewError(actionID, KindCrash, detail)
		}
		return "", NewError(actionID, KindException, runErr.Error())
	}

	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", NewError(actionID, KindEmptyOutput, "tool host returned empty output")
	}

	// Only the first stdout line is the envelope; tools may chatter on
	// later lines.
	firstLine := trimmed
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(firstLine), &payload); err != nil {
		preview := output
		if len(preview) > 200 {
			preview = preview[:200]
		}
		preview = strings.ReplaceAll(preview, "\n", "\\n")
		return "", NewError(actionID, KindParseError,
			fmt.Sprintf("malformed envelope: %v. raw: %s", err, preview))
	}

	status, _ := payload["status"].(string)
	errMsg, _ := payload["error"].(string)
	if status != "" && status != "OK" {
		detail := errMsg
		if detail == "" {
			detail = fmt.Sprintf("tool host status=%s", status)
		}
		return "", NewError(actionID, KindToolError, detail)
	}

	switch v := payload["output_json"].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		raw, merr := json.Marshal(v)
		if merr != nil {
			return "", NewError(actionID, KindParseError, fmt.Sprintf("unrenderable output: %v", merr))
		}
		return string(raw), nil
	}
}

// HostTool adapts one manifest entry to the Tool interface so
// tool-host actions dispatch like any other.
type HostTool struct {
	id          string
	description string
	schema      *JSONSchema
	sideEffects []string
	host        *Host
}

// NewHostTool wraps a manifest-declared action.
func NewHostTool(id, description string, schema *JSONSchema, sideEffects []string, host *Host) *HostTool {
	return &HostTool{
		id:          id,
		description: description,
		schema:      schema,
		sideEffects: sideEffects,
		host:        host,
	}
}

func (t *HostTool) Name() string             { return t.id }
func (t *HostTool) Description() string      { return t.description }
func (t *HostTool) InputSchema() *JSONSchema { return t.schema }
func (t *HostTool) SideEffects() []string    { return t.sideEffects }
func (t *HostTool) Backend() string          { return BackendToolhost }

func (t *HostTool) Execute(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	out, derr := t.host.Run(ctx, t.id, inputs)
	if derr != nil {
		return Failed(derr), nil
	}
	return OK(out), nil
}
