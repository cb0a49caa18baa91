// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package dispatch routes action identifiers to tools and enforces the
// permission engine in front of them. Every execution path — local
// handlers, the native tool host, MCP servers — funnels through
// Dispatcher.Execute, so permission checks, input validation, output
// caps and error shaping happen exactly once.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
)

const truncationMarker = "\n...(output truncated: exceeded 1MB limit)"

// ExecOptions carries per-call execution flags.
type ExecOptions struct {
	// CallerApproved marks that a human already approved this ask-level
	// action. Unattended callers leave it false and get
	// approval_required back.
	CallerApproved bool

	// ForceCode overrides the dangerous-pattern block in code execution
	// after explicit approval.
	ForceCode bool

	// AllowNet permits network patterns in executed code.
	AllowNet bool
}

type codeOptionsKey struct{}

type codeOptions struct {
	force    bool
	allowNet bool
}

// WithCodeOptions threads code-safety overrides to the code execution
// handler.
func WithCodeOptions(ctx context.Context, force, allowNet bool) context.Context {
	return context.WithValue(ctx, codeOptionsKey{}, codeOptions{force: force, allowNet: allowNet})
}

// ForceCodeFrom reports whether the dangerous-pattern block is
// overridden for this call.
func ForceCodeFrom(ctx context.Context) bool {
	opts, ok := ctx.Value(codeOptionsKey{}).(codeOptions)
	return ok && opts.force
}

// AllowNetFrom reports whether network patterns are permitted for this
// call.
func AllowNetFrom(ctx context.Context) bool {
	opts, ok := ctx.Value(codeOptionsKey{}).(codeOptions)
	return ok && opts.allowNet
}

// Dispatcher executes actions: alias resolution, permission check,
// input validation, tool lookup, output capping.
type Dispatcher struct {
	registry    *Registry
	permissions *Engine
	host        *Host
	logger      *zap.Logger
	tracer      observability.Tracer
}

// DispatcherOptions configures a Dispatcher. Nil fields get safe
// defaults.
type DispatcherOptions struct {
	Registry    *Registry
	Permissions *Engine
	Host        *Host
	Logger      *zap.Logger
	Tracer      observability.Tracer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Host == nil {
		opts.Host = NewHost("", "", opts.Logger)
	}
	if opts.Permissions == nil {
		opts.Permissions = NewEngine(RegistrySideEffects(opts.Registry), opts.Logger)
	}
	return &Dispatcher{
		registry:    opts.Registry,
		permissions: opts.Permissions,
		host:        opts.Host,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}
}

// RegistrySideEffects wires permission inference to registered tools'
// declared side effects.
func RegistrySideEffects(reg *Registry) SideEffectsFunc {
	return func(actionID string) ([]string, bool) {
		tool, ok := reg.Get(actionID)
		if !ok {
			return nil, false
		}
		return tool.SideEffects(), true
	}
}

// Registry exposes the tool registry for startup registration.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Permissions exposes the permission engine for grants and status.
func (d *Dispatcher) Permissions() *Engine { return d.permissions }

// Execute runs one action and always returns a result; failures are
// structured errors inside it, never Go errors, so callers can hand
// the outcome straight back to the model.
func (d *Dispatcher) Execute(ctx context.Context, actionID string, inputs map[string]interface{}, opts ExecOptions) *Result {
	id := ResolveAlias(strings.TrimSpace(actionID))
	if inputs == nil {
		inputs = map[string]interface{}{}
	}

	ctx, span := d.tracer.StartSpan(ctx, observability.SpanDispatchExecute,
		observability.WithAttribute(observability.AttrActionID, id),
		observability.WithSpanKind("tool"))
	defer d.tracer.EndSpan(span)

	result := d.execute(ctx, id, inputs, opts)

	if result.Output != "" {
		result.Output = TruncateOutput(result.Output, maxToolhostOutput)
	}
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetAttribute(observability.AttrErrorType, result.Error.Kind)
		d.logger.Warn("action failed",
			zap.String("action_id", id),
			zap.String("kind", result.Error.Kind),
			zap.Int64("elapsed_ms", result.ElapsedMs))
	} else {
		span.SetAttribute("output.bytes", len(result.Output))
		d.logger.Debug("action executed",
			zap.String("action_id", id),
			zap.Int64("elapsed_ms", result.ElapsedMs))
	}
	return result
}

func (d *Dispatcher) execute(ctx context.Context, id string, inputs map[string]interface{}, opts ExecOptions) *Result {
	switch d.permissions.Check(id) {
	case LevelDeny:
		return Failed(NewError(id, KindToolError,
			fmt.Sprintf("permission denied for %s (mode=%s)", id, d.permissions.Mode())))
	case LevelAsk:
		if !opts.CallerApproved && !d.permissions.AutoApprove(id) {
			return Failed(NewError(id, KindApprovalRequired,
				fmt.Sprintf("%s requires approval — blocked in unattended mode", id)))
		}
	}

	tool, ok := d.registry.Get(id)
	if !ok {
		// Plugins loaded mid-session exist in the tool host before the
		// manifest catches up, so valid unknowns get forwarded.
		if ValidateActionID(id) == nil && d.host.Available() {
			start := time.Now()
			out, derr := d.host.Run(ctx, id, inputs)
			elapsed := time.Since(start).Milliseconds()
			if derr != nil {
				return &Result{Error: derr, ElapsedMs: elapsed}
			}
			return &Result{Output: out, ElapsedMs: elapsed}
		}
		detail := fmt.Sprintf("unknown action: %s", id)
		if suggestions := Suggest(id, d.registry.List()); len(suggestions) > 0 {
			detail += fmt.Sprintf(" (did you mean: %s?)", strings.Join(suggestions, ", "))
		}
		return Failed(NewError(id, KindNotFound, detail))
	}

	inputs = NormalizeInputKeys(tool.InputSchema(), inputs)
	if verr := ValidateInputs(id, tool.InputSchema(), inputs); verr != nil {
		return Failed(verr)
	}

	ctx = WithCodeOptions(ctx, opts.ForceCode, opts.AllowNet)

	start := time.Now()
	result, err := tool.Execute(ctx, inputs)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return &Result{
			Error:     NewError(id, KindException, err.Error()),
			ElapsedMs: elapsed,
		}
	}
	if result == nil {
		result = &Result{}
	}
	result.ElapsedMs = elapsed
	return result
}

// TruncateOutput cuts a string to at most max bytes on a grapheme
// boundary and appends the truncation marker. Korean and emoji output
// never splits mid-cluster.
func TruncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	state := -1
	var segment string
	cut := 0
	rest := s
	for len(rest) > 0 {
		segment, rest, _, state = uniseg.StepString(rest, state)
		if cut+len(segment) > max {
			break
		}
		cut += len(segment)
	}
	return s[:cut] + truncationMarker
}
