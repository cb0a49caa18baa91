// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/llm"
)

const (
	defaultPrefix      = "작업 실행 중... ⏳"
	maxSameTool        = 3
	maxConsecutiveErrs = 5
)

var errorMarkers = []string{"error", "failed", "traceback"}

func hasErrorMarker(observation string) bool {
	head := strings.ToLower(truncateRunes(observation, 500))
	for _, marker := range errorMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

var successPatterns = []string{`"ok": true`, `"ok":true`, "all ok", "all pass"}

func hasSuccessPattern(observation string) bool {
	lower := strings.ToLower(observation)
	for _, pattern := range successPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func repairRoundLimit() int {
	n := config.GetInt(config.EnvPulseRepairRounds, 2)
	if n < 0 {
		n = 0
	}
	if n > 5 {
		n = 5
	}
	return n
}

func emptyRecoveryLimit() int {
	n := config.GetInt(config.EnvPulseEmptyRecovery, 2)
	if n < 0 {
		n = 0
	}
	if n > 5 {
		n = 5
	}
	return n
}

// runActionLoop executes an action intent through budgeted cycles:
// run, observe, decide whether to continue, repeat. Continuation comes
// from pre-planned chains, the step queue, cheap heuristics, and
// finally the model.
func (e *Executor) runActionLoop(ctx context.Context, provider llm.Provider,
	chatID int64, cs *chatState, userMsg string, intent *Intent,
	in driverInputs, bgt budget, maxCycles int) string {

	current := intent
	initialSingle := intent.singleAction()
	needsSummary := intent.NeedsSummary

	var stepQueue []planStep
	stepTotal := 0
	stepDone := 0

	// Multi-step phrasing gets a plan up front; the first step replaces
	// the classified intent and the rest queue behind it.
	if isMultiStepRequest(userMsg) && len(intent.Actions) <= 1 {
		var steps []planStep
		if isAllToolsRequest(userMsg) {
			steps = buildAllToolsPlan()
		} else {
			steps = e.planSteps(ctx, provider, cs.history, userMsg, in)
		}
		if len(steps) >= 2 {
			if first := stepToIntent(steps[0], userMsg); first.Type == "action" {
				e.notify(chatID, cs, fmt.Sprintf("📋 %d단계 실행 계획", len(steps)))
				current = first
				needsSummary = true
				initialSingle = false
				stepQueue = steps[1:]
				stepTotal = len(steps)
				stepDone = 1
			}
		}
	}

	continueOnStepError := config.GetBool(config.EnvPlanContinueOnError, true)
	toolCounts := map[string]int{}
	var usedTools []string
	consecutiveErrors := 0
	repairRounds := 0
	emptyRecoveries := 0
	observation := ""

	advanceStep := func() bool {
		for len(stepQueue) > 0 {
			step := stepQueue[0]
			stepQueue = stepQueue[1:]
			next := stepToIntent(step, userMsg)
			if next.Type != "action" || !validateActions(next.Actions) {
				continue
			}
			stepDone++
			e.notify(chatID, cs, fmt.Sprintf("▶️ [%d/%d] %s", stepDone, stepTotal, step.Desc))
			current = next
			return true
		}
		return false
	}

	finish := func(summary string) string {
		if strings.TrimSpace(summary) != "" {
			return summary
		}
		if needsSummary && strings.TrimSpace(observation) != "" {
			return e.summarizeResult(ctx, provider, userMsg, observation, bgt.phase(20))
		}
		return truncateRunes(observation, 1500)
	}

	for cycle := 0; cycle < maxCycles; cycle++ {
		if bgt.remaining() < minCycleBudget {
			e.logger.Info("loop budget exhausted", zap.Int("cycle", cycle))
			break
		}
		if cs.cancel {
			return fmt.Sprintf("작업 중단 (사이클 %d에서 멈춤)", cycle)
		}
		if current == nil || current.Type != "action" {
			break
		}
		if !validateActions(current.Actions) {
			if len(stepQueue) > 0 && advanceStep() {
				continue
			}
			return "작업 명령이 비어 있어서 중단했어. 구체적으로 다시 요청해줘."
		}

		allowed := e.precheckActions(ctx, chatID, current.Actions)
		if len(allowed) == 0 {
			return "모든 작업이 거부되었어."
		}

		if cycle == 0 {
			prefix := current.AssistantPrefix
			if prefix == "" {
				prefix = defaultPrefix
			}
			e.notify(chatID, cs, prefix)
		}

		var noCommand bool
		observation, noCommand = e.executeActions(ctx, chatID, cs, allowed, bgt)

		for _, action := range allowed {
			toolCounts[action.ID]++
			if !containsString(usedTools, action.ID) {
				usedTools = append(usedTools, action.ID)
			}
		}

		// Empty-command results get a bounded number of repair cycles
		// before the loop gives up.
		if noCommand {
			if emptyRecoveries < emptyRecoveryLimit() && bgt.remaining() > 15 {
				emptyRecoveries++
				observation += "\n[REPAIR_REQUIRED] Previous action returned empty/no command. " +
					"Choose a different valid next action and continue."
				in.Timeout = bgt.phase(25)
				raw := e.classifyContinue(ctx, provider, cs.history, userMsg, observation,
					usedTools, cycle, in)
				if next := continuationIntent(raw, userMsg); next != nil {
					current = next
					continue
				}
			}
			return finish("")
		}

		// The same tool spinning without a plan means the model is
		// stuck.
		if len(stepQueue) == 0 {
			for id, count := range toolCounts {
				if count >= maxSameTool {
					e.logger.Warn("same tool repeated, finishing", zap.String("action_id", id))
					return finish("")
				}
			}
		}

		if cycle > 0 {
			e.notify(chatID, cs, truncateRunes(observation, 1000))
		}

		errorDetected := hasErrorMarker(observation)
		if errorDetected {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrs {
				return "연속 오류가 많아서 중단했어.\n" + truncateRunes(observation, 800)
			}
		} else {
			consecutiveErrors = 0
		}

		// A failing plan step is skipped, not fatal, unless configured
		// otherwise.
		if errorDetected && len(stepQueue) > 0 && continueOnStepError {
			if advanceStep() {
				continue
			}
			return finish("")
		}

		// Pre-planned _next wins over everything when it is usable.
		if current.Next != nil && len(stepQueue) == 0 && !errorDetected {
			next := mapIntent(current.Next, userMsg)
			if next.Type == "action" && validateActions(next.Actions) {
				if next.AssistantPrefix != "" {
					e.notify(chatID, cs, next.AssistantPrefix)
				}
				current = next
				continue
			}
		}

		if len(stepQueue) > 0 {
			if advanceStep() {
				continue
			}
			return finish("")
		}

		// A clean single-shot request is done on first success.
		if cycle == 0 && initialSingle && !errorDetected {
			return finish("")
		}
		if hasSuccessPattern(observation) {
			return finish("")
		}

		in.Timeout = bgt.phase(25)
		raw := e.classifyContinue(ctx, provider, cs.history, userMsg, observation,
			usedTools, cycle, in)

		switch rawStr(raw, "type") {
		case "done":
			if errorDetected && repairRounds < repairRoundLimit() && bgt.remaining() > 15 {
				repairRounds++
				amended := observation + "\n[REPAIR_REQUIRED] Error detected. Do not finish yet. " +
					"Provide one concrete recovery action different from the failed tool."
				raw = e.classifyContinue(ctx, provider, cs.history, userMsg, amended,
					usedTools, cycle, in)
				if next := continuationIntent(raw, userMsg); next != nil {
					current = next
					continue
				}
			}
			return finish(rawStr(raw, "summary"))
		case "continue_signal":
			return finish("")
		default:
			if next := continuationIntent(raw, userMsg); next != nil {
				current = next
				continue
			}
			return finish(rawStr(raw, "summary"))
		}
	}

	return finish("")
}

// continuationIntent maps a raw continuation payload to a runnable
// action intent, nil when it is not one.
func continuationIntent(raw map[string]interface{}, userMsg string) *Intent {
	if raw == nil {
		return nil
	}
	switch rawStr(raw, "type") {
	case "done", "continue_signal", "chat", "":
		return nil
	}
	next := mapIntent(raw, userMsg)
	if next.Type != "action" || !validateActions(next.Actions) {
		return nil
	}
	return next
}

// precheckActions resolves permission levels before execution: denied
// actions drop, ask-level ones go to the approver (or the unattended
// safe list) and grant the session on approval.
func (e *Executor) precheckActions(ctx context.Context, chatID int64, actions []Action) []Action {
	if e.opts.Dispatcher == nil {
		return nil
	}
	perms := e.opts.Dispatcher.Permissions()
	var allowed []Action
	for _, action := range actions {
		if action.Kind == "chain" {
			if e.admitChain(ctx, chatID, action) {
				allowed = append(allowed, action)
			}
			continue
		}
		id := dispatch.ResolveAlias(action.ID)
		switch perms.Check(id) {
		case dispatch.LevelDeny:
			e.logger.Warn("action denied by policy", zap.String("action_id", id))
		case dispatch.LevelAllow:
			allowed = append(allowed, action)
		case dispatch.LevelAsk:
			if e.askApproval(ctx, chatID, id, dispatch.FormatApprovalMessage(id, action.Inputs)) {
				perms.GrantSession(id)
				allowed = append(allowed, action)
			} else if perms.AutoApprove(id) {
				allowed = append(allowed, action)
			} else {
				e.logger.Info("action not approved", zap.String("action_id", id))
			}
		}
	}
	return allowed
}

// admitChain resolves permissions for every step of a chain recipe
// before the chain runs as a unit. A denied or unapproved step rejects
// the whole chain; approvals grant the session per step, so the later
// execute may run with caller approval resolved. Unknown chain names
// pass through for dispatch to report as not found.
func (e *Executor) admitChain(ctx context.Context, chatID int64, action Action) bool {
	perms := e.opts.Dispatcher.Permissions()
	for _, stepID := range dispatch.ChainSteps(action.ID) {
		id := dispatch.ResolveAlias(stepID)
		switch perms.Check(id) {
		case dispatch.LevelDeny:
			e.logger.Warn("chain step denied by policy",
				zap.String("chain", action.ID), zap.String("action_id", id))
			return false
		case dispatch.LevelAsk:
			if e.askApproval(ctx, chatID, id, dispatch.FormatApprovalMessage(id, action.Inputs)) {
				perms.GrantSession(id)
			} else if !perms.AutoApprove(id) {
				e.logger.Info("chain step not approved",
					zap.String("chain", action.ID), zap.String("action_id", id))
				return false
			}
		}
	}
	return true
}

// askApproval blocks on the approver with the configured timeout. No
// approver means no interactive approval.
func (e *Executor) askApproval(ctx context.Context, chatID int64, actionID, prompt string) bool {
	if e.opts.Approver == nil {
		return false
	}
	timeout := time.Duration(config.GetInt(config.EnvApprovalTimeoutSec, 180)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.opts.Approver.Approve(ctx, chatID, actionID, prompt)
}

// executeActions runs the allowed actions and joins their outputs into
// one observation. Blocked code triggers the preview-approval flow;
// reporting noCommand lets the loop run its empty-command recovery.
func (e *Executor) executeActions(ctx context.Context, chatID int64, cs *chatState,
	actions []Action, bgt budget) (observation string, noCommand bool) {

	codeGranted := containsString(e.opts.Dispatcher.Permissions().SessionGrants(), dispatch.ActionCodeExec)
	var parts []string
	for _, action := range actions {
		if action.Kind == "chain" {
			results := e.opts.Dispatcher.ExecuteChain(ctx, action.ID, action.Inputs, dispatch.ExecOptions{
				CallerApproved: true,
			})
			for _, step := range results {
				parts = append(parts, fmt.Sprintf("[%s] %s", step.ActionID, step.Result.Text()))
			}
			continue
		}

		result := e.opts.Dispatcher.Execute(ctx, action.ID, action.Inputs, dispatch.ExecOptions{
			CallerApproved: true,
			ForceCode:      codeGranted,
			AllowNet:       codeGranted,
		})

		if result.IsError() {
			switch result.Error.Kind {
			case dispatch.KindDangerousCodeBlocked, dispatch.KindNetworkCodeBlocked:
				result = e.handleBlockedCode(ctx, chatID, action, result)
			case dispatch.KindInvalidInput:
				if strings.Contains(result.Error.Detail, "no command") {
					noCommand = true
				}
			}
		}
		parts = append(parts, result.Text())
	}
	return strings.Join(parts, "\n"), noCommand
}

// handleBlockedCode shows the user what the safety net caught and, on
// approval, grants the session and re-executes with the guard lifted.
func (e *Executor) handleBlockedCode(ctx context.Context, chatID int64,
	action Action, blocked *dispatch.Result) *dispatch.Result {

	code, _ := action.Inputs["code"].(string)
	prompt := fmt.Sprintf("⚠️ 코드에서 차단된 패턴: %s\n\n```\n%s\n```\n\n그래도 실행할까?",
		blocked.Error.Detail, truncateRunes(code, 500))
	if !e.askApproval(ctx, chatID, dispatch.ActionCodeExec, prompt) {
		return dispatch.Failed(dispatch.NewError(dispatch.ActionCodeExec,
			blocked.Error.Kind, "사용자가 코드 실행을 거부했어."))
	}
	e.opts.Dispatcher.Permissions().GrantSession(dispatch.ActionCodeExec)
	return e.opts.Dispatcher.Execute(ctx, action.ID, action.Inputs, dispatch.ExecOptions{
		CallerApproved: true,
		ForceCode:      true,
		AllowNet:       true,
	})
}
