// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/sandbox"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	sqCooldown      = 45 * time.Second
	sqNoopBackoff   = 2
	sqFailBackoff   = 3
	sqCodeTimeout   = 10 * time.Second
	sqResultPreview = 500
)

// sqBlockedTools are never probed by a self-question: they mutate
// state or spawn processes, which a background question has no
// business doing.
var sqBlockedTools = map[string]bool{
	"FS.DELETE.v1":          true,
	"FS.WRITE.v1":           true,
	"FS.EDIT.v1":            true,
	"FS.APPEND.v1":          true,
	"SHELL.EXEC.v1":         true,
	"PKG.INSTALL.v1":        true,
	"PKG.UNINSTALL.v1":      true,
	"GENESIS.WRITE_FILE.v1": true,
	"GENESIS.COMPILE.v1":    true,
	"GENESIS.LOAD.v1":       true,
}

// sqDecision is the model's answer to "what should I ask myself?".
type sqDecision struct {
	Question string `json:"question"`
	Action   string `json:"action"` // search | test_tool | code | audit | reflect
	Target   string `json:"target,omitempty"`
	Code     string `json:"code,omitempty"`
}

// runSelfQuestions runs up to max self-question turns, respecting the
// cooldown and the noop/failure streak backoffs.
func (e *Engine) runSelfQuestions(ctx context.Context, max int) int {
	ran := 0
	for i := 0; i < max; i++ {
		if !e.runSelfQuestion(ctx) {
			break
		}
		ran++
	}
	return ran
}

// runSelfQuestion performs one self-directed turn: the model picks a
// question plus a concrete low-risk action, the engine executes it and
// records the outcome. Returns false when nothing ran.
func (e *Engine) runSelfQuestion(ctx context.Context) bool {
	if e.provider == nil {
		return false
	}
	e.mu.Lock()
	blocked := time.Since(e.lastSQ) < sqCooldown ||
		e.sqNoopStreak >= sqNoopBackoff || e.sqFailStreak >= sqFailBackoff
	if !blocked {
		e.lastSQ = time.Now()
	}
	e.mu.Unlock()
	if blocked {
		return false
	}

	decision, ok := e.askSelfQuestion(ctx)
	if !ok {
		e.bumpSQStreak(true, false)
		return false
	}
	if nov := novelty(decision.Question, e.questioner.noveltyCorpus()); nov < noveltyFloor {
		e.logger.Debug("self-question not novel", zap.String("question", decision.Question))
		e.bumpSQStreak(true, false)
		return false
	}

	result, success := e.executeSQAction(ctx, decision)
	noop := result == ""
	e.bumpSQStreak(noop, !success)

	if !noop && e.recorder != nil {
		_, _ = e.recorder.RecordExperience(learning.Experience{
			UserText: decision.Question,
			Intent:   learning.Intent{Type: "self_question", Tool: decision.Target},
			Result:   result,
			Success:  success,
			Source:   "self_question",
		})
	}
	audit := storage.Record{
		"ts_ms":    time.Now().UnixMilli(),
		"event":    "self_question",
		"question": decision.Question,
		"action":   decision.Action,
		"target":   decision.Target,
		"success":  success,
	}
	if err := e.store.Append(storage.StreamAutonomicAudit, audit); err != nil {
		e.logger.Debug("self-question audit failed", zap.Error(err))
	}
	return !noop
}

func (e *Engine) bumpSQStreak(noop, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if noop {
		e.sqNoopStreak++
	} else {
		e.sqNoopStreak = 0
	}
	if failed {
		e.sqFailStreak++
	} else if !noop {
		e.sqFailStreak = 0
	}
}

// askSelfQuestion assembles context and requests a decision.
func (e *Engine) askSelfQuestion(ctx context.Context) (sqDecision, bool) {
	var ruleLines []string
	if ins, err := e.store.Read(storage.StreamInsights, 5); err == nil {
		for _, rec := range ins {
			if rules, ok := rec["rules"].([]interface{}); ok {
				for _, r := range rules {
					if s, ok := r.(string); ok {
						ruleLines = append(ruleLines, s)
					}
				}
			}
		}
	}
	profile := e.profiles.get(e.store)
	failing := profile.FailingTools(2, 0.4)
	skills, _ := e.store.Count(storage.StreamSkills)

	prompt := fmt.Sprintf(`You are the background self-improvement loop of an agent runtime.
Current rules:
%s
Failing tools: %s
Recorded skills: %d

Ask yourself one question whose answer would improve the runtime, and pick one
action to answer it. Respond with JSON only:
{"question": "...", "action": "search|test_tool|code|audit|reflect", "target": "...", "code": "..."}
- search: target is a memory query
- test_tool: target is an action id like MEM.FIND.v1 (read-only tools only)
- code: code is a short read-only Python snippet
- audit: target is empty; audit the tool registry
- reflect: answer the question from the rules above`,
		strings.Join(ruleLines, "\n"), strings.Join(failing, ", "), skills)

	content := llm.ContentOrEmpty(e.provider.Chat(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.ChatOptions{MaxTokens: 400, JSONMode: true}))
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return sqDecision{}, false
	}
	var d sqDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return sqDecision{}, false
	}
	if d.Question == "" || d.Action == "" {
		return sqDecision{}, false
	}
	return d, true
}

// executeSQAction dispatches the decision. The empty result marks a
// noop turn.
func (e *Engine) executeSQAction(ctx context.Context, d sqDecision) (string, bool) {
	switch d.Action {
	case "search":
		if e.dispatcher == nil || d.Target == "" {
			return "", false
		}
		res := e.dispatcher.Execute(ctx, "MEM.FIND.v1",
			map[string]interface{}{"query": d.Target}, dispatch.ExecOptions{})
		return truncRunes(res.Text(), sqResultPreview), !res.IsError()

	case "test_tool":
		if e.dispatcher == nil || d.Target == "" || sqBlockedTools[d.Target] {
			return "", false
		}
		if dispatch.ValidateActionID(d.Target) != nil {
			return "", false
		}
		res := e.dispatcher.Execute(ctx, d.Target,
			map[string]interface{}{}, dispatch.ExecOptions{})
		return truncRunes(res.Text(), sqResultPreview), !res.IsError()

	case "code":
		code := stripCodeFences(d.Code)
		if code == "" {
			return "", false
		}
		if reason := screenGeneratedCode(code); reason != "" {
			return "blocked: " + reason, false
		}
		run, err := e.runner.Run(ctx, []string{"python3", "-c", code},
			sandbox.RunOptions{Timeout: sqCodeTimeout})
		if err != nil {
			return "sandbox error: " + err.Error(), false
		}
		out := run.Stdout
		if out == "" {
			out = run.Stderr
		}
		ok := run.ExitCode == 0 && !run.TimedOut
		if ok && e.recorder != nil && run.Stdout != "" {
			_, _ = e.recorder.RecordSkill(d.Question, "python", code,
				truncRunes(run.Stdout, sqResultPreview))
		}
		return truncRunes(out, sqResultPreview), ok

	case "audit":
		return e.auditRegistry(), true

	case "reflect":
		answer := strings.TrimSpace(llm.ContentOrEmpty(e.provider.Chat(ctx,
			[]llm.Message{{Role: "user", Content: d.Question}},
			llm.ChatOptions{MaxTokens: 300})))
		if answer == "" {
			return "", false
		}
		rec := storage.Record{
			"ts_ms":    time.Now().UnixMilli(),
			"type":     "self_reflection",
			"question": d.Question,
			"rules":    []string{truncRunes(answer, sqResultPreview)},
		}
		if err := e.store.Append(storage.StreamInsights, rec); err != nil {
			return "", false
		}
		return truncRunes(answer, sqResultPreview), true
	}
	return "", false
}

// auditRegistry checks every registered tool for a description and an
// input schema, and records the holes as a tool_audit insight.
func (e *Engine) auditRegistry() string {
	if e.dispatcher == nil {
		return ""
	}
	var holes []string
	for _, tool := range e.dispatcher.Registry().ListTools() {
		if tool.Description() == "" {
			holes = append(holes, tool.Name()+": no description")
		}
		if tool.InputSchema() == nil {
			holes = append(holes, tool.Name()+": no input schema")
		}
	}
	summary := fmt.Sprintf("%d tools audited, %d holes",
		e.dispatcher.Registry().Count(), len(holes))
	if len(holes) > 0 {
		rec := storage.Record{
			"ts_ms": time.Now().UnixMilli(),
			"type":  "tool_audit",
			"rules": holes,
		}
		if err := e.store.Append(storage.StreamInsights, rec); err != nil {
			e.logger.Debug("tool audit insight failed", zap.Error(err))
		}
	}
	return summary
}
