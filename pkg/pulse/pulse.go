// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package pulse is the per-request executor: it classifies an incoming
// user message into an intent, runs the resulting actions through the
// dispatcher in a budgeted multi-cycle loop, and records the outcome in
// the learning substrate. It shares the storage, retrieval, and
// permission layers with the background autonomic engine.
package pulse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/llm/factory"
	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// PromptSource supplies the external tool menu injected into
// classifier prompts; the MCP manager implements it.
type PromptSource interface {
	ToolListForPrompt(max int) string
	IntentExamples(n int) string
	ToolCount() int
}

// Approver asks a human to approve an ask-level action. It blocks until
// the user answers or the context expires; a timeout counts as denial.
type Approver interface {
	Approve(ctx context.Context, chatID int64, actionID, prompt string) bool
}

// Notifier delivers intermediate progress messages during a long loop.
// The final answer is returned from HandleUserMessage instead.
type Notifier interface {
	Notify(chatID int64, text string)
}

// Options wires an Executor. Dispatcher and Store are required; every
// other collaborator degrades to a no-op when absent.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Store      *storage.Store
	Recorder   *learning.Recorder
	Distiller  *learning.Distiller
	Searcher   *retrieval.Searcher
	Graph      *graph.Memory
	Prompts    PromptSource
	Approver   Approver
	Notifier   Notifier

	// Providers resolves a chat provider per backend; nil uses a
	// default factory.
	Providers func(backend string) (llm.Provider, error)

	// OnActivity fires on every user message so the idle-driven
	// background engine can reset its timer.
	OnActivity func()

	Logger *zap.Logger
}

// chatState is the per-conversation mutable state.
type chatState struct {
	mu         sync.Mutex
	history    []Turn
	sessionID  string
	lastActive time.Time
	state      DialogueState
	lastSent   string
	cancel     bool
}

// Executor turns user messages into answers.
type Executor struct {
	opts    Options
	logger  *zap.Logger
	factory *factory.Factory

	mu    sync.Mutex
	chats map[int64]*chatState

	memMu     sync.Mutex
	memHashes map[string]struct{}
}

// NewExecutor builds an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{
		opts:      opts,
		logger:    opts.Logger,
		factory:   factory.New(nil, nil, opts.Logger),
		chats:     make(map[int64]*chatState),
		memHashes: make(map[string]struct{}),
	}
}

// Cancel flags the chat's running loop to stop at its next cycle check.
func (e *Executor) Cancel(chatID int64) {
	cs := e.chat(chatID)
	cs.mu.Lock()
	cs.cancel = true
	cs.mu.Unlock()
}

func (e *Executor) chat(chatID int64) *chatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.chats[chatID]
	if !ok {
		cs = &chatState{}
		e.chats[chatID] = cs
	}
	return cs
}

func (e *Executor) provider(backend string) (llm.Provider, error) {
	if e.opts.Providers != nil {
		return e.opts.Providers(backend)
	}
	return e.factory.Provider(backend, "")
}

const (
	maxHistoryTurns = 20
	sessionGapSec   = 1800
	minCycleBudget  = 10
	minPhaseBudget  = 5
)

var greetingWords = map[string]bool{
	"안녕": true, "하이": true, "ㅎㅇ": true, "안뇽": true, "헬로": true,
	"hello": true, "hi": true, "hey": true, "고마워": true, "감사": true,
	"thanks": true, "thank you": true, "ok": true, "응": true, "네": true,
	"ㅋㅋ": true, "ㅎㅎ": true,
}

func isGreeting(text string) bool {
	return greetingWords[strings.ToLower(strings.TrimSpace(text))]
}

// budget tracks the wall-clock allowance for one message.
type budget struct{ deadline time.Time }

func (b budget) remaining() float64 { return time.Until(b.deadline).Seconds() }

// phase clamps a phase allowance to what is left, keeping a floor so a
// nearly spent budget still gets a usable timeout.
func (b budget) phase(base float64) time.Duration {
	allowed := base
	if rem := b.remaining() - 5; rem < allowed {
		allowed = rem
	}
	if allowed < minPhaseBudget {
		allowed = minPhaseBudget
	}
	return time.Duration(allowed * float64(time.Second))
}

func devProfile() bool {
	return config.GetBool(config.EnvDevExplore, false) ||
		config.GetString(config.EnvProfile, "") == "dev"
}

// HandleUserMessage runs one full request: classify, execute, learn,
// answer. It is safe for concurrent use; messages for the same chat
// serialize on the chat's lock.
func (e *Executor) HandleUserMessage(ctx context.Context, chatID int64, text string) (string, error) {
	if e.opts.OnActivity != nil {
		e.opts.OnActivity()
	}
	started := time.Now()

	// Bare punctuation or a lone emoji is a ping, not a request.
	stripped := strings.TrimSpace(text)
	if len([]rune(stripped)) <= 2 && !hasAlnum(stripped) {
		reply := "안녕! 뭐 도와줄까? 😊"
		cs := e.chat(chatID)
		cs.mu.Lock()
		e.ensureSession(chatID, cs)
		e.appendTurn(cs, "user", text)
		e.appendTurn(cs, "assistant", reply)
		cs.mu.Unlock()
		return reply, nil
	}

	cs := e.chat(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cancel = false
	e.ensureSession(chatID, cs)

	maxCycles := config.GetInt(config.EnvMaxCycles, 30)
	totalBudget := config.GetInt(config.EnvPulseBudgetSec, 600)
	if devProfile() {
		maxCycles = config.GetInt(config.EnvMaxCycles, 100)
		totalBudget = config.GetInt(config.EnvPulseBudgetSec, 3600)
	}
	bgt := budget{deadline: started.Add(time.Duration(totalBudget) * time.Second)}

	greeting := isGreeting(text)
	cs.state = TrackDialogueState(cs.state, append(lastUserTurns(cs.history, 2), text))

	in := e.retrieveContext(ctx, cs, text, greeting)

	// Route hard requests to the hosted backend for this turn only.
	provider, upgradeNote := e.routeProvider(ctx, cs, text)
	if provider == nil {
		e.appendTurn(cs, "user", text)
		return "LLM 백엔드를 사용할 수 없어. 설정을 확인해줘.", nil
	}

	intent := e.resolveIntent(ctx, provider, cs, text, &in, bgt)

	var reply string
	switch intent.Type {
	case "reply":
		reply = e.handleReply(ctx, provider, chatID, cs, text, intent, in)
	case "config":
		reply = e.applyConfigChanges(intent)
	case "action":
		reply = e.runActionLoop(ctx, provider, chatID, cs, text, intent, in, bgt, maxCycles)
	default:
		reply = e.chatReply(ctx, provider, cs.history, text, in)
	}

	if strings.TrimSpace(reply) == "" {
		reply = e.chatReply(ctx, provider, tailTurns(cs.history, 8), text, in)
		if strings.TrimSpace(reply) == "" {
			reply = "작업을 처리하지 못했어. 다시 시도해줘."
		}
	}
	if upgradeNote != "" {
		reply = upgradeNote + reply
	}

	if !greeting && bgt.remaining() > 15 {
		e.autoMemory(ctx, cs, text, intent)
	}
	e.recordOutcome(cs, text, intent, reply, time.Since(started))
	e.appendTurn(cs, "user", text)
	e.appendTurn(cs, "assistant", reply)
	e.logConversation(cs, text, reply)

	// Suppress an exact repeat of the last intermediate send.
	if reply == cs.lastSent {
		reply = ""
	}
	cs.lastSent = reply
	return reply, nil
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '가' && r <= '힣') || (r >= 'ㄱ' && r <= 'ㅣ') {
			return true
		}
	}
	return false
}

// ensureSession assigns a fresh session id after a long idle gap so
// retrieval boosts stay scoped to one conversation.
func (e *Executor) ensureSession(chatID int64, cs *chatState) {
	now := time.Now()
	if cs.sessionID == "" || now.Sub(cs.lastActive) > sessionGapSec*time.Second {
		cs.sessionID = fmt.Sprintf("s%d_%d", chatID, now.Unix())
	}
	cs.lastActive = now
}

// retrieveContext gathers memory, wisdom, skill, and MCP context for
// the classifier prompts. Greetings skip retrieval entirely.
func (e *Executor) retrieveContext(ctx context.Context, cs *chatState, text string, greeting bool) driverInputs {
	in := driverInputs{State: cs.state}
	if e.opts.Prompts != nil && e.opts.Prompts.ToolCount() > 0 {
		in.MCPMenu = e.opts.Prompts.ToolListForPrompt(15)
		in.MCPExamples = e.opts.Prompts.IntentExamples(3)
	}
	if greeting {
		return in
	}
	if e.opts.Searcher != nil {
		memory, err := e.opts.Searcher.Search(ctx, storage.StreamChat, text, retrieval.SearchOptions{
			TopK: 5, SessionID: cs.sessionID,
		})
		if err != nil {
			e.logger.Debug("memory retrieval failed", zap.Error(err))
		}
		in.Memory = memory
	}
	if e.opts.Recorder != nil {
		in.Wisdom = e.opts.Recorder.Wisdom(text)
		if skill, err := e.opts.Recorder.SearchSkills(text, 1); err == nil {
			in.Skill = skill
		}
	}
	return in
}

const autoRouteThreshold = 0.6

// routeProvider picks the provider for this turn. With auto-route on, a
// complex request on the local backend upgrades to the hosted one when
// a key is configured; the reply gets a visible prefix.
func (e *Executor) routeProvider(ctx context.Context, cs *chatState, text string) (llm.Provider, string) {
	backend := config.GetActiveBackend()
	if config.IsAutoRouteEnabled() && backend == config.BackendOAICompat &&
		config.GetString(config.EnvAnthropicAPIKey, "") != "" {
		if score := computeComplexity(text, len(cs.history)); score >= autoRouteThreshold {
			if p, err := e.provider(config.BackendAnthropic); err == nil {
				e.logger.Info("auto-routed to hosted backend",
					zap.Float64("complexity", score))
				return p, fmt.Sprintf("[upgraded: %s]\n", p.Model())
			}
		}
	}
	p, err := e.provider(backend)
	if err != nil {
		e.logger.Error("provider unavailable", zap.String("backend", backend), zap.Error(err))
		return nil, ""
	}
	return p, ""
}

// resolveIntent tries the deterministic fast path, then the classifier.
func (e *Executor) resolveIntent(ctx context.Context, provider llm.Provider,
	cs *chatState, text string, in *driverInputs, bgt budget) *Intent {

	if raw := resolveIntentFast(text, e.opts.Distiller, cs.state.Topic); raw != nil {
		intent := mapIntent(raw, text)
		intent.FastPath = rawStr(raw, "tool")
		return intent
	}
	in.Timeout = bgt.phase(25)
	return e.classifyIntent(ctx, provider, cs.history, text, *in)
}

// handleReply post-processes a chat reply: an action object the model
// buried in prose is executed after all, and JSON wrappers are peeled.
func (e *Executor) handleReply(ctx context.Context, provider llm.Provider,
	chatID int64, cs *chatState, text string, intent *Intent, in driverInputs) string {

	content := coerceResponse(intent.Content)
	if embedded, prefix := extractEmbeddedAction(content); embedded != nil {
		if prefix != "" {
			e.notify(chatID, cs, prefix)
		}
		bgt := budget{deadline: time.Now().Add(2 * time.Minute)}
		return e.runActionLoop(ctx, provider, chatID, cs, text, embedded, in, bgt,
			config.GetInt(config.EnvMaxCycles, 30))
	}
	return unwrapJSONReply(content)
}

// Keys a chat-driven config change may touch. Permission and sandbox
// keys are immutable in the config layer itself; this list keeps the
// chat surface narrower still.
var chatConfigAllowlist = map[string]bool{
	config.EnvBackend:         true,
	config.EnvOAIModel:        true,
	config.EnvOAIBaseURL:      true,
	config.EnvAnthropicModel:  true,
	config.EnvAnthropicAPIKey: true,
	config.EnvChatTemperature: true,
	config.EnvChatMaxTokens:   true,
	config.EnvAutoRoute:       true,
}

func (e *Executor) applyConfigChanges(intent *Intent) string {
	var applied []string
	for _, change := range intent.Changes {
		if !chatConfigAllowlist[change.Key] {
			e.logger.Warn("config change rejected", zap.String("key", change.Key))
			continue
		}
		if err := config.Set(change.Key, change.Value); err != nil {
			e.logger.Warn("config change failed", zap.String("key", change.Key), zap.Error(err))
			continue
		}
		applied = append(applied, fmt.Sprintf("%s=%s", change.Key, change.Value))
	}
	if len(applied) == 0 {
		return "설정을 변경하지 못했어. 키를 다시 확인해줘."
	}
	reply := "✅ 변경됨: " + strings.Join(applied, ", ")
	if intent.Content != "" {
		reply += "\n" + intent.Content
	}
	return reply
}

func (e *Executor) notify(chatID int64, cs *chatState, text string) {
	if e.opts.Notifier == nil || strings.TrimSpace(text) == "" || text == cs.lastSent {
		return
	}
	cs.lastSent = text
	e.opts.Notifier.Notify(chatID, text)
}

func (e *Executor) appendTurn(cs *chatState, role, text string) {
	cs.history = append(cs.history, Turn{Role: role, Content: text})
	cs.history = trimHistory(cs.history, maxHistoryTurns)
	if e.opts.Store != nil {
		if err := e.opts.Store.Append(storage.StreamChat, storage.Record{
			"event":      "chat_turn",
			"role":       role,
			"text":       truncateRunes(text, 2000),
			"session_id": cs.sessionID,
		}); err != nil {
			e.logger.Debug("chat log append failed", zap.Error(err))
		}
	}
}

// logConversation writes the paired exchange for retrieval and feeds
// the user text to graph extraction.
func (e *Executor) logConversation(cs *chatState, userText, reply string) {
	if e.opts.Store != nil {
		if err := e.opts.Store.Append(storage.StreamChat, storage.Record{
			"event":      "conversation",
			"text":       fmt.Sprintf("User: %s | Bot: %s", truncateRunes(userText, 500), truncateRunes(reply, 500)),
			"session_id": cs.sessionID,
		}); err != nil {
			e.logger.Debug("conversation append failed", zap.Error(err))
		}
	}
	if e.opts.Graph != nil {
		if _, err := e.opts.Graph.Ingest(userText, map[string]interface{}{
			"source": "chat", "session_id": cs.sessionID,
		}); err != nil {
			e.logger.Debug("graph ingest failed", zap.Error(err))
		}
	}
}

// autoMemory extracts durable personal facts from conversational turns
// and saves the new ones.
func (e *Executor) autoMemory(ctx context.Context, cs *chatState, text string, intent *Intent) {
	if e.opts.Store == nil || intent == nil || intent.Type == "action" {
		return
	}
	local, err := e.provider(config.BackendOAICompat)
	if err != nil {
		return
	}
	for _, fact := range detectMemorableFacts(ctx, local, text) {
		sum := sha256.Sum256([]byte(fact))
		key := hex.EncodeToString(sum[:8])
		e.memMu.Lock()
		if len(e.memHashes) > 10000 {
			e.memHashes = make(map[string]struct{})
		}
		if _, dup := e.memHashes[key]; dup {
			e.memMu.Unlock()
			continue
		}
		e.memHashes[key] = struct{}{}
		e.memMu.Unlock()

		if err := e.opts.Store.Append(storage.StreamChat, storage.Record{
			"event":      "auto_memory",
			"text":       fact,
			"session_id": cs.sessionID,
			"importance": 0.7,
		}); err != nil {
			e.logger.Debug("auto memory append failed", zap.Error(err))
			continue
		}
		if e.opts.Graph != nil {
			_, _ = e.opts.Graph.Ingest(fact, map[string]interface{}{"source": "auto_memory"})
		}
		e.logger.Info("auto memory saved", zap.String("fact", truncateRunes(fact, 80)))
	}
}

var replyFailMarkers = []string{
	"처리하지 못했", "파싱 실패", "연결에 문제가", "llm 연결에 문제",
}

// recordOutcome appends the turn to the experience stream so routing
// policies can distill from it.
func (e *Executor) recordOutcome(cs *chatState, text string, intent *Intent, reply string, elapsed time.Duration) {
	if e.opts.Recorder == nil || intent == nil {
		return
	}
	success := true
	lower := strings.ToLower(reply)
	for _, marker := range replyFailMarkers {
		if strings.Contains(lower, marker) {
			success = false
			break
		}
	}
	keyword := cs.state.Topic
	if intent.FastPath != "" {
		keyword = intent.FastPath
	}
	if _, err := e.opts.Recorder.RecordExperience(learning.Experience{
		UserText:  text,
		Intent:    learning.Intent{Type: intent.Type, Tool: intent.Tool, Keyword: keyword},
		Result:    reply,
		Success:   success,
		Elapsed:   elapsed,
		SessionID: cs.sessionID,
	}); err != nil {
		e.logger.Debug("experience record failed", zap.Error(err))
	}
}
