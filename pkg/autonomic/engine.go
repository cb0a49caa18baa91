// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/metrics"
	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/regression"
	"github.com/teradata-labs/treadle/pkg/sandbox"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	stateFile      = "autonomic_state.json"
	stasisExpiry   = 600 * time.Second
	stasisBucket   = 600 // seconds per hash time bucket
	drainPerTick   = 3
	drainJobCap    = 30 * time.Second
	pidFile        = "autonomic.pid"
	levelReflect   = "reflect"
	levelTest      = "test"
	levelHeal      = "heal"
	levelHygiene   = "hygiene"
	levelCuriosity = "curiosity"
	levelWeb       = "web_explore"
	levelBurst     = "burst"
)

// Options wires the engine to the rest of the runtime. Store and
// Dispatcher are required; everything else degrades gracefully when
// nil (LLM-dependent levels skip, metrics are dropped).
type Options struct {
	Store      *storage.Store
	Queue      *storage.Queue
	Dispatcher *dispatch.Dispatcher
	Recorder   *learning.Recorder
	Curriculum *learning.CurriculumTracker
	Reward     *learning.RewardTracker
	Gate       *regression.Gate
	Provider   llm.Provider
	Metrics    *metrics.Store
	Runner     *sandbox.Runner
	Notifier   Notifier
	Logger     *zap.Logger
	Tracer     observability.Tracer
	Profile    *Profile // nil selects ActiveProfile()
	CLIPath    string   // classifier binary for the self-tester; default os.Executable
}

// engineState is the persisted slice of engine state. Stasis is
// deliberately not persisted: a restart is a fresh look at the world.
type engineState struct {
	LevelDone  map[string]int64 `json:"level_done"`
	PrevHashes []string         `json:"prev_hashes"`
	L2Streak   int              `json:"l2_streak"`
	SavedTs    int64            `json:"saved_ts"`
}

// Engine is the heartbeat-driven autonomic loop.
type Engine struct {
	store      *storage.Store
	queue      *storage.Queue
	dispatcher *dispatch.Dispatcher
	recorder   *learning.Recorder
	curriculum *learning.CurriculumTracker
	reward     *learning.RewardTracker
	gate       *regression.Gate
	provider   llm.Provider
	metrics    *metrics.Store
	runner     *sandbox.Runner
	logger     *zap.Logger
	tracer     observability.Tracer
	alerts     *Alerts

	questioner *SelfQuestioner
	tester     *SelfTester
	healer     *SelfHealer
	curiosity  *CuriosityDriver
	stimulus   *RandomStimulus
	brain      *BrainOrchestrator

	profile  Profile
	profiles profileCache

	tickMu sync.Mutex // single-flight tick

	mu           sync.Mutex
	levelDone    map[string]time.Time
	prevHashes   []string
	stasis       bool
	stasisSince  time.Time
	paused       bool
	dev          bool
	l2Streak     int
	sqNoopStreak int
	sqFailStreak int
	lastSQ       time.Time
	lastReflect  reflectMemo

	lastActivity atomic.Int64 // unix seconds
	inBurst      atomic.Bool
}

type reflectMemo struct {
	hash      string
	skipUntil time.Time
}

// New builds an engine and loads persisted state. The tester, healer,
// questioner, curiosity driver, and stimulus pool are constructed from
// the same options.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("autonomic: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewNoOpTracer()
	}
	if opts.Runner == nil {
		opts.Runner = sandbox.NewRunner(opts.Logger)
	}
	dev := IsDevExplore()
	profile := ProfileFor(dev)
	if opts.Profile != nil {
		profile = *opts.Profile
	}
	cliPath := opts.CLIPath
	if cliPath == "" {
		if exe, err := os.Executable(); err == nil {
			cliPath = exe
		}
	}

	e := &Engine{
		store:      opts.Store,
		queue:      opts.Queue,
		dispatcher: opts.Dispatcher,
		recorder:   opts.Recorder,
		curriculum: opts.Curriculum,
		reward:     opts.Reward,
		gate:       opts.Gate,
		provider:   opts.Provider,
		metrics:    opts.Metrics,
		runner:     opts.Runner,
		logger:     opts.Logger.Named("autonomic"),
		tracer:     opts.Tracer,
		alerts:     NewAlerts(opts.Notifier, opts.Logger),
		profile:    profile,
		dev:        dev,
		levelDone:  map[string]time.Time{},
	}
	e.questioner = NewSelfQuestioner(opts.Store, opts.Curriculum, e.logger)
	e.tester = NewSelfTester(cliPath, e.logger)
	e.healer = NewSelfHealer(HealerOptions{
		Store:      opts.Store,
		Recorder:   opts.Recorder,
		Curriculum: opts.Curriculum,
		Gate:       opts.Gate,
		Provider:   opts.Provider,
		Runner:     opts.Runner,
		Logger:     e.logger,
	})
	e.curiosity = NewCuriosityDriver(CuriosityOptions{
		Store:     opts.Store,
		Recorder:  opts.Recorder,
		Gate:      opts.Gate,
		Provider:  opts.Provider,
		Runner:    opts.Runner,
		Logger:    e.logger,
		MaxPerDay: profile.CuriosityMaxPerDay,
		Cooldown:  profile.CuriosityCooldown,
	})
	e.stimulus = NewRandomStimulus(opts.Store, opts.Provider, e.logger)
	if opts.Metrics != nil {
		e.brain = NewBrainOrchestrator(opts.Metrics, e.logger)
	}
	e.lastActivity.Store(time.Now().Unix())
	e.loadState()
	return e, nil
}

// Alerts exposes the alert queue so collaborators (pulse, CLI) can
// push operator notices through the same channel.
func (e *Engine) Alerts() *Alerts { return e.alerts }

// Touch resets the idle timer and clears stasis: user activity is new
// information by definition.
func (e *Engine) Touch() {
	e.lastActivity.Store(time.Now().Unix())
	e.mu.Lock()
	e.stasis = false
	e.mu.Unlock()
}

// IdleSeconds returns seconds since the last user activity.
func (e *Engine) IdleSeconds() float64 {
	return float64(time.Now().Unix() - e.lastActivity.Load())
}

// InBurst reports whether an autonomous burst session is running.
func (e *Engine) InBurst() bool { return e.inBurst.Load() }

// SetPaused pauses or resumes the tick loop.
func (e *Engine) SetPaused(paused bool) {
	e.mu.Lock()
	e.paused = paused
	e.mu.Unlock()
}

// SetMode switches between the normal and dev-explore profiles at
// runtime and re-derives the timing table.
func (e *Engine) SetMode(dev bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dev = dev
	e.profile = ProfileFor(dev)
	e.curiosity.SetLimits(e.profile.CuriosityMaxPerDay, e.profile.CuriosityCooldown)
}

// Status reports the engine's observable state for the status surface.
func (e *Engine) Status() storage.Record {
	e.mu.Lock()
	done := make(map[string]interface{}, len(e.levelDone))
	for level, ts := range e.levelDone {
		if !ts.IsZero() {
			done[level] = ts.Unix()
		}
	}
	stasis := e.stasis
	paused := e.paused
	dev := e.dev
	streak := e.l2Streak
	e.mu.Unlock()

	rec := storage.Record{
		"idle_seconds": e.IdleSeconds(),
		"in_burst":     e.inBurst.Load(),
		"stasis":       stasis,
		"paused":       paused,
		"dev_explore":  dev,
		"l2_streak":    streak,
		"level_done":   done,
		"alerts":       e.alerts.Pending(),
	}
	if e.curriculum != nil {
		if rates, err := e.curriculum.Rates(); err == nil {
			rec["curriculum"] = rates
		}
	}
	if n, err := e.store.Count(storage.StreamSkills); err == nil {
		rec["skills"] = n
	}
	if n, err := e.store.Count(storage.StreamExperiences); err == nil {
		rec["experiences"] = n
	}
	return rec
}

// Tick runs one guarded heartbeat. Concurrent ticks are dropped, not
// queued; alerts drain after every attempt, even a skipped one.
func (e *Engine) Tick(ctx context.Context, abort func() bool) {
	defer e.alerts.Drain()
	if !e.tickMu.TryLock() {
		return
	}
	defer e.tickMu.Unlock()

	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return
	}

	ctx, span := e.tracer.StartSpan(ctx, "autonomic.tick")
	defer e.tracer.EndSpan(span)

	e.updateStasis()
	idle := time.Duration(e.IdleSeconds()) * time.Second

	e.mu.Lock()
	p := e.profile
	stasis := e.stasis
	e.mu.Unlock()

	if abort == nil {
		abort = func() bool { return false }
	}

	if e.due(levelReflect, idle, p.ReflectIdle, p.ReflectRate) {
		e.runLevel(ctx, levelReflect, func() (bool, error) { return e.doReflect(ctx) })
	}
	if abort() {
		return
	}
	if !stasis && e.due(levelTest, idle, p.TestIdle, p.TestRate) {
		e.runLevel(ctx, levelTest, func() (bool, error) { return e.doTestAndLearn(ctx, abort) })
	}
	if abort() {
		return
	}
	if !stasis && e.due(levelHeal, idle, p.HealIdle, p.HealRate) {
		e.runLevel(ctx, levelHeal, func() (bool, error) { return e.doHealSuggestions(ctx) })
	}
	if abort() {
		return
	}
	e.drainInbox(ctx)
	if e.due(levelHygiene, idle, 0, p.HygieneRate) {
		e.runLevel(ctx, levelHygiene, func() (bool, error) { return e.doHygiene(ctx) })
	}
	if abort() {
		return
	}
	curiosityRate := p.CuriosityRate
	if stasis {
		curiosityRate = p.StasisCuriosityRate
	}
	if e.due(levelCuriosity, idle, p.CuriosityIdle, curiosityRate) {
		e.runLevel(ctx, levelCuriosity, func() (bool, error) { return e.doCuriosity(ctx) })
	}
	if abort() {
		return
	}
	if e.due(levelWeb, idle, 0, p.WebExploreRate) {
		e.runLevel(ctx, levelWeb, func() (bool, error) { return e.doWebExplore(ctx, "") })
	}
	if abort() {
		return
	}
	if e.brain != nil {
		if dec := e.brain.MaybeSwitch(ctx); dec != nil && dec.Applied {
			e.alerts.Push(fmt.Sprintf("brain switch: %s -> %s (score %.2f)",
				dec.From, dec.To, dec.Score))
		}
	}
	if e.due(levelBurst, idle, p.BurstIdle, p.BurstRate) {
		e.runLevel(ctx, levelBurst, func() (bool, error) { return e.runBurst(ctx, abort) })
	}
	e.saveState()
}

// due applies the idle-threshold and rate-limit gates for one level.
func (e *Engine) due(level string, idle, idleNeed, rate time.Duration) bool {
	if idleNeed > 0 && idle < idleNeed {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.levelDone[level]
	if ok && time.Since(last) < rate {
		return false
	}
	return true
}

// runLevel executes one level, stamps its completion, and records the
// outcome to the metrics store. Level errors are logged, never fatal.
func (e *Engine) runLevel(ctx context.Context, level string, fn func() (bool, error)) {
	ctx, span := e.tracer.StartSpan(ctx, "autonomic.level."+level)
	start := time.Now()
	productive, err := fn()
	e.tracer.EndSpan(span)

	e.mu.Lock()
	e.levelDone[level] = time.Now()
	if productive {
		e.stasis = false
	}
	e.mu.Unlock()

	detail := ""
	if err != nil {
		detail = err.Error()
		e.logger.Warn("level failed", zap.String("level", level), zap.Error(err))
	} else {
		e.logger.Debug("level done", zap.String("level", level),
			zap.Bool("productive", productive),
			zap.Duration("elapsed", time.Since(start)))
	}
	if e.metrics != nil {
		_ = e.metrics.RecordLevelRun(ctx, metrics.LevelRun{
			Level: level, OK: err == nil, Detail: detail,
		})
	}
}

// stateHash fingerprints the learning state: stream counts, curriculum
// rates, and a 10-minute time bucket so a genuinely idle system still
// rolls its hash eventually.
func (e *Engine) stateHash() string {
	skills, _ := e.store.Count(storage.StreamSkills)
	exps, _ := e.store.Count(storage.StreamExperiences)
	insights, _ := e.store.Count(storage.StreamInsights)
	var easy, medium float64
	if e.curriculum != nil {
		if rates, err := e.curriculum.Rates(); err == nil {
			easy, medium = rates.Easy, rates.Medium
		}
	}
	raw := fmt.Sprintf("%d|%d|%d|easy:%.2f|medium:%.2f|%d",
		skills, exps, insights, easy, medium, time.Now().Unix()/stasisBucket)
	sum := md5.Sum([]byte(raw))
	return fmt.Sprintf("%x", sum)[:8]
}

// updateStasis maintains the hash window. A full window of identical
// hashes declares stasis; stasis auto-expires after ten minutes so the
// engine re-examines the world even without external input.
func (e *Engine) updateStasis() {
	hash := e.stateHash()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prevHashes = append(e.prevHashes, hash)
	if len(e.prevHashes) > e.profile.StasisThreshold {
		e.prevHashes = e.prevHashes[len(e.prevHashes)-e.profile.StasisThreshold:]
	}
	if e.stasis && time.Since(e.stasisSince) > stasisExpiry {
		e.stasis = false
		e.prevHashes = e.prevHashes[:0]
		e.logger.Info("stasis expired, resuming full activity")
		return
	}
	if e.stasis || len(e.prevHashes) < e.profile.StasisThreshold {
		return
	}
	for _, h := range e.prevHashes {
		if h != hash {
			return
		}
	}
	e.stasis = true
	e.stasisSince = time.Now()
	e.logger.Info("stasis detected, damping test and heal levels",
		zap.String("hash", hash))
}

// clearStasis resets the stasis window after productive work.
func (e *Engine) clearStasis() {
	e.mu.Lock()
	e.stasis = false
	e.prevHashes = e.prevHashes[:0]
	e.mu.Unlock()
}

// drainInbox claims queued validation jobs and classifies them through
// the self-tester, recording each outcome as a synthetic experience.
func (e *Engine) drainInbox(ctx context.Context) {
	if e.queue == nil {
		return
	}
	for i := 0; i < drainPerTick; i++ {
		id, job, ok, err := e.queue.Claim()
		if err != nil || !ok {
			return
		}
		text := storage.Str(job, "text")
		jobCtx, cancel := context.WithTimeout(ctx, drainJobCap)
		intent, cerr := e.tester.Classify(jobCtx, text)
		cancel()
		success := cerr == nil && intent.Type != ""
		result := storage.Record{"intent_type": intent.Type}
		if cerr != nil {
			result["error"] = cerr.Error()
		}
		if err := e.queue.Complete(id, result, success); err != nil {
			e.logger.Warn("inbox complete failed", zap.String("job", id), zap.Error(err))
		}
		if e.recorder != nil {
			_, _ = e.recorder.RecordExperience(learning.Experience{
				UserText: text,
				Intent:   learning.Intent{Type: intent.Type, Tool: intent.Tool},
				Result:   fmt.Sprintf("inbox job %s classified as %s", id, intent.Type),
				Success:  success,
				Source:   "inbox",
			})
		}
	}
}

// RunOnce performs a single tick, for the CLI and tests.
func (e *Engine) RunOnce(ctx context.Context) {
	e.Tick(ctx, nil)
}

// RunForever starts the cron heartbeat and blocks until the context is
// cancelled. State is saved and the PID file removed on the way out.
func (e *Engine) RunForever(ctx context.Context) error {
	pidPath := filepath.Join(filepath.Dir(e.store.Dir()), pidFile)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		e.logger.Warn("pid file write failed", zap.Error(err))
	}
	defer os.Remove(pidPath)

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", int(e.profile.Heartbeat/time.Second))
	if _, err := c.AddFunc(spec, func() {
		e.Tick(ctx, func() bool { return ctx.Err() != nil })
	}); err != nil {
		return fmt.Errorf("heartbeat schedule: %w", err)
	}
	c.Start()
	e.logger.Info("autonomic engine running",
		zap.Duration("heartbeat", e.profile.Heartbeat),
		zap.Bool("dev_explore", e.dev))

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(e.profile.Heartbeat):
		e.logger.Warn("tick did not finish before shutdown deadline")
	}
	e.saveState()
	e.logger.Info("autonomic engine stopped")
	return nil
}

func (e *Engine) statePath() string {
	return filepath.Join(e.store.Dir(), stateFile)
}

// saveState persists level timestamps and the hash window. Stasis is
// intentionally excluded.
func (e *Engine) saveState() {
	e.mu.Lock()
	st := engineState{
		LevelDone:  make(map[string]int64, len(e.levelDone)),
		PrevHashes: append([]string(nil), e.prevHashes...),
		L2Streak:   e.l2Streak,
		SavedTs:    time.Now().UnixMilli(),
	}
	for level, ts := range e.levelDone {
		st.LevelDone[level] = ts.UnixMilli()
	}
	e.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	tmp := e.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		e.logger.Warn("state save failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, e.statePath()); err != nil {
		e.logger.Warn("state rename failed", zap.Error(err))
	}
}

func (e *Engine) loadState() {
	data, err := os.ReadFile(e.statePath())
	if err != nil {
		return
	}
	var st engineState
	if err := json.Unmarshal(data, &st); err != nil {
		e.logger.Warn("state file corrupt, starting fresh", zap.Error(err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for level, ms := range st.LevelDone {
		e.levelDone[level] = time.UnixMilli(ms)
	}
	e.prevHashes = st.PrevHashes
	e.l2Streak = st.L2Streak
}
