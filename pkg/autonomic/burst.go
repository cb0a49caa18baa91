// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	burstTurnSleep  = 2 * time.Second
	burstIdleAbort  = 30.0 // seconds; below this a user is active
	burstRateFactor = 0.5  // in-burst levels run at twice the cadence
	burstSQLimit    = 3
)

// burstAction is one candidate action with its pick priority.
type burstAction struct {
	name     string
	priority int
	run      func() bool // returns productive
}

// runBurst is the autonomous work session: after a long idle stretch
// the engine stops waiting for rate limits and works through whatever
// has the highest value until the budget, a stall streak, or user
// activity ends it. State is saved and stasis cleared on the way out.
func (e *Engine) runBurst(ctx context.Context, abort func() bool) (bool, error) {
	if !e.inBurst.CompareAndSwap(false, true) {
		return false, nil
	}
	start := time.Now()
	turns, productive, stall, sqCount := 0, 0, 0, 0

	defer func() {
		e.inBurst.Store(false)
		e.clearStasis()
		e.saveState()
		audit := storage.Record{
			"ts_ms":      time.Now().UnixMilli(),
			"event":      "burst_end",
			"turns":      turns,
			"productive": productive,
			"elapsed_s":  int(time.Since(start).Seconds()),
		}
		if err := e.store.Append(storage.StreamAutonomicAudit, audit); err != nil {
			e.logger.Debug("burst audit failed", zap.Error(err))
		}
		e.logger.Info("burst ended",
			zap.Int("turns", turns), zap.Int("productive", productive),
			zap.Duration("elapsed", time.Since(start)))
	}()

	e.logger.Info("burst started")
	for {
		if time.Since(start) > e.profile.BurstMaxSec {
			break
		}
		if abort() || ctx.Err() != nil {
			break
		}
		if e.IdleSeconds() < burstIdleAbort {
			e.logger.Info("burst aborted, user active")
			break
		}
		if stall >= e.profile.BurstStallLimit {
			e.logger.Info("burst stalled", zap.Int("turns", turns))
			break
		}

		action := e.pickBurstAction(ctx, abort, &sqCount)
		if action == nil {
			break
		}
		turns++
		if action.run() {
			productive++
			stall = 0
			e.mu.Lock()
			e.levelDone[action.name] = time.Now()
			e.mu.Unlock()
		} else {
			stall++
		}
		time.Sleep(burstTurnSleep)
	}
	return productive > 0, nil
}

// pickBurstAction selects the highest-priority applicable action:
// testing beats healing beats inbox work beats exploration, with
// self-questions and random stimuli as fallbacks so a burst turn is
// never empty-handed.
func (e *Engine) pickBurstAction(ctx context.Context, abort func() bool, sqCount *int) *burstAction {
	profile := e.profiles.get(e.store)
	known := e.knownTools()
	var candidates []burstAction

	// Testing only earns its slot when there is signal to chase:
	// failing or untested tools, or a recent run of real failures.
	if e.burstDue(levelTest, e.profile.TestRate) && e.testNeeded(profile, known) {
		candidates = append(candidates, burstAction{levelTest, 5, func() bool {
			p, err := e.doTestAndLearn(ctx, abort)
			return err == nil && p
		}})
	}
	if e.burstDue(levelHeal, e.profile.HealRate) {
		candidates = append(candidates, burstAction{levelHeal, 4, func() bool {
			p, err := e.doHealSuggestions(ctx)
			return err == nil && p
		}})
	}
	if e.queue != nil {
		if pending, err := e.queue.Pending(); err == nil && pending > 0 {
			candidates = append(candidates, burstAction{"drain_inbox", 4, func() bool {
				e.drainInbox(ctx)
				return true
			}})
		}
	}
	if e.burstDue(levelWeb, e.profile.WebExploreRate) {
		candidates = append(candidates, burstAction{levelWeb, 3, func() bool {
			p, err := e.doWebExplore(ctx, "")
			return err == nil && p
		}})
	}
	if e.curiosity.CanRun() {
		candidates = append(candidates, burstAction{levelCuriosity, 2, func() bool {
			p, err := e.doCuriosity(ctx)
			return err == nil && p
		}})
	}
	if e.burstDue(levelReflect, e.profile.ReflectRate) {
		candidates = append(candidates, burstAction{levelReflect, 1, func() bool {
			p, err := e.doReflect(ctx)
			return err == nil && p
		}})
	}
	if *sqCount < burstSQLimit && e.provider != nil {
		candidates = append(candidates, burstAction{"self_question", 0, func() bool {
			*sqCount++
			return e.runSelfQuestion(ctx)
		}})
	}
	if stim, ok := e.stimulus.Pick(ctx, profile, known); ok {
		candidates = append(candidates, burstAction{"stimulus", 0, func() bool {
			return e.executeStimulus(ctx, stim)
		}})
	}

	var best *burstAction
	for i := range candidates {
		if best == nil || candidates[i].priority > best.priority {
			best = &candidates[i]
		}
	}
	return best
}

// burstDue is the in-burst rate gate: half the normal cadence, no
// idle requirement (a burst is idle by construction).
func (e *Engine) burstDue(level string, rate time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.levelDone[level]
	return !ok || time.Since(last) >= time.Duration(float64(rate)*burstRateFactor)
}

// testNeeded gates the expensive test batch on actual signal: failing
// or untested tools, or at least two live failures in the recent
// window.
func (e *Engine) testNeeded(profile ToolProfile, known []string) bool {
	if len(profile.FailingTools(2, 0.4)) > 0 {
		return true
	}
	if len(profile.UntestedTools(known)) > 0 {
		return true
	}
	exps, err := e.store.Read(storage.StreamExperiences, 40)
	if err != nil {
		return false
	}
	fails := 0
	for _, rec := range exps {
		if !storage.Bool(rec, "success") && storage.Str(rec, "source") == "" {
			fails++
		}
	}
	return fails >= 2
}

// executeStimulus turns one stimulus into work: knowledge quests go
// through web exploration, everything else becomes a self-directed
// model turn. The stimulus is marked done regardless of outcome.
func (e *Engine) executeStimulus(ctx context.Context, stim Stimulus) bool {
	defer e.stimulus.MarkDone(stim)
	switch stim.Category {
	case StimKnowledgeQuest:
		p, err := e.doWebExplore(ctx, stim.Prompt)
		return err == nil && p
	default:
		d := sqDecision{Question: stim.Prompt, Action: "reflect"}
		result, ok := e.executeSQAction(ctx, d)
		return ok && result != ""
	}
}
