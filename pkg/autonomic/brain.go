// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/llm/factory"
	"github.com/teradata-labs/treadle/pkg/metrics"
)

const (
	brainWindow         = 30 * time.Minute
	brainMinCalls       = 5
	brainSwitchScore    = 0.55
	brainSwitchCooldown = 1800 * time.Second
	brainDailySwitchCap = 6
	brainP95Norm        = 12000.0 // ms; latency above this scores 1.0
)

// SwitchDecision describes one evaluated (and possibly applied)
// backend switch.
type SwitchDecision struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Score   float64 `json:"score"`
	Applied bool    `json:"applied"`
	Reason  string  `json:"reason"`
}

// BrainOrchestrator watches backend health and flips the active chat
// backend between the hosted and local brains when the current one is
// measurably unhealthy. Switches are cooled down and day-capped so a
// flapping backend cannot thrash the config.
type BrainOrchestrator struct {
	metrics *metrics.Store
	logger  *zap.Logger

	mu           sync.Mutex
	lastSwitch   time.Time
	switchesDay  string
	switchesUsed int
}

// NewBrainOrchestrator builds an orchestrator over the metrics store.
func NewBrainOrchestrator(store *metrics.Store, logger *zap.Logger) *BrainOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrainOrchestrator{metrics: store, logger: logger}
}

// HealthScore condenses a health window into [0,1]: failure rate
// weighs heaviest, then timeouts, parse errors, and tail latency.
func HealthScore(h *metrics.BackendHealth) float64 {
	p95 := float64(h.LatencyP95MS) / brainP95Norm
	if p95 > 1 {
		p95 = 1
	}
	return 0.35*h.FailureRate + 0.25*h.TimeoutRate + 0.2*h.ParseErrorRate + 0.2*p95
}

// MaybeSwitch evaluates the active backend and applies a switch when
// it is unhealthy and the limits allow. Returns nil when there is
// nothing to decide.
func (b *BrainOrchestrator) MaybeSwitch(ctx context.Context) *SwitchDecision {
	current := config.GetActiveBackend()
	health, err := b.metrics.BackendHealth(ctx, current, brainWindow)
	if err != nil || health == nil || health.Calls < brainMinCalls {
		return nil
	}
	score := HealthScore(health)
	if score < brainSwitchScore {
		return nil
	}

	target := config.BackendOAICompat
	if current == config.BackendOAICompat {
		target = config.BackendAnthropic
	}
	decision := &SwitchDecision{From: current, To: target, Score: score}

	b.mu.Lock()
	today := time.Now().Format("2006-01-02")
	if b.switchesDay != today {
		b.switchesDay = today
		b.switchesUsed = 0
	}
	switch {
	case time.Since(b.lastSwitch) < brainSwitchCooldown:
		decision.Reason = "cooldown"
	case b.switchesUsed >= brainDailySwitchCap:
		decision.Reason = "daily cap"
	case !factory.IsBackendAvailable(target):
		decision.Reason = "target unavailable"
	default:
		b.switchesUsed++
		b.lastSwitch = time.Now()
	}
	blocked := decision.Reason != ""
	b.mu.Unlock()
	if blocked {
		b.logger.Debug("brain switch blocked",
			zap.String("reason", decision.Reason), zap.Float64("score", score))
		return decision
	}

	if err := config.Set(config.EnvBackend, target); err != nil {
		// Failed apply gives the slot back.
		b.mu.Lock()
		b.switchesUsed--
		b.lastSwitch = time.Time{}
		b.mu.Unlock()
		decision.Reason = "apply failed: " + err.Error()
		b.logger.Warn("brain switch apply failed", zap.Error(err))
		return decision
	}
	decision.Applied = true
	b.logger.Info("brain switched",
		zap.String("from", current), zap.String("to", target),
		zap.Float64("score", score))
	return decision
}
