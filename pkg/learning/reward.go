// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/storage"
)

// Reward window parameters. A drop of more than five points in success
// rate between adjacent windows counts as a regression.
const (
	rewardWindow    = 100
	rewardThreshold = 0.05
	rewardMinSample = 5
)

// RewardTracker derives a reward signal from the experience stream by
// comparing success rates across rolling windows.
type RewardTracker struct {
	store  *storage.Store
	logger *zap.Logger
}

// NewRewardTracker builds a tracker over the given store.
func NewRewardTracker(store *storage.Store, logger *zap.Logger) *RewardTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RewardTracker{store: store, logger: logger}
}

// Reward summarizes one window of experiences.
type Reward struct {
	SuccessRate float64 `json:"success_rate"`
	AvgLatency  float64 `json:"avg_latency"`
	Count       int     `json:"count"`
}

// Compute returns metrics over the last window experiences (window <= 0
// uses the default of 100). Fewer than five records yields zeros.
func (t *RewardTracker) Compute(window int) (Reward, error) {
	if window <= 0 {
		window = rewardWindow
	}
	exps, err := t.store.Read(storage.StreamExperiences, window)
	if err != nil {
		return Reward{}, err
	}
	if len(exps) < rewardMinSample {
		return Reward{}, nil
	}
	ok := 0
	var latSum float64
	latCount := 0
	for _, e := range exps {
		if storage.Bool(e, "success") {
			ok++
		}
		if lat := storage.Float(e, "elapsed_sec"); lat > 0 {
			latSum += lat
			latCount++
		}
	}
	avg := latSum / math.Max(float64(latCount), 1)
	return Reward{
		SuccessRate: round4(float64(ok) / float64(len(exps))),
		AvgLatency:  math.Round(avg*100) / 100,
		Count:       len(exps),
	}, nil
}

// Regression is the verdict of a current-vs-previous window comparison.
type Regression struct {
	Regressed    bool    `json:"regressed"`
	Reason       string  `json:"reason,omitempty"`
	CurrentRate  float64 `json:"current_rate"`
	PreviousRate float64 `json:"previous_rate"`
	Delta        float64 `json:"delta"`
}

// DetectRegression compares the newest window against the one before
// it. With fewer records than one full window the verdict is
// "insufficient_data"; with exactly one window, "no_previous_window".
func (t *RewardTracker) DetectRegression() (Regression, error) {
	exps, err := t.store.Read(storage.StreamExperiences, rewardWindow*2)
	if err != nil {
		return Regression{}, err
	}
	if len(exps) < rewardWindow {
		return Regression{Reason: "insufficient_data"}, nil
	}
	current := exps[len(exps)-rewardWindow:]
	previous := exps[:len(exps)-rewardWindow]
	if len(previous) == 0 {
		return Regression{Reason: "no_previous_window"}, nil
	}
	curRate := successRate(current)
	prevRate := successRate(previous)
	delta := curRate - prevRate
	return Regression{
		Regressed:    delta < -rewardThreshold,
		CurrentRate:  round4(curRate),
		PreviousRate: round4(prevRate),
		Delta:        round4(delta),
	}, nil
}

// Snapshot persists the current metrics to the reward snapshot stream
// and returns them.
func (t *RewardTracker) Snapshot() (Reward, error) {
	m, err := t.Compute(0)
	if err != nil {
		return Reward{}, err
	}
	rec := storage.Record{
		"success_rate": m.SuccessRate,
		"avg_latency":  m.AvgLatency,
		"count":        m.Count,
	}
	if err := t.store.Append(storage.StreamRewardSnapshots, rec); err != nil {
		return Reward{}, err
	}
	return m, nil
}

// Suspect is a tool whose recent failure rate crossed one half.
type Suspect struct {
	Tool     string  `json:"tool"`
	FailRate float64 `json:"fail_rate"`
}

// FindSuspects lists tools with at least three recent uses failing more
// than half the time, worst first, capped at five.
func (t *RewardTracker) FindSuspects() ([]Suspect, error) {
	exps, err := t.store.Read(storage.StreamExperiences, rewardWindow)
	if err != nil {
		return nil, err
	}
	type stat struct{ ok, fail int }
	stats := make(map[string]*stat)
	for _, e := range exps {
		tool := storage.Str(e, "tool_used")
		if tool == "" {
			tool = storage.Str(e, "intent_type")
		}
		if tool == "" {
			continue
		}
		st, found := stats[tool]
		if !found {
			st = &stat{}
			stats[tool] = st
		}
		if storage.Bool(e, "success") {
			st.ok++
		} else {
			st.fail++
		}
	}
	var suspects []Suspect
	for tool, st := range stats {
		total := st.ok + st.fail
		if total >= 3 && float64(st.fail)/float64(total) > 0.5 {
			suspects = append(suspects, Suspect{
				Tool:     tool,
				FailRate: math.Round(float64(st.fail)/float64(total)*100) / 100,
			})
		}
	}
	sort.Slice(suspects, func(i, j int) bool {
		if suspects[i].FailRate != suspects[j].FailRate {
			return suspects[i].FailRate > suspects[j].FailRate
		}
		return suspects[i].Tool < suspects[j].Tool
	})
	if len(suspects) > 5 {
		suspects = suspects[:5]
	}
	return suspects, nil
}

func successRate(exps []storage.Record) float64 {
	if len(exps) == 0 {
		return 0
	}
	ok := 0
	for _, e := range exps {
		if storage.Bool(e, "success") {
			ok++
		}
	}
	return float64(ok) / float64(len(exps))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
