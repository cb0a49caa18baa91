// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/storage"
)

// consecutiveFailLimit pauses a heal category after this many failures
// in a row; the pause lasts an hour and lifts lazily on the next check.
const (
	consecutiveFailLimit  = 3
	categoryPauseDuration = time.Hour
)

// CurriculumTracker keeps per-difficulty pass counts for the self-test
// loop and circuit-breaks heal categories that keep failing. The state
// is a single JSON record in the curriculum stream, rewritten whole on
// every change; the newest line wins on load.
type CurriculumTracker struct {
	store  *storage.Store
	logger *zap.Logger

	mu     sync.Mutex
	state  curriculumState
	loaded bool
}

type curriculumState struct {
	easyPass    int
	easyTotal   int
	mediumPass  int
	mediumTotal int
	hardPass    int
	hardTotal   int
	// categoryFails counts consecutive heal failures per category.
	categoryFails map[string]int
	// pausedUntil maps a category to its unpause time in unix seconds.
	pausedUntil map[string]int64
	lastUpdated int64
}

// NewCurriculumTracker builds a tracker over the given store.
func NewCurriculumTracker(store *storage.Store, logger *zap.Logger) *CurriculumTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurriculumTracker{store: store, logger: logger}
}

// ScenarioOutcome is one scenario verdict from a self-test batch.
type ScenarioOutcome struct {
	Difficulty string
	Passed     bool
}

// RecordResults folds a batch of scenario outcomes into the
// per-difficulty counters. Unknown difficulties count as easy.
func (c *CurriculumTracker) RecordResults(outcomes []ScenarioOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return err
	}
	for _, o := range outcomes {
		switch o.Difficulty {
		case "medium":
			c.state.mediumTotal++
			if o.Passed {
				c.state.mediumPass++
			}
		case "hard":
			c.state.hardTotal++
			if o.Passed {
				c.state.hardPass++
			}
		default:
			c.state.easyTotal++
			if o.Passed {
				c.state.easyPass++
			}
		}
	}
	return c.saveLocked()
}

// RecordHealResult tracks consecutive heal failures per category. Three
// in a row pauses the category for an hour; a success resets the count.
func (c *CurriculumTracker) RecordHealResult(category string, success bool) error {
	if category == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return err
	}
	if success {
		c.state.categoryFails[category] = 0
	} else {
		count := c.state.categoryFails[category] + 1
		c.state.categoryFails[category] = count
		if count >= consecutiveFailLimit {
			c.state.pausedUntil[category] = time.Now().Add(categoryPauseDuration).Unix()
			c.logger.Warn("heal category paused after consecutive failures",
				zap.String("category", category), zap.Int("fails", count))
		}
	}
	return c.saveLocked()
}

// Rates reports per-difficulty success rates and totals. Untested
// difficulties read as zero.
type Rates struct {
	Easy        float64 `json:"easy_success_rate"`
	EasyTotal   int     `json:"easy_total"`
	Medium      float64 `json:"medium_success_rate"`
	MediumTotal int     `json:"medium_total"`
	Hard        float64 `json:"hard_success_rate"`
	HardTotal   int     `json:"hard_total"`
}

// Rates returns the current success rates per difficulty.
func (c *CurriculumTracker) Rates() (Rates, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return Rates{}, err
	}
	return Rates{
		Easy:        rate(c.state.easyPass, c.state.easyTotal),
		EasyTotal:   c.state.easyTotal,
		Medium:      rate(c.state.mediumPass, c.state.mediumTotal),
		MediumTotal: c.state.mediumTotal,
		Hard:        rate(c.state.hardPass, c.state.hardTotal),
		HardTotal:   c.state.hardTotal,
	}, nil
}

// IsCategoryPaused reports whether a heal category is inside its pause
// window. Expired pauses are dropped in memory; the next state change
// persists the removal.
func (c *CurriculumTracker) IsCategoryPaused(category string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return false, err
	}
	until, ok := c.state.pausedUntil[category]
	if !ok || until == 0 {
		return false, nil
	}
	if time.Now().Unix() < until {
		return true, nil
	}
	delete(c.state.pausedUntil, category)
	return false, nil
}

// Status returns the raw counters for the engine status surface.
func (c *CurriculumTracker) Status() (storage.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return nil, err
	}
	return c.state.record(), nil
}

func (c *CurriculumTracker) loadLocked() error {
	if c.loaded {
		return nil
	}
	c.state = curriculumState{
		categoryFails: make(map[string]int),
		pausedUntil:   make(map[string]int64),
	}
	recs, err := c.store.Read(storage.StreamCurriculum, 0)
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		c.state.apply(recs[len(recs)-1])
	}
	c.loaded = true
	return nil
}

func (c *CurriculumTracker) saveLocked() error {
	c.state.lastUpdated = time.Now().UnixMilli()
	return c.store.Rewrite(storage.StreamCurriculum, []storage.Record{c.state.record()})
}

func (s *curriculumState) apply(rec storage.Record) {
	s.easyPass = int(storage.Float(rec, "easy_pass"))
	s.easyTotal = int(storage.Float(rec, "easy_total"))
	s.mediumPass = int(storage.Float(rec, "medium_pass"))
	s.mediumTotal = int(storage.Float(rec, "medium_total"))
	s.hardPass = int(storage.Float(rec, "hard_pass"))
	s.hardTotal = int(storage.Float(rec, "hard_total"))
	s.lastUpdated = int64(storage.Float(rec, "last_updated"))
	if fails, ok := rec["category_fails"].(map[string]interface{}); ok {
		for cat, v := range fails {
			if count, ok := v.(float64); ok {
				s.categoryFails[cat] = int(count)
			}
		}
	}
	if paused, ok := rec["paused_categories"].(map[string]interface{}); ok {
		for cat, v := range paused {
			if until, ok := v.(float64); ok {
				s.pausedUntil[cat] = int64(until)
			}
		}
	}
}

func (s curriculumState) record() storage.Record {
	return storage.Record{
		"ts_ms":             s.lastUpdated,
		"easy_pass":         s.easyPass,
		"easy_total":        s.easyTotal,
		"medium_pass":       s.mediumPass,
		"medium_total":      s.mediumTotal,
		"hard_pass":         s.hardPass,
		"hard_total":        s.hardTotal,
		"category_fails":    s.categoryFails,
		"paused_categories": s.pausedUntil,
		"last_updated":      s.lastUpdated,
	}
}

func rate(pass, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(pass) / float64(total)
}
