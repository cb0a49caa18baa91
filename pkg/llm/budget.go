// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"fmt"
	"sync"
	"time"
)

// DailyBudget caps hosted-backend usage per calendar day. Counters
// reset when the local date rolls; limits are supplied on each check
// so configuration changes take effect without a restart.
type DailyBudget struct {
	mu     sync.Mutex
	date   string
	calls  int
	tokens int
}

// BudgetSnapshot is a point-in-time view of today's usage.
type BudgetSnapshot struct {
	Date   string `json:"date"`
	Calls  int    `json:"calls"`
	Tokens int    `json:"tokens"`
}

// NewDailyBudget returns an empty budget. The first check or record
// stamps today's date.
func NewDailyBudget() *DailyBudget {
	return &DailyBudget{}
}

// Exceeded reports whether today's usage has reached either limit,
// with a reason suitable for logging. Zero or negative limits are
// unlimited. Calls are checked before tokens.
func (b *DailyBudget) Exceeded(maxCalls, maxTokens int) (bool, string) {
	today := time.Now().Format("2006-01-02")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(today)

	if maxCalls > 0 && b.calls >= maxCalls {
		return true, fmt.Sprintf("daily call limit reached (%d)", maxCalls)
	}
	if maxTokens > 0 && b.tokens >= maxTokens {
		return true, fmt.Sprintf("daily token limit reached (%d)", maxTokens)
	}
	return false, ""
}

// Record adds a completed call's usage to today's counters. Only
// successful calls should be recorded: a failed call consumed no
// budget the fallback path could have used.
func (b *DailyBudget) Record(usage Usage) {
	today := time.Now().Format("2006-01-02")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(today)

	b.calls++
	b.tokens += usage.InputTokens + usage.OutputTokens
}

// Snapshot returns today's counters for status reporting.
func (b *DailyBudget) Snapshot() BudgetSnapshot {
	today := time.Now().Format("2006-01-02")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(today)

	return BudgetSnapshot{Date: b.date, Calls: b.calls, Tokens: b.tokens}
}

func (b *DailyBudget) rollLocked(today string) {
	if b.date != today {
		b.date = today
		b.calls = 0
		b.tokens = 0
	}
}
