// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"sort"
	"sync"
	"time"

	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	profileWindow   = 200
	profileCacheAge = 300 * time.Second
)

// ToolStat aggregates outcomes for one tool over the recent window.
type ToolStat struct {
	Uses     int
	Fails    int
	LastUsed int64
}

// FailRate returns fails/uses, or 0 for an unused tool.
func (s ToolStat) FailRate() float64 {
	if s.Uses == 0 {
		return 0
	}
	return float64(s.Fails) / float64(s.Uses)
}

// ToolProfile is the per-tool outcome map the levels consult when
// deciding what to test, heal, or explore.
type ToolProfile map[string]ToolStat

// FailingTools lists tools with at least minUses uses and a failure
// rate above the threshold, worst first.
func (p ToolProfile) FailingTools(minUses int, threshold float64) []string {
	var out []string
	for name, st := range p {
		if st.Uses >= minUses && st.FailRate() > threshold {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if p[out[i]].FailRate() != p[out[j]].FailRate() {
			return p[out[i]].FailRate() > p[out[j]].FailRate()
		}
		return out[i] < out[j]
	})
	return out
}

// UntestedTools returns known tool names absent from the profile.
func (p ToolProfile) UntestedTools(known []string) []string {
	var out []string
	for _, name := range known {
		if _, ok := p[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// profileCache memoizes the tool profile for a few minutes; reflect,
// burst, and curiosity all read it every tick.
type profileCache struct {
	mu      sync.Mutex
	built   time.Time
	profile ToolProfile
}

func (c *profileCache) get(store *storage.Store) ToolProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile != nil && time.Since(c.built) < profileCacheAge {
		return c.profile
	}
	c.profile = buildToolProfile(store, profileWindow)
	c.built = time.Now()
	return c.profile
}

func (c *profileCache) invalidate() {
	c.mu.Lock()
	c.profile = nil
	c.mu.Unlock()
}

// buildToolProfile folds the last window experiences into per-tool
// use/fail counts. Read errors yield an empty profile; the levels
// treat that as nothing to act on.
func buildToolProfile(store *storage.Store, window int) ToolProfile {
	profile := ToolProfile{}
	exps, err := store.Read(storage.StreamExperiences, window)
	if err != nil {
		return profile
	}
	for _, rec := range exps {
		tool := storage.Str(rec, "tool_used")
		if tool == "" {
			continue
		}
		st := profile[tool]
		st.Uses++
		if !storage.Bool(rec, "success") {
			st.Fails++
		}
		if ts := storage.TsMs(rec); ts > st.LastUsed {
			st.LastUsed = ts
		}
		profile[tool] = st
	}
	return profile
}
