// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package autonomic drives the background self-improvement loop: a
// cron heartbeat ticks through reflection, self-testing, healing,
// hygiene, curiosity, and web exploration, with an autonomous burst
// mode for long idle stretches. All learning flows through the shared
// JSONL streams so the interactive pulse sees every improvement.
package autonomic

import (
	"time"

	"github.com/teradata-labs/treadle/pkg/config"
)

// Profile is one timing profile: per-level idle thresholds and rate
// limits, plus stasis and curiosity budgets. Idle thresholds gate a
// level on user inactivity; rate limits bound how often it re-runs.
type Profile struct {
	Heartbeat time.Duration

	ReflectIdle time.Duration
	ReflectRate time.Duration
	TestIdle    time.Duration
	TestRate    time.Duration
	HealIdle    time.Duration
	HealRate    time.Duration
	HygieneRate time.Duration

	CuriosityIdle      time.Duration
	CuriosityRate      time.Duration
	CuriosityMaxPerDay int
	CuriosityCooldown  time.Duration

	// StasisThreshold is how many identical state hashes in a row
	// declare stasis; StasisCuriosityRate is the slowed curiosity
	// cadence while in stasis.
	StasisThreshold     int
	StasisCuriosityRate time.Duration

	BurstIdle       time.Duration
	BurstRate       time.Duration
	BurstMaxSec     time.Duration
	BurstStallLimit int

	WebExploreRate time.Duration
}

// NormalProfile is the production cadence: conservative idle
// thresholds so background work never competes with a live user.
func NormalProfile() Profile {
	return Profile{
		Heartbeat:           60 * time.Second,
		ReflectIdle:         180 * time.Second,
		ReflectRate:         300 * time.Second,
		TestIdle:            300 * time.Second,
		TestRate:            600 * time.Second,
		HealIdle:            600 * time.Second,
		HealRate:            1800 * time.Second,
		HygieneRate:         1800 * time.Second,
		CuriosityIdle:       900 * time.Second,
		CuriosityRate:       1800 * time.Second,
		CuriosityMaxPerDay:  10,
		CuriosityCooldown:   1800 * time.Second,
		StasisThreshold:     6,
		StasisCuriosityRate: 1800 * time.Second,
		BurstIdle:           1800 * time.Second,
		BurstRate:           3600 * time.Second,
		BurstMaxSec:         3600 * time.Second,
		BurstStallLimit:     5,
		WebExploreRate:      1800 * time.Second,
	}
}

// DevExploreProfile is the aggressive development cadence.
func DevExploreProfile() Profile {
	return Profile{
		Heartbeat:           30 * time.Second,
		ReflectIdle:         60 * time.Second,
		ReflectRate:         300 * time.Second,
		TestIdle:            120 * time.Second,
		TestRate:            600 * time.Second,
		HealIdle:            180 * time.Second,
		HealRate:            600 * time.Second,
		HygieneRate:         1800 * time.Second,
		CuriosityIdle:       180 * time.Second,
		CuriosityRate:       600 * time.Second,
		CuriosityMaxPerDay:  20,
		CuriosityCooldown:   600 * time.Second,
		StasisThreshold:     5,
		StasisCuriosityRate: 600 * time.Second,
		BurstIdle:           180 * time.Second,
		BurstRate:           600 * time.Second,
		BurstMaxSec:         3600 * time.Second,
		BurstStallLimit:     5,
		WebExploreRate:      900 * time.Second,
	}
}

// IsDevExplore reports whether the aggressive profile is active, via
// TREADLE_DEV_EXPLORE or TREADLE_PROFILE=dev.
func IsDevExplore() bool {
	if config.GetBool(config.EnvDevExplore, false) {
		return true
	}
	return config.GetString(config.EnvProfile, "") == "dev"
}

// ActiveProfile selects the profile for the current mode and applies
// per-level environment overrides (seconds).
func ActiveProfile() Profile {
	return ProfileFor(IsDevExplore())
}

// ProfileFor returns the profile for the given mode with environment
// overrides applied.
func ProfileFor(dev bool) Profile {
	p := NormalProfile()
	if dev {
		p = DevExploreProfile()
	}
	p.Heartbeat = envSeconds(config.EnvHeartbeatSeconds, p.Heartbeat)
	p.ReflectIdle = envSeconds("TREADLE_REFLECT_IDLE_S", p.ReflectIdle)
	p.ReflectRate = envSeconds("TREADLE_REFLECT_RATE_S", p.ReflectRate)
	p.TestIdle = envSeconds("TREADLE_TEST_IDLE_S", p.TestIdle)
	p.TestRate = envSeconds("TREADLE_TEST_RATE_S", p.TestRate)
	p.HealIdle = envSeconds("TREADLE_HEAL_IDLE_S", p.HealIdle)
	p.HealRate = envSeconds("TREADLE_HEAL_RATE_S", p.HealRate)
	p.HygieneRate = envSeconds("TREADLE_HYGIENE_RATE_S", p.HygieneRate)
	p.CuriosityIdle = envSeconds("TREADLE_CURIOSITY_IDLE_S", p.CuriosityIdle)
	p.CuriosityRate = envSeconds("TREADLE_CURIOSITY_RATE_S", p.CuriosityRate)
	p.CuriosityCooldown = envSeconds("TREADLE_CURIOSITY_COOLDOWN_S", p.CuriosityCooldown)
	p.CuriosityMaxPerDay = config.GetInt("TREADLE_CURIOSITY_MAX_PER_DAY", p.CuriosityMaxPerDay)
	p.BurstIdle = envSeconds("TREADLE_BURST_IDLE_S", p.BurstIdle)
	p.BurstRate = envSeconds("TREADLE_BURST_RATE_S", p.BurstRate)
	p.BurstMaxSec = envSeconds("TREADLE_BURST_MAX_S", p.BurstMaxSec)
	p.WebExploreRate = envSeconds("TREADLE_WEB_EXPLORE_RATE_S", p.WebExploreRate)
	return p
}

func envSeconds(key string, def time.Duration) time.Duration {
	secs := config.GetInt(key, int(def/time.Second))
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
