// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/treadle/pkg/config"
)

func TestProfiles(t *testing.T) {
	normal := NormalProfile()
	assert.Equal(t, 60*time.Second, normal.Heartbeat)
	assert.Equal(t, 6, normal.StasisThreshold)
	assert.Equal(t, 10, normal.CuriosityMaxPerDay)
	assert.Equal(t, 30*time.Minute, normal.BurstIdle)

	dev := DevExploreProfile()
	assert.Equal(t, 30*time.Second, dev.Heartbeat)
	assert.Equal(t, 20, dev.CuriosityMaxPerDay)
	assert.Less(t, dev.TestIdle, normal.TestIdle,
		"the dev profile is aggressive across the board")
	assert.Less(t, dev.BurstIdle, normal.BurstIdle)
}

func TestIsDevExplore(t *testing.T) {
	t.Setenv(config.EnvDevExplore, "")
	t.Setenv(config.EnvProfile, "")
	assert.False(t, IsDevExplore())

	t.Setenv(config.EnvDevExplore, "true")
	assert.True(t, IsDevExplore())

	t.Setenv(config.EnvDevExplore, "")
	t.Setenv(config.EnvProfile, "dev")
	assert.True(t, IsDevExplore())
}

func TestProfileFor_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvHeartbeatSeconds, "15")
	t.Setenv("TREADLE_REFLECT_IDLE_S", "45")
	t.Setenv("TREADLE_CURIOSITY_MAX_PER_DAY", "3")

	p := ProfileFor(false)
	assert.Equal(t, 15*time.Second, p.Heartbeat)
	assert.Equal(t, 45*time.Second, p.ReflectIdle)
	assert.Equal(t, 3, p.CuriosityMaxPerDay)
	assert.Equal(t, NormalProfile().TestRate, p.TestRate, "untouched fields keep defaults")
}

func TestProfileFor_IgnoresInvalidOverride(t *testing.T) {
	t.Setenv(config.EnvHeartbeatSeconds, "-5")
	p := ProfileFor(false)
	assert.Equal(t, NormalProfile().Heartbeat, p.Heartbeat)
}
