// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/treadle/pkg/metrics"
)

func TestHealthScore(t *testing.T) {
	assert.Zero(t, HealthScore(&metrics.BackendHealth{Calls: 10}))

	worst := &metrics.BackendHealth{
		Calls: 10, FailureRate: 1, TimeoutRate: 1, ParseErrorRate: 1,
		LatencyP95MS: 24000,
	}
	assert.InDelta(t, 1.0, HealthScore(worst), 0.001, "latency clamps at the norm")

	failing := &metrics.BackendHealth{Calls: 10, FailureRate: 0.5}
	assert.InDelta(t, 0.175, HealthScore(failing), 0.001)

	slow := &metrics.BackendHealth{Calls: 10, LatencyP95MS: 6000}
	assert.InDelta(t, 0.1, HealthScore(slow), 0.001)
}

func TestHealthScore_SwitchThreshold(t *testing.T) {
	// A backend failing most calls crosses the switch threshold; one
	// merely slow does not.
	unhealthy := &metrics.BackendHealth{Calls: 20, FailureRate: 0.9, TimeoutRate: 0.6, LatencyP95MS: 8000}
	assert.Greater(t, HealthScore(unhealthy), brainSwitchScore)

	sluggish := &metrics.BackendHealth{Calls: 20, LatencyP95MS: 20000}
	assert.Less(t, HealthScore(sluggish), brainSwitchScore)
}
