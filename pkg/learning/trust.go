// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"math"
	"time"

	"github.com/teradata-labs/treadle/pkg/storage"
)

// TrustFloor is the eviction threshold for hygiene pruning: records
// scoring below it (and never reused) are dropped.
const TrustFloor = 0.1

// TrustScore rates a stored record by recency and outcome, in [0, 1].
// Recency halves every seven days; outcome weighs success at 1.0,
// failure at 0.3, and records without an outcome at 0.5. A record with
// no timestamp counts as fresh.
func TrustScore(rec storage.Record) float64 {
	nowMs := time.Now().UnixMilli()
	ts := storage.TsMs(rec)
	if ts == 0 {
		ts = nowMs
	}
	ageDays := float64(nowMs-ts) / float64(dayMs)
	recency := math.Exp2(-ageDays / 7)

	quality := 0.5
	if v, ok := rec["success"]; ok {
		quality = 0.3
		if b, _ := v.(bool); b {
			quality = 1.0
		}
	}
	return math.Round(recency*quality*1000) / 1000
}
