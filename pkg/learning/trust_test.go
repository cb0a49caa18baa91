// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/treadle/pkg/storage"
)

func TestTrustScore(t *testing.T) {
	now := time.Now().UnixMilli()
	weekAgo := now - 7*24*3600*1000
	fortnightAgo := now - 14*24*3600*1000

	assert.Equal(t, 1.0, TrustScore(storage.Record{"ts_ms": now, "success": true}))
	assert.Equal(t, 0.3, TrustScore(storage.Record{"ts_ms": now, "success": false}))
	assert.Equal(t, 0.5, TrustScore(storage.Record{"ts_ms": now}))

	assert.InDelta(t, 0.5, TrustScore(storage.Record{"ts_ms": weekAgo, "success": true}), 0.001,
		"trust halves every seven days")
	assert.InDelta(t, 0.25, TrustScore(storage.Record{"ts_ms": fortnightAgo, "success": true}), 0.001)

	assert.Equal(t, 1.0, TrustScore(storage.Record{"success": true}),
		"records without a timestamp count as fresh")

	old := TrustScore(storage.Record{"ts_ms": fortnightAgo, "success": false})
	assert.Less(t, old, TrustFloor, "stale failures fall under the eviction floor")
}
