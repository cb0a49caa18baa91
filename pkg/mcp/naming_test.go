// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/treadle/pkg/dispatch"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "N8N_PROD", SanitizeName("n8n-prod"))
	assert.Equal(t, "SEARCH_NODES", SanitizeName("search_nodes"))
	assert.Equal(t, "A_B_C", SanitizeName("a.b c"))
}

func TestMakeActionID(t *testing.T) {
	id := MakeActionID("n8n", "search-nodes")
	assert.Equal(t, "MCP.N8N.SEARCH_NODES.v1", id)
	require.NoError(t, dispatch.ValidateActionID(id))
	assert.True(t, dispatch.IsMCPAction(id))
}

func TestParseActionID(t *testing.T) {
	server, tool, ok := ParseActionID("MCP.N8N.SEARCH_NODES.v1")
	require.True(t, ok)
	assert.Equal(t, "N8N", server)
	assert.Equal(t, "SEARCH_NODES", tool)

	// Dots inside the tool segment survive.
	server, tool, ok = ParseActionID("MCP.SRV.A.B.v1")
	require.True(t, ok)
	assert.Equal(t, "SRV", server)
	assert.Equal(t, "A.B", tool)

	for _, id := range []string{"FS.READ.v1", "MCP.ONLYSERVER.v1", "MCP..X.v1", "MCP.NOVERSION"} {
		_, _, ok := ParseActionID(id)
		assert.False(t, ok, id)
	}
}
