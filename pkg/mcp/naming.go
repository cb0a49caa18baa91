// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"regexp"
	"strings"

	"github.com/teradata-labs/treadle/pkg/dispatch"
)

var nonIDChars = regexp.MustCompile(`[^A-Z0-9_]`)

// SanitizeName uppercases a server or tool name and squashes anything
// outside [A-Z0-9_] so it is legal inside an action identifier.
func SanitizeName(name string) string {
	return nonIDChars.ReplaceAllString(strings.ToUpper(name), "_")
}

// MakeActionID builds the canonical identifier for an MCP tool:
// MCP.<SERVER>.<TOOL>.v1.
func MakeActionID(server, tool string) string {
	return dispatch.MCPPrefix + SanitizeName(server) + "." + SanitizeName(tool) + ".v1"
}

// ParseActionID splits MCP.<SERVER>.<TOOL>.v1 into its sanitized server
// and tool keys. The tool segment may itself contain dots when the
// original name did.
func ParseActionID(id string) (server, tool string, ok bool) {
	if !strings.HasPrefix(id, dispatch.MCPPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(id, dispatch.MCPPrefix)
	verIdx := strings.LastIndex(rest, ".v")
	if verIdx < 0 {
		return "", "", false
	}
	body := rest[:verIdx]
	dot := strings.Index(body, ".")
	if dot <= 0 || dot == len(body)-1 {
		return "", "", false
	}
	return body[:dot], body[dot+1:], true
}
