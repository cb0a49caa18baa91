// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"regexp"
	"strings"
)

// dangerousPatterns is the safety blocklist for model-generated code:
// process spawn, arbitrary-string eval/exec, attribute and import
// machinery that defeats static checks, serialization gadgets, and
// filesystem mutation. Matching is whitespace-normalized so "os .
// system(" cannot slip past.
var dangerousPatterns = []string{
	"os.system(", "subprocess.", "eval(", "exec(", "compile(",
	"__import__(", "__builtins__", "getattr(", "setattr(", "delattr(",
	"base64.", "codecs.", "__class__", "__subclasses__",
	"globals()[", "locals()[",
	"os.popen", "os.execve", "os.execvp", "os.execl",
	"os.remove", "os.unlink", "os.rmdir",
	"shutil.rmtree", "shutil.move",
	"ctypes.", "importlib.", "pickle.",
}

// networkPatterns marks code that needs internet access. Such code is
// refused unless the caller allowed network use, because the sandbox
// blocks the network and the failure mode (hanging DNS) is confusing.
var networkPatterns = []string{
	"requests.", "urllib.", "http.client", "httpx.", "aiohttp.",
	"playwright", "selenium", "socket.connect", "urlopen(",
	"curl ", "wget ",
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// open() with a write/append/exclusive mode literal.
	openWriteModeRe = regexp.MustCompile(`open\s*\([^)]*["']([wxa][+b]*|r[b]?\+)["']`)
	// open() whose mode is a bare variable, which bypasses every
	// string-literal check above.
	openVarModeRe = regexp.MustCompile(`open\s*\([^)]*,\s*([a-zA-Z_]\w*)\s*\)`)
)

// DangerousMatches returns the blocklist patterns found in code, after
// whitespace normalization on both sides. Indirect-variable open() is
// reported as its own pseudo-pattern. Empty means the code passed.
func DangerousMatches(code string) []string {
	normalized := whitespaceRe.ReplaceAllString(code, "")
	var matched []string
	for _, pattern := range dangerousPatterns {
		if strings.Contains(normalized, strings.ReplaceAll(pattern, " ", "")) {
			matched = append(matched, pattern)
		}
	}
	if openVarModeRe.MatchString(code) {
		matched = append(matched, "open(variable_mode)")
	}
	return matched
}

// NetworkMatches returns the network-access patterns found in code.
func NetworkMatches(code string) []string {
	var matched []string
	for _, pattern := range networkPatterns {
		if strings.Contains(code, pattern) {
			matched = append(matched, pattern)
		}
	}
	return matched
}

// OpensForWrite reports whether code opens a file in a write, append or
// exclusive mode. The healer uses this to keep generated diagnostics
// read-only; plain code execution allows writes since they land in the
// sandboxed working tree anyway.
func OpensForWrite(code string) bool {
	return openWriteModeRe.MatchString(code)
}

// netErrorSigns are stderr/stdout fragments that mean the sandbox's
// network isolation, not the code, caused the failure.
var netErrorSigns = []string{
	"name resolution", "gaierror", "name or service not known",
	"network is unreachable", "connectionrefusederror",
	"urlopen error", "connectionerror", "maxretryerror",
	"newconnectionerror",
}

// looksLikeNetFailure reports whether the combined output of a failed
// run points at blocked network access.
func looksLikeNetFailure(combined string) bool {
	lower := strings.ToLower(combined)
	for _, sign := range netErrorSigns {
		if strings.Contains(lower, sign) {
			return true
		}
	}
	return false
}
