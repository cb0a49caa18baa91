// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/teradata-labs/treadle/pkg/config"
)

// ServerConfig describes one entry in mcp_servers.json. Stdio servers
// use Command/Args/Env/Cwd; sse and streamable_http use URL/Headers.
type ServerConfig struct {
	Transport string            `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
}

// Supported transport names.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// TransportName returns the configured transport, defaulting to stdio.
func (c ServerConfig) TransportName() string {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

// configDoc matches the two accepted top-level layouts. Claude-style
// files use mcpServers; ours uses servers.
type configDoc struct {
	Servers    map[string]ServerConfig `json:"servers"`
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// LoadServerConfigs reads mcp_servers.json. A missing file is an empty
// configuration, not an error.
func LoadServerConfigs(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]ServerConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	servers := doc.Servers
	if len(servers) == 0 && len(doc.MCPServers) > 0 {
		servers = doc.MCPServers
	}
	if servers == nil {
		servers = map[string]ServerConfig{}
	}
	return servers, nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

func expandEnvRefs(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// ResolveEnvRefs substitutes ${VAR} references in every string field so
// secrets stay out of the config file itself.
func (c ServerConfig) ResolveEnvRefs() ServerConfig {
	out := c
	out.Command = expandEnvRefs(c.Command)
	out.Cwd = expandEnvRefs(c.Cwd)
	out.URL = expandEnvRefs(c.URL)
	if len(c.Args) > 0 {
		out.Args = make([]string, len(c.Args))
		for i, a := range c.Args {
			out.Args[i] = expandEnvRefs(a)
		}
	}
	if len(c.Env) > 0 {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = expandEnvRefs(v)
		}
	}
	if len(c.Headers) > 0 {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = expandEnvRefs(v)
		}
	}
	return out
}

// modifyConfig applies fn to the server table under an exclusive flock
// and rewrites the file in place, so concurrent enable/disable calls
// from chat and the engine never clobber each other. fn receives the
// live table and reports whether anything changed.
func modifyConfig(path string, fn func(servers map[string]ServerConfig) (bool, error)) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc configDoc
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	// Normalize to the servers key; a Claude-style file is rewritten in
	// our layout on first modification.
	servers := doc.Servers
	if len(servers) == 0 && len(doc.MCPServers) > 0 {
		servers = doc.MCPServers
	}
	if servers == nil {
		servers = map[string]ServerConfig{}
	}

	changed, err := fn(servers)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	out, err := json.MarshalIndent(configDoc{Servers: servers}, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(out, 0); err != nil {
		return err
	}
	return f.Sync()
}

// Timeout bounds for one tool call.
const (
	minCallTimeout     = 5 * time.Second
	maxCallTimeout     = 300 * time.Second
	defaultCallTimeout = 45 * time.Second
)

// callTimeout reads the per-call timeout from the environment, clamped
// to sane bounds.
func callTimeout() time.Duration {
	sec := config.GetInt(config.EnvMCPToolTimeout, int(defaultCallTimeout/time.Second))
	d := time.Duration(sec) * time.Second
	if d < minCallTimeout {
		return minCallTimeout
	}
	if d > maxCallTimeout {
		return maxCallTimeout
	}
	return d
}
