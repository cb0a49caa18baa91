// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
)

// Manager owns every MCP server connection and projects the discovered
// tools into the dispatch registry, alias table and permission surface.
type Manager struct {
	path     string
	logger   *zap.Logger
	registry *dispatch.Registry

	// dialFor overrides transport construction in tests.
	dialFor func(name string, cfg ServerConfig) (Transport, error)

	mu      sync.RWMutex
	servers map[string]*Connection
	started bool

	watcher   *fsnotify.Watcher
	watchStop chan struct{}
}

// Options configures a Manager.
type Options struct {
	// ConfigPath is the mcp_servers.json location; empty uses the
	// standard layout.
	ConfigPath string

	// Registry receives the virtual tools; nil skips registration.
	Registry *dispatch.Registry

	Logger *zap.Logger
}

// NewManager creates a manager; Start connects the configured servers.
func NewManager(opts Options) *Manager {
	path := opts.ConfigPath
	if path == "" {
		path = config.GetMCPServersPath()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		path:     path,
		logger:   logger,
		registry: opts.Registry,
		servers:  map[string]*Connection{},
	}
}

func (m *Manager) newConnection(name string, cfg ServerConfig) *Connection {
	conn := NewConnection(name, cfg, m.logger)
	if m.dialFor != nil {
		conn.dial = func() (Transport, error) { return m.dialFor(name, cfg) }
	}
	return conn
}

// Start loads the config and connects every enabled server
// concurrently. Servers that fail to connect are dropped, not fatal:
// one broken entry must never take the rest of the bridge down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	configs, err := LoadServerConfigs(m.path)
	if err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	pending := make(map[string]*Connection)
	for name, cfg := range configs {
		if cfg.Disabled {
			m.logger.Info("mcp server disabled, skipping", zap.String("server", name))
			continue
		}
		pending[name] = m.newConnection(name, cfg)
	}

	var wg sync.WaitGroup
	for name, conn := range pending {
		wg.Add(1)
		go func(name string, conn *Connection) {
			defer wg.Done()
			if err := conn.Connect(ctx); err != nil {
				m.logger.Error("mcp connect failed",
					zap.String("server", name), zap.Error(err))
			}
		}(name, conn)
	}
	wg.Wait()

	m.mu.Lock()
	for name, conn := range pending {
		if conn.Connected() {
			m.servers[name] = conn
		}
	}
	total := 0
	for _, conn := range m.servers {
		total += len(conn.Tools())
	}
	m.mu.Unlock()

	m.logger.Info("mcp bridge started",
		zap.Int("servers", len(m.servers)), zap.Int("tools", total))
	m.syncRegistry()
	return nil
}

// Stop disconnects every server and drops their registered tools.
func (m *Manager) Stop() {
	m.stopWatcher()
	m.mu.Lock()
	for _, conn := range m.servers {
		conn.Disconnect()
	}
	m.servers = map[string]*Connection{}
	m.started = false
	m.mu.Unlock()
	m.syncRegistry()
	m.logger.Info("mcp bridge stopped")
}

// Reload tears every connection down and rebuilds from the config file.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	for _, conn := range m.servers {
		conn.Disconnect()
	}
	m.servers = map[string]*Connection{}
	m.started = false
	m.mu.Unlock()
	return m.Start(ctx)
}

// findServer resolves a server name case-insensitively.
func (m *Manager) findServer(name string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, conn := range m.servers {
		if strings.EqualFold(k, name) {
			return conn, true
		}
	}
	return nil, false
}

// Call invokes a tool on a named server.
func (m *Manager) Call(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	conn, ok := m.findServer(server)
	if !ok {
		return "", fmt.Errorf("mcp server %q not found", server)
	}
	return conn.CallTool(ctx, tool, args)
}

// CallByAction invokes a tool via its MCP.<SERVER>.<TOOL>.v1 id.
func (m *Manager) CallByAction(ctx context.Context, actionID string, args map[string]any) (string, error) {
	server, tool, ok := ParseActionID(actionID)
	if !ok {
		return "", fmt.Errorf("invalid mcp action id: %s", actionID)
	}
	return m.Call(ctx, server, tool, args)
}

// Enable clears a server's disabled flag in the config and connects it.
func (m *Manager) Enable(ctx context.Context, name string) (string, error) {
	var foundKey string
	var foundCfg ServerConfig
	err := modifyConfig(m.path, func(servers map[string]ServerConfig) (bool, error) {
		key, ok := matchKey(servers, name)
		if !ok {
			return false, fmt.Errorf("server %q not found in config (available: %s)",
				name, strings.Join(sortedKeys(servers), ", "))
		}
		cfg := servers[key]
		if !cfg.Disabled {
			return false, fmt.Errorf("server %q is already enabled", key)
		}
		cfg.Disabled = false
		servers[key] = cfg
		foundKey, foundCfg = key, cfg
		return true, nil
	})
	if err != nil {
		return "", err
	}

	conn := m.newConnection(foundKey, foundCfg)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Sprintf("%q enabled but connection failed: %v", foundKey, err), nil
	}
	m.mu.Lock()
	m.servers[foundKey] = conn
	m.mu.Unlock()
	m.syncRegistry()
	return fmt.Sprintf("%q enabled and connected (%d tools)", foundKey, len(conn.Tools())), nil
}

// Disable disconnects a server and marks it disabled in the config.
func (m *Manager) Disable(name string) (string, error) {
	m.mu.Lock()
	for k, conn := range m.servers {
		if strings.EqualFold(k, name) {
			conn.Disconnect()
			delete(m.servers, k)
		}
	}
	m.mu.Unlock()

	var foundKey string
	err := modifyConfig(m.path, func(servers map[string]ServerConfig) (bool, error) {
		key, ok := matchKey(servers, name)
		if !ok {
			return false, fmt.Errorf("server %q not found in config", name)
		}
		cfg := servers[key]
		cfg.Disabled = true
		servers[key] = cfg
		foundKey = key
		return true, nil
	})
	if err != nil {
		return "", err
	}
	m.syncRegistry()
	return fmt.Sprintf("%q disabled and disconnected", foundKey), nil
}

// Add writes a new server into the config and connects it.
func (m *Manager) Add(ctx context.Context, name string, cfg ServerConfig) (string, error) {
	switch cfg.TransportName() {
	case TransportStdio:
		if cfg.Command == "" {
			return "", fmt.Errorf("stdio transport requires command")
		}
	case TransportSSE, TransportStreamableHTTP:
		if cfg.URL == "" {
			return "", fmt.Errorf("%s transport requires url", cfg.TransportName())
		}
	default:
		return "", fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	err := modifyConfig(m.path, func(servers map[string]ServerConfig) (bool, error) {
		if _, exists := matchKey(servers, name); exists {
			return false, fmt.Errorf("server %q already exists", name)
		}
		servers[name] = cfg
		return true, nil
	})
	if err != nil {
		return "", err
	}

	conn := m.newConnection(name, cfg)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Sprintf("%q added but connection failed: %v", name, err), nil
	}
	m.mu.Lock()
	m.servers[name] = conn
	m.mu.Unlock()
	m.syncRegistry()
	return fmt.Sprintf("%q added and connected (%d tools discovered)", name, len(conn.Tools())), nil
}

// Remove disconnects a server and deletes it from the config.
func (m *Manager) Remove(name string) (string, error) {
	m.mu.Lock()
	for k, conn := range m.servers {
		if strings.EqualFold(k, name) {
			conn.Disconnect()
			delete(m.servers, k)
		}
	}
	m.mu.Unlock()

	var foundKey string
	err := modifyConfig(m.path, func(servers map[string]ServerConfig) (bool, error) {
		key, ok := matchKey(servers, name)
		if !ok {
			return false, fmt.Errorf("server %q not found in config", name)
		}
		delete(servers, key)
		foundKey = key
		return true, nil
	})
	if err != nil {
		return "", err
	}
	m.syncRegistry()
	return fmt.Sprintf("%q removed from config and disconnected", foundKey), nil
}

func matchKey(servers map[string]ServerConfig, name string) (string, bool) {
	for k := range servers {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

func sortedKeys(servers map[string]ServerConfig) []string {
	keys := make([]string, 0, len(servers))
	for k := range servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Status summarizes the bridge for the status surface.
func (m *Manager) Status() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	servers := make(map[string]any, len(m.servers))
	total := 0
	for name, conn := range m.servers {
		servers[name] = map[string]any{
			"connected": conn.Connected(),
			"tools":     len(conn.Tools()),
			"transport": conn.cfg.TransportName(),
		}
		total += len(conn.Tools())
	}
	return map[string]any{
		"started":     m.started,
		"servers":     servers,
		"total_tools": total,
	}
}

// ToolCount returns the number of discovered tools across all servers.
func (m *Manager) ToolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, conn := range m.servers {
		total += len(conn.Tools())
	}
	return total
}

// Aliases maps convenience names (mcp_<server>_<tool>, mcp_<tool>) to
// action identifiers for the alias table.
func (m *Manager) Aliases() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	aliases := map[string]string{}
	for server, conn := range m.servers {
		for tool := range conn.Tools() {
			id := MakeActionID(server, tool)
			aliases[strings.ToLower("mcp_"+server+"_"+tool)] = id
			aliases[strings.ToLower("mcp_"+tool)] = id
		}
	}
	return aliases
}

// Descriptions maps action identifiers to short menu descriptions.
func (m *Manager) Descriptions() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	descriptions := map[string]string{}
	for server, conn := range m.servers {
		for tool, info := range conn.Tools() {
			desc := info.Description
			if len(desc) > 80 {
				desc = desc[:80]
			}
			descriptions[MakeActionID(server, tool)] = fmt.Sprintf("%s (MCP:%s)", desc, server)
		}
	}
	return descriptions
}

// safeToolPrefixes name read-only MCP tools that may run without
// approval; everything else asks.
var safeToolPrefixes = []string{
	"websearch", "webreader", "web_search", "web_reader",
	"analyze_", "extract_text", "diagnose_error", "understand_",
	"ui_to_artifact", "ui_diff_check",
}

func isSafeTool(tool string) bool {
	lower := strings.ToLower(tool)
	for _, prefix := range safeToolPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Permissions projects a permission level per action identifier: safe
// read-only prefixes run free, the rest ask.
func (m *Manager) Permissions() map[string]dispatch.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perms := map[string]dispatch.Level{}
	for server, conn := range m.servers {
		for tool := range conn.Tools() {
			level := dispatch.LevelAsk
			if isSafeTool(tool) {
				level = dispatch.LevelAllow
			}
			perms[MakeActionID(server, tool)] = level
		}
	}
	return perms
}

// ToolListForPrompt renders a concise tool menu for the intent prompt.
func (m *Manager) ToolListForPrompt(maxTools int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var lines []string
	for _, server := range m.serverNamesLocked() {
		conn := m.servers[server]
		for _, tool := range conn.ToolNames() {
			if len(lines) >= maxTools {
				return strings.Join(lines, "\n")
			}
			desc := conn.Tools()[tool].Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			lines = append(lines, fmt.Sprintf("- %s: %s (server=%s, tool=%s)",
				MakeActionID(server, tool), desc, server, tool))
		}
	}
	return strings.Join(lines, "\n")
}

// IntentExamples renders example intent JSON lines for the prompt, one
// per tool, arguments faked from the schema's property types.
func (m *Manager) IntentExamples(maxExamples int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var lines []string
	for _, server := range m.serverNamesLocked() {
		conn := m.servers[server]
		for _, tool := range conn.ToolNames() {
			if len(lines) >= maxExamples {
				return strings.Join(lines, "\n")
			}
			info := conn.Tools()[tool]
			example := map[string]any{
				"type":       "run",
				"tool":       "mcp",
				"mcp_server": server,
				"mcp_tool":   tool,
				"args":       exampleArgs(info.InputSchema),
			}
			encoded, err := json.Marshal(example)
			if err != nil {
				continue
			}
			desc := info.Description
			if len(desc) > 40 {
				desc = desc[:40]
			}
			lines = append(lines, fmt.Sprintf("%s -> %s", desc, encoded))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) serverNamesLocked() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exampleArgs fabricates placeholder arguments from a schema's first
// few properties.
func exampleArgs(rawSchema json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(rawSchema) == 0 {
		return args
	}
	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(rawSchema, &schema); err != nil {
		return args
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 3 {
		names = names[:3]
	}
	for _, name := range names {
		switch schema.Properties[name].Type {
		case "number", "integer":
			args[name] = 1
		case "boolean":
			args[name] = true
		case "array":
			args[name] = []any{}
		case "object":
			args[name] = map[string]any{}
		default:
			args[name] = "예시_" + name
		}
	}
	return args
}

// syncRegistry swaps the registry's MCP tool set and the alias table to
// the current connections in one shot, so a reload never exposes a
// half-updated menu.
func (m *Manager) syncRegistry() {
	if m.registry == nil {
		return
	}
	m.mu.RLock()
	var tools []dispatch.Tool
	for server, conn := range m.servers {
		for tool, info := range conn.Tools() {
			tools = append(tools, newProxyTool(m, server, tool, info))
		}
	}
	m.mu.RUnlock()

	m.registry.ReplacePrefix(dispatch.MCPPrefix, tools)
	dispatch.MergeAliases("mcp_", dispatch.MCPPrefix, m.Aliases(), m.Descriptions())
	m.logger.Info("mcp registry synced", zap.Int("tools", len(tools)))
}

// Watch hot-reloads the bridge when mcp_servers.json changes on disk.
// Events are debounced: editors fire several writes per save.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.watcher = watcher
	m.watchStop = make(chan struct{})
	stop := m.watchStop
	m.mu.Unlock()

	go func() {
		var timer *time.Timer
		reload := func() {
			m.logger.Info("mcp config changed, reloading")
			if err := m.Reload(ctx); err != nil {
				m.logger.Error("mcp reload failed", zap.Error(err))
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("mcp config watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (m *Manager) stopWatcher() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		close(m.watchStop)
		_ = m.watcher.Close()
		m.watcher = nil
		m.watchStop = nil
	}
}
