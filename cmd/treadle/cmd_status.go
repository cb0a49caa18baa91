// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/internal/version"
	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/mcp"
	"github.com/teradata-labs/treadle/pkg/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime configuration, learning progress, and engine liveness",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Printf("treadle %s\n", version.Get())
	fmt.Printf("data root:  %s\n", config.GetDataDir())
	fmt.Printf("brain:      %s\n", config.GetBrainLabel())
	if config.IsAutoRouteEnabled() {
		fmt.Println("auto-route: on")
	}

	perms := dispatch.NewEngine(nil, zap.NewNop())
	fmt.Println(perms.Summary())

	fmt.Println(engineLiveness())

	store, err := storage.NewStore(config.GetMemoryDir(), zap.NewNop(), nil)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	fmt.Println("streams:")
	for _, stream := range []string{
		storage.StreamExperiences, storage.StreamInsights, storage.StreamSkills,
		storage.StreamKnowledge, storage.StreamChat, storage.StreamAutonomicAudit,
	} {
		n, err := store.Count(stream)
		if err != nil {
			fmt.Printf("  %-16s unreadable: %v\n", stream, err)
			continue
		}
		fmt.Printf("  %-16s %d\n", stream, n)
	}

	if depth, err := inboxDepth(); err == nil && depth > 0 {
		fmt.Printf("queue inbox: %d job(s)\n", depth)
	}

	if servers, err := mcp.LoadServerConfigs(config.GetMCPServersPath()); err == nil && len(servers) > 0 {
		names := make([]string, 0, len(servers))
		for name, cfg := range servers {
			if !cfg.Disabled {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		fmt.Printf("mcp servers: %d enabled (%s)\n", len(names), strings.Join(names, ", "))
	}
	return nil
}

// engineLiveness reports whether a background engine process is
// running, from the pid file next to the memory store.
func engineLiveness() string {
	pidPath := filepath.Join(config.GetWorkDir(), "autonomic.pid")
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return "engine:     not running"
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return "engine:     pid file corrupt"
	}
	// Signal 0 probes for existence without disturbing the process.
	if err := syscall.Kill(pid, 0); err != nil {
		return fmt.Sprintf("engine:     stale pid file (pid %d)", pid)
	}
	state := engineStateSummary()
	return fmt.Sprintf("engine:     running (pid %d)%s", pid, state)
}

// engineStateSummary reads the persisted engine state for a last-save
// timestamp; absence is normal on a fresh install.
func engineStateSummary() string {
	data, err := os.ReadFile(filepath.Join(config.GetMemoryDir(), "autonomic_state.json"))
	if err != nil {
		return ""
	}
	var st struct {
		SavedTs int64 `json:"saved_ts"`
	}
	if err := json.Unmarshal(data, &st); err != nil || st.SavedTs == 0 {
		return ""
	}
	return fmt.Sprintf(", state saved %s ago",
		time.Since(time.UnixMilli(st.SavedTs)).Round(time.Second))
}

func inboxDepth() (int, error) {
	entries, err := os.ReadDir(filepath.Join(config.GetQueueDir(), storage.QueueInbox))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count, nil
}
