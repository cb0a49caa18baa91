// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// StateKeys is the whitelist of environment keys persisted across
// restarts. Everything else is session-scoped.
var StateKeys = []string{
	EnvBackend,
	EnvOAIModel,
	EnvOAIBaseURL,
	EnvOAIAPIKey,
	EnvAnthropicModel,
	EnvChatTemperature,
	EnvChatMaxTokens,
	EnvAutoRoute,
}

// ImmutableKeys are safety keys no automated change proposal may touch.
// They can only be set by the operator's own environment.
var ImmutableKeys = map[string]bool{
	EnvPermissionMode:      true,
	EnvPermissionOverrides: true,
	EnvRoot:                true,
	EnvBwrapRequired:       true,
}

// IsImmutable reports whether key is guarded from automated mutation.
func IsImmutable(key string) bool {
	return ImmutableKeys[key]
}

// LoadState loads persisted config state into the process environment.
// Called once at startup, before any accessor is used. Persisted values
// override the inherited environment so that the runtime resumes with
// the configuration it last saved.
func LoadState() error {
	data, err := os.ReadFile(GetStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load config state: %w", err)
	}
	var state map[string]interface{}
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse config state: %w", err)
	}
	for _, key := range StateKeys {
		if v, ok := state[key]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				if err := os.Setenv(key, s); err != nil {
					return fmt.Errorf("apply config state %s: %w", key, err)
				}
			}
		}
	}
	return nil
}

// SaveState snapshots the current environment values of StateKeys to
// disk so they survive a restart. The write happens in place under an
// exclusive lock so concurrent savers never interleave.
func SaveState() error {
	state := make(map[string]interface{}, len(StateKeys)+1)
	for _, key := range StateKeys {
		state[key] = os.Getenv(key)
	}
	state["_saved_at"] = time.Now().Unix()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config state: %w", err)
	}

	path := GetStatePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config state: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("save config state: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock config state: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate config state: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek config state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write config state: %w", err)
	}
	return f.Sync()
}

// Set updates one runtime key in the environment and persists the
// whitelist. Immutable keys are rejected.
func Set(key, value string) error {
	if IsImmutable(key) {
		return fmt.Errorf("config key %s is immutable", key)
	}
	if err := os.Setenv(key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return SaveState()
}
