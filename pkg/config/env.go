// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config is the single source of truth for runtime model,
// backend, and path state. Runtime code reads live accessors instead of
// frozen constants; the active values persist across restarts via
// work/config_state.json.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names the runtime honors.
const (
	// Paths and safety. The permission and sandbox keys are immutable
	// at runtime: no automated change proposal may touch them.
	EnvRoot                = "TREADLE_ROOT"
	EnvPermissionMode      = "TREADLE_PERMISSION_MODE"
	EnvPermissionOverrides = "TREADLE_PERMISSION_OVERRIDES"
	EnvBwrapRequired       = "TREADLE_BWRAP_REQUIRED"

	// Chat backend selection and per-backend settings.
	EnvBackend          = "TREADLE_BACKEND"
	EnvOAIModel         = "OAI_COMPAT_MODEL"
	EnvOAIBaseURL       = "OAI_COMPAT_BASE_URL"
	EnvOAIAPIKey        = "OAI_COMPAT_API_KEY"
	EnvAnthropicModel   = "ANTHROPIC_MODEL"
	EnvAnthropicBaseURL = "ANTHROPIC_BASE_URL"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvChatTemperature  = "TREADLE_CHAT_TEMPERATURE"
	EnvChatMaxTokens    = "TREADLE_CHAT_MAX_TOKENS"
	EnvAutoRoute        = "TREADLE_AUTO_ROUTE"

	// Engine pacing and budgets.
	EnvProfile              = "TREADLE_PROFILE"
	EnvDevExplore           = "TREADLE_DEV_EXPLORE"
	EnvHeartbeatSeconds     = "TREADLE_HEARTBEAT_SECONDS"
	EnvEngineDailyCalls     = "TREADLE_ENGINE_DAILY_CALLS"
	EnvEngineDailyTokens    = "TREADLE_ENGINE_DAILY_TOKENS"
	EnvSubprocessTimeout    = "TREADLE_SUBPROCESS_TIMEOUT"
	EnvCodeTimeout          = "TREADLE_CODE_TIMEOUT"
	EnvE2ECommand           = "TREADLE_E2E_COMMAND"
	EnvWebSearchAPIKey      = "TREADLE_WEB_SEARCH_API_KEY"
	EnvSearchURL            = "TREADLE_SEARCH_URL"
	EnvAutonomicAutoApprove = "TREADLE_AUTONOMIC_AUTO_APPROVE"
	EnvAutonomicSafeActions = "TREADLE_AUTONOMIC_SAFE_ACTIONS"
	EnvMCPToolTimeout       = "TREADLE_MCP_TOOL_TIMEOUT_SEC"

	// Pulse loop caps.
	EnvMaxCycles           = "TREADLE_MAX_CYCLES"
	EnvPulseBudgetSec      = "TREADLE_PULSE_BUDGET_S"
	EnvPulseEmptyRecovery  = "TREADLE_PULSE_EMPTY_RECOVERY_MAX"
	EnvPulseRepairRounds   = "TREADLE_PULSE_REPAIR_ROUNDS"
	EnvPlanContinueOnError = "TREADLE_PLAN_CONTINUE_ON_STEP_ERROR"
	EnvApprovalTimeoutSec  = "TREADLE_APPROVAL_TIMEOUT_SEC"
)

// Backend names.
const (
	BackendAnthropic = "anthropic"
	BackendOAICompat = "oai_compat"
)

// Defaults applied when neither environment nor persisted state set a key.
const (
	DefaultOAIModel         = "qwen3:14b-q8_0"
	DefaultOAIBaseURL       = "http://127.0.0.1:11434"
	DefaultAnthropicModel   = "claude-sonnet-4-5-20250929"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultChatTemperature  = 0.7
	DefaultChatMaxTokens    = 1024
	DefaultHeartbeatSeconds = 60
	DefaultDailyCallLimit   = 500
	DefaultDailyTokenLimit  = 200000
	DefaultSubprocTimeout   = 90
	DefaultCodeTimeout      = 60
	DefaultSearchURL        = "https://html.duckduckgo.com/html/?q={query}"
)

// GetString returns an environment value, falling back to def when
// unset or empty. Reads always see the latest environment.
func GetString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetInt returns an integer environment value, def on unset or unparseable.
func GetInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns a float environment value, def on unset or unparseable.
func GetFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool returns true when the value is one of "1", "true", "yes".
func GetBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

// GetActiveBackend returns the currently selected chat backend.
func GetActiveBackend() string {
	return GetString(EnvBackend, BackendOAICompat)
}

// GetActiveModel returns the model name for the active backend.
func GetActiveModel() string {
	if GetActiveBackend() == BackendAnthropic {
		return GetString(EnvAnthropicModel, DefaultAnthropicModel)
	}
	return GetString(EnvOAIModel, DefaultOAIModel)
}

// GetActiveBaseURL returns the OpenAI-compatible endpoint base URL.
func GetActiveBaseURL() string {
	return strings.TrimRight(GetString(EnvOAIBaseURL, DefaultOAIBaseURL), "/")
}

// GetBrainLabel returns a human-readable backend label for status output.
func GetBrainLabel() string {
	if GetActiveBackend() == BackendAnthropic {
		return fmt.Sprintf("Claude (%s)", GetString(EnvAnthropicModel, DefaultAnthropicModel))
	}
	return fmt.Sprintf("Ollama (%s)", GetActiveModel())
}

// IsAutoRouteEnabled reports whether automatic model routing is on.
func IsAutoRouteEnabled() bool {
	return GetBool(EnvAutoRoute, false)
}

// SetAutoRoute toggles automatic model routing and persists the change.
func SetAutoRoute(enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := os.Setenv(EnvAutoRoute, val); err != nil {
		return err
	}
	return SaveState()
}
