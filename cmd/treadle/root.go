// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/treadle/internal/log"
	"github.com/teradata-labs/treadle/internal/version"
	"github.com/teradata-labs/treadle/pkg/config"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "treadle",
	Short: "Treadle - self-improving autonomic agent runtime",
	Long: heredoc.Doc(`
		Treadle runs a heartbeat-driven autonomic engine next to a
		per-request pulse executor. Both share one JSONL learning
		substrate: experiences, insights, skills and distilled routing
		policies accumulate across restarts and steer future requests.

		Start everything with "treadle run"; the engine reflects, tests,
		and heals itself in the background while you chat on stdin.
	`),
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TREADLE_ROOT/treadle.yaml)")
	rootCmd.PersistentFlags().String("root", "", "data root directory (default: $TREADLE_ROOT or ~/.treadle)")

	// Chat backend flags
	rootCmd.PersistentFlags().String("backend", "", "chat backend (anthropic, oai_compat)")
	rootCmd.PersistentFlags().String("model", "", "model override for the active backend")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Permission flags
	rootCmd.PersistentFlags().Bool("yolo", false, "bypass all permission prompts (same as --permission-mode=open)")
	rootCmd.PersistentFlags().String("permission-mode", "", "permission mode (open, standard, supervised, locked)")

	// Engine pacing flags
	rootCmd.PersistentFlags().Int("heartbeat", 0, "autonomic heartbeat seconds (0 = profile default)")
	rootCmd.PersistentFlags().Bool("dev", false, "dev-explore profile: fast heartbeat, generous budgets")

	// Bind flags to viper
	_ = viper.BindPFlag("paths.root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("llm.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("permissions.yolo", rootCmd.PersistentFlags().Lookup("yolo"))
	_ = viper.BindPFlag("permissions.mode", rootCmd.PersistentFlags().Lookup("permission-mode"))
	_ = viper.BindPFlag("engine.heartbeat_seconds", rootCmd.PersistentFlags().Lookup("heartbeat"))
	_ = viper.BindPFlag("engine.dev_explore", rootCmd.PersistentFlags().Lookup("dev"))
}

// initConfig reads the optional config file, overlays persisted runtime
// state and keyring secrets, applies flag overrides to the environment,
// and initializes the global logger.
func initConfig() {
	// The root flag must win before any path accessor runs.
	if root := viper.GetString("paths.root"); root != "" {
		_ = os.Setenv(config.EnvRoot, root)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.GetDataDir())
		viper.SetConfigName("treadle")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("TREADLE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := config.LoadState(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if _, errs := config.LoadSecretsFromKeyring(); len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	applyFlagOverrides()

	if err := log.Init(log.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// applyFlagOverrides projects CLI flags onto the environment keys the
// runtime reads. Flags beat both the inherited environment and the
// persisted state for this invocation.
func applyFlagOverrides() {
	if backend := viper.GetString("llm.backend"); backend != "" {
		_ = os.Setenv(config.EnvBackend, backend)
	}
	if model := viper.GetString("llm.model"); model != "" {
		if config.GetActiveBackend() == config.BackendAnthropic {
			_ = os.Setenv(config.EnvAnthropicModel, model)
		} else {
			_ = os.Setenv(config.EnvOAIModel, model)
		}
	}
	if viper.GetBool("permissions.yolo") {
		_ = os.Setenv(config.EnvPermissionMode, "open")
	} else if mode := viper.GetString("permissions.mode"); mode != "" {
		_ = os.Setenv(config.EnvPermissionMode, mode)
	}
	if hb := viper.GetInt("engine.heartbeat_seconds"); hb > 0 {
		_ = os.Setenv(config.EnvHeartbeatSeconds, fmt.Sprintf("%d", hb))
	}
	if viper.GetBool("engine.dev_explore") {
		_ = os.Setenv(config.EnvDevExplore, "1")
	}
}
