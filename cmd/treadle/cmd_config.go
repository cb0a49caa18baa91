// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teradata-labs/treadle/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change runtime configuration",
	Long: heredoc.Doc(`
		Config reads and writes the persisted runtime keys (backend,
		model, temperature, ...) and manages API keys in the OS keyring.
		Values set here survive restarts; permission and sandbox keys
		are immutable and can only come from the operator's environment.
	`),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted runtime keys and their current values",
	Run: func(cmd *cobra.Command, args []string) {
		for _, key := range config.StateKeys {
			value := os.Getenv(key)
			if isSecretEnv(key) {
				value = maskSecret(value)
			}
			fmt.Printf("%-24s %s\n", key, value)
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value := os.Getenv(key)
		if isSecretEnv(key) {
			value = maskSecret(value)
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set and persist one configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Set(args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ %s=%s\n", args[0], args[1])
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <name>",
	Short: "Store an API key in the OS keyring (prompted, no echo)",
	Long: heredoc.Doc(`
		Set-key prompts for a secret without echoing it and stores it in
		the OS keyring. At startup the runtime fills any unset API-key
		environment variable from the keyring; explicit environment
		values always win.
	`),
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !isKnownSecretKey(name) {
			fmt.Fprintf(os.Stderr, "Error: unknown secret key %q\nAvailable keys: %s\n",
				name, strings.Join(config.ListSecretKeys(), ", "))
			os.Exit(1)
		}
		fmt.Printf("Enter value for %s: ", name)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading secret: %v\n", err)
			os.Exit(1)
		}
		if len(secret) == 0 {
			fmt.Fprintln(os.Stderr, "Error: empty secret")
			os.Exit(1)
		}
		if err := config.StoreSecret(name, string(secret)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Stored %s in keyring\n", name)
	},
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key <name>",
	Short: "Show a stored API key, masked",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value, err := config.GetSecret(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", args[0], maskSecret(value))
	},
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key <name>",
	Short: "Remove an API key from the OS keyring",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.DeleteSecret(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Deleted %s from keyring\n", args[0])
	},
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List the secret key names the runtime knows",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range config.ListSecretKeys() {
			fmt.Println(name)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
	rootCmd.AddCommand(configCmd)
}

func isKnownSecretKey(name string) bool {
	for _, key := range config.ListSecretKeys() {
		if key == name {
			return true
		}
	}
	return false
}

func isSecretEnv(key string) bool {
	return strings.Contains(key, "API_KEY")
}

// maskSecret hides all but the edges of a secret; short secrets mask
// entirely.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
