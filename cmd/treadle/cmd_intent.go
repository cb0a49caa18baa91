// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/internal/log"
	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/pulse"
	"github.com/teradata-labs/treadle/pkg/storage"
)

var intentCmd = &cobra.Command{
	Use:   "intent [text]",
	Short: "Classify one message and print the intent as JSON",
	Long: heredoc.Doc(`
		Intent is the subprocess classifier mode: the self-tester spawns
		"treadle intent" with {"text": ...} on stdin and reads a
		{"type", "tool"} verdict from stdout. Because it is a fresh
		process running the same classification path a real request
		takes, it measures the classifier as deployed, not a mock of it.

		The text may also be passed as an argument for manual probing.
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: runIntent,
}

func init() {
	rootCmd.AddCommand(intentCmd)
}

func runIntent(cmd *cobra.Command, args []string) error {
	// Stay quiet on stderr: stdout must carry exactly one JSON object.
	log.SetLogger(zap.NewNop())

	text, err := intentInput(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no input text")
	}

	// The distiller is optional: without a readable store the fast path
	// still answers from its keyword rules.
	var distiller *learning.Distiller
	if store, err := storage.NewStore(config.GetMemoryDir(), zap.NewNop(), nil); err == nil {
		distiller = learning.NewDistiller(store, zap.NewNop())
	}
	executor := pulse.NewExecutor(pulse.Options{Distiller: distiller, Logger: zap.NewNop()})

	verdict, err := executor.ClassifyOnce(cmd.Context(), text)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// intentInput takes the text from the argument when present, otherwise
// from the stdin JSON payload.
func intentInput(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse stdin payload: %w", err)
	}
	return payload.Text, nil
}
