// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/internal/log"
	"github.com/teradata-labs/treadle/pkg/autonomic"
	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/llm/factory"
	"github.com/teradata-labs/treadle/pkg/pulse"
)

// consoleChatID is the single conversation id the stdin loop uses.
const consoleChatID = 1

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the autonomic engine and the interactive chat loop",
	Long: heredoc.Doc(`
		Run starts the full runtime: the heartbeat-driven autonomic
		engine in the background and an interactive chat loop on stdin.
		The engine reflects on recent experiences, self-tests the intent
		classifier, proposes and gates fixes, and explores on its own
		while the console is idle; every user message resets its idle
		clock.

		Console commands: /status, /pause, /resume, /cancel, /quit.
	`),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("once", false, "run a single heartbeat tick and exit")
	runCmd.Flags().Bool("no-engine", false, "chat only: skip the background engine")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	// Send logs to a rotated file so the console stays readable.
	if err := log.Init(log.Config{
		Level:    viper.GetString("logging.level"),
		Format:   viper.GetString("logging.format"),
		File:     filepath.Join(config.GetLogsDir(), "treadle.log"),
		Compress: true,
	}); err != nil {
		return err
	}
	logger := log.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.mcp.Start(ctx); err != nil {
		logger.Warn("mcp startup failed", zap.Error(err))
	}
	defer rt.mcp.Stop()
	go func() {
		if err := rt.mcp.Watch(ctx); err != nil {
			logger.Debug("mcp config watch unavailable", zap.Error(err))
		}
	}()

	engine, err := autonomic.New(autonomic.Options{
		Store:      rt.store,
		Queue:      rt.queue,
		Dispatcher: rt.dispatcher,
		Recorder:   rt.recorder,
		Curriculum: rt.curriculum,
		Reward:     rt.reward,
		Gate:       rt.gate,
		Provider:   factory.NewEngineProvider(rt.factory, logger),
		Metrics:    rt.metrics,
		Runner:     rt.runner,
		Notifier: func(msg string) error {
			fmt.Printf("🔔 %s\n", msg)
			return nil
		},
		Logger: logger,
		Tracer: rt.tracer,
	})
	if err != nil {
		return err
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		engine.RunOnce(ctx)
		return nil
	}

	console := &consoleIO{in: bufio.NewReader(os.Stdin)}
	executor := pulse.NewExecutor(pulse.Options{
		Dispatcher: rt.dispatcher,
		Store:      rt.store,
		Recorder:   rt.recorder,
		Distiller:  rt.distiller,
		Searcher:   rt.searcher,
		Graph:      rt.graph,
		Prompts:    rt.mcp,
		Approver:   console,
		Notifier:   console,
		Providers: func(backend string) (llm.Provider, error) {
			return rt.factory.Provider(backend, "")
		},
		OnActivity: engine.Touch,
		Logger:     logger,
	})

	noEngine, _ := cmd.Flags().GetBool("no-engine")
	var engineDone chan struct{}
	if !noEngine {
		engineDone = make(chan struct{})
		go func() {
			defer close(engineDone)
			if err := engine.RunForever(ctx); err != nil {
				logger.Error("engine stopped", zap.Error(err))
			}
		}()
	}

	fmt.Printf("treadle ready — %s, permission mode %s\n",
		config.GetBrainLabel(), rt.dispatcher.Permissions().Mode())
	chatLoop(ctx, console, executor, engine)

	stop()
	if engineDone != nil {
		<-engineDone
	}
	return nil
}

// chatLoop reads lines from stdin until EOF, /quit, or cancellation.
func chatLoop(ctx context.Context, console *consoleIO, executor *pulse.Executor, engine *autonomic.Engine) {
	for {
		fmt.Print("> ")
		line, err := console.readLine(ctx)
		if err != nil {
			return
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		switch text {
		case "/quit", "/exit":
			return
		case "/status":
			printStatus(engine.Status())
			continue
		case "/pause":
			engine.SetPaused(true)
			fmt.Println("engine paused")
			continue
		case "/resume":
			engine.SetPaused(false)
			fmt.Println("engine resumed")
			continue
		case "/cancel":
			executor.Cancel(consoleChatID)
			continue
		}

		reply, err := executor.HandleUserMessage(ctx, consoleChatID, text)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if reply != "" {
			fmt.Println(reply)
		}
	}
}

// consoleIO serves both pulse interfaces on the terminal: progress
// notifications print directly, approvals block on a y/N answer. The
// mutex keeps an approval prompt from interleaving with the chat loop's
// own reads; both run on the same goroutine during a message, so in
// practice it only guards against late notifications.
type consoleIO struct {
	mu sync.Mutex
	in *bufio.Reader
}

func (c *consoleIO) Notify(chatID int64, text string) {
	fmt.Println(text)
}

func (c *consoleIO) Approve(ctx context.Context, chatID int64, actionID, prompt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("%s\n[y/N]: ", prompt)
	line, err := c.readLine(ctx)
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// readLine reads one line, honoring context cancellation between reads.
func (c *consoleIO) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", r.err
		}
		return r.line, nil
	}
}

// printStatus renders the engine's status record as aligned key: value
// lines, skipping nested maps.
func printStatus(status map[string]interface{}) {
	for _, key := range []string{"idle_seconds", "in_burst", "stasis", "paused", "dev_explore", "l2_streak", "skills", "experiences", "alerts"} {
		if v, ok := status[key]; ok {
			fmt.Printf("  %-14s %v\n", key, v)
		}
	}
}
