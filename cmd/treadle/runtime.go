// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/llm/factory"
	"github.com/teradata-labs/treadle/pkg/mcp"
	"github.com/teradata-labs/treadle/pkg/metrics"
	"github.com/teradata-labs/treadle/pkg/observability"
	"github.com/teradata-labs/treadle/pkg/regression"
	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/sandbox"
	"github.com/teradata-labs/treadle/pkg/storage"
	"github.com/teradata-labs/treadle/pkg/tools"
)

// runtime bundles the collaborators the long-lived commands wire once
// at startup and share for the life of the process.
type runtime struct {
	store      *storage.Store
	queue      *storage.Queue
	tracer     observability.Tracer
	metrics    *metrics.Store
	graph      *graph.Memory
	recorder   *learning.Recorder
	distiller  *learning.Distiller
	curriculum *learning.CurriculumTracker
	reward     *learning.RewardTracker
	searcher   *retrieval.Searcher
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	mcp        *mcp.Manager
	factory    *factory.Factory
	gate       *regression.Gate
	runner     *sandbox.Runner
	logger     *zap.Logger
}

// buildRuntime assembles the full stack over the data root. The store
// stays untraced: it is the audit tracer's own sink, and tracing its
// appends would recurse.
func buildRuntime(logger *zap.Logger) (*runtime, error) {
	if err := config.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("prepare data layout: %w", err)
	}
	store, err := storage.NewStore(config.GetMemoryDir(), logger, nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	tracer := observability.NewAuditTracer(store, logger)

	metricsStore, err := metrics.Open(metrics.DefaultPath(), tracer, logger)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	queue, err := storage.NewQueue(config.GetQueueDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	graphMem := graph.NewMemory(store, logger, tracer)
	recorder := learning.NewRecorder(learning.Options{
		Store:  store,
		Graph:  graphMem,
		Logger: logger,
		Tracer: tracer,
	})
	distiller := learning.NewDistiller(store, logger)
	curriculum := learning.NewCurriculumTracker(store, logger)
	reward := learning.NewRewardTracker(store, logger)
	searcher := retrieval.NewSearcher(retrieval.SearcherOptions{
		Store:  store,
		Graph:  graphMem,
		Logger: logger,
		Tracer: tracer,
	})

	runner := sandbox.NewRunner(logger)
	registry := dispatch.NewRegistry()
	if err := tools.RegisterAll(registry, tools.Options{
		Store:    store,
		Searcher: searcher,
		Graph:    graphMem,
		Runner:   runner,
		Logger:   logger,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	mcpMgr := mcp.NewManager(mcp.Options{Registry: registry, Logger: logger})
	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherOptions{
		Registry: registry,
		Logger:   logger,
		Tracer:   tracer,
	})

	gate := regression.NewGate(regression.Options{
		Store:   store,
		Command: e2eCommand(),
		Dir:     config.GetDataDir(),
		Logger:  logger,
		Tracer:  tracer,
	})

	return &runtime{
		store:      store,
		queue:      queue,
		tracer:     tracer,
		metrics:    metricsStore,
		graph:      graphMem,
		recorder:   recorder,
		distiller:  distiller,
		curriculum: curriculum,
		reward:     reward,
		searcher:   searcher,
		registry:   registry,
		dispatcher: dispatcher,
		mcp:        mcpMgr,
		factory:    factory.New(tracer, metricsStore, logger),
		gate:       gate,
		runner:     runner,
		logger:     logger,
	}, nil
}

// e2eCommand parses the regression suite argv from the environment.
func e2eCommand() []string {
	raw := strings.TrimSpace(config.GetString(config.EnvE2ECommand, ""))
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func (r *runtime) Close() {
	if r.metrics != nil {
		_ = r.metrics.Close()
	}
}
