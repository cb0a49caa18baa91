// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package metrics persists operational counters for backend calls and
// autonomic level runs in a local SQLite database. The brain
// orchestrator reads aggregate health from here when deciding whether
// to switch backends; the status surface reads per-level success rates.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/observability"
)

// Error kinds the health queries aggregate on. Callers may record any
// string, but timeout and parse-error rates only count these values.
const (
	ErrorKindTimeout = "timeout"
	ErrorKindParse   = "parse_error"
)

// BackendCall is one LLM backend invocation outcome.
type BackendCall struct {
	Backend   string
	Model     string
	OK        bool
	ErrorKind string // empty when OK
	Latency   time.Duration
	Labels    map[string]string
}

// LevelRun is one autonomic level execution outcome.
type LevelRun struct {
	Level  string
	OK     bool
	Detail string
}

// BackendHealth aggregates call outcomes for one backend over a window.
// Rates are fractions in [0,1]; LatencyP95MS is 0 when no calls matched.
type BackendHealth struct {
	Calls          int
	FailureRate    float64
	TimeoutRate    float64
	ParseErrorRate float64
	LatencyP95MS   int
}

// LevelStats counts runs and successes for one autonomic level.
type LevelStats struct {
	Runs      int
	Successes int
}

// SuccessRate returns successes/runs, or 0 when the level never ran.
func (s LevelStats) SuccessRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Runs)
}

// Store persists operational metrics to SQLite.
// Uses WAL mode for concurrent read/write access.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	tracer observability.Tracer
	logger *zap.Logger
}

// DefaultPath returns the conventional metrics database location under
// the work directory.
func DefaultPath() string {
	return filepath.Join(config.GetWorkDir(), "metrics.db")
}

// Open creates or opens the metrics database at dbPath.
func Open(dbPath string, tracer observability.Tracer, logger *zap.Logger) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, span := tracer.StartSpan(context.Background(), "metrics.open")
	defer tracer.EndSpan(span)
	span.SetAttribute("db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	store := &Store{
		db:     db,
		tracer: tracer,
		logger: logger,
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	span.Status = observability.Status{Code: observability.StatusOK}
	return store, nil
}

// initSchema creates the database tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "metrics.init_schema")
	defer s.tracer.EndSpan(span)

	schema := `
	CREATE TABLE IF NOT EXISTS backend_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		backend TEXT NOT NULL,
		model TEXT NOT NULL,
		ok INTEGER NOT NULL,         -- 0 = failed, 1 = succeeded
		error_kind TEXT,
		latency_ms INTEGER NOT NULL,
		labels_json TEXT,            -- JSON object
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backend_calls_backend_ts ON backend_calls(backend, ts);
	CREATE INDEX IF NOT EXISTS idx_backend_calls_ts ON backend_calls(ts);

	CREATE TABLE IF NOT EXISTS level_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		ok INTEGER NOT NULL,
		detail TEXT,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_level_runs_level_ts ON level_runs(level, ts);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		span.RecordError(err)
		return err
	}

	// Add new columns for existing databases (if they don't exist)
	alterStatements := []string{
		"ALTER TABLE backend_calls ADD COLUMN labels_json TEXT",
	}
	for _, stmt := range alterStatements {
		// Ignore errors if columns already exist
		_, _ = s.db.ExecContext(ctx, stmt)
	}

	span.Status = observability.Status{Code: observability.StatusOK}
	return nil
}

// RecordBackendCall records one LLM call outcome.
func (s *Store) RecordBackendCall(ctx context.Context, call BackendCall) error {
	ctx, span := s.tracer.StartSpan(ctx, "metrics.record_backend_call")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrBackend, call.Backend)
	span.SetAttribute(observability.AttrModel, call.Model)
	span.SetAttribute("call.ok", call.OK)

	var labelsJSON sql.NullString
	if len(call.Labels) > 0 {
		raw, err := json.Marshal(call.Labels)
		if err != nil {
			return fmt.Errorf("failed to marshal labels: %w", err)
		}
		labelsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO backend_calls (backend, model, ok, error_kind, latency_ms, labels_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		call.Backend, call.Model, boolToInt(call.OK), call.ErrorKind,
		call.Latency.Milliseconds(), labelsJSON, time.Now().Unix())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record backend call: %w", err)
	}
	return nil
}

// RecordLevelRun records one autonomic level execution outcome.
func (s *Store) RecordLevelRun(ctx context.Context, run LevelRun) error {
	ctx, span := s.tracer.StartSpan(ctx, "metrics.record_level_run")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrLevel, run.Level)
	span.SetAttribute("run.ok", run.OK)

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO level_runs (level, ok, detail, ts) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		run.Level, boolToInt(run.OK), run.Detail, time.Now().Unix())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record level run: %w", err)
	}
	return nil
}

// BackendHealth aggregates failure, timeout, and parse-error rates plus
// the p95 latency for one backend over the trailing window.
func (s *Store) BackendHealth(ctx context.Context, backend string, window time.Duration) (*BackendHealth, error) {
	ctx, span := s.tracer.StartSpan(ctx, "metrics.backend_health")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrBackend, backend)

	cutoff := time.Now().Add(-window).Unix()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_kind = ? THEN 1 ELSE 0 END), 0)
		FROM backend_calls
		WHERE backend = ? AND ts >= ?
	`

	var calls, failures, timeouts, parseErrors int
	err := s.db.QueryRowContext(ctx, query, ErrorKindTimeout, ErrorKindParse, backend, cutoff).Scan(
		&calls, &failures, &timeouts, &parseErrors)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate backend calls: %w", err)
	}

	health := &BackendHealth{Calls: calls}
	if calls == 0 {
		return health, nil
	}

	health.FailureRate = float64(failures) / float64(calls)
	health.TimeoutRate = float64(timeouts) / float64(calls)
	health.ParseErrorRate = float64(parseErrors) / float64(calls)

	// p95 by sorted offset; SQLite has no percentile builtin.
	offset := (calls * 95) / 100
	if offset >= calls {
		offset = calls - 1
	}
	p95Query := `
		SELECT latency_ms FROM backend_calls
		WHERE backend = ? AND ts >= ?
		ORDER BY latency_ms
		LIMIT 1 OFFSET ?
	`
	var p95 sql.NullInt64
	err = s.db.QueryRowContext(ctx, p95Query, backend, cutoff, offset).Scan(&p95)
	if err != nil && err != sql.ErrNoRows {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to compute p95 latency: %w", err)
	}
	if p95.Valid {
		health.LatencyP95MS = int(p95.Int64)
	}

	span.SetAttribute("health.calls", calls)
	span.SetAttribute("health.failure_rate", health.FailureRate)
	return health, nil
}

// LevelSuccessRates returns run/success counts per level over the
// trailing window, keyed by level name.
func (s *Store) LevelSuccessRates(ctx context.Context, window time.Duration) (map[string]LevelStats, error) {
	ctx, span := s.tracer.StartSpan(ctx, "metrics.level_success_rates")
	defer s.tracer.EndSpan(span)

	cutoff := time.Now().Add(-window).Unix()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT level, COUNT(*), COALESCE(SUM(ok), 0)
		FROM level_runs
		WHERE ts >= ?
		GROUP BY level
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate level runs: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]LevelStats)
	for rows.Next() {
		var level string
		var st LevelStats
		if err := rows.Scan(&level, &st.Runs, &st.Successes); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan level stats: %w", err)
		}
		stats[level] = st
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to iterate level stats: %w", err)
	}
	return stats, nil
}

// Close closes the SQLite database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// boolToInt converts bool to int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
