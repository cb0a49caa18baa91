// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue directory names under the queue root.
const (
	QueueInbox      = "inbox"
	QueueProcessing = "processing"
	QueueDone       = "done"
	QueueFailed     = "failed"
)

// Queue is a file-based job queue. Jobs are JSON files that move
// between directories via atomic rename, so a crash never loses or
// duplicates a job: it is always in exactly one directory.
type Queue struct {
	root   string
	logger *zap.Logger
}

// NewQueue creates the queue directories under root.
func NewQueue(root string, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, d := range []string{QueueInbox, QueueProcessing, QueueDone, QueueFailed} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir %s: %w", d, err)
		}
	}
	return &Queue{root: root, logger: logger}, nil
}

// Root returns the queue's root directory.
func (q *Queue) Root() string { return q.root }

// Enqueue writes a job to the inbox and returns its id. Ids sort
// chronologically, so the oldest job is claimed first.
func (q *Queue) Enqueue(job Record) (string, error) {
	if job == nil {
		job = Record{}
	}
	if _, ok := job["ts_ms"]; !ok {
		job["ts_ms"] = time.Now().UnixMilli()
	}
	id := fmt.Sprintf("%013d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	path := filepath.Join(q.root, QueueInbox, id+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	q.logger.Debug("job enqueued", zap.String("id", id))
	return id, nil
}

// Claim moves the oldest inbox job to processing and returns it.
// Returns ok=false when the inbox is empty. Unparseable jobs move
// straight to failed and the next one is tried.
func (q *Queue) Claim() (string, Record, bool, error) {
	for {
		names, err := q.list(QueueInbox)
		if err != nil {
			return "", nil, false, err
		}
		if len(names) == 0 {
			return "", nil, false, nil
		}
		name := names[0]
		src := filepath.Join(q.root, QueueInbox, name)
		dst := filepath.Join(q.root, QueueProcessing, name)
		if err := os.Rename(src, dst); err != nil {
			if os.IsNotExist(err) {
				// Another worker won the rename.
				continue
			}
			return "", nil, false, fmt.Errorf("claim: %w", err)
		}

		data, err := os.ReadFile(dst)
		if err != nil {
			return "", nil, false, fmt.Errorf("claim read: %w", err)
		}
		var job Record
		if err := json.Unmarshal(data, &job); err != nil {
			q.logger.Warn("discarding unparseable job",
				zap.String("name", name), zap.Error(err))
			_ = os.Rename(dst, filepath.Join(q.root, QueueFailed, name))
			continue
		}
		return strings.TrimSuffix(name, ".json"), job, true, nil
	}
}

// Complete moves a processing job to done or failed, merging the result
// into the stored job file.
func (q *Queue) Complete(id string, result Record, ok bool) error {
	name := id + ".json"
	src := filepath.Join(q.root, QueueProcessing, name)

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("complete read: %w", err)
	}
	var job Record
	if err := json.Unmarshal(data, &job); err != nil {
		job = Record{}
	}
	if result != nil {
		job["result"] = result
	}
	job["completed_ms"] = time.Now().UnixMilli()
	job["ok"] = ok

	merged, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("complete marshal: %w", err)
	}
	if err := writeFileAtomic(src, merged); err != nil {
		return fmt.Errorf("complete write: %w", err)
	}

	dir := QueueDone
	if !ok {
		dir = QueueFailed
	}
	if err := os.Rename(src, filepath.Join(q.root, dir, name)); err != nil {
		return fmt.Errorf("complete move: %w", err)
	}
	return nil
}

// RecoverStale moves processing jobs older than maxAge back to the
// inbox. Called at startup so jobs orphaned by a crash get retried.
func (q *Queue) RecoverStale(maxAge time.Duration) (int, error) {
	names, err := q.list(QueueProcessing)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	recovered := 0
	for _, name := range names {
		src := filepath.Join(q.root, QueueProcessing, name)
		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Rename(src, filepath.Join(q.root, QueueInbox, name)); err == nil {
			recovered++
		}
	}
	if recovered > 0 {
		q.logger.Info("recovered stale jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Pending returns the number of jobs waiting in the inbox.
func (q *Queue) Pending() (int, error) {
	names, err := q.list(QueueInbox)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (q *Queue) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
