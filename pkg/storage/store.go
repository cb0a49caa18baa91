// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package storage persists the runtime's learning state as append-only
// JSONL streams. Writers take an exclusive file lock, readers a shared
// one; records are parsed outside the lock so a slow consumer never
// blocks a writer. Compaction and rotation are crash-safe
// (tmp + fsync + rename).
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/observability"
)

// Stream names. One JSONL file per stream under the store directory.
const (
	StreamChat               = "chat"
	StreamExperiences        = "experiences"
	StreamInsights           = "insights"
	StreamSkills             = "skills"
	StreamKnowledge          = "knowledge"
	StreamEntities           = "entities"
	StreamRelations          = "relations"
	StreamCurriculum         = "curriculum"
	StreamGenesisSuggestions = "genesis_suggestions"
	StreamRewardSnapshots    = "reward_snapshots"
	StreamStimulusDone       = "stimulus_done"
	StreamAutonomicAudit     = "autonomic_audit"
)

// Streams lists every known stream, in a stable order.
var Streams = []string{
	StreamChat,
	StreamExperiences,
	StreamInsights,
	StreamSkills,
	StreamKnowledge,
	StreamEntities,
	StreamRelations,
	StreamCurriculum,
	StreamGenesisSuggestions,
	StreamRewardSnapshots,
	StreamStimulusDone,
	StreamAutonomicAudit,
}

// Record is one JSONL line. Every record carries ts_ms.
type Record = map[string]interface{}

// Store reads and writes JSONL streams under a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
	tracer observability.Tracer

	mu      sync.Mutex
	streams map[string]*sync.RWMutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *zap.Logger, tracer observability.Tracer) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		dir:     dir,
		logger:  logger,
		tracer:  tracer,
		streams: make(map[string]*sync.RWMutex),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path backing a stream.
func (s *Store) Path(stream string) string {
	return filepath.Join(s.dir, stream+".jsonl")
}

// ArchivePath returns the archive file path for a stream.
func (s *Store) ArchivePath(stream string) string {
	return filepath.Join(s.dir, stream+".archive.jsonl")
}

func (s *Store) lockFor(stream string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.streams[stream]
	if !ok {
		m = &sync.RWMutex{}
		s.streams[stream] = m
	}
	return m
}

// traceFor starts an operation span and returns it with its closer. The
// audit stream is the exporter's own sink, so operations on it use a
// no-op span.
func (s *Store) traceFor(stream, name string) (*observability.Span, func()) {
	tracer := s.tracer
	if stream == StreamAutonomicAudit {
		tracer = observability.NewNoOpTracer()
	}
	_, span := tracer.StartSpan(context.Background(), name,
		observability.WithAttribute(observability.AttrStream, stream))
	return span, func() { tracer.EndSpan(span) }
}

// Append writes one record to the stream, stamping ts_ms when absent.
// The write is atomic: the full line lands or nothing does.
func (s *Store) Append(stream string, record Record) error {
	span, end := s.traceFor(stream, observability.SpanStorageAppend)
	defer end()

	if record == nil {
		record = Record{}
	}
	if _, ok := record["ts_ms"]; !ok {
		record["ts_ms"] = time.Now().UnixMilli()
	}

	line, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal record: %w", err)
	}

	mu := s.lockFor(stream)
	mu.Lock()
	defer mu.Unlock()

	if err := appendLine(s.Path(stream), line); err != nil {
		span.RecordError(err)
		return fmt.Errorf("append %s: %w", stream, err)
	}
	span.Status = observability.Status{Code: observability.StatusOK}
	return nil
}

// Read returns up to max records in append order (0 means all).
// Malformed lines are logged at debug level and skipped.
func (s *Store) Read(stream string, max int) ([]Record, error) {
	span, end := s.traceFor(stream, observability.SpanStorageRead)
	defer end()

	mu := s.lockFor(stream)
	mu.RLock()
	lines, err := readLines(s.Path(stream))
	mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("read %s: %w", stream, err)
	}

	// Parse outside the lock.
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Debug("skipping malformed line",
				zap.String("stream", stream), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if max > 0 && len(records) > max {
		records = records[len(records)-max:]
	}
	span.SetAttribute("records", len(records))
	return records, nil
}

// ReadSince returns records with ts_ms strictly newer than tsMs.
func (s *Store) ReadSince(stream string, tsMs int64) ([]Record, error) {
	all, err := s.Read(stream, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if TsMs(rec) > tsMs {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of parseable records in a stream.
func (s *Store) Count(stream string) (int, error) {
	records, err := s.Read(stream, 0)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Compact rewrites a stream keeping the most recent record per logical
// key. keyFn derives the key ("" keeps the record unconditionally);
// keepFn, when non-nil, filters records out entirely. Crash-safe:
// tmp + fsync + rename.
func (s *Store) Compact(stream string, keyFn func(Record) string, keepFn func(Record) bool) error {
	span, end := s.traceFor(stream, observability.SpanStorageCompact)
	defer end()

	mu := s.lockFor(stream)
	mu.Lock()
	defer mu.Unlock()

	path := s.Path(stream)
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("compact read %s: %w", stream, err)
	}

	type slot struct {
		index int
		line  []byte
	}
	latest := make(map[string]slot)
	var order []string
	seq := 0
	for _, line := range lines {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if keepFn != nil && !keepFn(rec) {
			continue
		}
		key := ""
		if keyFn != nil {
			key = keyFn(rec)
		}
		if key == "" {
			key = fmt.Sprintf("\x00seq:%d", seq)
		}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = slot{index: seq, line: line}
		seq++
	}

	var buf []byte
	for _, key := range order {
		buf = append(buf, latest[key].line...)
		buf = append(buf, '\n')
	}

	if err := writeFileAtomic(path, buf); err != nil {
		span.RecordError(err)
		return fmt.Errorf("compact write %s: %w", stream, err)
	}
	span.SetAttribute("kept", len(order))
	span.Status = observability.Status{Code: observability.StatusOK}
	return nil
}

// Rewrite replaces a stream's contents with exactly the given records.
// Callers that hold the authoritative state in memory (graph adjacency,
// curriculum) use this to checkpoint it; Compact is for streams where
// the file itself is authoritative.
func (s *Store) Rewrite(stream string, records []Record) error {
	span, end := s.traceFor(stream, observability.SpanStorageCompact)
	defer end()

	mu := s.lockFor(stream)
	mu.Lock()
	defer mu.Unlock()

	var buf []byte
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("rewrite marshal %s: %w", stream, err)
		}
		buf = append(buf, raw...)
		buf = append(buf, '\n')
	}

	if err := writeFileAtomic(s.Path(stream), buf); err != nil {
		span.RecordError(err)
		return fmt.Errorf("rewrite %s: %w", stream, err)
	}
	span.SetAttribute("records", len(records))
	span.Status = observability.Status{Code: observability.StatusOK}
	return nil
}

// Rotate trims a stream to its most recent max records. Evicted records
// are appended to the stream's archive (unless archive is false), and the
// archive itself is truncated oldest-first past archiveMaxBytes.
// Returns the number of evicted records.
func (s *Store) Rotate(stream string, max int, archive bool) (int, error) {
	span, end := s.traceFor(stream, observability.SpanStorageRotate)
	defer end()

	mu := s.lockFor(stream)
	mu.Lock()
	defer mu.Unlock()

	path := s.Path(stream)
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		span.RecordError(err)
		return 0, fmt.Errorf("rotate read %s: %w", stream, err)
	}
	if len(lines) <= max {
		return 0, nil
	}

	evicted := lines[:len(lines)-max]
	kept := lines[len(lines)-max:]

	if archive {
		var buf []byte
		for _, line := range evicted {
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
		if err := appendBytes(s.ArchivePath(stream), buf); err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("rotate archive %s: %w", stream, err)
		}
		if err := trimToBytes(s.ArchivePath(stream), archiveMaxBytes); err != nil {
			s.logger.Warn("archive trim failed",
				zap.String("stream", stream), zap.Error(err))
		}
	}

	var buf []byte
	for _, line := range kept {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := writeFileAtomic(path, buf); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("rotate write %s: %w", stream, err)
	}

	s.tracer.RecordMetric("storage.rotated", float64(len(evicted)),
		map[string]string{"stream": stream})
	span.Status = observability.Status{Code: observability.StatusOK}
	return len(evicted), nil
}

// TailBytes returns up to n bytes from the end of the stream file.
func (s *Store) TailBytes(stream string, n int64) ([]byte, error) {
	mu := s.lockFor(stream)
	mu.RLock()
	defer mu.RUnlock()

	f, err := os.Open(s.Path(stream))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tail %s: %w", stream, err)
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, syscall.LOCK_SH); err != nil {
		return nil, fmt.Errorf("tail lock %s: %w", stream, err)
	}
	defer funlock(f)

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("tail stat %s: %w", stream, err)
	}
	if info.Size() > n {
		if _, err := f.Seek(-n, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("tail seek %s: %w", stream, err)
		}
	}
	return io.ReadAll(f)
}

// archiveMaxBytes bounds each archive file; the oldest records give way.
const archiveMaxBytes = 64 << 20

// TsMs extracts the ts_ms field as int64, 0 when absent.
func TsMs(rec Record) int64 {
	switch v := rec["ts_ms"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Str extracts a string field, "" when absent or not a string.
func Str(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

// Bool extracts a bool field, false when absent.
func Bool(rec Record, key string) bool {
	if v, ok := rec[key].(bool); ok {
		return v
	}
	return false
}

// Float extracts a numeric field as float64, 0 when absent.
func Float(rec Record, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// ---- file primitives ----

func flock(f *os.File, how int) error {
	return syscall.Flock(int(f.Fd()), how)
}

func funlock(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// appendLine appends one line plus newline under an exclusive lock.
func appendLine(path string, line []byte) error {
	return appendBytes(path, append(line, '\n'))
}

func appendBytes(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, syscall.LOCK_EX); err != nil {
		return err
	}
	defer funlock(f)

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// readLines reads every line of the file under a shared lock.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, syscall.LOCK_SH); err != nil {
		return nil, err
	}
	defer funlock(f)

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// writeFileAtomic writes data to path via tmp + fsync + rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// trimToBytes keeps the newest lines of a file so its size stays at or
// under maxBytes (targeting 80% to avoid immediate re-trims).
func trimToBytes(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= maxBytes {
		return nil
	}

	lines, err := readLines(path)
	if err != nil {
		return err
	}
	target := maxBytes * 8 / 10
	var size int64
	cut := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		size += int64(len(lines[i])) + 1
		if size > target {
			break
		}
		cut = i
	}
	var buf []byte
	for _, line := range lines[cut:] {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return writeFileAtomic(path, buf)
}
