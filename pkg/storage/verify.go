// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package storage

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// VerifyResult summarizes the health of one stream file.
type VerifyResult struct {
	Stream     string `json:"stream"`
	Total      int    `json:"total"`
	Good       int    `json:"good"`
	Corrupt    int    `json:"corrupt"`
	Duplicates int    `json:"duplicates"`
	Fixed      bool   `json:"fixed"`
}

// Verify scans a stream for corrupt and duplicate lines. With fix set,
// it rewrites the stream keeping only the first occurrence of each good
// line, saving the original as <stream>.jsonl.bak first.
func (s *Store) Verify(stream string, fix bool) (VerifyResult, error) {
	res := VerifyResult{Stream: stream}

	mu := s.lockFor(stream)
	mu.Lock()
	defer mu.Unlock()

	path := s.Path(stream)
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("verify %s: %w", stream, err)
	}

	seen := make(map[[16]byte]bool)
	var good [][]byte
	for _, line := range lines {
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		res.Total++
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			res.Corrupt++
			continue
		}
		sum := md5.Sum([]byte(trimmed))
		if seen[sum] {
			res.Duplicates++
			continue
		}
		seen[sum] = true
		good = append(good, line)
	}
	res.Good = len(good)

	if !fix || (res.Corrupt == 0 && res.Duplicates == 0) {
		return res, nil
	}

	orig, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("verify backup read %s: %w", stream, err)
	}
	if err := os.WriteFile(path+".bak", orig, 0o644); err != nil {
		return res, fmt.Errorf("verify backup %s: %w", stream, err)
	}

	var buf []byte
	for _, line := range good {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := writeFileAtomic(path, buf); err != nil {
		return res, fmt.Errorf("verify rewrite %s: %w", stream, err)
	}
	res.Fixed = true
	return res, nil
}

// VerifyAll runs Verify over every known stream.
func (s *Store) VerifyAll(fix bool) ([]VerifyResult, error) {
	results := make([]VerifyResult, 0, len(Streams))
	for _, stream := range Streams {
		res, err := s.Verify(stream, fix)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
