// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Skill limits.
const (
	skillNameLimit    = 60
	skillRequestLimit = 500
	skillCodeLimit    = 3000
	skillResultLimit  = 1000
	skillPoolSize     = 50  // unique skills searched
	skillScoreFloor   = 0.1 // BM25 relevance floor
	skillMinLines     = 3   // code shorter than this is not a skill
	skillHashTTL      = 60 * time.Second
)

// importRe pulls module names out of import statements for tagging.
var importRe = regexp.MustCompile(`(?:import|from)\s+(\w+)`)

// codeKeywords tag a skill by what its code appears to do.
var codeKeywords = []string{
	"sort", "search", "math", "file", "web", "parse", "calc", "print", "loop", "api",
}

// skillHashCache avoids re-reading the whole skill stream on every
// record. The window between refreshes bounds how long a duplicate
// written by another process can go unnoticed.
type skillHashCache struct {
	mu        sync.Mutex
	hashes    map[string]bool
	refreshed time.Time
}

// RecordSkill stores successfully executed code for later reuse. Code
// is rejected when the result carries error markers in its head, when
// it has fewer than three non-empty lines, or when its hash matches an
// already recorded skill. Returns whether the skill was kept.
func (r *Recorder) RecordSkill(request, lang, code, result string) (bool, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(result) == "" {
		return false, nil
	}
	head := strings.ToLower(truncRunes(result, 50))
	if strings.Contains(head, "error") || strings.Contains(head, "traceback") {
		return false, nil
	}
	if nonEmptyLines(code) < skillMinLines {
		return false, nil
	}

	storedCode := truncRunes(code, skillCodeLimit)
	hash := codeHash(storedCode)
	known, err := r.knownSkillHash(hash)
	if err != nil {
		return false, err
	}
	if known {
		r.logger.Debug("skill dedup: identical code already recorded")
		return false, nil
	}

	tags := map[string]bool{}
	if lang != "" {
		tags[lang] = true
	}
	for _, m := range importRe.FindAllStringSubmatch(code, -1) {
		tags[m[1]] = true
	}
	lowerCode := strings.ToLower(code)
	for _, kw := range codeKeywords {
		if strings.Contains(lowerCode, kw) {
			tags[kw] = true
		}
	}

	rec := storage.Record{
		"event":          "skill",
		"stream":         storage.StreamSkills,
		"name":           strings.TrimSpace(truncRunes(request, skillNameLimit)),
		"tags":           sortedKeys(tags),
		"request":        truncRunes(request, skillRequestLimit),
		"lang":           lang,
		"code":           storedCode,
		"code_hash":      hash,
		"result_preview": truncRunes(result, skillResultLimit),
	}
	if err := r.store.Append(storage.StreamSkills, rec); err != nil {
		return false, err
	}
	r.rememberSkillHash(hash)
	r.logger.Info("skill recorded",
		zap.String("request", truncRunes(request, 50)), zap.String("lang", lang))
	return true, nil
}

// SearchSkills returns BM25-ranked skill snippets formatted for prompt
// injection, one per line: "[lang] request -> code". The search pool is
// the newest fifty unique skills.
func (r *Recorder) SearchSkills(query string, limit int) (string, error) {
	if limit <= 0 {
		limit = 3
	}
	recs, err := r.store.Read(storage.StreamSkills, 0)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", nil
	}

	seen := make(map[string]bool, len(recs))
	unique := make([]storage.Record, 0, len(recs))
	for _, rec := range recs {
		h := storage.Str(rec, "code_hash")
		if h == "" {
			h = codeHash(storage.Str(rec, "code"))
		}
		if !seen[h] {
			seen[h] = true
			unique = append(unique, rec)
		}
	}
	if len(unique) > skillPoolSize {
		unique = unique[len(unique)-skillPoolSize:]
	}

	texts := make([]string, len(unique))
	for i, rec := range unique {
		texts[i] = strings.TrimSpace(storage.Str(rec, "request") + " " + storage.Str(rec, "description"))
	}
	bm25 := retrieval.NewBM25()
	bm25.Index(texts)
	hits := bm25.Query(query, limit)

	var matches []string
	for _, hit := range hits {
		if hit.Score < skillScoreFloor {
			continue
		}
		rec := unique[hit.Index]
		lang := storage.Str(rec, "lang")
		if lang == "" {
			lang = "?"
		}
		code := truncRunes(storage.Str(rec, "code"), 1000)
		matches = append(matches, fmt.Sprintf("[%s] %s -> %s",
			lang, storage.Str(rec, "request"), truncRunes(code, 500)))
	}
	return strings.Join(matches, "\n"), nil
}

// knownSkillHash checks the hash against the cache, refreshing it from
// the stream when older than a minute.
func (r *Recorder) knownSkillHash(hash string) (bool, error) {
	r.skills.mu.Lock()
	defer r.skills.mu.Unlock()
	if r.skills.hashes == nil || time.Since(r.skills.refreshed) > skillHashTTL {
		recs, err := r.store.Read(storage.StreamSkills, 0)
		if err != nil {
			return false, err
		}
		hashes := make(map[string]bool, len(recs))
		for _, rec := range recs {
			h := storage.Str(rec, "code_hash")
			if h == "" {
				h = codeHash(storage.Str(rec, "code"))
			}
			hashes[h] = true
		}
		r.skills.hashes = hashes
		r.skills.refreshed = time.Now()
	}
	return r.skills.hashes[hash], nil
}

func (r *Recorder) rememberSkillHash(hash string) {
	r.skills.mu.Lock()
	defer r.skills.mu.Unlock()
	if r.skills.hashes == nil {
		r.skills.hashes = make(map[string]bool)
	}
	r.skills.hashes[hash] = true
}

// codeHash is the canonical skill identity: SHA-256 of the stored code.
func codeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func nonEmptyLines(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
