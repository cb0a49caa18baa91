// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	_ "embed"
	"math/rand"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/treadle/pkg/learning"
	"github.com/teradata-labs/treadle/pkg/storage"
)

//go:embed questions.yaml
var questionBankYAML []byte

const (
	scenarioCap     = 10
	staticPick      = 5
	replayMax       = 3
	noveltyFloor    = 0.3
	noveltyExpLimit = 20
	noveltyInsLimit = 10
)

// Scenario is one self-test case: an input and the intent type the
// classifier must produce for it.
type Scenario struct {
	Input      string `yaml:"input" json:"input"`
	Expect     string `yaml:"expect" json:"expect"`
	Difficulty string `yaml:"-" json:"difficulty"`
	Category   string `yaml:"-" json:"category,omitempty"`
}

// SelfQuestioner produces self-test scenarios from the embedded bank,
// failure replays, and coverage fillers, filtered for novelty against
// recent memory.
type SelfQuestioner struct {
	store      *storage.Store
	curriculum *learning.CurriculumTracker
	logger     *zap.Logger
	bank       map[string][]Scenario
	rng        *rand.Rand
}

// NewSelfQuestioner parses the embedded bank. A corrupt bank is a
// build defect, so it panics rather than limping.
func NewSelfQuestioner(store *storage.Store, curriculum *learning.CurriculumTracker, logger *zap.Logger) *SelfQuestioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bank map[string][]Scenario
	if err := yaml.Unmarshal(questionBankYAML, &bank); err != nil {
		panic("autonomic: embedded question bank invalid: " + err.Error())
	}
	for diff, scenarios := range bank {
		for i := range scenarios {
			scenarios[i].Difficulty = diff
		}
		bank[diff] = scenarios
	}
	return &SelfQuestioner{
		store:      store,
		curriculum: curriculum,
		logger:     logger,
		bank:       bank,
		rng:        rand.New(rand.NewSource(int64(len(questionBankYAML)))),
	}
}

// toolPrompts maps dispatchable tools to a natural prompt that should
// route to them, for coverage of tools that never appear in live use.
var toolPrompts = map[string]string{
	"SHELL.EXEC.v1": "현재 시간 알려줘",
	"CODE.EXEC.v1":  "2의 10승 계산하는 코드 실행해줘",
	"FS.LIST.v1":    "작업 폴더 파일 목록 보여줘",
	"FS.READ.v1":    "설정 파일 내용 읽어줘",
	"MEM.FIND.v1":   "저장된 메모 검색해줘",
	"MEM.SAVE.v1":   "이 내용 기억해줘: 테스트 노트",
	"WEB.SEARCH.v1": "최신 뉴스 검색해줘",
}

// GenerateScenarios assembles one batch: static picks at the WebRL
// difficulty, failure replays, and coverage fillers for untested
// tools, novelty-filtered and capped.
func (q *SelfQuestioner) GenerateScenarios(ctx context.Context, profile ToolProfile, known []string) []Scenario {
	difficulty := q.selectDifficulty()
	var out []Scenario

	statics := append([]Scenario(nil), q.bank[difficulty]...)
	q.rng.Shuffle(len(statics), func(i, j int) { statics[i], statics[j] = statics[j], statics[i] })
	if len(statics) > staticPick {
		statics = statics[:staticPick]
	}
	out = append(out, statics...)

	out = append(out, q.failureReplays()...)

	for _, tool := range profile.UntestedTools(known) {
		prompt, ok := toolPrompts[tool]
		if !ok {
			continue
		}
		out = append(out, Scenario{
			Input: prompt, Expect: "action",
			Difficulty: difficulty, Category: "coverage:" + tool,
		})
		if len(out) >= scenarioCap {
			break
		}
	}

	corpus := q.noveltyCorpus()
	kept := out[:0]
	seen := map[string]bool{}
	for _, s := range out {
		if seen[s.Input] {
			continue
		}
		seen[s.Input] = true
		if nov := novelty(s.Input, corpus); nov < noveltyFloor {
			q.logger.Debug("scenario skipped for low novelty",
				zap.String("input", s.Input), zap.Float64("novelty", nov))
			continue
		}
		kept = append(kept, s)
		if len(kept) >= scenarioCap {
			break
		}
	}
	return kept
}

// selectDifficulty implements the WebRL ladder: master easy before
// medium before hard.
func (q *SelfQuestioner) selectDifficulty() string {
	if q.curriculum == nil {
		return "easy"
	}
	rates, err := q.curriculum.Rates()
	if err != nil {
		return "easy"
	}
	switch {
	case rates.EasyTotal == 0 || rates.Easy < 0.8:
		return "easy"
	case rates.MediumTotal == 0 || rates.Medium < 0.7:
		return "medium"
	default:
		return "hard"
	}
}

var expectedGotRe = regexp.MustCompile(`expected=(\S+),?\s*got=`)

// failureReplays re-asks the last few distinct self-test failures.
func (q *SelfQuestioner) failureReplays() []Scenario {
	exps, err := q.store.Read(storage.StreamExperiences, 100)
	if err != nil {
		return nil
	}
	var out []Scenario
	seen := map[string]bool{}
	for i := len(exps) - 1; i >= 0 && len(out) < replayMax; i-- {
		rec := exps[i]
		if storage.Str(rec, "source") != "self_test" || storage.Bool(rec, "success") {
			continue
		}
		input := storage.Str(rec, "user_request")
		if input == "" || seen[input] {
			continue
		}
		m := expectedGotRe.FindStringSubmatch(storage.Str(rec, "result_preview"))
		if m == nil {
			continue
		}
		seen[input] = true
		out = append(out, Scenario{
			Input: input, Expect: strings.TrimSuffix(m[1], ","),
			Difficulty: "medium", Category: "replay",
		})
	}
	return out
}

// noveltyCorpus gathers recent request and insight text for the
// Jaccard comparison.
func (q *SelfQuestioner) noveltyCorpus() []map[string]bool {
	var corpus []map[string]bool
	if exps, err := q.store.Read(storage.StreamExperiences, noveltyExpLimit); err == nil {
		for _, rec := range exps {
			if text := storage.Str(rec, "user_request"); text != "" {
				corpus = append(corpus, tokenSet(text))
			}
		}
	}
	if ins, err := q.store.Read(storage.StreamInsights, noveltyInsLimit); err == nil {
		for _, rec := range ins {
			if text := storage.Str(rec, "type"); text != "" {
				corpus = append(corpus, tokenSet(text))
			}
		}
	}
	return corpus
}

var questionTokenRe = regexp.MustCompile(`[a-z0-9]+|[가-힣]+`)

// tokenSet lowercases and splits on non-word runes, keeping Hangul
// runs whole.
func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range questionTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= 2 {
			set[tok] = true
		}
	}
	return set
}

// novelty is 1 minus the best Jaccard similarity against the corpus.
func novelty(text string, corpus []map[string]bool) float64 {
	toks := tokenSet(text)
	if len(toks) == 0 {
		return 0
	}
	best := 0.0
	for _, other := range corpus {
		if sim := jaccard(toks, other); sim > best {
			best = sim
		}
	}
	return 1 - best
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
