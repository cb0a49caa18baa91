// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/llm"
	"github.com/teradata-labs/treadle/pkg/storage"
)

const (
	stimulusDynamicCap   = 5
	stimulusResetCooloff = 300 * time.Second
	stimulusPoolCap      = 8
)

// Stimulus categories.
const (
	StimToolChallenge  = "tool_challenge"
	StimKnowledgeQuest = "knowledge_quest"
	StimCrossDomain    = "cross_domain"
	StimOptimization   = "optimization"
)

// Stimulus is one self-directed prompt for burst mode.
type Stimulus struct {
	Category string `json:"category"`
	Prompt   string `json:"prompt"`
}

// Key is the dedup fingerprint checked against the stimulus_done
// stream.
func (s Stimulus) Key() string {
	raw, _ := json.Marshal(s)
	return fmt.Sprintf("%x", md5.Sum(raw))[:12]
}

// irrelevantTopics filters insight-derived quest topics that have
// nothing to do with this runtime's domain.
var irrelevantTopics = map[string]bool{
	"etcd": true, "kraft": true, "kubernetes": true, "k8s": true,
	"terraform": true, "helm": true, "spark": true, "hadoop": true,
	"kafka": true, "zookeeper": true,
}

var staticStimuli = map[string][]string{
	StimToolChallenge: {
		"셸 도구로 시스템 업타임과 로드 애버리지를 확인해줘",
		"파일 검색 도구로 작업 폴더에서 가장 최근에 수정된 파일을 찾아줘",
		"코드 실행 도구로 피보나치 20번째 항을 계산해줘",
		"메모리 검색 도구로 지난 주에 저장된 항목들을 찾아줘",
	},
	StimCrossDomain: {
		"최근 실패 경험과 저장된 스킬을 비교해서 겹치는 패턴을 찾아줘",
		"그래프 메모리의 상위 엔티티와 최근 대화 주제를 연결해봐",
		"인사이트 스트림의 규칙들 중 서로 모순되는 것이 있는지 검토해줘",
	},
	StimOptimization: {
		"가장 자주 실패하는 도구의 입력 패턴을 분석해서 개선점을 정리해줘",
		"경험 스트림에서 평균 응답 시간이 가장 긴 도구를 찾아줘",
		"스킬 저장소에서 중복에 가까운 스킬 쌍을 찾아 통합안을 제안해줘",
	},
}

var baseQuests = []string{
	"python subprocess timeout handling best practices",
	"jsonl append-only log compaction strategies",
	"bm25 relevance tuning for short queries",
	"llm intent classification failure recovery patterns",
}

// RandomStimulus supplies deduplicated self-directed prompts when
// burst mode runs out of concrete work. The knowledge-quest pool is
// rebuilt from the live tool profile and recent insights; the model
// may add a few dynamic entries per process.
type RandomStimulus struct {
	store    *storage.Store
	provider llm.Provider
	logger   *zap.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	dynamicCount  int
	resetUsed     bool
	cooldownUntil time.Time
}

// NewRandomStimulus builds a stimulus pool.
func NewRandomStimulus(store *storage.Store, provider llm.Provider, logger *zap.Logger) *RandomStimulus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RandomStimulus{
		store:    store,
		provider: provider,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// questPool derives knowledge-quest prompts from failing and untested
// tools plus recent insight topics, falling back to the base set.
func (r *RandomStimulus) questPool(profile ToolProfile, known []string) []string {
	var quests []string
	for _, tool := range profile.FailingTools(2, 0.4) {
		quests = append(quests, tool+" error handling best practices")
	}
	for _, tool := range profile.UntestedTools(known) {
		quests = append(quests, tool+" tool usage documentation API")
		if len(quests) >= stimulusPoolCap {
			break
		}
	}
	if ins, err := r.store.Read(storage.StreamInsights, 10); err == nil {
		for _, rec := range ins {
			topic := storage.Str(rec, "type")
			if topic == "" || irrelevantTopics[strings.ToLower(topic)] {
				continue
			}
			quests = append(quests, strings.ReplaceAll(topic, "_", " ")+" improvement techniques")
		}
	}
	quests = append(quests, baseQuests...)
	if len(quests) > stimulusPoolCap {
		quests = quests[:stimulusPoolCap]
	}
	return quests
}

// doneKeys reads the dedup keys already consumed.
func (r *RandomStimulus) doneKeys() map[string]bool {
	done := map[string]bool{}
	recs, err := r.store.Read(storage.StreamStimulusDone, 0)
	if err != nil {
		return done
	}
	for _, rec := range recs {
		if key := storage.Str(rec, "key"); key != "" {
			done[key] = true
		}
	}
	return done
}

// Pick selects one unconsumed stimulus. An exhausted pool gets one
// dedup-ignoring reset per process, then a cooldown; the model may
// also mint a few dynamic quests.
func (r *RandomStimulus) Pick(ctx context.Context, profile ToolProfile, known []string) (Stimulus, bool) {
	r.mu.Lock()
	if time.Now().Before(r.cooldownUntil) {
		r.mu.Unlock()
		return Stimulus{}, false
	}
	r.mu.Unlock()

	pool := make([]Stimulus, 0, 24)
	for category, prompts := range staticStimuli {
		for _, p := range prompts {
			pool = append(pool, Stimulus{Category: category, Prompt: p})
		}
	}
	for _, q := range r.questPool(profile, known) {
		pool = append(pool, Stimulus{Category: StimKnowledgeQuest, Prompt: q})
	}
	r.mu.Lock()
	r.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	r.mu.Unlock()

	done := r.doneKeys()
	for _, s := range pool {
		if !done[s.Key()] {
			return s, true
		}
	}

	if s, ok := r.dynamicQuest(ctx); ok {
		return s, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resetUsed {
		// One free pass through the pool ignoring dedup, then cool off.
		r.resetUsed = true
		r.cooldownUntil = time.Now().Add(stimulusResetCooloff)
		if len(pool) > 0 {
			r.logger.Info("stimulus pool exhausted, reusing once")
			return pool[0], true
		}
	}
	r.cooldownUntil = time.Now().Add(stimulusResetCooloff)
	return Stimulus{}, false
}

// dynamicQuest asks the model for one fresh quest, capped per process.
func (r *RandomStimulus) dynamicQuest(ctx context.Context) (Stimulus, bool) {
	r.mu.Lock()
	if r.provider == nil || r.dynamicCount >= stimulusDynamicCap {
		r.mu.Unlock()
		return Stimulus{}, false
	}
	r.dynamicCount++
	r.mu.Unlock()

	content := llm.ContentOrEmpty(r.provider.Chat(ctx, []llm.Message{{
		Role: "user",
		Content: `Suggest one short research question about improving an LLM agent runtime
(tool dispatch, retrieval, self-testing, sandboxing). Reply with the question only.`,
	}}, llm.ChatOptions{MaxTokens: 100}))
	content = strings.TrimSpace(content)
	if content == "" || len(content) > 200 {
		return Stimulus{}, false
	}
	return Stimulus{Category: StimKnowledgeQuest, Prompt: content}, true
}

// MarkDone records a consumed stimulus in the dedup stream.
func (r *RandomStimulus) MarkDone(s Stimulus) {
	rec := storage.Record{
		"ts_ms":    time.Now().UnixMilli(),
		"key":      s.Key(),
		"category": s.Category,
		"prompt":   s.Prompt,
	}
	if err := r.store.Append(storage.StreamStimulusDone, rec); err != nil {
		r.logger.Debug("stimulus done append failed", zap.Error(err))
	}
}
