// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Extraction runs in two tiers: high-precision regex patterns (emails,
// dates, URLs, IPs, paths, measures, known tech terms, Korean person
// names) and broader noun-chunk heuristics for Korean and capitalized
// English. No external NLP dependency.

// Extracted is one entity found in free text.
type Extracted struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source"` // "t0" regex, "t1" noun chunk
}

// ExtractedRelation is a subject-predicate-object triple inferred from
// entity co-occurrence within a sentence.
type ExtractedRelation struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Predicate  string  `json:"predicate"`
	Confidence float64 `json:"confidence"`
}

type entityPattern struct {
	re    *regexp.Regexp
	etype string
	group int // submatch index to take as the entity name
}

// Tier 0 patterns applied to the whole text.
var entityPatterns = []entityPattern{
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`), "email", 0},
	{regexp.MustCompile(`\b(\d{4}[./-]\d{1,2}[./-]\d{1,2})\b`), "date", 1},
	{regexp.MustCompile(`(\d{1,2}월\s*\d{1,2}일)`), "date", 1},
	{regexp.MustCompile(`https?://[^\s<>"]+`), "url", 0},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "ip", 0},
	{regexp.MustCompile(`(?:/[\w.-]+){2,}`), "path", 0},
	{regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(GB|MB|TB|KB|GHz|MHz|fps|ms|초|분|시간|일|개|명|원|달러|%)`), "measure", 1},
	{regexp.MustCompile(`(?i)\b(Python|Ollama|Claude|Anthropic|Qwen|EXAONE|Telegram|BM25|GPU|CUDA|Docker|nginx|Redis|PostgreSQL|MongoDB)\b`), "tech", 1},
}

// Korean person names: common family name + 1-2 given syllables, with
// an optional trailing particle. Applied per token.
var koPersonToken = regexp.MustCompile(`^((?:김|이|박|최|정|강|조|윤|장|임|한|오|서|신|권|황|안|송|전|홍|유|고|문|양|손|배|백|허|남|심|노|하|곽|성|차|주|구|나|민|류|진|위|표|명|반|왕|금|옥|제|궁|탁|공|도|편)[가-힣]{1,2})(?:은|는|이|가|의|을|를|에게|한테|께|와|과|도|이다|이야|이고|이랑)?$`)

// Korean noun chunks with an optional particle suffix. Applied per token.
var koNounToken = regexp.MustCompile(`^([가-힣]{2,8})(?:은|는|이|가|을|를|의|에|와|과|도|로|으로|에서|까지|부터|처럼|같이|야|이야)?$`)

// Verb and adjective endings that survive the noun pattern.
var koVerbEndings = regexp.MustCompile(`(한다|하고|해서|하는|된다|된건|됐다|했다|했어|할수|있다|없다|이다|이야|일까|인데|하면|에서|까지|부터|라고|처럼|같이|대로|이라)$`)

var enCapitalized = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)

var tokenSplit = regexp.MustCompile(`[\s,.()]+`)

var sentenceSplit = regexp.MustCompile(`[.!?。]\s*|\n`)

// Korean particles, conjunctions, and verb forms that are not entities,
// plus common false positives of the person pattern.
var koStopwords = map[string]bool{
	"그리고": true, "하지만": true, "그래서": true, "그러면": true, "그런데": true,
	"때문에": true, "그것은": true, "이것은": true, "저것은": true, "어떻게": true,
	"왜냐하면": true, "그러나": true, "이미": true, "아직": true,
	"정말로": true, "아마도": true, "거의": true, "매우": true, "조금": true,
	"많이": true, "항상": true, "가끔": true,
	"이런": true, "저런": true, "그런": true, "어떤": true, "모든": true,
	"각각": true, "다른": true, "같은": true,
	"있다": true, "없다": true, "하다": true, "되다": true, "이다": true,
	"아니다": true, "보다": true, "나다": true,
	"좋아": true, "싫어": true, "알겠": true, "모르겠": true, "네가": true,
	"내가": true, "우리": true,
	"한다": true, "한데": true, "한테": true, "했다": true, "할수": true,
	"하는": true, "된다": true, "된건": true,
	"그냥": true, "뭐야": true, "봐봐": true, "해줘": true, "해봐": true,
	"할게": true, "한거": true,
	"나는": true, "나도": true, "나의": true, "나한테": true, "나를": true,
	"나에게": true, "나왔다": true, "나온다": true, "나갔다": true,
	"서버": true, "서비스": true, "서울": true, "서로": true,
	"이것": true, "이제": true, "이건": true, "이게": true, "이후": true,
	"정말": true, "정보": true, "정도": true, "정리": true,
	"강화": true, "강조": true,
	"조건": true,
	"주로": true, "주의": true, "주요": true,
	"최근": true, "최대": true, "최소": true, "최적": true,
	"임시": true, "임의": true,
	"장치": true, "장소": true, "장점": true,
	"권한": true,
	"황금": true,
	"안전": true, "안내": true,
	"배포": true, "배경": true, "배열": true,
	"손실": true,
	"유지": true,
	"고정": true, "고장": true,
	"문제": true, "문서": true, "문자": true,
	"노드": true,
	"성능": true, "성공": true,
	"차이": true,
}

var enStopwords = map[string]bool{
	"the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true,
	"shall": true, "can": true, "must": true,
	"and": true, "but": true, "or": true, "not": true, "no": true,
	"yes": true, "this": true, "that": true,
	"with": true, "for": true, "from": true, "into": true, "about": true,
	"just": true, "also": true,
	"very": true, "really": true, "quite": true, "much": true,
	"many": true, "some": true, "any": true,
	"what": true, "which": true, "who": true, "whom": true,
	"when": true, "where": true, "how": true, "why": true,
}

// ExtractEntities pulls entities out of free text, deduplicated by
// normalized name. Stopwords and single-character names are dropped.
func ExtractEntities(text string) []Extracted {
	if utf8.RuneCountInString(text) < 2 {
		return nil
	}

	seen := make(map[string]bool)
	var entities []Extracted
	add := func(name, etype, source string) {
		key := nameKey(name)
		if key == "" || utf8.RuneCountInString(key) < 2 || seen[key] {
			return
		}
		if koStopwords[key] || enStopwords[key] {
			return
		}
		seen[key] = true
		entities = append(entities, Extracted{Name: strings.TrimSpace(name), Type: etype, Source: source})
	}

	for _, pat := range entityPatterns {
		for _, match := range pat.re.FindAllStringSubmatch(text, -1) {
			val := match[pat.group]
			if koStopwords[nameKey(val)] {
				continue
			}
			add(val, pat.etype, "t0")
		}
	}

	for _, token := range tokenSplit.Split(text, -1) {
		if token == "" {
			continue
		}
		if match := koPersonToken.FindStringSubmatch(token); match != nil {
			if !koStopwords[nameKey(match[1])] {
				add(match[1], "person", "t0")
			}
		}
		if match := koNounToken.FindStringSubmatch(token); match != nil {
			noun := match[1]
			if utf8.RuneCountInString(noun) >= 2 && !koStopwords[noun] && !koVerbEndings.MatchString(noun) {
				add(noun, "concept", "t1")
			}
		}
	}

	for _, match := range enCapitalized.FindAllStringSubmatch(text, -1) {
		word := match[1]
		if !enStopwords[strings.ToLower(word)] && len(word) >= 3 {
			add(word, "concept", "t1")
		}
	}

	return entities
}

// Predicate keywords checked in order; the first hit wins.
var koPredicates = []struct {
	kw   string
	pred string
}{
	{"좋아", "likes"}, {"싫어", "dislikes"},
	{"사용", "uses"}, {"쓰", "uses"},
	{"만들", "created"}, {"생성", "created"}, {"작성", "created"},
	{"실행", "runs"}, {"설치", "installed"},
	{"연결", "connected_to"}, {"의존", "depends_on"},
	{"포함", "contains"}, {"속", "belongs_to"},
	{"생일", "birthday_is"}, {"이름", "named"},
	{"살", "lives_in"}, {"거주", "lives_in"},
	{"직업", "works_as"}, {"일하", "works_at"},
}

var enVerbs = regexp.MustCompile(`(?i)\b(is|are|was|has|uses|likes|runs|created|installed|lives|works|depends|contains)\b`)

// ExtractRelations pairs up entities that co-occur within a sentence and
// infers a predicate from the text between their mentions. A recognized
// predicate scores 0.7 confidence; bare co-occurrence scores 0.4.
func ExtractRelations(text string, entities []Extracted) []ExtractedRelation {
	if len(entities) < 2 {
		return nil
	}

	var relations []ExtractedRelation
	for _, sent := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(sent) == "" {
			continue
		}
		lower := strings.ToLower(sent)
		var present []string
		for _, ent := range entities {
			if strings.Contains(lower, strings.ToLower(ent.Name)) {
				present = append(present, ent.Name)
			}
		}
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				predicate := extractPredicate(sent, present[i], present[j])
				confidence := 0.4
				if predicate != "related_to" {
					confidence = 0.7
				}
				relations = append(relations, ExtractedRelation{
					Source:     present[i],
					Target:     present[j],
					Predicate:  predicate,
					Confidence: confidence,
				})
			}
		}
	}

	seen := make(map[string]bool, len(relations))
	unique := relations[:0]
	for _, r := range relations {
		key := strings.ToLower(r.Source) + "\x00" + strings.ToLower(r.Target) + "\x00" + r.Predicate
		if !seen[key] {
			seen[key] = true
			unique = append(unique, r)
		}
	}
	return unique
}

func extractPredicate(sentence, src, tgt string) string {
	lower := strings.ToLower(sentence)
	srcIdx := strings.Index(lower, strings.ToLower(src))
	tgtIdx := strings.Index(lower, strings.ToLower(tgt))
	if srcIdx < 0 || tgtIdx < 0 {
		return "related_to"
	}

	start := srcIdx + len(src)
	if other := tgtIdx + len(tgt); other < start {
		start = other
	}
	end := srcIdx
	if tgtIdx > end {
		end = tgtIdx
	}
	if start >= end {
		return "related_to"
	}
	between := strings.TrimSpace(sentence[start:end])

	for _, kp := range koPredicates {
		if strings.Contains(between, kp.kw) {
			return kp.pred
		}
	}
	if match := enVerbs.FindStringSubmatch(between); match != nil {
		return strings.ToLower(match[1])
	}
	return "related_to"
}

// IngestResult reports what an Ingest call added to the graph.
type IngestResult struct {
	EntitiesAdded  int `json:"entities_added"`
	RelationsAdded int `json:"relations_added"`
}

// Caps per ingested text so one pathological message cannot flood the graph.
const (
	maxEntitiesPerIngest  = 20
	maxRelationsPerIngest = 15
)

// Ingest extracts entities and relations from text and adds them to the
// graph. This is the automatic population path, called when memories are
// saved and when experiences worth remembering are detected.
func (m *Memory) Ingest(text string, metadata map[string]interface{}) (IngestResult, error) {
	var result IngestResult
	if utf8.RuneCountInString(text) < 5 {
		return result, nil
	}

	entities := ExtractEntities(text)
	if len(entities) == 0 {
		return result, nil
	}
	toAdd := entities
	if len(toAdd) > maxEntitiesPerIngest {
		toAdd = toAdd[:maxEntitiesPerIngest]
	}
	for _, ent := range toAdd {
		if _, err := m.AddEntity(ent.Name, ent.Type, metadata); err != nil {
			return result, err
		}
		result.EntitiesAdded++
	}

	relations := ExtractRelations(text, entities)
	if len(relations) > maxRelationsPerIngest {
		relations = relations[:maxRelationsPerIngest]
	}
	for _, rel := range relations {
		if _, err := m.AddRelation(rel.Source, rel.Target, rel.Predicate, rel.Confidence); err != nil {
			return result, err
		}
		result.RelationsAdded++
	}
	return result, nil
}
