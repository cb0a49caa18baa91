// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackDialogueState_TopicAndTurnCount(t *testing.T) {
	state := TrackDialogueState(DialogueState{}, []string{"도커 컨테이너 상태 확인해줘"})
	assert.Equal(t, "도커", state.Topic)
	assert.Equal(t, 1, state.TurnCount)

	state = TrackDialogueState(state, []string{
		"도커 컨테이너 상태 확인해줘", "도커 로그도 보여줘",
	})
	assert.Equal(t, "도커", state.Topic)
	assert.Equal(t, 2, state.TurnCount, "same topic increments")

	state = TrackDialogueState(state, []string{"날씨 날씨 어때"})
	assert.Equal(t, 1, state.TurnCount, "topic change resets")
}

func TestTrackDialogueState_IntentChainCapped(t *testing.T) {
	state := DialogueState{}
	turns := []string{
		"파일 읽어줘", "코드 실행해줘", "검색해봐", "기억해줘", "명령 실행", "안녕",
	}
	for _, turn := range turns {
		state = TrackDialogueState(state, []string{turn})
	}
	assert.Len(t, state.IntentChain, 5)
	assert.Equal(t, "chat", state.IntentChain[4])
}

func TestTrackDialogueState_EntitiesAccumulate(t *testing.T) {
	state := TrackDialogueState(DialogueState{}, []string{"work/report.md 읽어줘"})
	assert.Contains(t, state.Entities, "work/report.md")

	state = TrackDialogueState(state, []string{"https://example.com/docs 도 확인해"})
	assert.Contains(t, state.Entities, "work/report.md", "old entities survive")
	assert.Contains(t, state.Entities, "https://example.com/docs")
}

func TestExtractEntities(t *testing.T) {
	entities := ExtractEntities("서버 192.168.0.10 포트 8080 에서 app.py 돌려줘, 이름은 홍길동")
	assert.Contains(t, entities, "192.168.0.10")
	assert.Contains(t, entities, "8080")
	assert.Contains(t, entities, "app.py")
	assert.Contains(t, entities, "홍길동")

	assert.Empty(t, ExtractEntities("그냥 잡담이야"))
}

func TestStripVerbSuffix(t *testing.T) {
	assert.Equal(t, "백업실행", stripVerbSuffix("백업실행해줘"))
	// Short tokens keep their ending rather than collapsing to nothing.
	assert.Equal(t, "해줘", stripVerbSuffix("해줘"))
}
