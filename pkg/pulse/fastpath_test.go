// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryFastPath_ShellCommands(t *testing.T) {
	intent := tryFastPath("GPU 상태 보여줘")
	require.NotNil(t, intent)
	assert.Equal(t, "shell", intent["tool"])
	assert.Equal(t, "nvidia-smi", intent["cmd"])

	intent = tryFastPath("디스크 용량 확인해줘")
	require.NotNil(t, intent)
	assert.Equal(t, "df -h", intent["cmd"])

	intent = tryFastPath("메모리 사용량 알려줘")
	require.NotNil(t, intent)
	assert.Equal(t, "free -h", intent["cmd"])
}

func TestTryFastPath_FileReadNeedsPath(t *testing.T) {
	intent := tryFastPath("work/notes.txt 읽어줘")
	require.NotNil(t, intent)
	assert.Equal(t, "file_read", intent["tool"])
	assert.Equal(t, "work/notes.txt", intent["path"])

	// Read phrasing without a concrete path is not a fast-path hit.
	assert.Nil(t, tryFastPath("그 파일 좀 읽어"))
}

func TestTryFastPath_MemoryExclusions(t *testing.T) {
	intent := tryFastPath("이거 기억해줘: 회의는 3시")
	require.NotNil(t, intent)
	assert.Equal(t, "memory_save", intent["tool"])

	intent = tryFastPath("전에 말한 회의 시간 기억나?")
	require.NotNil(t, intent)
	assert.Equal(t, "memory_find", intent["tool"])
}

func TestTryFastPath_NoMatchAndMetaQuestion(t *testing.T) {
	assert.Nil(t, tryFastPath("오늘 기분이 어때"))
	assert.Nil(t, tryFastPath("어떤 도구를 지원해?"), "capability questions go to the classifier")
}

func TestIsMetaQuestion(t *testing.T) {
	assert.True(t, isMetaQuestion("어떤 기능을 지원해?"))
	assert.True(t, isMetaQuestion("무슨 도구 쓸 수 있어?"))
	// Trailing command verbs always mean action.
	assert.False(t, isMetaQuestion("도구 목록 보여줘"))
	// Concrete artifacts mean action even with question phrasing.
	assert.False(t, isMetaQuestion("이 기능 work/app.py 에도 가능해?"))
	assert.False(t, isMetaQuestion("날씨 어때?"))
}

func TestResolveIntentFast_WithoutDistiller(t *testing.T) {
	intent := resolveIntentFast("디스크 확인해줘", nil, "")
	require.NotNil(t, intent)
	assert.Equal(t, "shell", intent["tool"])

	assert.Nil(t, resolveIntentFast("재밌는 얘기 해줘", nil, ""))
}
