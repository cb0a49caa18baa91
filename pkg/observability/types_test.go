// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode_AuditStreamLabels(t *testing.T) {
	// These strings appear verbatim in autonomic_audit records.
	assert.Equal(t, "unset", StatusUnset.String())
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown", StatusCode(99).String())
}

func TestSpan_SetAttributeOnZeroValue(t *testing.T) {
	var span Span
	span.SetAttribute(AttrActionID, "SHELL.EXEC.v1")
	assert.Equal(t, "SHELL.EXEC.v1", span.Attributes[AttrActionID])
}

func TestSpan_AddEvent(t *testing.T) {
	var span Span
	span.AddEvent("approval_granted", map[string]interface{}{"action": "FS.DELETE.v1"})

	require.Len(t, span.Events, 1)
	assert.Equal(t, "approval_granted", span.Events[0].Name)
	assert.False(t, span.Events[0].Timestamp.IsZero())
}

func TestSpan_RecordError(t *testing.T) {
	var span Span
	span.RecordError(nil)
	assert.Equal(t, StatusUnset, span.Status.Code)

	span.RecordError(errors.New("backend timeout"))
	assert.Equal(t, StatusError, span.Status.Code)
	assert.Equal(t, "backend timeout", span.Status.Message)
	assert.Equal(t, "backend timeout", span.Attributes[AttrErrorMessage])
}

func TestSpanOptions_ApplyAtCreation(t *testing.T) {
	_, span := NewNoOpTracer().StartSpan(context.Background(), "dispatch.execute",
		WithAttribute(AttrToolName, "web_search"),
		WithSpanKind("tool"),
	)
	assert.Equal(t, "web_search", span.Attributes[AttrToolName])
	assert.Equal(t, "tool", span.Attributes["span.kind"])
}
