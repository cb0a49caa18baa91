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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureAppender struct {
	mu      sync.Mutex
	records []map[string]interface{}
	fail    bool
}

func (c *captureAppender) Append(stream string, record map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("disk full")
	}
	record["_stream"] = stream
	c.records = append(c.records, record)
	return nil
}

func TestAuditTracer_SpanExport(t *testing.T) {
	appender := &captureAppender{}
	tracer := NewAuditTracer(appender, zaptest.NewLogger(t))

	ctx, parent := tracer.StartSpan(context.Background(), "engine.tick")
	_, child := tracer.StartSpan(ctx, "engine.level", WithAttribute(AttrLevel, "reflect"))
	child.Status = Status{Code: StatusOK, Message: "reflected"}
	tracer.EndSpan(child)
	tracer.EndSpan(parent)

	require.Len(t, appender.records, 2)

	childRec := appender.records[0]
	assert.Equal(t, AuditStream, childRec["_stream"])
	assert.Equal(t, "span", childRec["event"])
	assert.Equal(t, "engine.level", childRec["name"])
	assert.Equal(t, parent.SpanID, childRec["parent_span_id"])
	assert.Equal(t, parent.TraceID, childRec["trace_id"])
	assert.Equal(t, "ok", childRec["status"])
	assert.NotNil(t, childRec["ts_ms"])

	parentRec := appender.records[1]
	assert.Equal(t, "engine.tick", parentRec["name"])
	assert.NotContains(t, parentRec, "parent_span_id")
}

func TestAuditTracer_MetricAndEvent(t *testing.T) {
	appender := &captureAppender{}
	tracer := NewAuditTracer(appender, zaptest.NewLogger(t))

	tracer.RecordMetric("pulse.cycles", 3, map[string]string{"chat": "42"})

	ctx, span := tracer.StartSpan(context.Background(), "pulse.turn")
	tracer.RecordEvent(ctx, "approval_granted", map[string]interface{}{"action": "SHELL.EXEC.v1"})

	require.Len(t, appender.records, 2)
	assert.Equal(t, "metric", appender.records[0]["event"])
	assert.Equal(t, float64(3), appender.records[0]["value"])
	assert.Equal(t, "event", appender.records[1]["event"])
	assert.Equal(t, span.SpanID, appender.records[1]["span_id"])
}

func TestAuditTracer_BuffersOnFailureAndFlushes(t *testing.T) {
	appender := &captureAppender{fail: true}
	tracer := NewAuditTracer(appender, zaptest.NewLogger(t))

	_, span := tracer.StartSpan(context.Background(), "storage.append")
	tracer.EndSpan(span)
	assert.Empty(t, appender.records)

	appender.fail = false
	require.NoError(t, tracer.Flush(context.Background()))
	require.Len(t, appender.records, 1)
	assert.Equal(t, "storage.append", appender.records[0]["name"])
}
