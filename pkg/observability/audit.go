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
	"sync"
	"time"

	"go.uber.org/zap"
)

// Appender receives finished spans and metrics as stream records.
// Satisfied by the storage layer's audit stream.
type Appender interface {
	Append(stream string, record map[string]interface{}) error
}

// AuditStream is the stream name audit records are appended to.
const AuditStream = "autonomic_audit"

// AuditTracer exports spans and metrics as records on the audit stream.
// Export failures are logged and dropped; tracing never fails an operation.
type AuditTracer struct {
	appender Appender
	logger   *zap.Logger

	mu      sync.Mutex
	pending []map[string]interface{}
}

// NewAuditTracer creates a tracer backed by the given appender.
func NewAuditTracer(appender Appender, logger *zap.Logger) *AuditTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTracer{
		appender: appender,
		logger:   logger,
	}
}

// StartSpan creates a span linked to any parent found in ctx.
func (t *AuditTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts...)
	return ContextWithSpan(ctx, span), span
}

// EndSpan finalizes the span and appends it to the audit stream.
func (t *AuditTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.close()

	record := map[string]interface{}{
		"ts_ms":       span.EndTime.UnixMilli(),
		"event":       "span",
		"name":        span.Name,
		"trace_id":    span.TraceID,
		"span_id":     span.SpanID,
		"duration_ms": span.Duration.Milliseconds(),
		"status":      span.Status.Code.String(),
	}
	if span.ParentID != "" {
		record["parent_span_id"] = span.ParentID
	}
	if span.Status.Message != "" {
		record["status_message"] = span.Status.Message
	}
	if len(span.Attributes) > 0 {
		record["attributes"] = span.Attributes
	}
	t.export(record)
}

// RecordMetric appends a metric record to the audit stream.
func (t *AuditTracer) RecordMetric(name string, value float64, labels map[string]string) {
	record := map[string]interface{}{
		"ts_ms":  time.Now().UnixMilli(),
		"event":  "metric",
		"name":   name,
		"value":  value,
		"labels": labels,
	}
	t.export(record)
}

// RecordEvent appends a standalone event record, linked to the span in ctx if any.
func (t *AuditTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	record := map[string]interface{}{
		"ts_ms": time.Now().UnixMilli(),
		"event": "event",
		"name":  name,
	}
	if span := SpanFromContext(ctx); span != nil {
		record["trace_id"] = span.TraceID
		record["span_id"] = span.SpanID
	}
	if len(attributes) > 0 {
		record["attributes"] = attributes
	}
	t.export(record)
}

// Flush retries any records that failed to append earlier.
func (t *AuditTracer) Flush(ctx context.Context) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, record := range pending {
		if err := t.appender.Append(AuditStream, record); err != nil {
			t.logger.Debug("audit flush drop", zap.Error(err))
		}
	}
	return nil
}

func (t *AuditTracer) export(record map[string]interface{}) {
	if err := t.appender.Append(AuditStream, record); err != nil {
		t.logger.Debug("audit append failed, buffering", zap.Error(err))
		t.mu.Lock()
		// Bounded buffer so a broken disk cannot grow memory without limit.
		if len(t.pending) < 1000 {
			t.pending = append(t.pending, record)
		}
		t.mu.Unlock()
	}
}

var _ Tracer = (*AuditTracer)(nil)
