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

import "context"

// Tracer instruments runtime operations. All methods are safe for
// concurrent use; implementations must never fail the traced operation.
type Tracer interface {
	// StartSpan opens a span and returns a context carrying it, so
	// nested calls link to it as children. Pair with a deferred EndSpan.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span)

	// EndSpan finalizes the span and hands it to the exporter.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// RecordEvent records an occurrence outside a span's lifetime;
	// in-span events belong on Span.AddEvent.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})

	// Flush drains anything buffered, called on graceful shutdown.
	Flush(ctx context.Context) error
}

// SpanFromContext returns the span carried by ctx, nil when absent.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan attaches a span to ctx.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

type contextKey string

const spanContextKey contextKey = "treadle.span"
