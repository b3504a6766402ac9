// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobSpan wraps an OpenTelemetry span with job/step-specific helpers.
type JobSpan struct {
	span trace.Span
}

// StartJobRun creates a root span for a job run, from claim through terminal state.
func StartJobRun(ctx context.Context, tracer trace.Tracer, jobID, sourceType string) (context.Context, *JobSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("job.run: %s", jobID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.source_type", sourceType),
			attribute.String("span.type", "job.run"),
		),
	)

	return ctx, &JobSpan{span: span}
}

// StartStep creates a span for a single step execution within a job.
func StartStep(ctx context.Context, tracer trace.Tracer, stepName, stepType string) (context.Context, *JobSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step: %s", stepName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.name", stepName),
			attribute.String("step.type", stepType),
			attribute.String("span.type", "job.step"),
		),
	)

	return ctx, &JobSpan{span: span}
}

// SetAttributes adds key-value attributes to the span.
func (j *JobSpan) SetAttributes(attrs map[string]any) {
	if j == nil || j.span == nil {
		return
	}

	j.span.SetAttributes(toAttributes(attrs)...)
}

// AddEvent records a timestamped event within the span.
func (j *JobSpan) AddEvent(name string, attrs map[string]any) {
	if j == nil || j.span == nil {
		return
	}

	j.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

// RecordError records an error that occurred during execution.
func (j *JobSpan) RecordError(err error) {
	if j == nil || j.span == nil || err == nil {
		return
	}

	j.span.RecordError(err)
	j.span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the span's final status.
func (j *JobSpan) SetStatus(code codes.Code, message string) {
	if j == nil || j.span == nil {
		return
	}

	j.span.SetStatus(code, message)
}

// End marks the span as complete.
func (j *JobSpan) End() {
	if j == nil || j.span == nil {
		return
	}

	j.span.End()
}

// SpanContext returns the span's trace context for propagation.
func (j *JobSpan) SpanContext() trace.SpanContext {
	if j == nil || j.span == nil {
		return trace.SpanContext{}
	}

	return j.span.SpanContext()
}

// TraceID returns the trace ID as a string.
func (j *JobSpan) TraceID() string {
	if j == nil || j.span == nil {
		return ""
	}

	return j.span.SpanContext().TraceID().String()
}

// SpanID returns the span ID as a string.
func (j *JobSpan) SpanID() string {
	if j == nil || j.span == nil {
		return ""
	}

	return j.span.SpanContext().SpanID().String()
}

// toAttributes converts a loosely-typed attribute map into OTel key-values.
func toAttributes(attrs map[string]any) []attribute.KeyValue {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return otelAttrs
}
