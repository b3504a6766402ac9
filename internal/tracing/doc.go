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

/*
Package tracing provides distributed tracing and observability for stromd,
strom-worker, and strom-runner.

It implements OpenTelemetry-based tracing for job and step execution and the
runner-to-server dispatch round trip, Prometheus metrics collection, and
correlation ID propagation for distributed debugging across the three
processes.

# Quick Start

Create a tracer provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "stromd",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewProviderWithConfig(ctx, cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("dispatch")

	ctx, span := tracing.StartJobRun(ctx, tracer, jobID, sourceType)
	defer span.End()

# Correlation IDs

Correlation IDs link requests across service boundaries:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

	collector := provider.MetricsCollector()

	collector.RecordJobStart(ctx, jobID)
	collector.RecordJobComplete(ctx, jobID, sourceType, "completed", duration)
	collector.RecordClaim(ctx, claimLatency)
	collector.RecordLogBatch(ctx, "ok", len(entries))

Metrics exposed at /metrics:

  - strom_jobs_total{source_type,status}
  - strom_job_duration_seconds{source_type,status}
  - strom_steps_total{step,status}
  - strom_claim_latency_seconds
  - strom_log_batches_total{outcome}
  - strom_queue_depth

# Key Components

  - Provider: OpenTelemetry SDK wrapper plus a Prometheus registry
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across services
  - Sampler: Configurable trace sampling
  - export: Span exporters (console, OTLP over HTTP)
*/
package tracing
