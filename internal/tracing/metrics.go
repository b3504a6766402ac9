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
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SubscriberCounter reports live SSE/log-stream subscriber counts, backing
// the strom_sse_subscribers and strom_log_aggregator_jobs gauges.
type SubscriberCounter interface {
	TotalSubscriberCount() int
	SubscriberMapKeyCount() int
}

// JobCounter reports the number of jobs currently held in memory (queued or
// leased), backing the strom_jobs_in_memory gauge.
type JobCounter interface {
	JobCount() int
}

// MetricsCollector collects Prometheus metrics for job dispatch and execution.
type MetricsCollector struct {
	registry *prometheus.Registry

	jobsTotal  *prometheus.CounterVec
	stepsTotal *prometheus.CounterVec
	logBatches *prometheus.CounterVec

	jobDuration  *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec
	claimLatency prometheus.Histogram

	activeJobs   map[string]bool
	activeJobsMu sync.RWMutex
	queueDepth   int64
	queueDepthMu sync.RWMutex

	subscriberCounter SubscriberCounter
	jobCounter        JobCounter
	subscriberMu      sync.RWMutex
	jobCounterMu      sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector and registers its
// collectors against the given Prometheus registry.
func NewMetricsCollector(registry *prometheus.Registry) (*MetricsCollector, error) {
	mc := &MetricsCollector{
		registry:   registry,
		activeJobs: make(map[string]bool),
	}

	mc.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strom_jobs_total",
		Help: "Total number of jobs dispatched, by source type and terminal status",
	}, []string{"source_type", "status"})

	mc.stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strom_steps_total",
		Help: "Total number of job steps executed, by step name and terminal status",
	}, []string{"step", "status"})

	mc.logBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strom_log_batches_total",
		Help: "Total number of log batches a runner attempted to flush to the server, by outcome",
	}, []string{"outcome"})

	mc.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strom_job_duration_seconds",
		Help:    "Job duration in seconds, from enqueue to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"source_type", "status"})

	mc.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strom_step_duration_seconds",
		Help:    "Step execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"step", "status"})

	mc.claimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strom_claim_latency_seconds",
		Help:    "Time between a job's queued_at and the moment a worker claims it",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	activeJobsGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_active_jobs",
		Help: "Number of currently running jobs",
	}, func() float64 {
		mc.activeJobsMu.RLock()
		defer mc.activeJobsMu.RUnlock()
		return float64(len(mc.activeJobs))
	})

	queueDepthGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_queue_depth",
		Help: "Number of jobs queued and not yet claimed",
	}, func() float64 {
		mc.queueDepthMu.RLock()
		defer mc.queueDepthMu.RUnlock()
		return float64(mc.queueDepth)
	})

	sseSubscribersGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_sse_subscribers",
		Help: "Number of active SSE/log-stream subscribers across all jobs",
	}, func() float64 {
		mc.subscriberMu.RLock()
		defer mc.subscriberMu.RUnlock()
		if mc.subscriberCounter == nil {
			return 0
		}
		return float64(mc.subscriberCounter.TotalSubscriberCount())
	})

	logAggregatorJobsGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_log_aggregator_jobs",
		Help: "Number of job_id keys in the log-stream subscriber map",
	}, func() float64 {
		mc.subscriberMu.RLock()
		defer mc.subscriberMu.RUnlock()
		if mc.subscriberCounter == nil {
			return 0
		}
		return float64(mc.subscriberCounter.SubscriberMapKeyCount())
	})

	goroutinesGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_goroutines",
		Help: "Number of active goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	jobsInMemoryGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_jobs_in_memory",
		Help: "Number of jobs held in the in-memory/cached view",
	}, func() float64 {
		mc.jobCounterMu.RLock()
		defer mc.jobCounterMu.RUnlock()
		if mc.jobCounter == nil {
			return 0
		}
		return float64(mc.jobCounter.JobCount())
	})

	heapBytesGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "strom_heap_bytes",
		Help: "Current heap allocation in bytes",
	}, func() float64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return float64(m.HeapAlloc)
	})

	collectors := []prometheus.Collector{
		mc.jobsTotal, mc.stepsTotal, mc.logBatches,
		mc.jobDuration, mc.stepDuration, mc.claimLatency,
		activeJobsGauge, queueDepthGauge, sseSubscribersGauge,
		logAggregatorJobsGauge, goroutinesGauge, jobsInMemoryGauge, heapBytesGauge,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return mc, nil
}

// RecordJobStart records a job transitioning into the running state.
func (mc *MetricsCollector) RecordJobStart(ctx context.Context, jobID string) {
	mc.activeJobsMu.Lock()
	mc.activeJobs[jobID] = true
	mc.activeJobsMu.Unlock()
}

// RecordJobComplete records a job reaching a terminal state.
func (mc *MetricsCollector) RecordJobComplete(ctx context.Context, jobID, sourceType, status string, duration time.Duration) {
	mc.activeJobsMu.Lock()
	delete(mc.activeJobs, jobID)
	mc.activeJobsMu.Unlock()

	mc.jobsTotal.WithLabelValues(sourceType, status).Inc()
	mc.jobDuration.WithLabelValues(sourceType, status).Observe(duration.Seconds())
}

// RecordStepComplete records a step reaching a terminal state.
func (mc *MetricsCollector) RecordStepComplete(ctx context.Context, stepName, status string, duration time.Duration) {
	mc.stepsTotal.WithLabelValues(stepName, status).Inc()
	mc.stepDuration.WithLabelValues(stepName, status).Observe(duration.Seconds())
}

// RecordClaim records the latency between a job's queued_at and its claim.
func (mc *MetricsCollector) RecordClaim(ctx context.Context, latency time.Duration) {
	mc.claimLatency.Observe(latency.Seconds())
}

// RecordLogBatch records a runner's attempt to flush a batch of log entries
// to the server, by outcome ("ok", "retry", "dropped").
func (mc *MetricsCollector) RecordLogBatch(ctx context.Context, outcome string, entries int) {
	mc.logBatches.WithLabelValues(outcome).Inc()
	_ = entries
}

// IncrementQueueDepth increments the pending job queue depth.
func (mc *MetricsCollector) IncrementQueueDepth() {
	mc.queueDepthMu.Lock()
	mc.queueDepth++
	mc.queueDepthMu.Unlock()
}

// DecrementQueueDepth decrements the pending job queue depth.
func (mc *MetricsCollector) DecrementQueueDepth() {
	mc.queueDepthMu.Lock()
	if mc.queueDepth > 0 {
		mc.queueDepth--
	}
	mc.queueDepthMu.Unlock()
}

// SetSubscriberCounter sets the subscriber counter for live-stream metrics.
func (mc *MetricsCollector) SetSubscriberCounter(counter SubscriberCounter) {
	mc.subscriberMu.Lock()
	mc.subscriberCounter = counter
	mc.subscriberMu.Unlock()
}

// SetJobCounter sets the job counter for in-memory job cache metrics.
func (mc *MetricsCollector) SetJobCounter(counter JobCounter) {
	mc.jobCounterMu.Lock()
	mc.jobCounter = counter
	mc.jobCounterMu.Unlock()
}

// Handler returns the Prometheus scrape endpoint for this collector's registry.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
