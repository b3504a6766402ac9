package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()

	mc, err := NewMetricsCollector(registry)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	if mc == nil {
		t.Fatal("Expected non-nil MetricsCollector")
	}

	if mc.activeJobs == nil {
		t.Error("Expected activeJobs map to be initialized")
	}
}

func TestMetricsCollector_RecordJobStart(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	mc.RecordJobStart(ctx, "job-123")

	mc.activeJobsMu.RLock()
	_, exists := mc.activeJobs["job-123"]
	mc.activeJobsMu.RUnlock()

	if !exists {
		t.Error("Expected job to be tracked as active")
	}
}

func TestMetricsCollector_RecordJobComplete(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	jobID := "job-456"

	mc.RecordJobStart(ctx, jobID)

	mc.activeJobsMu.RLock()
	_, exists := mc.activeJobs[jobID]
	mc.activeJobsMu.RUnlock()
	if !exists {
		t.Fatal("Expected job to be tracked")
	}

	mc.RecordJobComplete(ctx, jobID, "cron", "completed", 5*time.Second)

	mc.activeJobsMu.RLock()
	_, stillExists := mc.activeJobs[jobID]
	mc.activeJobsMu.RUnlock()
	if stillExists {
		t.Error("Expected job to be removed from active jobs after completion")
	}
}

func TestMetricsCollector_RecordStepComplete(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()

	// Should not panic with valid inputs
	mc.RecordStepComplete(ctx, "step-1", "success", 100*time.Millisecond)
	mc.RecordStepComplete(ctx, "step-2", "failed", 50*time.Millisecond)
	mc.RecordStepComplete(ctx, "step-3", "skipped", 0)
}

func TestMetricsCollector_RecordClaim(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.RecordClaim(context.Background(), 250*time.Millisecond)
}

func TestMetricsCollector_RecordLogBatch(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	mc.RecordLogBatch(ctx, "ok", 20)
	mc.RecordLogBatch(ctx, "retry", 20)
	mc.RecordLogBatch(ctx, "dropped", 5)
}

func TestMetricsCollector_QueueDepth(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.queueDepthMu.RLock()
	initial := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if initial != 0 {
		t.Errorf("Expected initial queue depth 0, got %d", initial)
	}

	mc.IncrementQueueDepth()
	mc.IncrementQueueDepth()

	mc.queueDepthMu.RLock()
	afterIncrement := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if afterIncrement != 2 {
		t.Errorf("Expected queue depth 2 after increments, got %d", afterIncrement)
	}

	mc.DecrementQueueDepth()

	mc.queueDepthMu.RLock()
	afterDecrement := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if afterDecrement != 1 {
		t.Errorf("Expected queue depth 1 after decrement, got %d", afterDecrement)
	}
}

func TestMetricsCollector_QueueDepthNeverNegative(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.DecrementQueueDepth()

	mc.queueDepthMu.RLock()
	depth := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if depth != 0 {
		t.Errorf("Expected queue depth to stay at 0, got %d", depth)
	}
}

func TestMetricsCollector_ConcurrentAccess(t *testing.T) {
	mc, err := NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(4)

		go func(id int) {
			defer wg.Done()
			mc.IncrementQueueDepth()
		}(i)

		go func(id int) {
			defer wg.Done()
			mc.DecrementQueueDepth()
		}(i)

		go func(id int) {
			defer wg.Done()
			jobID := "job-" + string(rune(id+'0'))
			mc.RecordJobStart(ctx, jobID)
			mc.RecordJobComplete(ctx, jobID, "webhook", "completed", time.Millisecond)
		}(i)

		go func(id int) {
			defer wg.Done()
			mc.RecordStepComplete(ctx, "step", "success", time.Millisecond)
		}(i)
	}

	wg.Wait()

	// Should complete without panics or races
}
