package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{Path: filepath.Join(dir, "strom.db")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEnqueue_DuplicateSourceRejected(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	job := &dispatch.Job{JobID: "job-1", ActionName: "noop", SourceType: dispatch.SourceWebhook, SourceID: "h-42", QueuedAt: time.Now(), Revision: "rev-1"}
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	dup := &dispatch.Job{JobID: "job-2", ActionName: "noop", SourceType: dispatch.SourceWebhook, SourceID: "h-42", QueuedAt: time.Now(), Revision: "rev-1"}
	if err := b.Enqueue(ctx, dup); err == nil {
		t.Fatal("expected duplicate source_id to be rejected")
	}
}

func TestClaim_SelectsOldest(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	older := &dispatch.Job{JobID: "job-1", ActionName: "noop", SourceType: dispatch.SourceWebhook, SourceID: "s-1", QueuedAt: time.Now().Add(-time.Minute), Revision: "rev-1"}
	newer := &dispatch.Job{JobID: "job-2", ActionName: "noop", SourceType: dispatch.SourceWebhook, SourceID: "s-2", QueuedAt: time.Now(), Revision: "rev-1"}
	if err := b.Enqueue(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := b.Enqueue(ctx, newer); err != nil {
		t.Fatal(err)
	}

	claimed, err := b.Claim(ctx, "worker-a")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil || claimed.JobID != "job-1" {
		t.Fatalf("Claim() = %v, want job-1", claimed)
	}
	if claimed.Status != dispatch.StatusRunning || claimed.WorkerID != "worker-a" {
		t.Errorf("claimed job = %+v", claimed)
	}
}

func TestLifecycle_StepsAndTerminalResult(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	job := &dispatch.Job{JobID: "job-1", TaskName: "release", SourceType: dispatch.SourceWebhook, SourceID: "s-1", QueuedAt: time.Now(), Revision: "rev-1"}
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Claim(ctx, "worker-a"); err != nil {
		t.Fatal(err)
	}
	if err := b.ReportStepStart(ctx, "job-1", "build", map[string]any{"x": float64(1)}); err != nil {
		t.Fatalf("ReportStepStart() error = %v", err)
	}
	if err := b.ReportStepResult(ctx, "job-1", "build", dispatch.StepResult{Output: map[string]any{"y": float64(2)}, Success: true}); err != nil {
		t.Fatalf("ReportStepResult() error = %v", err)
	}
	if err := b.ReportResult(ctx, "job-1", dispatch.Result{Output: map[string]any{"done": true}, Success: true}); err != nil {
		t.Fatalf("ReportResult() error = %v", err)
	}

	got, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dispatch.StatusCompleted || !got.Success {
		t.Errorf("job = %+v", got)
	}
	step, ok := got.Steps["build"]
	if !ok || !step.Success {
		t.Errorf("step = %+v, ok=%v", step, ok)
	}
}

func TestGet_UnknownJobFails(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.Get(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}
