package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
	stromerrors "github.com/stromhub/strom/pkg/errors"
)

func newTestJob(id, sourceID string) *dispatch.Job {
	return &dispatch.Job{
		JobID:      id,
		ActionName: "noop",
		Input:      map[string]any{},
		SourceType: dispatch.SourceWebhook,
		SourceID:   sourceID,
		QueuedAt:   time.Now(),
		Revision:   "rev-1",
	}
}

func TestEnqueue_DuplicateSourceRejected(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Enqueue(ctx, newTestJob("job-1", "h-42")); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	err := b.Enqueue(ctx, newTestJob("job-2", "h-42"))
	if err == nil {
		t.Fatal("expected duplicate source_id to be rejected")
	}
	var conflict *stromerrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected *ConflictError, got %T", err)
	}

	job, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != dispatch.StatusQueued {
		t.Errorf("original job status = %v, want queued", job.Status)
	}
}

func TestClaim_SelectsOldestAndIsExclusive(t *testing.T) {
	b := New()
	ctx := context.Background()

	older := newTestJob("job-1", "s-1")
	older.QueuedAt = time.Now().Add(-time.Minute)
	newer := newTestJob("job-2", "s-2")

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

	// job-1 is no longer queued; the next claim must return job-2.
	claimed2, err := b.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatal(err)
	}
	if claimed2 == nil || claimed2.JobID != "job-2" {
		t.Fatalf("Claim() = %v, want job-2", claimed2)
	}

	none, err := b.Claim(ctx, "worker-c")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("expected no queued jobs left, got %v", none)
	}
}

func TestLifecycle_StepsAndTerminalResult(t *testing.T) {
	b := New()
	ctx := context.Background()

	job := newTestJob("job-1", "s-1")
	job.TaskName = "release"
	job.ActionName = ""
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Claim(ctx, "worker-a"); err != nil {
		t.Fatal(err)
	}

	if err := b.ReportStepStart(ctx, "job-1", "build", map[string]any{"x": 1}); err != nil {
		t.Fatalf("ReportStepStart() error = %v", err)
	}
	if err := b.ReportStepResult(ctx, "job-1", "build", dispatch.StepResult{Output: map[string]any{"y": 2}, Success: true}); err != nil {
		t.Fatalf("ReportStepResult() error = %v", err)
	}
	if err := b.ReportResult(ctx, "job-1", dispatch.Result{Output: map[string]any{"done": true}, Success: true}); err != nil {
		t.Fatalf("ReportResult() error = %v", err)
	}

	got, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dispatch.StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	if !got.Success {
		t.Error("Success = false, want true")
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	step, ok := got.Steps["build"]
	if !ok {
		t.Fatal("expected step \"build\" in job record")
	}
	if !step.Success || step.FinishedAt == nil {
		t.Errorf("step = %+v", step)
	}
}

func TestSubscribe_DeliversEventsAndClosesAtTerminalState(t *testing.T) {
	b := New()
	ctx := context.Background()

	job := newTestJob("job-1", "s-1")
	if err := b.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}

	events, err := b.Subscribe(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := b.ReportResult(ctx, "job-1", dispatch.Result{Success: true}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("channel closed before delivering result event")
		}
		if ev.Kind != dispatch.EventResult {
			t.Errorf("event kind = %v, want result", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result event")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected channel to be closed after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSubscribe_UnknownJobFails(t *testing.T) {
	b := New()
	if _, err := b.Subscribe(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error subscribing to unknown job")
	}
}
