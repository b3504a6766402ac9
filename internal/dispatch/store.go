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

package dispatch

import (
	"context"
	"io"
)

// Store is the job store and dispatcher's full operation set. Every
// implementation must give enqueue its uniqueness guarantee on
// (source_type, source_id) and claim its exclusivity guarantee: claim
// hands a queued job to exactly one caller and flips its status in the
// same atomic step.
type Store interface {
	// Enqueue inserts job with status=queued. It fails with a
	// *stromerrors.ConflictError if (job.SourceType, job.SourceID) already
	// exists; the existing row is left untouched.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically selects the oldest (by QueuedAt) queued job,
	// transitions it to running, and records workerID and the lease time.
	// It returns (nil, nil) when no job is available.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// ReportStepStart creates a job_step row in the running state.
	ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error

	// ReportStepResult transitions a step to a terminal state.
	ReportStepResult(ctx context.Context, jobID, stepName string, result StepResult) error

	// ReportResult transitions the job to completed or failed, recording
	// FinishedAt and Output.
	ReportResult(ctx context.Context, jobID string, result Result) error

	// Get returns the job record including all of its step rows. It fails
	// with a *stromerrors.NotFoundError if jobID is unknown.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Subscribe attaches a buffered receiver to jobID's event stream. The
	// returned channel is closed when ctx is done, the job reaches a
	// terminal state and all its events have been delivered, or the
	// subscriber falls behind its buffer and is dropped.
	Subscribe(ctx context.Context, jobID string) (<-chan Event, error)

	// Publish fans an externally-produced event out to jobID's current
	// subscribers without touching the durable record. It is how the log
	// pipeline delivers EventLogs/EventStepLogs onto the same bus
	// Subscribe reads from, so a single SSE stream carries both
	// lifecycle and log events.
	Publish(ev Event)

	io.Closer
}
