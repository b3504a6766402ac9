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

// Package memory provides an in-memory dispatch.Store, suitable for tests
// and single-process development deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/dispatch/eventbus"
	stromerrors "github.com/stromhub/strom/pkg/errors"
)

var _ dispatch.Store = (*Backend)(nil)

type sourceKey struct {
	sourceType dispatch.SourceType
	sourceID   string
}

// Backend is a mutex-protected in-memory job store with a per-job
// multicast event bus.
type Backend struct {
	mu      sync.Mutex
	jobs    map[string]*dispatch.Job
	sources map[sourceKey]string // -> job_id
	bus     *eventbus.Bus
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		jobs:    make(map[string]*dispatch.Job),
		sources: make(map[sourceKey]string),
		bus:     eventbus.New(),
	}
}

func (b *Backend) Enqueue(ctx context.Context, job *dispatch.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := sourceKey{job.SourceType, job.SourceID}
	if _, exists := b.sources[key]; exists {
		return &stromerrors.ConflictError{Resource: "job", Reason: "duplicate source " + string(job.SourceType) + ":" + job.SourceID}
	}

	job.Status = dispatch.StatusQueued
	job.Steps = make(map[string]*dispatch.JobStep)
	b.jobs[job.JobID] = job
	b.sources[key] = job.JobID

	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStart, JobID: job.JobID, Job: cloneJob(job), Timestamp: job.QueuedAt})
	return nil
}

func (b *Backend) Claim(ctx context.Context, workerID string) (*dispatch.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var oldest *dispatch.Job
	for _, j := range b.jobs {
		if j.Status != dispatch.StatusQueued {
			continue
		}
		if oldest == nil || j.QueuedAt.Before(oldest.QueuedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now()
	oldest.Status = dispatch.StatusRunning
	oldest.WorkerID = workerID
	oldest.LeasedAt = &now

	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStart, JobID: oldest.JobID, Job: cloneJob(oldest), Timestamp: now})
	return cloneJob(oldest), nil
}

func (b *Backend) ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}

	now := time.Now()
	step := &dispatch.JobStep{JobID: jobID, StepName: stepName, Input: input, StartedAt: &now}
	job.Steps[stepName] = step

	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStepStart, JobID: jobID, StepName: stepName, Step: cloneStep(step), Timestamp: now})
	return nil
}

func (b *Backend) ReportStepResult(ctx context.Context, jobID, stepName string, result dispatch.StepResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}
	step, ok := job.Steps[stepName]
	if !ok {
		return &stromerrors.NotFoundError{Resource: "job_step", ID: jobID + "/" + stepName}
	}

	now := time.Now()
	step.Output = result.Output
	step.Success = result.Success
	step.FinishedAt = &now

	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStepResult, JobID: jobID, StepName: stepName, Step: cloneStep(step), Timestamp: now})
	return nil
}

func (b *Backend) ReportResult(ctx context.Context, jobID string, result dispatch.Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}

	now := time.Now()
	job.Output = result.Output
	job.Success = result.Success
	job.FinishedAt = &now
	if result.Success {
		job.Status = dispatch.StatusCompleted
	} else {
		job.Status = dispatch.StatusFailed
	}

	b.bus.Publish(dispatch.Event{Kind: dispatch.EventResult, JobID: jobID, Job: cloneJob(job), Timestamp: now})
	b.bus.CloseJob(jobID)
	return nil
}

func (b *Backend) Get(ctx context.Context, jobID string) (*dispatch.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil, &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}
	return cloneJob(job), nil
}

func (b *Backend) Subscribe(ctx context.Context, jobID string) (<-chan dispatch.Event, error) {
	b.mu.Lock()
	_, ok := b.jobs[jobID]
	b.mu.Unlock()
	if !ok {
		return nil, &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}
	return b.bus.Subscribe(ctx, jobID), nil
}

// Publish fans ev out to jobID's current subscribers. Used by the log
// pipeline to deliver log events onto the same bus Subscribe reads from.
func (b *Backend) Publish(ev dispatch.Event) {
	b.bus.Publish(ev)
}

func (b *Backend) Close() error {
	b.bus.Close()
	return nil
}

func cloneJob(j *dispatch.Job) *dispatch.Job {
	cp := *j
	cp.Steps = make(map[string]*dispatch.JobStep, len(j.Steps))
	for k, v := range j.Steps {
		cp.Steps[k] = cloneStep(v)
	}
	return &cp
}

func cloneStep(s *dispatch.JobStep) *dispatch.JobStep {
	cp := *s
	return &cp
}
