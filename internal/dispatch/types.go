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

// Package dispatch is the job store and dispatcher: the durable record of
// every job, the atomic claim that hands a queued job to exactly one
// worker, and the event bus that lets callers watch a job's progress live.
package dispatch

import "time"

// Status is a job's position in its lifecycle. Transitions are
// queued -> running -> {completed, failed} and never reverse; completed
// and failed are absorbing.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SourceType identifies what caused a job to be enqueued.
type SourceType string

const (
	SourceTrigger SourceType = "trigger"
	SourceUser    SourceType = "user"
	SourceWebhook SourceType = "webhook"
)

// Job is the durable record of a unit of work. TaskName and ActionName are
// mutually exclusive: exactly one of them identifies what is run. The
// fields above the blank line are fixed at creation; those below are
// mutated as the job progresses through its lifecycle.
type Job struct {
	JobID string `json:"job_id"`

	TaskName   string         `json:"task_name,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	SourceType SourceType     `json:"source_type"`
	SourceID   string         `json:"source_id"`
	QueuedAt   time.Time      `json:"queued_at"`
	Revision   string         `json:"revision"`

	WorkerID   string         `json:"worker_id,omitempty"`
	LeasedAt   *time.Time     `json:"leased_at,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Success    bool           `json:"success"`
	Status     Status         `json:"status"`

	Steps map[string]*JobStep `json:"steps,omitempty"`
}

// JobStep is the per-step execution record within a task job. The pair
// (JobID, StepName) is unique.
type JobStep struct {
	JobID      string         `json:"job_id"`
	StepName   string         `json:"step_name"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Success    bool           `json:"success"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// StepResult is what a runner reports when a step finishes.
type StepResult struct {
	Output  map[string]any `json:"output,omitempty"`
	Success bool           `json:"success"`
}

// Result is what a runner reports when a job finishes.
type Result struct {
	Output  map[string]any `json:"output,omitempty"`
	Success bool           `json:"success"`
}

// EventKind distinguishes the events a job's subscribers can observe.
type EventKind string

const (
	EventStart      EventKind = "start"
	EventStepStart  EventKind = "step_start"
	EventStepResult EventKind = "step_result"
	EventLogs       EventKind = "logs"
	EventStepLogs   EventKind = "step_logs"
	EventResult     EventKind = "result"
)

// Event is a single state transition or log delivery, placed on the
// in-process multicast bus keyed by job_id.
type Event struct {
	Kind      EventKind  `json:"kind"`
	JobID     string     `json:"job_id"`
	StepName  string     `json:"step_name,omitempty"`
	Job       *Job       `json:"job,omitempty"`
	Step      *JobStep   `json:"step,omitempty"`
	Logs      []LogEntry `json:"logs,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// LogEntry is a single line of stdout/stderr captured from a runner job or
// step. StepName is empty for a lone action job's own log lines. LogEntry
// carries EventLogs/EventStepLogs events and is what a log sink durably
// appends and replays (§4.5).
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	StepName  string    `json:"step_name,omitempty"`
	Stderr    bool      `json:"stderr,omitempty"`
	Message   string    `json:"message"`
}
