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

// Package sqlite provides a SQLite dispatch.Store for single-node
// deployments, matching the job/job_step schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/dispatch/eventbus"
	stromerrors "github.com/stromhub/strom/pkg/errors"

	_ "modernc.org/sqlite"
)

var _ dispatch.Store = (*Backend)(nil)

// Backend is a SQLite-backed job store. Event delivery (Subscribe) is
// served by an in-process bus, the same way every other backend does it:
// durability and live fan-out are orthogonal concerns, and a restarted
// process has no subscribers left to notify anyway.
type Backend struct {
	db  *sql.DB
	bus *eventbus.Bus
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (creating if necessary) a SQLite-backed Backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db, bus: eventbus.New()}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := b.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS job (
			job_id TEXT PRIMARY KEY,
			task_name TEXT,
			action_name TEXT,
			input TEXT,
			revision TEXT NOT NULL,
			worker_id TEXT,
			queued_at TEXT NOT NULL,
			leased_at TEXT,
			started_at TEXT,
			finished_at TEXT,
			output TEXT,
			success INTEGER,
			status TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			UNIQUE(source_type, source_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_status_queued_at ON job(status, queued_at)`,
		`CREATE TABLE IF NOT EXISTS job_step (
			job_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			input TEXT,
			output TEXT,
			success INTEGER,
			started_at TEXT,
			finished_at TEXT,
			PRIMARY KEY (job_id, step_name),
			FOREIGN KEY (job_id) REFERENCES job(job_id) ON DELETE CASCADE
		)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Enqueue(ctx context.Context, job *dispatch.Job) error {
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO job (job_id, task_name, action_name, input, revision, queued_at, status, source_type, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.JobID, nullString(job.TaskName), nullString(job.ActionName), string(inputJSON),
		job.Revision, formatTime(&job.QueuedAt), string(dispatch.StatusQueued), string(job.SourceType), job.SourceID)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return &stromerrors.ConflictError{Resource: "job", Reason: "duplicate source " + string(job.SourceType) + ":" + job.SourceID}
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = dispatch.StatusQueued
	job.Steps = make(map[string]*dispatch.JobStep)
	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStart, JobID: job.JobID, Job: cloneForBus(job), Timestamp: job.QueuedAt})
	return nil
}

func (b *Backend) Claim(ctx context.Context, workerID string) (*dispatch.Job, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id FROM job WHERE status = ? ORDER BY queued_at ASC LIMIT 1
	`, string(dispatch.StatusQueued)).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued job: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE job SET status = ?, worker_id = ?, leased_at = ? WHERE job_id = ? AND status = ?
	`, string(dispatch.StatusRunning), workerID, formatTime(&now), jobID, string(dispatch.StatusQueued)); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job, err := b.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	b.bus.Publish(dispatch.Event{Kind: dispatch.EventStart, JobID: job.JobID, Job: cloneForBus(job), Timestamp: now})
	return job, nil
}

func (b *Backend) ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}
	now := time.Now()
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO job_step (job_id, step_name, input, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id, step_name) DO UPDATE SET input = excluded.input, started_at = excluded.started_at
	`, jobID, stepName, string(inputJSON), formatTime(&now))
	if err != nil {
		return fmt.Errorf("failed to report step start: %w", err)
	}
	b.bus.Publish(dispatch.Event{
		Kind: dispatch.EventStepStart, JobID: jobID, StepName: stepName,
		Step: &dispatch.JobStep{JobID: jobID, StepName: stepName, Input: input, StartedAt: &now}, Timestamp: now,
	})
	return nil
}

func (b *Backend) ReportStepResult(ctx context.Context, jobID, stepName string, result dispatch.StepResult) error {
	outputJSON, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}
	now := time.Now()
	res, err := b.db.ExecContext(ctx, `
		UPDATE job_step SET output = ?, success = ?, finished_at = ? WHERE job_id = ? AND step_name = ?
	`, string(outputJSON), result.Success, formatTime(&now), jobID, stepName)
	if err != nil {
		return fmt.Errorf("failed to report step result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &stromerrors.NotFoundError{Resource: "job_step", ID: jobID + "/" + stepName}
	}
	b.bus.Publish(dispatch.Event{
		Kind: dispatch.EventStepResult, JobID: jobID, StepName: stepName,
		Step: &dispatch.JobStep{JobID: jobID, StepName: stepName, Output: result.Output, Success: result.Success, FinishedAt: &now}, Timestamp: now,
	})
	return nil
}

func (b *Backend) ReportResult(ctx context.Context, jobID string, result dispatch.Result) error {
	outputJSON, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal job output: %w", err)
	}
	status := dispatch.StatusFailed
	if result.Success {
		status = dispatch.StatusCompleted
	}
	now := time.Now()
	res, err := b.db.ExecContext(ctx, `
		UPDATE job SET output = ?, success = ?, finished_at = ?, status = ? WHERE job_id = ?
	`, string(outputJSON), result.Success, formatTime(&now), string(status), jobID)
	if err != nil {
		return fmt.Errorf("failed to report result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}

	job, getErr := b.Get(ctx, jobID)
	if getErr == nil {
		b.bus.Publish(dispatch.Event{Kind: dispatch.EventResult, JobID: jobID, Job: job, Timestamp: now})
	}
	b.bus.CloseJob(jobID)
	return nil
}

func (b *Backend) Get(ctx context.Context, jobID string) (*dispatch.Job, error) {
	var job dispatch.Job
	var taskName, actionName, workerID, leasedAt, startedAt, finishedAt, outputJSON sql.NullString
	var inputJSON string
	var queuedAt string
	var success sql.NullBool
	var status, sourceType string

	err := b.db.QueryRowContext(ctx, `
		SELECT job_id, task_name, action_name, input, revision, worker_id, queued_at,
			leased_at, started_at, finished_at, output, success, status, source_type, source_id
		FROM job WHERE job_id = ?
	`, jobID).Scan(&job.JobID, &taskName, &actionName, &inputJSON, &job.Revision, &workerID, &queuedAt,
		&leasedAt, &startedAt, &finishedAt, &outputJSON, &success, &status, &sourceType, &job.SourceID)
	if err == sql.ErrNoRows {
		return nil, &stromerrors.NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.TaskName = taskName.String
	job.ActionName = actionName.String
	job.WorkerID = workerID.String
	job.Status = dispatch.Status(status)
	job.SourceType = dispatch.SourceType(sourceType)
	job.Success = success.Bool
	job.QueuedAt = parseTime(queuedAt)
	job.LeasedAt = parseTimePtr(leasedAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	_ = json.Unmarshal([]byte(inputJSON), &job.Input)
	if outputJSON.Valid {
		_ = json.Unmarshal([]byte(outputJSON.String), &job.Output)
	}

	steps, err := b.listSteps(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Steps = steps

	return &job, nil
}

func (b *Backend) listSteps(ctx context.Context, jobID string) (map[string]*dispatch.JobStep, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT step_name, input, output, success, started_at, finished_at FROM job_step WHERE job_id = ?
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[string]*dispatch.JobStep)
	for rows.Next() {
		var s dispatch.JobStep
		var inputJSON, outputJSON, startedAt, finishedAt sql.NullString
		var success sql.NullBool
		if err := rows.Scan(&s.StepName, &inputJSON, &outputJSON, &success, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.JobID = jobID
		s.Success = success.Bool
		if inputJSON.Valid {
			_ = json.Unmarshal([]byte(inputJSON.String), &s.Input)
		}
		if outputJSON.Valid {
			_ = json.Unmarshal([]byte(outputJSON.String), &s.Output)
		}
		s.StartedAt = parseTimePtr(startedAt)
		s.FinishedAt = parseTimePtr(finishedAt)
		steps[s.StepName] = &s
	}
	return steps, rows.Err()
}

func (b *Backend) Subscribe(ctx context.Context, jobID string) (<-chan dispatch.Event, error) {
	if _, err := b.Get(ctx, jobID); err != nil {
		return nil, err
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
	return b.db.Close()
}

func cloneForBus(job *dispatch.Job) *dispatch.Job {
	cp := *job
	return &cp
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
