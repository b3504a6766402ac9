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

// Package postgres provides a PostgreSQL dispatch.Store for distributed,
// multi-worker deployments where SQLite's single-writer restriction
// doesn't fit.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/dispatch/eventbus"
	stromerrors "github.com/stromhub/strom/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ dispatch.Store = (*Backend)(nil)

// Backend is a PostgreSQL-backed job store. Claim's exclusivity comes from
// `SELECT ... FOR UPDATE SKIP LOCKED` inside a transaction rather than from
// in-process locking, so multiple server processes can safely share one
// database.
type Backend struct {
	db  *sql.DB
	bus *eventbus.Bus
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// New opens a PostgreSQL-backed Backend, running migrations if necessary.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db, bus: eventbus.New()}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS job (
			job_id VARCHAR(64) PRIMARY KEY,
			task_name VARCHAR(255),
			action_name VARCHAR(255),
			input JSONB,
			revision VARCHAR(128) NOT NULL,
			worker_id VARCHAR(255),
			queued_at TIMESTAMPTZ NOT NULL,
			leased_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			output JSONB,
			success BOOLEAN,
			status VARCHAR(20) NOT NULL,
			source_type VARCHAR(20) NOT NULL,
			source_id VARCHAR(255) NOT NULL,
			UNIQUE(source_type, source_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_status_queued_at ON job(status, queued_at)`,
		`CREATE TABLE IF NOT EXISTS job_step (
			job_id VARCHAR(64) NOT NULL REFERENCES job(job_id) ON DELETE CASCADE,
			step_name VARCHAR(255) NOT NULL,
			input JSONB,
			output JSONB,
			success BOOLEAN,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			PRIMARY KEY (job_id, step_name)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.JobID, job.TaskName, job.ActionName, inputJSON, job.Revision, job.QueuedAt, string(dispatch.StatusQueued), string(job.SourceType), job.SourceID)
	if err != nil {
		if isUniqueViolation(err) {
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
		SELECT job_id FROM job WHERE status = $1 ORDER BY queued_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED
	`, string(dispatch.StatusQueued)).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued job: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE job SET status = $1, worker_id = $2, leased_at = $3 WHERE job_id = $4
	`, string(dispatch.StatusRunning), workerID, now, jobID); err != nil {
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
		INSERT INTO job_step (job_id, step_name, input, started_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, step_name) DO UPDATE SET input = excluded.input, started_at = excluded.started_at
	`, jobID, stepName, inputJSON, now)
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
		UPDATE job_step SET output = $1, success = $2, finished_at = $3 WHERE job_id = $4 AND step_name = $5
	`, outputJSON, result.Success, now, jobID, stepName)
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
		UPDATE job SET output = $1, success = $2, finished_at = $3, status = $4 WHERE job_id = $5
	`, outputJSON, result.Success, now, string(status), jobID)
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
	var taskName, actionName, workerID sql.NullString
	var leasedAt, startedAt, finishedAt sql.NullTime
	var inputJSON, outputJSON []byte
	var success sql.NullBool
	var status, sourceType string

	err := b.db.QueryRowContext(ctx, `
		SELECT job_id, task_name, action_name, input, revision, worker_id, queued_at,
			leased_at, started_at, finished_at, output, success, status, source_type, source_id
		FROM job WHERE job_id = $1
	`, jobID).Scan(&job.JobID, &taskName, &actionName, &inputJSON, &job.Revision, &workerID, &job.QueuedAt,
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
	job.LeasedAt = nullTimePtr(leasedAt)
	job.StartedAt = nullTimePtr(startedAt)
	job.FinishedAt = nullTimePtr(finishedAt)
	if len(inputJSON) > 0 {
		_ = json.Unmarshal(inputJSON, &job.Input)
	}
	if len(outputJSON) > 0 {
		_ = json.Unmarshal(outputJSON, &job.Output)
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
		SELECT step_name, input, output, success, started_at, finished_at FROM job_step WHERE job_id = $1
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[string]*dispatch.JobStep)
	for rows.Next() {
		var s dispatch.JobStep
		var inputJSON, outputJSON []byte
		var success sql.NullBool
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&s.StepName, &inputJSON, &outputJSON, &success, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.JobID = jobID
		s.Success = success.Bool
		if len(inputJSON) > 0 {
			_ = json.Unmarshal(inputJSON, &s.Input)
		}
		if len(outputJSON) > 0 {
			_ = json.Unmarshal(outputJSON, &s.Output)
		}
		s.StartedAt = nullTimePtr(startedAt)
		s.FinishedAt = nullTimePtr(finishedAt)
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

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
