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

// Package scheduler is the cron trigger engine: once a second it reads
// the workspace's current revision and definitions, evaluates every
// enabled cron trigger, and enqueues a job for each fire time it hasn't
// already seen.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/dispatch"
	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// WorkspaceSource is the subset of the workspace synchronizer the
// scheduler depends on: the current revision and parsed definitions.
type WorkspaceSource interface {
	Current(ctx context.Context) (revision string, definitions *defs.Definitions, err error)
}

// JobEnqueuer is the subset of dispatch.Store the scheduler depends on.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *dispatch.Job) error
}

// triggerState tracks the high-water mark each trigger has scanned up to.
type triggerState struct {
	lastScan time.Time
	expr     *CronExpr
}

// Scheduler runs the tick loop described above.
type Scheduler struct {
	workspace WorkspaceSource
	store     JobEnqueuer
	tick      time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	state map[string]*triggerState // trigger name -> scan state

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler. tick is the poll resolution (spec.md §6
// `scheduler.tick`, default 1s).
func New(workspace WorkspaceSource, store JobEnqueuer, tick time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		workspace: workspace,
		store:     store,
		tick:      tick,
		logger:    logger.With(slog.String("component", "scheduler")),
		state:     make(map[string]*triggerState),
	}
}

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if err := s.runTick(ctx, now); err != nil {
				s.logger.Error("tick failed", slog.Any("error", err))
			}
		}
	}
}

// runTick reads the workspace's current state and fires every enabled
// cron trigger whose (last_scan, now] window contains a match.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) error {
	revision, definitions, err := s.workspace.Current(ctx)
	if err != nil {
		return fmt.Errorf("reading current workspace state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, trig := range definitions.Triggers {
		if !trig.Enabled || trig.Type != defs.TriggerCron {
			continue
		}

		st, ok := s.state[name]
		if !ok || st.expr == nil {
			expr, err := ParseCron(trig.Cron)
			if err != nil {
				s.logger.Error("invalid cron expression", slog.String("trigger", name), slog.Any("error", err))
				continue
			}
			st = &triggerState{lastScan: now.Add(-s.tick), expr: expr}
			s.state[name] = st
		}

		for _, fireTime := range st.expr.FireTimes(st.lastScan, now) {
			s.fire(ctx, name, trig, fireTime, revision)
		}
		st.lastScan = now
	}

	return nil
}

// fire constructs and enqueues a job for a single trigger fire time,
// silently dropping duplicates per spec.md §4.2's idempotence rule.
func (s *Scheduler) fire(ctx context.Context, triggerName string, trig defs.Trigger, fireTime time.Time, revision string) {
	sourceID := fmt.Sprintf("%s:%s", triggerName, fireTime.UTC().Format(time.RFC3339))

	job := &dispatch.Job{
		JobID:      uuid.NewString(),
		TaskName:   trig.Task,
		Input:      trig.Input,
		SourceType: dispatch.SourceTrigger,
		SourceID:   sourceID,
		QueuedAt:   time.Now(),
		Revision:   revision,
	}

	err := s.store.Enqueue(ctx, job)
	var conflict *stromerrors.ConflictError
	switch {
	case err == nil:
		s.logger.Info("fired trigger", slog.String("trigger", triggerName), slog.String("source_id", sourceID))
	case errors.As(err, &conflict):
		s.logger.Debug("trigger fire already enqueued", slog.String("source_id", sourceID))
	default:
		s.logger.Error("failed to enqueue trigger fire", slog.String("trigger", triggerName), slog.Any("error", err))
	}
}
