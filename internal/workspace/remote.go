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

package workspace

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// maxPollBackoff is the ceiling on remote poll retry backoff (spec.md
// §4.1: "retry with exponential backoff capped at 5 minutes").
const maxPollBackoff = 5 * time.Minute

// RemoteSource polls a git remote on an interval, checking out ref into
// a local working directory that doubles as the Source root. No VCS
// client library appears anywhere in the retrieved pack, so this shells
// out to the system git binary the same way the runner's shell action
// shells out to its own commands, rather than hand-rolling a git
// protocol client (see DESIGN.md).
type RemoteSource struct {
	url      string
	ref      string
	dir      string
	interval time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	backoffUntil time.Time
	backoffCount int
}

// NewRemoteSource constructs a RemoteSource that clones url (or fetches
// into an existing checkout) at dir, polling every interval.
func NewRemoteSource(url, ref, dir string, interval time.Duration, logger *slog.Logger) *RemoteSource {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RemoteSource{
		url:      url,
		ref:      ref,
		dir:      dir,
		interval: interval,
		logger:   logger.With(slog.String("component", "workspace.remote")),
	}
}

func (s *RemoteSource) Root() string { return s.dir }

// Watch polls on a ticker, syncing the checkout before every rescan and
// applying exponential backoff (30s, 60s, 120s, ... capped at 5m) to
// repeated sync failures, continuing to serve whatever was last checked
// out successfully in the meantime.
func (s *RemoteSource) Watch(ctx context.Context, rescan func()) {
	if err := s.sync(ctx); err != nil {
		s.logger.Error("initial checkout failed", slog.Any("error", err))
	}
	rescan()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			blocked := time.Now().Before(s.backoffUntil)
			s.mu.Unlock()
			if blocked {
				continue
			}

			if err := s.sync(ctx); err != nil {
				s.logger.Error("sync failed, backing off", slog.Any("error", err))
				s.recordFailure()
				continue
			}
			s.recordSuccess()
			rescan()
		}
	}
}

func (s *RemoteSource) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffCount++
	d := time.Duration(30<<uint(s.backoffCount-1)) * time.Second
	if d > maxPollBackoff {
		d = maxPollBackoff
	}
	s.backoffUntil = time.Now().Add(d)
}

func (s *RemoteSource) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffCount = 0
	s.backoffUntil = time.Time{}
}

func (s *RemoteSource) sync(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(s.dir, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(s.dir), 0o755); err != nil {
			return err
		}
		return s.run(ctx, ".", "git", "clone", "--branch", s.ref, "--depth", "1", s.url, s.dir)
	}
	if err := s.run(ctx, s.dir, "git", "fetch", "--depth", "1", "origin", s.ref); err != nil {
		return err
	}
	return s.run(ctx, s.dir, "git", "reset", "--hard", "FETCH_HEAD")
}

func (s *RemoteSource) run(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &execError{cmd: name, output: string(out), cause: err}
	}
	return nil
}

type execError struct {
	cmd    string
	output string
	cause  error
}

func (e *execError) Error() string {
	return e.cmd + ": " + e.cause.Error() + ": " + e.output
}

func (e *execError) Unwrap() error { return e.cause }
