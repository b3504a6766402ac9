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
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// LocalSource watches a directory tree on local disk with fsnotify,
// re-arming the watcher on every filesystem error per spec.md §4.1's
// failure model.
type LocalSource struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// LocalSourceOption configures a LocalSource at construction time.
type LocalSourceOption func(*LocalSource)

// WithMaxRescansPerMinute caps how often a debounced fsnotify burst is
// allowed to trigger an actual rescan; a burst that arrives over the cap
// is dropped rather than queued, the same token-bucket-of-one shape as
// the teacher's file watcher trigger rate limit. n <= 0 leaves rescans
// unbounded (the default).
func WithMaxRescansPerMinute(n int) LocalSourceOption {
	return func(s *LocalSource) {
		if n > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
		}
	}
}

// NewLocalSource constructs a LocalSource rooted at dir. debounce
// coalesces bursts of events (e.g. an editor's save-as-rename-then-
// write) into a single rescan.
func NewLocalSource(dir string, debounce time.Duration, logger *slog.Logger, opts ...LocalSourceOption) *LocalSource {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	s := &LocalSource{root: dir, debounce: debounce, logger: logger.With(slog.String("component", "workspace.local"))}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalSource) Root() string { return s.root }

// Watch arms an fsnotify watcher over every directory in the tree,
// debounces the event stream, and calls rescan on each quiet period. If
// the watcher itself errors it is torn down and rebuilt from scratch
// (re-arm and re-walk), rather than leaving the synchronizer unwatched.
func (s *LocalSource) Watch(ctx context.Context, rescan func()) {
	rescan()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.watchOnce(ctx, rescan); err != nil {
			s.logger.Error("watch failed, re-arming", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *LocalSource) watchOnce(ctx context.Context, rescan func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := filepath.Walk(s.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	}); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(s.debounce, func() { s.fireRescan(rescan) })
			} else {
				timer.Reset(s.debounce)
			}
		}
	}
}

// fireRescan runs rescan unless a configured rate limit is exceeded, in
// which case the debounced burst is dropped and logged rather than
// queued for later.
func (s *LocalSource) fireRescan(rescan func()) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("rescan rate limit exceeded, dropping debounced rescan")
		return
	}
	rescan()
}
