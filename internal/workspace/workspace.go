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
	"fmt"
	"log/slog"
	"sync"

	"github.com/stromhub/strom/internal/defs"
	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// Synchronizer is the C1 workspace synchronizer: it owns a Source, the
// last successfully parsed definitions and their revision, and an LRU
// of recent snapshot tarballs.
type Synchronizer struct {
	source Source
	ignore []string
	logger *slog.Logger

	cache *snapshotCache

	mu    sync.RWMutex
	state revisionState

	subMu sync.Mutex
	subs  map[chan string]struct{}
}

// Option configures a Synchronizer at construction time.
type Option func(*Synchronizer)

// WithIgnore sets doublestar ignore patterns matched against paths
// relative to the source root; matching files (and the directories they
// name) are omitted from both the revision hash and the snapshot.
func WithIgnore(patterns ...string) Option {
	return func(s *Synchronizer) { s.ignore = patterns }
}

// New constructs a Synchronizer. cacheSize bounds how many distinct
// snapshot revisions are retained at once (spec.md §6 `snapshot.cache.size`).
func New(source Source, cacheSize int, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		source: source,
		logger: logger.With(slog.String("component", "workspace")),
		cache:  newSnapshotCache(cacheSize),
		subs:   make(map[chan string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the source's watch loop until ctx is done. It blocks until
// ctx is cancelled; callers run it in its own goroutine.
func (s *Synchronizer) Start(ctx context.Context) {
	s.source.Watch(ctx, func() { s.rescan(ctx) })
}

// Current returns the latest parsed definitions and their revision. It
// never blocks on a rescan in progress: it always returns the last
// successful parse, per spec.md §4.1.
func (s *Synchronizer) Current(ctx context.Context) (string, *defs.Definitions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.defs == nil {
		if s.state.err != nil {
			return "", nil, fmt.Errorf("no successful parse yet: %w", s.state.err)
		}
		return "", nil, fmt.Errorf("workspace not yet synchronized")
	}
	return s.state.revision, s.state.defs, nil
}

// Snapshot returns the tar.gz bytes for revision, or a *stromerrors.NotFoundError
// if it has been evicted from the cache.
func (s *Synchronizer) Snapshot(ctx context.Context, revision string) ([]byte, error) {
	data, ok := s.cache.get(revision)
	if !ok {
		return nil, &stromerrors.NotFoundError{Resource: "workspace revision", ID: revision}
	}
	return data, nil
}

// Subscribe returns a channel that receives the new revision string
// every time a parse succeeds and yields a revision different from the
// previous one. The channel is closed when ctx is done.
func (s *Synchronizer) Subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, 1)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
		close(ch)
	}()

	return ch
}

// rescan walks the source tree, hashes it, and if the resulting revision
// differs from the current one, parses and publishes it. A walk or
// parse failure leaves the previous successful state current; the
// failure is recorded and logged, never surfaced as a partial update.
func (s *Synchronizer) rescan(ctx context.Context) {
	t, err := walkTree(s.source.Root(), s.ignore)
	if err != nil {
		s.recordFailure(err)
		return
	}

	revision, err := computeRevision(t)
	if err != nil {
		s.recordFailure(err)
		return
	}

	s.mu.RLock()
	unchanged := s.state.defs != nil && s.state.revision == revision
	s.mu.RUnlock()
	if unchanged {
		s.cache.touch(revision)
		return
	}

	parsed, err := defs.ParseTree(t.files)
	if err != nil {
		s.recordFailure(err)
		return
	}

	snapshot, err := buildSnapshot(t)
	if err != nil {
		s.recordFailure(fmt.Errorf("building snapshot: %w", err))
		return
	}
	s.cache.put(revision, snapshot)

	s.mu.Lock()
	s.state = revisionState{revision: revision, defs: parsed}
	s.mu.Unlock()

	s.logger.Info("published new revision", slog.String("revision", revision))
	s.publish(revision)
}

func (s *Synchronizer) recordFailure(err error) {
	s.logger.Error("rescan failed, keeping previous revision current", slog.Any("error", err))
	s.mu.Lock()
	s.state.err = err
	s.mu.Unlock()
}

func (s *Synchronizer) publish(revision string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- revision:
		default:
			// Slow subscriber: drop this notification, it will observe
			// the latest revision on its next receive via Current.
		}
	}
}
