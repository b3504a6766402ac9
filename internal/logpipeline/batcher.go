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

package logpipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stromhub/strom/internal/action/shell"
	"github.com/stromhub/strom/internal/dispatch"
)

type streamKey struct {
	jobID    string
	stepName string
}

// stream buffers one (job_id, step_name)'s unsent log entries.
type stream struct {
	mu      sync.Mutex
	buf     []dispatch.LogEntry
	bytes   int
	dropped int
	timer   *time.Timer
}

// Batcher is the runner-side half of the log pipeline: it satisfies
// runnerexec.LineSink, accumulating lines per (job_id, step_name) and
// flushing whichever comes first of a size or time bound (§4.5
// "Transport"). Each stream retries a failed send with jittered
// exponential backoff without blocking new lines from being collected.
type Batcher struct {
	ctx       context.Context
	transport Transport
	logger    *slog.Logger

	flushInterval    time.Duration
	maxBatchBytes    int
	maxQueuedEntries int

	mu      sync.Mutex
	streams map[streamKey]*stream
}

// BatcherOption configures a Batcher at construction time.
type BatcherOption func(*Batcher)

// WithFlushInterval overrides the default 200ms time-based flush bound.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.flushInterval = d }
}

// WithMaxBatchBytes overrides the default 64KiB size-based flush bound.
func WithMaxBatchBytes(n int) BatcherOption {
	return func(b *Batcher) { b.maxBatchBytes = n }
}

// WithMaxQueuedEntries overrides how many unflushed entries a single
// stream holds before the oldest is dropped.
func WithMaxQueuedEntries(n int) BatcherOption {
	return func(b *Batcher) { b.maxQueuedEntries = n }
}

// NewBatcher starts a Batcher whose in-flight sends are scoped to ctx: once
// ctx is done, any send still retrying abandons further attempts.
func NewBatcher(ctx context.Context, transport Transport, logger *slog.Logger, opts ...BatcherOption) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		ctx:              ctx,
		transport:        transport,
		logger:           logger.With(slog.String("component", "logpipeline.batcher")),
		flushInterval:    flushInterval,
		maxBatchBytes:    maxBatchBytes,
		maxQueuedEntries: maxQueuedEntries,
		streams:          make(map[streamKey]*stream),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WriteLine implements runnerexec.LineSink.
func (b *Batcher) WriteLine(ctx context.Context, jobID, stepName string, line shell.LogLine) {
	key := streamKey{jobID, stepName}
	st := b.streamFor(key)

	entry := dispatch.LogEntry{Timestamp: line.At, StepName: stepName, Stderr: line.Stderr, Message: line.Text}

	st.mu.Lock()
	if len(st.buf) >= b.maxQueuedEntries {
		st.buf = st.buf[1:]
		st.dropped++
	}
	st.buf = append(st.buf, entry)
	st.bytes += len(entry.Message)
	flushNow := st.bytes >= b.maxBatchBytes
	if flushNow && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	} else if !flushNow && st.timer == nil {
		st.timer = time.AfterFunc(b.flushInterval, func() { b.flush(key, st) })
	}
	st.mu.Unlock()

	if flushNow {
		b.flush(key, st)
	}
}

func (b *Batcher) streamFor(key streamKey) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[key]
	if !ok {
		st = &stream{}
		b.streams[key] = st
	}
	return st
}

// flush drains st's buffer and sends it, retrying on failure without
// holding up the caller: WriteLine keeps collecting into a fresh buffer
// while a previous batch is still being retried.
func (b *Batcher) flush(key streamKey, st *stream) {
	st.mu.Lock()
	if len(st.buf) == 0 {
		st.timer = nil
		st.mu.Unlock()
		return
	}
	batch := st.buf
	dropped := st.dropped
	st.buf = nil
	st.bytes = 0
	st.dropped = 0
	st.timer = nil
	st.mu.Unlock()

	if dropped > 0 {
		marker := dispatch.LogEntry{Timestamp: time.Now(), StepName: key.stepName, Message: droppedMarker(dropped)}
		batch = append([]dispatch.LogEntry{marker}, batch...)
	}

	go b.send(key, batch)
}

func (b *Batcher) send(key streamKey, batch []dispatch.LogEntry) {
	for attempt := 1; ; attempt++ {
		if err := b.transport.Send(b.ctx, key.jobID, key.stepName, batch); err == nil {
			return
		} else if b.ctx.Err() != nil {
			return
		} else {
			b.logger.Warn("log batch send failed, retrying",
				slog.String("job_id", key.jobID), slog.String("step_name", key.stepName),
				slog.Int("attempt", attempt), slog.Any("error", err))
		}

		select {
		case <-time.After(defaultBackoff.next(attempt)):
		case <-b.ctx.Done():
			return
		}
	}
}

// Flush cancels every stream's idle timer and sends its buffered entries
// immediately, without waiting for the network round trip to complete.
// Call it once a job ends so its final lines aren't stranded behind the
// 200ms idle flush timer.
func (b *Batcher) Flush() {
	b.mu.Lock()
	keys := make([]streamKey, 0, len(b.streams))
	streams := make([]*stream, 0, len(b.streams))
	for k, st := range b.streams {
		keys = append(keys, k)
		streams = append(streams, st)
	}
	b.mu.Unlock()

	for i, st := range streams {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.mu.Unlock()
		b.flush(keys[i], st)
	}
}
