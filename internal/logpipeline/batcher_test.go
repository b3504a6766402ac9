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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stromhub/strom/internal/action/shell"
	"github.com/stromhub/strom/internal/dispatch"
)

type fakeTransport struct {
	mu      sync.Mutex
	batches [][]dispatch.LogEntry
	fail    int
}

func (t *fakeTransport) Send(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail > 0 {
		t.fail--
		return errFakeTransport
	}
	cp := make([]dispatch.LogEntry, len(entries))
	copy(cp, entries)
	t.batches = append(t.batches, cp)
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (t *fakeTransport) all() []dispatch.LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []dispatch.LogEntry
	for _, b := range t.batches {
		out = append(out, b...)
	}
	return out
}

type fakeTransportErr string

func (e fakeTransportErr) Error() string { return string(e) }

const errFakeTransport = fakeTransportErr("transport failure")

func waitForCount(t *testing.T, transport *fakeTransport, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if transport.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d batches, got %d", n, transport.count())
}

func TestBatcher_FlushesOnSizeBound(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(context.Background(), transport, nil, WithMaxBatchBytes(10), WithFlushInterval(time.Hour))

	b.WriteLine(context.Background(), "job1", "step", shell.LogLine{At: time.Now(), Text: strings.Repeat("x", 20)})

	waitForCount(t, transport, 1, time.Second)
	if got := transport.all(); len(got) != 1 || got[0].Message != strings.Repeat("x", 20) {
		t.Errorf("batch = %v", got)
	}
}

func TestBatcher_FlushesOnTimer(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(context.Background(), transport, nil, WithFlushInterval(20*time.Millisecond), WithMaxBatchBytes(1<<20))

	b.WriteLine(context.Background(), "job1", "step", shell.LogLine{At: time.Now(), Text: "small"})

	waitForCount(t, transport, 1, time.Second)
}

func TestBatcher_SeparatesStreamsByJobAndStep(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(context.Background(), transport, nil, WithFlushInterval(10*time.Millisecond), WithMaxBatchBytes(1<<20))

	b.WriteLine(context.Background(), "job1", "a", shell.LogLine{Text: "from a"})
	b.WriteLine(context.Background(), "job1", "b", shell.LogLine{Text: "from b"})

	waitForCount(t, transport, 2, time.Second)
}

func TestBatcher_DropsOldestOnOverflowWithMarker(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(context.Background(), transport, nil,
		WithFlushInterval(time.Hour), WithMaxBatchBytes(1<<20), WithMaxQueuedEntries(3))

	for i := 0; i < 5; i++ {
		b.WriteLine(context.Background(), "job1", "step", shell.LogLine{Text: "line"})
	}
	b.Flush()

	waitForCount(t, transport, 1, time.Second)
	got := transport.all()
	if len(got) != 4 {
		t.Fatalf("got %d entries, want 4 (1 marker + 3 kept)", len(got))
	}
	if !strings.Contains(got[0].Message, "dropped") {
		t.Errorf("first entry = %q, want a dropped-lines marker", got[0].Message)
	}
}

func TestBatcher_RetriesAfterTransportFailure(t *testing.T) {
	transport := &fakeTransport{fail: 2}
	b := NewBatcher(context.Background(), transport, nil, WithMaxBatchBytes(1), WithFlushInterval(time.Hour))

	b.WriteLine(context.Background(), "job1", "step", shell.LogLine{Text: "x"})

	waitForCount(t, transport, 1, 5*time.Second)
}
