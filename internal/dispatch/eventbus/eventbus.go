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

// Package eventbus is the in-process multicast channel every dispatch.Store
// implementation publishes job events onto, keyed by job_id. It is shared
// across backends (memory, sqlite, postgres) because live subscriber
// fan-out is orthogonal to durability: a restarted process has no
// subscribers left to notify regardless of what durable store backs it.
package eventbus

import (
	"context"
	"sync"

	"github.com/stromhub/strom/internal/dispatch"
)

// bufferSize bounds how many undelivered events a subscriber may
// accumulate before it is dropped rather than blocking the publisher.
const bufferSize = 256

// Bus is an in-process multicast channel keyed by job_id.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan dispatch.Event]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[chan dispatch.Event]struct{})}
}

// Subscribe attaches a buffered receiver to jobID's stream. The channel is
// closed when ctx is done, CloseJob(jobID) is called, or the subscriber
// falls behind its buffer and is dropped.
func (b *Bus) Subscribe(ctx context.Context, jobID string) <-chan dispatch.Event {
	ch := make(chan dispatch.Event, bufferSize)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan dispatch.Event]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.drop(jobID, ch)
	}()

	return ch
}

// Publish fans ev out to every current subscriber of ev.JobID.
func (b *Bus) Publish(ev dispatch.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			// Subscriber fell behind: drop it rather than block the
			// publisher. The channel is closed, ending its stream.
			delete(b.subs[ev.JobID], ch)
			close(ch)
		}
	}
}

func (b *Bus) drop(jobID string, ch chan dispatch.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[jobID]; ok {
		if _, present := set[ch]; present {
			delete(set, ch)
			close(ch)
		}
	}
}

// CloseJob closes and removes every subscriber of jobID. Call once the job
// reaches a terminal state and its final event has been published.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[jobID] {
		close(ch)
	}
	delete(b.subs, jobID)
}

// Close shuts down every subscriber of every job.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for jobID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, jobID)
	}
	return nil
}
