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
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/stromhub/strom/internal/dispatch"
)

// PartStore is the minimal object-store surface the object-backed Sink
// needs: content-addressed-free put/get/list of immutable byte blobs keyed
// by name; the completion marker is found by listing. A production
// deployment satisfies this with an S3/GCS/Azure Blob client; ObjectSink
// itself only depends on this interface, never on a specific vendor SDK.
type PartStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectSink is the object-store-backed durable sink (§4.5): each Append
// call writes one more immutable part under the stream's prefix, and a
// zero-byte "<prefix>.done" marker records that no more parts are coming
// once the caller calls Seal. Unlike FSSink there is no single append-only
// handle to hold open, so ordering is tracked by a monotonic part index
// rather than file position.
type ObjectSink struct {
	store PartStore

	mu      sync.Mutex
	nextIdx map[string]int
}

// NewObjectSink wraps store behind the Sink interface.
func NewObjectSink(store PartStore) *ObjectSink {
	return &ObjectSink{store: store, nextIdx: make(map[string]int)}
}

func objectKeyPrefix(jobID, stepName string) string {
	prefix := url.QueryEscape(jobID)
	if stepName != "" {
		prefix += "/" + url.QueryEscape(stepName)
	}
	return prefix
}

func partKey(prefix string, idx int) string {
	return fmt.Sprintf("%s/part-%08d.json", prefix, idx)
}

func doneKey(prefix string) string {
	return prefix + "/.done"
}

// Append writes entries as the next part under (jobID, stepName)'s prefix.
func (s *ObjectSink) Append(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	prefix := objectKeyPrefix(jobID, stepName)

	s.mu.Lock()
	idx := s.nextIdx[prefix]
	s.nextIdx[prefix] = idx + 1
	s.mu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("logpipeline: marshaling part: %w", err)
	}
	return s.store.Put(ctx, partKey(prefix, idx), data)
}

// Seal writes the completion marker for (jobID, stepName). Call it once
// the job (or step) has reached a terminal state and no further Append
// calls will arrive; Read works without it, but a reader racing an
// in-progress stream may observe a part list that grows between calls.
func (s *ObjectSink) Seal(ctx context.Context, jobID, stepName string) error {
	prefix := objectKeyPrefix(jobID, stepName)
	return s.store.Put(ctx, doneKey(prefix), nil)
}

// Read concatenates every part for (jobID, stepName) in index order.
func (s *ObjectSink) Read(ctx context.Context, jobID, stepName string) ([]dispatch.LogEntry, error) {
	prefix := objectKeyPrefix(jobID, stepName)

	keys, err := s.store.List(ctx, prefix+"/part-")
	if err != nil {
		return nil, fmt.Errorf("logpipeline: listing parts for %s: %w", prefix, err)
	}
	sort.Strings(keys)

	var entries []dispatch.LogEntry
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("logpipeline: fetching part %s: %w", key, err)
		}
		var part []dispatch.LogEntry
		if err := json.Unmarshal(data, &part); err != nil {
			return nil, fmt.Errorf("logpipeline: parsing part %s: %w", key, err)
		}
		entries = append(entries, part...)
	}
	return entries, nil
}
