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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/stromhub/strom/internal/dispatch"
)

// FSSink is the local-filesystem durable sink: one append-only,
// newline-delimited JSON file per (job_id, step_name), mirroring the
// teacher's append-only audit log.
type FSSink struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSSink roots every log file under dir, creating it if necessary.
func NewFSSink(dir string) (*FSSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logpipeline: creating sink root: %w", err)
	}
	return &FSSink{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FSSink) path(jobID, stepName string) string {
	name := url.QueryEscape(jobID)
	if stepName != "" {
		name += "." + url.QueryEscape(stepName)
	}
	return filepath.Join(s.root, name+".jsonl")
}

func (s *FSSink) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Append opens the key's file in append mode and writes each entry as one
// JSON line, under a per-key lock so concurrent batches never interleave.
func (s *FSSink) Append(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	path := s.path(jobID, stepName)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logpipeline: opening %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("logpipeline: marshaling entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("logpipeline: writing %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("logpipeline: writing %s: %w", path, err)
		}
	}
	return w.Flush()
}

// Read replays a key's file in append order. A missing file is an empty,
// not-yet-written log rather than an error.
func (s *FSSink) Read(ctx context.Context, jobID, stepName string) ([]dispatch.LogEntry, error) {
	path := s.path(jobID, stepName)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logpipeline: opening %s: %w", path, err)
	}
	defer f.Close()

	var entries []dispatch.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize+1024)
	for scanner.Scan() {
		var e dispatch.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("logpipeline: parsing %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logpipeline: reading %s: %w", path, err)
	}
	return entries, nil
}
