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
	"time"

	"github.com/stromhub/strom/internal/dispatch"
)

// Server receives log batches posted by runners, appends them to a durable
// Sink, and fans them out over the job event bus (§4.5 "Server side").
type Server struct {
	sink      Sink
	publisher Publisher
}

// NewServer wires a durable sink to the live event bus.
func NewServer(sink Sink, publisher Publisher) *Server {
	return &Server{sink: sink, publisher: publisher}
}

// Ingest appends entries to the durable sink and, only once that succeeds,
// publishes them to jobID's live subscribers. Durability is the
// authoritative record; the bus is a derived notification (§5 shared-
// resource policy).
func (s *Server) Ingest(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error {
	if err := s.sink.Append(ctx, jobID, stepName, entries); err != nil {
		return err
	}

	kind := dispatch.EventStepLogs
	if stepName == "" {
		kind = dispatch.EventLogs
	}
	s.publisher.Publish(dispatch.Event{
		Kind:      kind,
		JobID:     jobID,
		StepName:  stepName,
		Logs:      entries,
		Timestamp: time.Now(),
	})
	return nil
}

// Read returns a job's or step's full durable log, in append order.
func (s *Server) Read(ctx context.Context, jobID, stepName string) ([]dispatch.LogEntry, error) {
	return s.sink.Read(ctx, jobID, stepName)
}
