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

// Package logpipeline is the C5 log pipeline: a runner-side Batcher that
// collects per-line stdout/stderr into time/size-bounded batches and ships
// them to the server, and a server-side Sink that durably appends batches
// and fans them out over the job event bus.
package logpipeline

import (
	"context"
	"fmt"

	"github.com/stromhub/strom/internal/dispatch"
)

// Sink is the durable per-job log store (§4.5). Two backends satisfy it:
// a local append-only file per (job_id, step_name), and an object-store
// backend that writes one part per append and seals them with a .done
// marker. Read returns entries in append order; no ordering is asserted
// across steps.
type Sink interface {
	Append(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error
	Read(ctx context.Context, jobID, stepName string) ([]dispatch.LogEntry, error)
}

// Publisher is the narrow slice of the event bus the server side needs:
// fan out an already-durable batch to a job's live subscribers.
type Publisher interface {
	Publish(ev dispatch.Event)
}

func droppedMarker(n int) string {
	if n == 1 {
		return "<1 line dropped>"
	}
	return fmt.Sprintf("<%d lines dropped>", n)
}
