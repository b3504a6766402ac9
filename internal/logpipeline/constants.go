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

import "time"

const (
	// maxLineSize bounds a single log line, matching the runner's own
	// stdout/stderr line cap (§4.5).
	maxLineSize = 64 * 1024

	// maxBatchBytes is the size-based flush trigger: a batch ships as
	// soon as its buffered message bytes reach this bound.
	maxBatchBytes = 64 * 1024

	// flushInterval is the time-based flush trigger.
	flushInterval = 200 * time.Millisecond

	// maxQueuedEntries bounds how many unflushed entries a single
	// (job_id, step_name) stream may hold before the oldest is dropped.
	maxQueuedEntries = 4096
)
