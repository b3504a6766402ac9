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
	"testing"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
)

func TestFSSink_AppendAndReadPreservesOrder(t *testing.T) {
	sink, err := NewFSSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSSink() error = %v", err)
	}

	ctx := context.Background()
	first := []dispatch.LogEntry{{Timestamp: time.Unix(1, 0), Message: "line 1"}}
	second := []dispatch.LogEntry{{Timestamp: time.Unix(2, 0), Message: "line 2"}, {Timestamp: time.Unix(3, 0), Message: "line 3"}}

	if err := sink.Append(ctx, "job1", "build", first); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := sink.Append(ctx, "job1", "build", second); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := sink.Read(ctx, "job1", "build")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Read() returned %d entries, want 3", len(got))
	}
	want := []string{"line 1", "line 2", "line 3"}
	for i, w := range want {
		if got[i].Message != w {
			t.Errorf("entry %d = %q, want %q", i, got[i].Message, w)
		}
	}
}

func TestFSSink_ReadUnknownStreamReturnsEmpty(t *testing.T) {
	sink, err := NewFSSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSSink() error = %v", err)
	}

	got, err := sink.Read(context.Background(), "nope", "nope")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read() = %v, want empty", got)
	}
}

func TestFSSink_SeparatesJobLevelFromStepLevelLogs(t *testing.T) {
	sink, err := NewFSSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSSink() error = %v", err)
	}

	ctx := context.Background()
	if err := sink.Append(ctx, "job1", "", []dispatch.LogEntry{{Message: "job level"}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := sink.Append(ctx, "job1", "step-a", []dispatch.LogEntry{{Message: "step level"}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	jobLogs, _ := sink.Read(ctx, "job1", "")
	stepLogs, _ := sink.Read(ctx, "job1", "step-a")

	if len(jobLogs) != 1 || jobLogs[0].Message != "job level" {
		t.Errorf("job-level log = %v", jobLogs)
	}
	if len(stepLogs) != 1 || stepLogs[0].Message != "step level" {
		t.Errorf("step-level log = %v", stepLogs)
	}
}
