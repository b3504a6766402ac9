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

package runnerexec

import (
	"context"
	"sync"
	"testing"

	"github.com/stromhub/strom/internal/action/shell"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/dispatch"
)

// fakeReporter records every call the executor makes against it.
type fakeReporter struct {
	mu      sync.Mutex
	starts  []string
	results map[string]dispatch.StepResult
	final   *dispatch.Result
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{results: make(map[string]dispatch.StepResult)}
}

func (f *fakeReporter) ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, stepName)
	return nil
}

func (f *fakeReporter) ReportStepResult(ctx context.Context, jobID, stepName string, result dispatch.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[stepName] = result
	return nil
}

func (f *fakeReporter) ReportResult(ctx context.Context, jobID string, result dispatch.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := result
	f.final = &r
	return nil
}

type discardSink struct{}

func (discardSink) WriteLine(ctx context.Context, jobID, stepName string, line shell.LogLine) {}

func echoAction(cmd string) defs.Action {
	return defs.Action{Executor: defs.Executor{Command: cmd}}
}

func TestRunAction_ReportsFinalResult(t *testing.T) {
	reporter := newFakeReporter()
	e := New(reporter, discardSink{}, nil, 1)

	job := &dispatch.Job{JobID: "j1", Input: map[string]any{"name": "x"}}
	action := echoAction(`echo OUTPUT: {"ok": true}`)
	action.Executor.Script = `echo "OUTPUT: {\"ok\": true}"`
	action.Executor.Command = ""

	if err := e.RunAction(context.Background(), job, action); err != nil {
		t.Fatalf("RunAction() error = %v", err)
	}
	if reporter.final == nil {
		t.Fatal("expected a final result to be reported")
	}
	if !reporter.final.Success {
		t.Fatal("expected success")
	}
	if reporter.final.Output["ok"] != true {
		t.Errorf("output = %v", reporter.final.Output)
	}
}

func TestRunTask_SequentialLayersAndStepContext(t *testing.T) {
	reporter := newFakeReporter()
	e := New(reporter, discardSink{}, nil, 1)

	actions := map[string]defs.Action{
		"noop": echoAction(`echo "OUTPUT: {\"v\": 1}"`),
	}
	actions["noop"] = defs.Action{Executor: defs.Executor{Script: `echo "OUTPUT: {\"v\": 1}"`}}
	actions["use"] = defs.Action{Executor: defs.Executor{Command: "echo {{ input.from_a }}"}}

	task := defs.Task{
		Name: "release",
		Flow: map[string]defs.FlowStep{
			"a": {Action: "noop"},
			"b": {Action: "use", DependsOn: []string{"a"}, InputBinding: map[string]string{"from_a": "{{ a.output.v }}"}},
		},
	}

	job := &dispatch.Job{JobID: "j2", Input: map[string]any{}}
	if err := e.RunTask(context.Background(), job, task, actions); err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}

	if reporter.final == nil || !reporter.final.Success {
		t.Fatalf("expected overall success, got %+v", reporter.final)
	}
	if len(reporter.starts) != 2 {
		t.Fatalf("expected both steps to report start, got %v", reporter.starts)
	}
	if !reporter.results["b"].Success {
		t.Fatalf("expected step b to succeed, got %+v", reporter.results["b"])
	}
}

func TestRunTask_ContinueOnFailKeepsRunningDownstream(t *testing.T) {
	reporter := newFakeReporter()
	e := New(reporter, discardSink{}, nil, 1)

	actions := map[string]defs.Action{
		"fail": {Executor: defs.Executor{Command: "false"}},
		"ok":   {Executor: defs.Executor{Command: "true"}},
	}
	task := defs.Task{
		Name: "t",
		Flow: map[string]defs.FlowStep{
			"a": {Action: "fail", ContinueOnFail: true},
			"b": {Action: "ok", DependsOn: []string{"a"}},
		},
	}

	job := &dispatch.Job{JobID: "j3", Input: map[string]any{}}
	if err := e.RunTask(context.Background(), job, task, actions); err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}

	if _, ranB := reporter.results["b"]; !ranB {
		t.Fatal("expected step b to still run after a's permitted failure")
	}
}

func TestRunTask_DefaultFailureAbortsDownstream(t *testing.T) {
	reporter := newFakeReporter()
	e := New(reporter, discardSink{}, nil, 1)

	actions := map[string]defs.Action{
		"fail": {Executor: defs.Executor{Command: "false"}},
		"ok":   {Executor: defs.Executor{Command: "true"}},
	}
	task := defs.Task{
		Name: "t",
		Flow: map[string]defs.FlowStep{
			"a": {Action: "fail"},
			"b": {Action: "ok", DependsOn: []string{"a"}},
		},
	}

	job := &dispatch.Job{JobID: "j4", Input: map[string]any{}}
	if err := e.RunTask(context.Background(), job, task, actions); err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}

	if reporter.final == nil || reporter.final.Success {
		t.Fatalf("expected overall failure, got %+v", reporter.final)
	}
	if _, ranB := reporter.results["b"]; ranB {
		t.Fatal("step b should have been skipped after a's unpermitted failure")
	}
}

func TestRunTask_OnErrorRunsHandlerThenAborts(t *testing.T) {
	reporter := newFakeReporter()
	e := New(reporter, discardSink{}, nil, 1)

	actions := map[string]defs.Action{
		"fail":    {Executor: defs.Executor{Command: "false"}},
		"cleanup": {Executor: defs.Executor{Command: "true"}},
		"ok":      {Executor: defs.Executor{Command: "true"}},
	}
	task := defs.Task{
		Name: "t",
		Flow: map[string]defs.FlowStep{
			"a":       {Action: "fail", OnError: "cleanup"},
			"cleanup": {Action: "cleanup"},
			"b":       {Action: "ok", DependsOn: []string{"a"}},
		},
	}

	job := &dispatch.Job{JobID: "j5", Input: map[string]any{}}
	if err := e.RunTask(context.Background(), job, task, actions); err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}

	if reporter.final == nil || reporter.final.Success {
		t.Fatal("expected overall failure even though the handler ran")
	}
	if _, ranCleanup := reporter.results["cleanup"]; !ranCleanup {
		t.Fatal("expected the on_error handler to have run")
	}
	if _, ranB := reporter.results["b"]; ranB {
		t.Fatal("step b should not run once the job is aborting")
	}
}
