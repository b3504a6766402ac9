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

// Package runnerexec is the C4 runner: it executes a single claimed job
// end to end, either a lone action invocation or a task's flow DAG,
// reporting step and job results as it goes.
package runnerexec

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stromhub/strom/internal/action/shell"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/jobresult"
	"github.com/stromhub/strom/internal/secrets"
	"github.com/stromhub/strom/internal/template"
)

// Reporter is the subset of dispatch.Store the runner needs to report
// progress back through — defined locally, same "narrow interface at
// the consumer" shape already used by internal/scheduler.WorkspaceSource,
// so this package can be satisfied either by a dispatch.Store directly or
// by an HTTP client stub in front of the server's wire protocol.
type Reporter interface {
	ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error
	ReportStepResult(ctx context.Context, jobID, stepName string, result dispatch.StepResult) error
	ReportResult(ctx context.Context, jobID string, result dispatch.Result) error
}

// LineSink receives every stdout/stderr line an action produces, for the
// log pipeline (C5) to batch and ship. stepName is empty for a lone
// action job (it has no step of its own).
type LineSink interface {
	WriteLine(ctx context.Context, jobID, stepName string, line shell.LogLine)
}

// Executor runs jobs against a fixed Reporter/LineSink/secret registry.
type Executor struct {
	reporter Reporter
	logs     LineSink
	secrets  *secrets.Registry
	fanout   int
}

// New constructs an Executor. fanout bounds how many steps within one
// topological layer run concurrently (spec.md §4.4 point 3); fanout <= 0
// is treated as 1 (strictly sequential).
func New(reporter Reporter, logs LineSink, secretsReg *secrets.Registry, fanout int) *Executor {
	if fanout <= 0 {
		fanout = 1
	}
	return &Executor{reporter: reporter, logs: logs, secrets: secretsReg, fanout: fanout}
}

// RunAction executes a job whose TaskName is empty: a single action
// invocation bound directly to job.Input.
func (e *Executor) RunAction(ctx context.Context, job *dispatch.Job, action defs.Action) error {
	result, err := shell.Run(ctx, action.Executor, job.Input, e.secrets, func(line shell.LogLine) {
		e.logs.WriteLine(ctx, job.JobID, "", line)
	})
	if err != nil {
		return e.reporter.ReportResult(ctx, job.JobID, dispatch.Result{Output: jobresult.Output(err), Success: false})
	}
	return e.reporter.ReportResult(ctx, job.JobID, dispatch.Result{Output: result.Output, Success: result.Success})
}

// RunTask executes a job whose TaskName names task, resolving its flow
// into topological layers and running each layer's ready steps with
// fan-out bounded by e.fanout, per spec.md §4.4.
func (e *Executor) RunTask(ctx context.Context, job *dispatch.Job, task defs.Task, actions map[string]defs.Action) error {
	layers, err := defs.ResolveDAG(task.Name, task.Flow)
	if err != nil {
		return e.reporter.ReportResult(ctx, job.JobID, dispatch.Result{Output: jobresult.Output(err), Success: false})
	}

	tctx := template.Context{Input: job.Input, Steps: map[string]template.StepContext{}}
	var mu sync.Mutex

	success := true
	for _, layer := range layers {
		abortReason, onErrorStep, err := e.runLayer(ctx, job, layer, task.Flow, actions, tctx, &mu)
		if err != nil {
			return e.reporter.ReportResult(ctx, job.JobID, dispatch.Result{Output: jobresult.Output(err), Success: false})
		}
		if abortReason != "" {
			success = false
			if onErrorStep != "" {
				// The error handler's own outcome doesn't change the job's
				// result: the job is already aborting (on_error targets are
				// validated to exist against the flow at parse time).
				_, _, _ = e.runLayer(ctx, job, []string{onErrorStep}, task.Flow, actions, tctx, &mu)
			}
			break
		}
	}

	return e.reporter.ReportResult(ctx, job.JobID, dispatch.Result{Output: buildTaskOutput(tctx), Success: success})
}

// runLayer runs every step in layer concurrently, bounded by e.fanout.
// It returns a non-empty abortReason when a step failed without
// continue_on_fail, along with the on_error step to run (if any) before
// the caller stops the DAG.
func (e *Executor) runLayer(
	ctx context.Context,
	job *dispatch.Job,
	layer []string,
	flow map[string]defs.FlowStep,
	actions map[string]defs.Action,
	tctx template.Context,
	mu *sync.Mutex,
) (abortReason string, onErrorStep string, err error) {
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.fanout)

	type failure struct {
		stepName string
		onError  string
	}
	var (
		failMu   sync.Mutex
		failures []failure
	)

	for _, name := range layer {
		name := name
		step := flow[name]
		eg.Go(func() error {
			failed, stepErr := e.runStep(egctx, job, name, step, actions, tctx, mu)
			if stepErr != nil {
				return stepErr
			}
			if failed && !step.ContinueOnFail {
				failMu.Lock()
				failures = append(failures, failure{stepName: name, onError: step.OnError})
				failMu.Unlock()
			}
			return nil
		})
	}

	if waitErr := eg.Wait(); waitErr != nil {
		return "", "", waitErr
	}

	if len(failures) > 0 {
		first := failures[0]
		return first.stepName, first.onError, nil
	}
	return "", "", nil
}

// runStep renders step's input binding, runs its action, and reports
// start/result. It returns failed=true when the step's action did not
// succeed (regardless of continue_on_fail, which the caller applies).
func (e *Executor) runStep(
	ctx context.Context,
	job *dispatch.Job,
	stepName string,
	step defs.FlowStep,
	actions map[string]defs.Action,
	tctx template.Context,
	mu *sync.Mutex,
) (failed bool, err error) {
	action, ok := actions[step.Action]
	if !ok {
		return true, fmt.Errorf("step %q: undefined action %q", stepName, step.Action)
	}

	mu.Lock()
	snapshot := template.Context{Input: tctx.Input, Steps: cloneSteps(tctx.Steps)}
	mu.Unlock()

	rendered, err := template.RenderMap(step.InputBinding, snapshot)
	if err != nil {
		return e.failStep(ctx, job, stepName, tctx, mu, err)
	}

	input := make(map[string]any, len(rendered))
	for k, v := range rendered {
		input[k] = v
	}

	if err := e.reporter.ReportStepStart(ctx, job.JobID, stepName, input); err != nil {
		return true, fmt.Errorf("step %q: reporting start: %w", stepName, err)
	}

	result, err := shell.Run(ctx, action.Executor, input, e.secrets, func(line shell.LogLine) {
		e.logs.WriteLine(ctx, job.JobID, stepName, line)
	})
	if err != nil {
		return e.failStep(ctx, job, stepName, tctx, mu, err)
	}

	if repErr := e.reporter.ReportStepResult(ctx, job.JobID, stepName, dispatch.StepResult{Output: result.Output, Success: result.Success}); repErr != nil {
		return true, fmt.Errorf("step %q: reporting result: %w", stepName, repErr)
	}

	mu.Lock()
	tctx.Steps[stepName] = template.StepContext{Output: result.Output, Failed: !result.Success}
	mu.Unlock()

	return !result.Success, nil
}

// failStep records a step that could not even run (render or exec
// failure) as a failed, outputless step.
func (e *Executor) failStep(ctx context.Context, job *dispatch.Job, stepName string, tctx template.Context, mu *sync.Mutex, cause error) (bool, error) {
	_ = e.reporter.ReportStepResult(ctx, job.JobID, stepName, dispatch.StepResult{Output: jobresult.Output(cause), Success: false})
	mu.Lock()
	tctx.Steps[stepName] = template.StepContext{Failed: true}
	mu.Unlock()
	return true, nil
}

func cloneSteps(steps map[string]template.StepContext) map[string]template.StepContext {
	out := make(map[string]template.StepContext, len(steps))
	for k, v := range steps {
		out[k] = v
	}
	return out
}

// buildTaskOutput aggregates every step's output into the job's final
// output object, keyed by step name.
func buildTaskOutput(tctx template.Context) map[string]any {
	out := make(map[string]any, len(tctx.Steps))
	for name, step := range tctx.Steps {
		if step.Failed {
			continue
		}
		out[name] = step.Output
	}
	return out
}
