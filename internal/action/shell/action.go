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

// Package shell executes a defs.Executor: render its command/script/env
// templates against a step's input, run it as a child process, and
// stream its stdout/stderr line by line while scanning for the
// structured OUTPUT marker, optionally reshaped through Executor.OutputJQ.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/jq"
	"github.com/stromhub/strom/internal/secrets"
	"github.com/stromhub/strom/internal/template"
)

// maxLineSize bounds how much of a single stdout/stderr line is held in
// memory before it is flushed as its own LogLine, per spec.md §4.5.
const maxLineSize = 64 * 1024

// outputPrefix is the designated marker line prefix (spec.md §4.4):
// "OUTPUT: <json-object>" on stdout carries the action's output.
const outputPrefix = "OUTPUT: "

var secretRefPattern = regexp.MustCompile(`^[a-z][a-z0-9]*:.+$`)

// LogLine is one line of output read from the child process.
type LogLine struct {
	At     time.Time
	Stderr bool
	Text   string
}

// Result is the outcome of running an executor.
type Result struct {
	Output   map[string]any
	Success  bool
	ExitCode int
}

// Run renders ex against input, executes it, and streams every line it
// produces to onLine as it's read (not buffered until completion). ctx
// cancellation kills the child process. secretsReg resolves Env values
// that look like secret references immediately before exec; a nil
// registry leaves Env values as rendered literals.
func Run(ctx context.Context, ex defs.Executor, input map[string]any, secretsReg *secrets.Registry, onLine func(LogLine)) (Result, error) {
	tctx := template.Context{Input: input, Steps: map[string]template.StepContext{}}

	cmd, err := build(ctx, ex, tctx, secretsReg)
	if err != nil {
		return Result{}, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting command: %w", err)
	}

	var (
		mu     sync.Mutex
		output map[string]any
		wg     sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, func(line string) {
			if rest, ok := strings.CutPrefix(line, outputPrefix); ok {
				var parsed map[string]any
				if jsonErr := json.Unmarshal([]byte(rest), &parsed); jsonErr == nil {
					mu.Lock()
					output = parsed
					mu.Unlock()
				}
			}
			onLine(LogLine{At: time.Now(), Stderr: false, Text: line})
		})
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, func(line string) {
			onLine(LogLine{At: time.Now(), Stderr: true, Text: line})
		})
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(waitErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("running command: %w", waitErr)
		}
	}

	if output != nil && ex.OutputJQ != "" {
		filtered, jqErr := jqExecutor.Execute(ctx, ex.OutputJQ, output)
		if jqErr != nil {
			return Result{}, fmt.Errorf("applying output_jq: %w", jqErr)
		}
		reshaped, ok := filtered.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("output_jq %q produced a %T, not a JSON object", ex.OutputJQ, filtered)
		}
		output = reshaped
	}

	return Result{Output: output, Success: exitCode == 0, ExitCode: exitCode}, nil
}

// jqExecutor post-processes an OUTPUT marker's parsed JSON when an
// action sets Executor.OutputJQ. Stateless and timeout-bounded per call,
// so a single package-level instance is safe across concurrent runs.
var jqExecutor = jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxOutputSize)

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// build renders the executor's command/script/env against ctx and
// constructs the (not yet started) *exec.Cmd.
func build(ctx context.Context, ex defs.Executor, tctx template.Context, secretsReg *secrets.Registry) (*exec.Cmd, error) {
	var cmd *exec.Cmd

	switch {
	case ex.Script != "":
		rendered, err := template.Render(ex.Script, tctx)
		if err != nil {
			return nil, fmt.Errorf("rendering script: %w", err)
		}
		cmd = exec.CommandContext(ctx, "sh", "-c", rendered)

	case ex.Command != "":
		rendered, err := template.Render(ex.Command, tctx)
		if err != nil {
			return nil, fmt.Errorf("rendering command: %w", err)
		}
		args, err := shellquote.Split(rendered)
		if err != nil {
			return nil, fmt.Errorf("splitting command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("rendered command is empty")
		}
		extra := make([]string, 0, len(ex.Args))
		for _, a := range ex.Args {
			r, err := template.Render(a, tctx)
			if err != nil {
				return nil, fmt.Errorf("rendering arg %q: %w", a, err)
			}
			extra = append(extra, r)
		}
		allArgs := make([]string, 0, len(args)-1+len(extra))
		allArgs = append(allArgs, args[1:]...)
		allArgs = append(allArgs, extra...)
		cmd = exec.CommandContext(ctx, args[0], allArgs...)

	default:
		return nil, fmt.Errorf("executor has neither command nor script")
	}

	if ex.Dir != "" {
		dir, err := template.Render(ex.Dir, tctx)
		if err != nil {
			return nil, fmt.Errorf("rendering dir: %w", err)
		}
		cmd.Dir = dir
	}

	if len(ex.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range ex.Env {
			rendered, err := template.Render(v, tctx)
			if err != nil {
				return nil, fmt.Errorf("rendering env %q: %w", k, err)
			}
			resolved := rendered
			if secretsReg != nil && secretRefPattern.MatchString(rendered) {
				s, err := secretsReg.Resolve(ctx, rendered)
				if err != nil {
					return nil, fmt.Errorf("resolving secret for env %q: %w", k, err)
				}
				resolved = s
			}
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, resolved))
		}
	}

	return cmd, nil
}

// streamLines reads r a byte at a time, buffering at most maxLineSize
// bytes before forcibly flushing (spec.md §4.5: "split at a maximum
// size to bound memory"), and otherwise flushing on '\n'. The trailing
// partial line at EOF, if any, is still delivered.
func streamLines(r io.Reader, onLine func(string)) {
	reader := bufio.NewReader(r)
	var buf []byte

	for {
		b, err := reader.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				onLine(string(buf))
			}
			return
		}

		if b == '\n' {
			onLine(string(buf))
			buf = buf[:0]
			continue
		}

		buf = append(buf, b)
		if len(buf) >= maxLineSize {
			onLine(string(buf))
			buf = buf[:0]
		}
	}
}
