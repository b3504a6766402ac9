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

// Package template implements the minimal, total template language step
// bindings are rendered with: dotted paths over a context map, strings
// only, undefined references fail the render rather than producing a
// zero value. There is deliberately no general-purpose expression
// language here.
package template

import (
	"fmt"
	"strings"
)

// Context is the data a template string may reference: the job's input,
// and each completed step's recorded output keyed by step name.
type Context struct {
	Input map[string]any
	Steps map[string]StepContext
}

// StepContext is what a downstream step may read of a prior step.
type StepContext struct {
	Output map[string]any
	Failed bool
}

// NewContext returns an empty, ready-to-use Context.
func NewContext() Context {
	return Context{Input: map[string]any{}, Steps: map[string]StepContext{}}
}

// Render substitutes every `{{ path }}` occurrence in s with the value the
// path resolves to in ctx, converted to its string form. A path's first
// segment is either "input" or a step name; for a step name the second
// segment must be "output", and the rest indexes into that step's output
// object. Any undefined reference — unknown step, absent key, or a
// reference into a failed/not-yet-run step — is a fatal error for the
// caller: there is no silent empty-string fallback.
func Render(s string, ctx Context) (string, error) {
	var out strings.Builder
	rest := s

	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])

		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template reference in %q", truncate(s))
		}
		end += start

		expr := strings.TrimSpace(rest[start+2 : end])
		val, err := resolve(expr, ctx)
		if err != nil {
			return "", fmt.Errorf("in %q: %w", truncate(s), err)
		}
		out.WriteString(stringify(val))

		rest = rest[end+2:]
	}

	return out.String(), nil
}

// RenderMap renders every value of a string-valued binding map, returning
// the first error encountered (bindings have no defined evaluation order
// beyond "some order", so partial application on error is not observable).
func RenderMap(bindings map[string]string, ctx Context) (map[string]string, error) {
	out := make(map[string]string, len(bindings))
	for k, v := range bindings {
		rendered, err := Render(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func resolve(expr string, ctx Context) (any, error) {
	parts := strings.Split(expr, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty template reference")
	}

	var cursor any
	if parts[0] == "input" {
		cursor = ctx.Input
		parts = parts[1:]
	} else {
		step, ok := ctx.Steps[parts[0]]
		if !ok {
			return nil, fmt.Errorf("undefined reference %q: no such step", parts[0])
		}
		if step.Failed {
			return nil, fmt.Errorf("undefined reference %q: step %q has no output (failed)", expr, parts[0])
		}
		if len(parts) < 2 || parts[1] != "output" {
			return nil, fmt.Errorf("undefined reference %q: step references must take the form <step>.output.<path>", expr)
		}
		cursor = step.Output
		parts = parts[2:]
	}

	for _, p := range parts {
		m, ok := cursor.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("undefined reference %q: %q is not an object", expr, p)
		}
		val, ok := m[p]
		if !ok {
			return nil, fmt.Errorf("undefined reference %q: no field %q", expr, p)
		}
		cursor = val
	}

	return cursor, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncate(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
