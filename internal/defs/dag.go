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

package defs

import (
	"fmt"
	"sort"

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// Layers is the result of resolving a task's flow into topological layers:
// Layers[0] has no dependencies, Layers[1] depends only on steps in
// Layers[0], and so on. Steps within a layer may run concurrently.
type Layers [][]string

// ResolveDAG topologically sorts a task's flow into layers, rejecting
// cycles and references to undefined steps. OnError targets are validated
// to exist but are not part of the returned layers: error-handler steps run
// out-of-band, never as a normal DAG node (spec §4.4, §9).
func ResolveDAG(taskName string, flow map[string]FlowStep) (Layers, error) {
	for name, step := range flow {
		for _, dep := range step.DependsOn {
			if _, ok := flow[dep]; !ok {
				return nil, &stromerrors.DefinitionError{
					Reason: fmt.Sprintf("task %q: step %q depends on undefined step %q", taskName, name, dep),
				}
			}
		}
		if step.OnError != "" {
			if _, ok := flow[step.OnError]; !ok {
				return nil, &stromerrors.DefinitionError{
					Reason: fmt.Sprintf("task %q: step %q has on_error referencing undefined step %q", taskName, name, step.OnError),
				}
			}
		}
	}

	errorHandlers := make(map[string]bool)
	for _, step := range flow {
		if step.OnError != "" {
			errorHandlers[step.OnError] = true
		}
	}

	remaining := make(map[string][]string, len(flow))
	for name, step := range flow {
		if errorHandlers[name] {
			// Error-handler steps are never part of the ordinary DAG: they
			// run only when the caller explicitly invokes them after the
			// step naming them as on_error fails.
			continue
		}
		deps := append([]string(nil), step.DependsOn...)
		sort.Strings(deps)
		remaining[name] = deps
	}

	done := make(map[string]bool, len(remaining))
	var layers Layers

	for len(done) < len(remaining) {
		var layer []string
		for name, deps := range remaining {
			if done[name] {
				continue
			}
			ready := true
			for _, d := range deps {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, name)
			}
		}

		if len(layer) == 0 {
			return nil, &stromerrors.DefinitionError{
				Reason: fmt.Sprintf("task %q: cycle detected among steps %v", taskName, undoneSteps(flow, done)),
			}
		}

		sort.Strings(layer)
		for _, name := range layer {
			done[name] = true
		}
		layers = append(layers, layer)
	}

	return layers, nil
}

func undoneSteps(flow map[string]FlowStep, done map[string]bool) []string {
	var names []string
	for name := range flow {
		if !done[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
