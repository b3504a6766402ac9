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

// Package jobresult holds the structured output.error shape every
// definition or execution failure path populates (spec.md §7 names the
// field; this is its one producer, shared by the runner and the server).
package jobresult

// Error is what a job or step's output carries when it fails before or
// during execution: a definition error (DAG cycle, unresolved template),
// a transient I/O exhaustion, or a non-zero exit.
type Error struct {
	Message string `json:"message"`
}

// Output wraps err into the map[string]any shape dispatch.Result.Output
// and dispatch.StepResult.Output expect.
func Output(err error) map[string]any {
	return map[string]any{"error": Error{Message: err.Error()}}
}
