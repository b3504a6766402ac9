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

// Package defs holds the declarative document set a workspace publishes:
// actions, tasks, and triggers, parsed from YAML but with their template
// expressions left unevaluated as plain strings.
package defs

// InputField describes one entry of an input or output schema.
type InputField struct {
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Schema is an ordered map of field name to its definition. YAML mappings
// preserve key order as written, which is all "ordered" means here; nothing
// downstream depends on iteration order beyond determinism in doc rendering.
type Schema map[string]InputField

// Executor is the command invocation an action performs. Exactly one of
// Command or Script is set.
type Executor struct {
	// Command is a template string split with shell quoting rules after rendering,
	// e.g. "curl -sf {{ input.url }}". Args is appended verbatim (each
	// entry independently templated) when the executor needs arguments
	// that must not be shell-tokenized.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Script is an inline multi-line script run through "sh -c".
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Dir overrides the working directory the command runs in.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Env adds environment variables on top of the process environment;
	// values may reference secrets (${VAR}, env:VAR, file:/path,
	// keychain:name) which are resolved immediately before exec.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// OutputJQ, if set, is a jq expression applied to the JSON object
	// parsed from the executor's "OUTPUT: " marker line before it becomes
	// the step's output. Lets an action reshape or filter a command's raw
	// output without an extra shell pipeline.
	OutputJQ string `yaml:"output_jq,omitempty" json:"output_jq,omitempty"`
}

// Action is a named, parameterized executable primitive. Actions are
// library functions: they do not schedule themselves.
type Action struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Input       Schema   `yaml:"input,omitempty" json:"input,omitempty"`
	Output      Schema   `yaml:"output,omitempty" json:"output,omitempty"`
	Executor    Executor `yaml:"executor" json:"executor"`
}

// FlowStep is one node of a task's DAG.
type FlowStep struct {
	Action string `yaml:"action" json:"action"`

	// InputBinding is a template over input.* and <prior_step>.output.*,
	// e.g. {"v": "{{ a.output.x }}"}. Rendered immediately before the step
	// runs, against the accumulated step context.
	InputBinding map[string]string `yaml:"input_binding,omitempty" json:"input_binding,omitempty"`

	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// ContinueOnFail marks the step's failure as non-fatal to the job;
	// downstream steps proceed, observing the step as failed with a null
	// output (any template referencing it fails at render time).
	ContinueOnFail bool `yaml:"continue_on_fail,omitempty" json:"continue_on_fail,omitempty"`

	// OnError names a step to run out-of-band on failure, after which the
	// job still aborts. Error-handler steps are not part of the normal DAG.
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// Task is a named DAG of steps, each invoking an action.
type Task struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Input       Schema              `yaml:"input,omitempty" json:"input,omitempty"`
	Flow        map[string]FlowStep `yaml:"flow" json:"flow"`
}

// TriggerType enumerates how a trigger enqueues jobs.
type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerManual  TriggerType = "manual"
	TriggerWebhook TriggerType = "webhook"
)

// Trigger is a rule that enqueues jobs: cron-scheduled, or a declared
// manual/webhook entry point (the latter two don't participate in the
// scheduler's tick loop; they document the intended target for callers).
type Trigger struct {
	Name    string         `yaml:"name" json:"name"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Type    TriggerType    `yaml:"type" json:"type"`
	Cron    string         `yaml:"cron,omitempty" json:"cron,omitempty"`
	Task    string         `yaml:"task" json:"task"`
	Input   map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// Definitions is the parsed document set published by the workspace
// synchronizer at a given revision.
type Definitions struct {
	Actions  map[string]Action  `json:"actions"`
	Tasks    map[string]Task    `json:"tasks"`
	Triggers map[string]Trigger `json:"triggers"`
}

func newDefinitions() *Definitions {
	return &Definitions{
		Actions:  make(map[string]Action),
		Tasks:    make(map[string]Task),
		Triggers: make(map[string]Trigger),
	}
}
