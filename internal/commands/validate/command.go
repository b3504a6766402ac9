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

// Package validate implements "strom validate": parsing a local workspace
// directory's action/task/trigger definitions and resolving every task's
// flow into a DAG, without needing a running stromd.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stromhub/strom/internal/commands/shared"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/jq"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a workspace's action, task, and trigger definitions",
		Long: `Validate parses every definition file under path (default ".") and
checks that:

  - every file is syntactically valid YAML matching the definition schema
  - every task's flow resolves to an acyclic layering of steps
  - every step and trigger references a known action or task

It performs no execution and needs no running stromd.`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	files, err := readTree(root)
	if err != nil {
		return shared.NewExecutionError(fmt.Sprintf("reading workspace %s", root), err)
	}

	definitions, parseErr := defs.ParseTree(files)
	if parseErr != nil {
		return reportFailure(cmd, root, parseErr)
	}

	var dagErr error
	for name, task := range definitions.Tasks {
		if _, err := defs.ResolveDAG(name, task.Flow); err != nil {
			dagErr = err
			break
		}
	}
	if dagErr != nil {
		return reportFailure(cmd, root, dagErr)
	}

	if refErr := checkReferences(definitions); refErr != nil {
		return reportFailure(cmd, root, refErr)
	}

	if jqErr := checkOutputExpressions(definitions); jqErr != nil {
		return reportFailure(cmd, root, jqErr)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(shared.JSONResponse{Version: "1.0", Command: "validate", Success: true})
	}

	taskNames := sortedKeys(definitions.Tasks)
	actionNames := sortedKeys(definitions.Actions)
	triggerNames := sortedKeys(definitions.Triggers)

	cmd.Println(shared.RenderOK(fmt.Sprintf("%s is valid", root)))
	cmd.Printf("  %s %d\n", shared.RenderLabel("actions:"), len(actionNames))
	cmd.Printf("  %s %d\n", shared.RenderLabel("tasks:"), len(taskNames))
	cmd.Printf("  %s %d\n", shared.RenderLabel("triggers:"), len(triggerNames))
	return nil
}

// checkReferences confirms every flow step names a known action and every
// trigger names a known task; a trigger that targets an action is reported
// here as an unknown task. defs.ParseTree already rejects
// duplicate names within a tree, so this only needs to check cross-kind
// references it doesn't.
func checkReferences(definitions *defs.Definitions) error {
	for taskName, task := range definitions.Tasks {
		for stepName, step := range task.Flow {
			if _, ok := definitions.Actions[step.Action]; !ok {
				return fmt.Errorf("task %q: step %q references unknown action %q", taskName, stepName, step.Action)
			}
		}
	}
	for triggerName, trigger := range definitions.Triggers {
		if _, ok := definitions.Tasks[trigger.Task]; !ok {
			return fmt.Errorf("trigger %q references unknown task %q", triggerName, trigger.Task)
		}
	}
	return nil
}

// checkOutputExpressions compiles every action's output_jq so a typo'd
// expression fails "strom validate" instead of the first job that runs it.
func checkOutputExpressions(definitions *defs.Definitions) error {
	executor := jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxOutputSize)
	for name, action := range definitions.Actions {
		if err := executor.Validate(action.Executor.OutputJQ); err != nil {
			return fmt.Errorf("action %q: %w", name, err)
		}
	}
	return nil
}

func reportFailure(cmd *cobra.Command, root string, cause error) error {
	if shared.GetJSON() {
		_ = shared.EmitJSONError("validate", []shared.JSONError{{Code: "invalid_definition", Message: cause.Error(), Path: root}})
		return &shared.ExitError{Code: shared.ExitInvalidDefinition, Message: "validation failed"}
	}
	cmd.Println(shared.RenderError(cause.Error()))
	return &shared.ExitError{Code: shared.ExitInvalidDefinition, Message: "validation failed"}
}

func readTree(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	return files, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
