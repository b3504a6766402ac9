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

// Package initcmd implements "strom init": scaffold a new workspace
// directory with a starter action, task, and optional cron trigger,
// prompting interactively for the pieces a blank workspace can't default
// on its own.
package initcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stromhub/strom/internal/commands/shared"
	"github.com/stromhub/strom/internal/defs"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// document mirrors defs' own unexported per-file wire shape: a list of
// each kind so the scaffolded file parses back through defs.ParseTree.
type document struct {
	Actions  []defs.Action  `yaml:"actions,omitempty"`
	Tasks    []defs.Task    `yaml:"tasks,omitempty"`
	Triggers []defs.Trigger `yaml:"triggers,omitempty"`
}

// NewCommand creates the init command.
func NewCommand() *cobra.Command {
	var (
		yes   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Scaffold a new workspace with a starter action and task",
		Long: `init writes a definitions.yaml under path (default ".") containing one
action, one task with a single step invoking it, and, optionally, a cron
trigger that runs the task on a schedule.

Without --yes, init prompts interactively for the action's name and
command, the task's name, and whether to add a cron trigger. With --yes,
it accepts sensible defaults and writes the file non-interactively.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return run(cmd, root, yes, force)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "accept defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing definitions.yaml")
	return cmd
}

func run(cmd *cobra.Command, root string, yes, force bool) error {
	if shared.GetJSON() && !yes {
		return shared.NewMissingInputError("interactive init is not supported in --json mode; pass --yes", nil)
	}

	actionName := "hello"
	actionCommand := `echo "OUTPUT: {\"message\": \"hello from strom\"}"`
	taskName := "hello-task"
	addTrigger := false
	cronSchedule := "0 0 * * * *"

	if !yes {
		var err error
		if actionName, err = promptString("action name", "the first action's name", actionName); err != nil {
			return shared.NewExecutionError("prompting for action name", err)
		}
		if actionCommand, err = promptString("action command", "the shell command it runs", actionCommand); err != nil {
			return shared.NewExecutionError("prompting for action command", err)
		}
		if taskName, err = promptString("task name", "the task that runs this action", taskName); err != nil {
			return shared.NewExecutionError("prompting for task name", err)
		}
		if addTrigger, err = promptBool("add a cron trigger?", "schedule the task to run automatically", addTrigger); err != nil {
			return shared.NewExecutionError("prompting for trigger", err)
		}
		if addTrigger {
			if cronSchedule, err = promptString("cron schedule", "6-field cron expression (second minute hour day month weekday)", cronSchedule); err != nil {
				return shared.NewExecutionError("prompting for cron schedule", err)
			}
		}
	}

	if !nameRegex.MatchString(actionName) {
		return shared.NewMissingInputError(fmt.Sprintf("invalid action name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores", actionName), nil)
	}
	if !nameRegex.MatchString(taskName) {
		return shared.NewMissingInputError(fmt.Sprintf("invalid task name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores", taskName), nil)
	}

	doc := document{
		Actions: []defs.Action{{
			Name:     actionName,
			Executor: defs.Executor{Command: actionCommand},
		}},
		Tasks: []defs.Task{{
			Name: taskName,
			Flow: map[string]defs.FlowStep{
				"run": {Action: actionName},
			},
		}},
	}
	if addTrigger {
		doc.Triggers = []defs.Trigger{{
			Name:    taskName + "-schedule",
			Enabled: true,
			Type:    defs.TriggerCron,
			Cron:    cronSchedule,
			Task:    taskName,
		}}
	}

	encoded, err := yaml.Marshal(doc)
	if err != nil {
		return shared.NewExecutionError("encoding definitions.yaml", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return shared.NewExecutionError(fmt.Sprintf("creating %s", root), err)
	}
	target := filepath.Join(root, "definitions.yaml")
	if _, statErr := os.Stat(target); statErr == nil && !force {
		return shared.NewExecutionError(fmt.Sprintf("%s already exists (use --force to overwrite)", target), nil)
	}
	if err := os.WriteFile(target, encoded, 0o644); err != nil {
		return shared.NewExecutionError(fmt.Sprintf("writing %s", target), err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(shared.JSONResponse{Version: "1.0", Command: "init", Success: true})
	}

	cmd.Println(shared.RenderOK(fmt.Sprintf("wrote %s", target)))
	cmd.Println()
	cmd.Println("Next steps:")
	cmd.Printf("  strom validate %s\n", root)
	cmd.Printf("  strom run --task %s\n", taskName)
	return nil
}

func promptString(name, desc, def string) (string, error) {
	var result string
	p := &survey.Input{Message: fmt.Sprintf("%s (%s):", name, desc), Default: def}
	if err := survey.AskOne(p, &result); err != nil {
		return "", err
	}
	return result, nil
}

func promptBool(name, desc string, def bool) (bool, error) {
	var result bool
	p := &survey.Confirm{Message: fmt.Sprintf("%s (%s):", name, desc), Default: def}
	if err := survey.AskOne(p, &result); err != nil {
		return false, err
	}
	return result, nil
}
