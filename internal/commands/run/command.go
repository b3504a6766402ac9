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

// Package run implements "strom run", which submits a manual job against
// a running stromd over its wire protocol (POST /run).
package run

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stromhub/strom/internal/commands/shared"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		taskName   string
		actionName string
		inputJSON  string
		sourceID   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a manual job run against stromd",
		Long: `Run submits exactly one of --task or --action to the configured stromd's
POST /run endpoint, enqueuing it as a manual job (spec.md's
SourceUser job source).

--input takes a JSON object literal, e.g. --input '{"url":"https://example.com"}'.
--source-id makes the submission idempotent: a repeated call with the same
source ID is rejected by stromd as a conflict instead of enqueuing a
second job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, taskName, actionName, inputJSON, sourceID)
		},
	}

	cmd.Flags().StringVar(&taskName, "task", "", "Task to run")
	cmd.Flags().StringVar(&actionName, "action", "", "Action to run")
	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON object of input values")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "Idempotency key for this submission")

	return cmd
}

func run(cmd *cobra.Command, taskName, actionName, inputJSON, sourceID string) error {
	if (taskName == "") == (actionName == "") {
		return shared.NewMissingInputError("exactly one of --task or --action is required", nil)
	}

	var input map[string]any
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return shared.NewMissingInputError("--input must be a JSON object", err)
		}
	}

	cfg, err := shared.LoadClientConfig()
	if err != nil {
		return shared.NewConnectionError("loading client config", err)
	}
	c := shared.NewClient(cfg)

	job, err := c.Run(cmd.Context(), taskName, actionName, input, sourceID)
	if err != nil {
		return shared.NewExecutionError("submitting run", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(job)
	}

	cmd.Println(shared.RenderOK(fmt.Sprintf("enqueued job %s", job.JobID)))
	cmd.Printf("  %s %s\n", shared.RenderLabel("revision:"), job.Revision)
	return nil
}
