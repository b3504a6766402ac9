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

// Package workspace implements "strom workspace current", which reports
// the revision stromd's synchronizer currently has active.
package workspace

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stromhub/strom/internal/commands/shared"
)

// NewCommand creates the workspace command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect the workspace stromd has synchronized",
	}
	cmd.AddCommand(newCurrentCommand())
	return cmd
}

func newCurrentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the currently synchronized workspace revision",
		Long: `Current calls GET /workspace/current against the configured stromd and
prints the revision its synchronizer is serving. This is the worker-facing
endpoint (spec.md §6), so --token here must be the shared worker bearer
token, not an operator JWT.`,
		RunE: run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadClientConfig()
	if err != nil {
		return shared.NewConnectionError("loading client config", err)
	}
	c := shared.NewClient(cfg)

	revision, err := c.Current(cmd.Context())
	if err != nil {
		return shared.NewConnectionError("fetching current revision", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]string{"revision": revision})
	}

	cmd.Println(fmt.Sprintf("%s %s", shared.RenderLabel("revision:"), revision))
	return nil
}
