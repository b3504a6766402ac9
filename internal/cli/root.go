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

// Package cli assembles strom's operator-facing command tree: the root
// cobra command plus the subcommands under internal/commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stromhub/strom/internal/commands/shared"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root cobra command for strom.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strom",
		Short: "strom - job orchestration client",
		Long: `strom is the operator CLI for a strom workspace: it validates task and
action definitions, triggers manual runs against a running stromd, and
inspects the workspace's current synchronized revision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, json, config, server, token := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/strom/config.yaml)")
	cmd.PersistentFlags().StringVar(server, "server", "", "stromd HTTP address (overrides config/env)")
	cmd.PersistentFlags().StringVar(token, "token", "", "Operator bearer token (overrides config/env)")

	return cmd
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
