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

// Command strom is the operator CLI: scaffolding a new workspace,
// validating local workspace definitions, submitting manual runs,
// inspecting stromd's synchronized revision, and minting development
// operator tokens.
package main

import (
	"github.com/stromhub/strom/internal/cli"
	initcmd "github.com/stromhub/strom/internal/commands/init"
	"github.com/stromhub/strom/internal/commands/run"
	"github.com/stromhub/strom/internal/commands/token"
	"github.com/stromhub/strom/internal/commands/validate"
	"github.com/stromhub/strom/internal/commands/version"
	"github.com/stromhub/strom/internal/commands/workspace"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	cli.SetVersion(buildVersion, buildCommit, buildDate)

	root := cli.NewRootCommand()
	root.AddCommand(version.NewCommand())
	root.AddCommand(initcmd.NewCommand())
	root.AddCommand(validate.NewCommand())
	root.AddCommand(run.NewCommand())
	root.AddCommand(workspace.NewCommand())
	root.AddCommand(token.NewCommand())

	if err := root.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
