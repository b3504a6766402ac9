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

package initcmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stromhub/strom/internal/defs"
)

func TestInit_Yes_WritesValidDefinitions(t *testing.T) {
	dir := t.TempDir()

	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{dir, "--yes"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	target := filepath.Join(dir, "definitions.yaml")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", target, err)
	}

	parsed, err := defs.ParseTree(map[string][]byte{"definitions.yaml": data})
	if err != nil {
		t.Fatalf("scaffolded definitions.yaml failed to parse: %v", err)
	}
	if len(parsed.Actions) != 1 || len(parsed.Tasks) != 1 {
		t.Fatalf("expected one action and one task, got %d actions, %d tasks", len(parsed.Actions), len(parsed.Tasks))
	}
}

func TestInit_ExistingFileWithoutForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "definitions.yaml"), []byte("actions: []\n"), 0o644); err != nil {
		t.Fatalf("seeding existing file: %v", err)
	}

	cmd := NewCommand()
	cmd.SetArgs([]string{dir, "--yes"})
	cmd.SilenceErrors = true

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when definitions.yaml already exists without --force")
	}
}

func TestInit_ExistingFileWithForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "definitions.yaml"), []byte("actions: []\n"), 0o644); err != nil {
		t.Fatalf("seeding existing file: %v", err)
	}

	cmd := NewCommand()
	cmd.SetArgs([]string{dir, "--yes", "--force"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected --force to allow overwrite, got: %v", err)
	}
}
