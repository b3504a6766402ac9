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

package validate

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stromhub/strom/internal/commands/shared"
)

const validFixture = `
actions:
  - name: noop
    executor:
      command: "true"
tasks:
  - name: release
    flow:
      build:
        action: noop
`

const unknownActionFixture = `
tasks:
  - name: release
    flow:
      build:
        action: does_not_exist
`

const cyclicFixture = `
actions:
  - name: noop
    executor:
      command: "true"
tasks:
  - name: release
    flow:
      a:
        action: noop
        depends_on: [b]
      b:
        action: noop
        depends_on: [a]
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "definitions.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return dir
}

func TestValidate_Valid(t *testing.T) {
	dir := writeFixture(t, validFixture)

	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected validation to pass, got: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("is valid")) {
		t.Errorf("expected success output, got: %s", buf.String())
	}
}

func TestValidate_UnknownAction(t *testing.T) {
	dir := writeFixture(t, unknownActionFixture)

	cmd := NewCommand()
	cmd.SetArgs([]string{dir})
	cmd.SilenceErrors = true

	err := cmd.Execute()
	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected an *shared.ExitError, got %v", err)
	}
	if exitErr.Code != shared.ExitInvalidDefinition {
		t.Errorf("expected exit code %d, got %d", shared.ExitInvalidDefinition, exitErr.Code)
	}
}

func TestValidate_CyclicFlow(t *testing.T) {
	dir := writeFixture(t, cyclicFixture)

	cmd := NewCommand()
	cmd.SetArgs([]string{dir})
	cmd.SilenceErrors = true

	err := cmd.Execute()
	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected an *shared.ExitError, got %v", err)
	}
	if exitErr.Code != shared.ExitInvalidDefinition {
		t.Errorf("expected exit code %d, got %d", shared.ExitInvalidDefinition, exitErr.Code)
	}
}
