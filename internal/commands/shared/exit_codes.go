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

package shared

import (
	"errors"
	"fmt"
	"os"

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// Exit codes for strom subcommands.
const (
	ExitSuccess           = 0
	ExitExecutionFailed   = 1
	ExitInvalidDefinition = 2
	ExitMissingInput      = 3
	ExitConnectionError   = 4
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for job/run execution failures.
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewInvalidDefinitionError creates an error for unparseable or
// unresolvable workspace definitions.
func NewInvalidDefinitionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidDefinition, Message: msg, Cause: cause}
}

// NewMissingInputError creates an error for missing required input.
func NewMissingInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitMissingInput, Message: msg, Cause: cause}
}

// NewConnectionError creates an error for stromd connectivity failures.
func NewConnectionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConnectionError, Message: msg, Cause: cause}
}

// HandleExitError checks if an error is an ExitError and exits with the
// appropriate code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		printUserVisibleSuggestion(err)
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printUserVisibleSuggestion(err)
	os.Exit(ExitExecutionFailed)
}

// printUserVisibleSuggestion walks err's chain for a UserVisibleError and
// prints its suggestion, if any.
func printUserVisibleSuggestion(err error) {
	for err != nil {
		if userErr, ok := err.(stromerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if suggestion := userErr.Suggestion(); suggestion != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
