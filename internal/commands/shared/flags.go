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

// Global flag values, set by the root command and read by every subcommand.
var (
	verboseFlag bool
	jsonFlag    bool
	configFlag  string
	serverFlag  string
	tokenFlag   string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding by
// the root command.
func RegisterFlagPointers() (*bool, *bool, *string, *string, *string) {
	return &verboseFlag, &jsonFlag, &configFlag, &serverFlag, &tokenFlag
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVerbose returns the verbose flag value.
func GetVerbose() bool {
	return verboseFlag
}

// GetJSON returns the JSON output flag value.
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	return configFlag
}

// GetServerOverride returns the --server flag value, empty if unset.
func GetServerOverride() string {
	return serverFlag
}

// GetTokenOverride returns the --token flag value, empty if unset.
func GetTokenOverride() string {
	return tokenFlag
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}
