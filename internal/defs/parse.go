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

package defs

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// document is the shape of a single definition YAML file: any subset of
// the three kinds, each a list so one file can declare several.
type document struct {
	Actions  []Action  `yaml:"actions,omitempty"`
	Tasks    []Task    `yaml:"tasks,omitempty"`
	Triggers []Trigger `yaml:"triggers,omitempty"`
}

// ParseFile parses one YAML document's bytes and merges its declarations
// into defs. Duplicate names across files are a definition error: the
// whole parse fails entirely rather than silently shadowing.
func ParseFile(defs *Definitions, path string, data []byte) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &stromerrors.DefinitionError{Path: path, Reason: fmt.Sprintf("parse YAML: %v", err)}
	}

	for _, a := range doc.Actions {
		if a.Name == "" {
			return &stromerrors.DefinitionError{Path: path, Reason: "action missing name"}
		}
		if _, exists := defs.Actions[a.Name]; exists {
			return &stromerrors.DefinitionError{Path: path, Reason: fmt.Sprintf("duplicate action %q", a.Name)}
		}
		defs.Actions[a.Name] = a
	}

	for _, t := range doc.Tasks {
		if t.Name == "" {
			return &stromerrors.DefinitionError{Path: path, Reason: "task missing name"}
		}
		if _, exists := defs.Tasks[t.Name]; exists {
			return &stromerrors.DefinitionError{Path: path, Reason: fmt.Sprintf("duplicate task %q", t.Name)}
		}
		defs.Tasks[t.Name] = t
	}

	for _, tr := range doc.Triggers {
		if tr.Name == "" {
			return &stromerrors.DefinitionError{Path: path, Reason: "trigger missing name"}
		}
		if _, exists := defs.Triggers[tr.Name]; exists {
			return &stromerrors.DefinitionError{Path: path, Reason: fmt.Sprintf("duplicate trigger %q", tr.Name)}
		}
		defs.Triggers[tr.Name] = tr
	}

	return nil
}

// ParseTree parses every *.yaml/*.yml file's contents (as returned by a
// path->bytes walk, e.g. from a workspace tree or a snapshot tarball) into
// a single Definitions set, then validates cross-references. The parse is
// all-or-nothing: any error aborts before returning a partial set.
//
// files may hold any paths; entries without a .yaml/.yml suffix are
// skipped here. The tree walk and ignore-rule filtering live in the
// workspace synchronizer, which also needs the unfiltered file list to
// compute the revision digest.
func ParseTree(files map[string][]byte) (*Definitions, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		if isDefinitionFile(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := newDefinitions()
	for _, p := range paths {
		if err := ParseFile(out, p, files[p]); err != nil {
			return nil, err
		}
	}

	if err := Validate(out); err != nil {
		return nil, err
	}

	return out, nil
}

func isDefinitionFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
