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

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// Validate checks cross-references and DAG well-formedness across the
// whole definition set: every task's flow resolves, every action/task a
// trigger or step references exists, and the cron field is present
// wherever the trigger type requires it.
func Validate(d *Definitions) error {
	names := make([]string, 0, len(d.Tasks))
	for name := range d.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		task := d.Tasks[name]
		if _, err := ResolveDAG(name, task.Flow); err != nil {
			return err
		}
		for stepName, step := range task.Flow {
			if _, ok := d.Actions[step.Action]; !ok {
				return &stromerrors.DefinitionError{
					Reason: fmt.Sprintf("task %q: step %q references undefined action %q", name, stepName, step.Action),
				}
			}
		}
	}

	triggerNames := make([]string, 0, len(d.Triggers))
	for name := range d.Triggers {
		triggerNames = append(triggerNames, name)
	}
	sort.Strings(triggerNames)

	for _, name := range triggerNames {
		trig := d.Triggers[name]
		if _, ok := d.Tasks[trig.Task]; !ok {
			if _, ok := d.Actions[trig.Task]; !ok {
				return &stromerrors.DefinitionError{
					Reason: fmt.Sprintf("trigger %q: target %q is neither a known task nor action", name, trig.Task),
				}
			}
		}
		switch trig.Type {
		case TriggerCron:
			if trig.Cron == "" {
				return &stromerrors.DefinitionError{
					Reason: fmt.Sprintf("trigger %q: type cron requires a cron expression", name),
				}
			}
		case TriggerManual, TriggerWebhook:
			// No scheduling fields required; these enqueue out-of-band.
		default:
			return &stromerrors.DefinitionError{
				Reason: fmt.Sprintf("trigger %q: unknown type %q", name, trig.Type),
			}
		}
	}

	return nil
}
