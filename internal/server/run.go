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

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stromhub/strom/internal/dispatch"
)

// runRequest is POST /run's body: exactly one of TaskName or ActionName
// names what to execute. SourceID, if given, makes the request
// idempotent against spec.md §4.3's unique(source_type, source_id); a
// repeated call with the same SourceID returns the existing job's
// conflict rather than creating a second one.
type runRequest struct {
	TaskName   string         `json:"task_name,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
}

func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) {
	var body runRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (body.TaskName == "") == (body.ActionName == "") {
		writeError(w, http.StatusBadRequest, "exactly one of task_name or action_name is required")
		return
	}

	revision, definitions, err := r.srv.Workspace.Current(req.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if body.TaskName != "" {
		if _, ok := definitions.Tasks[body.TaskName]; !ok {
			writeError(w, http.StatusNotFound, "unknown task: "+body.TaskName)
			return
		}
	} else {
		if _, ok := definitions.Actions[body.ActionName]; !ok {
			writeError(w, http.StatusNotFound, "unknown action: "+body.ActionName)
			return
		}
	}

	sourceID := body.SourceID
	if sourceID == "" {
		sourceID = uuid.NewString()
	}

	job := &dispatch.Job{
		JobID:      uuid.NewString(),
		TaskName:   body.TaskName,
		ActionName: body.ActionName,
		Input:      body.Input,
		SourceType: dispatch.SourceUser,
		SourceID:   sourceID,
		QueuedAt:   time.Now(),
		Revision:   revision,
	}

	if err := r.srv.Store.Enqueue(req.Context(), job); err != nil {
		writeStoreError(w, err)
		return
	}

	if claims := userFromContext(req.Context()); claims != nil {
		r.srv.Logger.Info("manual run enqueued", slog.String("job_id", job.JobID), slog.String("user_id", claims.UserID))
	}
	writeJSON(w, http.StatusAccepted, job)
}
