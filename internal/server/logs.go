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
	"net/http"

	"github.com/stromhub/strom/internal/dispatch"
)

// logBatchRequest is the body POSTed to /jobs/{id}/logs and
// /jobs/{id}/steps/{step}/logs.
type logBatchRequest struct {
	Entries []dispatch.LogEntry `json:"entries"`
}

func (r *Router) handleIngestJobLogs(w http.ResponseWriter, req *http.Request) {
	r.ingestLogs(w, req, req.PathValue("id"), "")
}

func (r *Router) handleIngestStepLogs(w http.ResponseWriter, req *http.Request) {
	r.ingestLogs(w, req, req.PathValue("id"), req.PathValue("step"))
}

func (r *Router) ingestLogs(w http.ResponseWriter, req *http.Request, jobID, stepName string) {
	var body logBatchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := r.srv.Logs.Ingest(req.Context(), jobID, stepName, body.Entries); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleReadJobLogs(w http.ResponseWriter, req *http.Request) {
	r.readLogs(w, req, req.PathValue("id"), "")
}

func (r *Router) handleReadStepLogs(w http.ResponseWriter, req *http.Request) {
	r.readLogs(w, req, req.PathValue("id"), req.PathValue("step"))
}

func (r *Router) readLogs(w http.ResponseWriter, req *http.Request, jobID, stepName string) {
	entries, err := r.srv.Logs.Read(req.Context(), jobID, stepName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logBatchRequest{Entries: entries})
}
