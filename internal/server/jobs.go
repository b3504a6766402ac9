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

	"github.com/stromhub/strom/internal/auth"
	"github.com/stromhub/strom/internal/dispatch"
)

// claimRequest is POST /jobs/next's body.
type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

// claimResponse is POST /jobs/next's 200 body. Token is the same worker
// bearer secret the caller already authenticated with: the core has no
// per-lease token of its own (spec.md §4.3 leasing policy), so runners
// reuse it for every subsequent call about this job.
type claimResponse struct {
	Job      *dispatch.Job `json:"job"`
	Revision string        `json:"revision"`
	Token    string        `json:"token"`
}

func (r *Router) handleClaim(w http.ResponseWriter, req *http.Request) {
	var body claimRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	job, err := r.srv.Store.Claim(req.Context(), body.WorkerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	token, _ := auth.ExtractBearerToken(req)
	writeJSON(w, http.StatusOK, claimResponse{Job: job, Revision: job.Revision, Token: token})
}

// stepInput is the body shared by the job-start and step-start endpoints.
type stepInput struct {
	Input map[string]any `json:"input"`
}

func (r *Router) handleJobStart(w http.ResponseWriter, req *http.Request) {
	var body stepInput
	_ = json.NewDecoder(req.Body).Decode(&body)

	if err := r.srv.Store.ReportStepStart(req.Context(), req.PathValue("id"), "", body.Input); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleStepStart(w http.ResponseWriter, req *http.Request) {
	var body stepInput
	_ = json.NewDecoder(req.Body).Decode(&body)

	jobID, step := req.PathValue("id"), req.PathValue("step")
	if err := r.srv.Store.ReportStepStart(req.Context(), jobID, step, body.Input); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleStepResult(w http.ResponseWriter, req *http.Request) {
	var result dispatch.StepResult
	if err := json.NewDecoder(req.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, step := req.PathValue("id"), req.PathValue("step")
	if err := r.srv.Store.ReportStepResult(req.Context(), jobID, step, result); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleJobResult(w http.ResponseWriter, req *http.Request) {
	var result dispatch.Result
	if err := json.NewDecoder(req.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := r.srv.Store.ReportResult(req.Context(), req.PathValue("id"), result); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
