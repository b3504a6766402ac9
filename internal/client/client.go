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

// Package client is stromd's wire protocol (internal/server) from the
// other side: strom-worker uses it to claim jobs and fetch workspace
// snapshots, strom-runner uses it to satisfy runnerexec.Reporter.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/pkg/httpclient"
)

// Client speaks stromd's wire protocol over HTTP, authenticating every
// call with the worker bearer token (spec.md §6 "Worker auth").
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New targets baseURL (e.g. "http://localhost:7777") with the given
// worker bearer token. A nil httpClient gets httpclient's default-config
// client (retry/backoff, TLS 1.2+, request logging), tagged with a
// strom-specific User-Agent.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "strom-client/1.0"
		hc, err := httpclient.New(cfg)
		if err != nil {
			hc = &http.Client{}
		}
		httpClient = hc
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// apiError is the shape every non-2xx response body takes.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("client: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("client: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("client: %s %s: %s", method, path, apiErr.Error)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("client: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// ClaimResult is POST /jobs/next's 200 body, empty when no job is queued.
type ClaimResult struct {
	Job      *dispatch.Job
	Revision string
	Token    string
}

// Claim polls stromd for the next queued job on behalf of workerID. A nil
// *ClaimResult with a nil error means the queue was empty.
func (c *Client) Claim(ctx context.Context, workerID string) (*ClaimResult, error) {
	var resp struct {
		Job      *dispatch.Job `json:"job"`
		Revision string        `json:"revision"`
		Token    string        `json:"token"`
	}
	status, err := c.do(ctx, http.MethodPost, "/jobs/next", map[string]string{"worker_id": workerID}, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &ClaimResult{Job: resp.Job, Revision: resp.Revision, Token: resp.Token}, nil
}

// Snapshot fetches the gzip tar bytes for revision.
func (c *Client) Snapshot(ctx context.Context, revision string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/workspace/"+url.PathEscape(revision), nil)
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetching snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("client: fetching snapshot %s: %s", revision, apiErr.Error)
	}
	return io.ReadAll(resp.Body)
}

// runRequest mirrors internal/server's runRequest: the POST /run body.
type runRequest struct {
	TaskName   string         `json:"task_name,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
}

// Run submits a manual job, used by the strom CLI's run command. Exactly
// one of taskName/actionName should be set.
func (c *Client) Run(ctx context.Context, taskName, actionName string, input map[string]any, sourceID string) (*dispatch.Job, error) {
	var job dispatch.Job
	body := runRequest{TaskName: taskName, ActionName: actionName, Input: input, SourceID: sourceID}
	if _, err := c.do(ctx, http.MethodPost, "/run", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Current fetches stromd's currently synchronized workspace revision.
func (c *Client) Current(ctx context.Context) (string, error) {
	var resp struct {
		Revision string `json:"revision"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/workspace/current", nil, &resp); err != nil {
		return "", err
	}
	return resp.Revision, nil
}

// ReportStepStart implements runnerexec.Reporter.
func (c *Client) ReportStepStart(ctx context.Context, jobID, stepName string, input map[string]any) error {
	path := fmt.Sprintf("/jobs/%s/start", url.PathEscape(jobID))
	if stepName != "" {
		path = fmt.Sprintf("/jobs/%s/steps/%s/start", url.PathEscape(jobID), url.PathEscape(stepName))
	}
	_, err := c.do(ctx, http.MethodPost, path, stepInput{Input: input}, nil)
	return err
}

type stepInput struct {
	Input map[string]any `json:"input"`
}

// ReportStepResult implements runnerexec.Reporter.
func (c *Client) ReportStepResult(ctx context.Context, jobID, stepName string, result dispatch.StepResult) error {
	path := fmt.Sprintf("/jobs/%s/steps/%s/result", url.PathEscape(jobID), url.PathEscape(stepName))
	_, err := c.do(ctx, http.MethodPost, path, result, nil)
	return err
}

// ReportResult implements runnerexec.Reporter.
func (c *Client) ReportResult(ctx context.Context, jobID string, result dispatch.Result) error {
	path := fmt.Sprintf("/jobs/%s/results", url.PathEscape(jobID))
	_, err := c.do(ctx, http.MethodPost, path, result, nil)
	return err
}
