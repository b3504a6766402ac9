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

package logpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/pkg/httpclient"
)

// Transport ships one batch for (jobID, stepName) to the server. stepName
// is empty for a job-level batch.
type Transport interface {
	Send(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error
}

// backoffConfig mirrors the shape (and formula) of the teacher's transport
// retry helper: exponential growth from an initial delay, capped, plus a
// small uniform jitter so a fleet of runners doesn't retry in lockstep.
type backoffConfig struct {
	initial time.Duration
	max     time.Duration
	factor  float64
}

var defaultBackoff = backoffConfig{initial: 500 * time.Millisecond, max: 30 * time.Second, factor: 2.0}

// next returns the delay before retry attempt n (1-indexed).
func (c backoffConfig) next(attempt int) time.Duration {
	delay := float64(c.initial)
	for i := 1; i < attempt; i++ {
		delay *= c.factor
	}
	if delay > float64(c.max) {
		delay = float64(c.max)
	}
	jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	return time.Duration(delay) + jitter
}

// HTTPTransport POSTs batches to the server's log-batch endpoints
// (§6: /jobs/{id}/logs and /jobs/{id}/steps/{step}/logs).
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport targets baseURL, authenticating with the worker's
// bearer token (§6 "Worker auth"). A nil client gets httpclient's
// default-config client; its built-in retry only ever applies to
// GET/HEAD/OPTIONS, so it never doubles up with this transport's own
// backoffConfig-driven retry of the (POST) log-batch send.
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "strom-log-pipeline/1.0"
		hc, err := httpclient.New(cfg)
		if err != nil {
			hc = &http.Client{Timeout: 10 * time.Second}
		}
		client = hc
	}
	return &HTTPTransport{baseURL: baseURL, token: token, client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error {
	path := fmt.Sprintf("%s/jobs/%s/logs", t.baseURL, url.PathEscape(jobID))
	if stepName != "" {
		path = fmt.Sprintf("%s/jobs/%s/steps/%s/logs", t.baseURL, url.PathEscape(jobID), url.PathEscape(stepName))
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("logpipeline: encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("logpipeline: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("logpipeline: sending batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("logpipeline: server rejected batch: status %d", resp.StatusCode)
	}
	return nil
}
