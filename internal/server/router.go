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
	"log/slog"
	"net/http"
	"time"

	"github.com/stromhub/strom/internal/log"
	"github.com/stromhub/strom/internal/tracing"
)

// Router wraps an http.ServeMux with stromd's middleware chain.
type Router struct {
	mux *http.ServeMux
	srv *Server
}

// NewRouter builds the wire protocol's routes against srv.
func NewRouter(srv *Server) *Router {
	r := &Router{mux: http.NewServeMux(), srv: srv}

	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	r.mux.HandleFunc("POST /jobs/next", r.requireWorker(r.handleClaim))
	r.mux.HandleFunc("POST /jobs/{id}/start", r.requireWorker(r.handleJobStart))
	r.mux.HandleFunc("POST /jobs/{id}/steps/{step}/start", r.requireWorker(r.handleStepStart))
	r.mux.HandleFunc("POST /jobs/{id}/steps/{step}/result", r.requireWorker(r.handleStepResult))
	r.mux.HandleFunc("POST /jobs/{id}/results", r.requireWorker(r.handleJobResult))

	r.mux.HandleFunc("POST /jobs/{id}/logs", r.requireWorker(r.handleIngestJobLogs))
	r.mux.HandleFunc("GET /jobs/{id}/logs", r.requireWorker(r.handleReadJobLogs))
	r.mux.HandleFunc("POST /jobs/{id}/steps/{step}/logs", r.requireWorker(r.handleIngestStepLogs))
	r.mux.HandleFunc("GET /jobs/{id}/steps/{step}/logs", r.requireWorker(r.handleReadStepLogs))

	r.mux.HandleFunc("GET /jobs/{id}/sse", r.handleSSE)

	r.mux.HandleFunc("GET /workspace/{revision}", r.requireWorker(r.handleWorkspaceSnapshot))
	r.mux.HandleFunc("GET /workspace/current", r.requireWorker(r.handleWorkspaceCurrent))

	r.mux.HandleFunc("POST /run", r.requireUser(r.handleRun))

	return r
}

// Mux returns the underlying ServeMux so a binary can register extra
// routes (e.g. /metrics) before serving.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler, wrapping the mux in the same
// trace-context -> span -> correlation-id -> request-log chain every
// stromd endpoint gets.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	logger := r.srv.Logger
	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		reqLogger := log.WithCorrelationID(logger, string(correlationID))

		defer func() {
			reqLogger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	handler.ServeHTTP(w, req)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
