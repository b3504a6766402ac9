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

// Package server implements stromd's wire protocol (spec.md §6): the HTTP
// surface workers, runners, and operators speak against the job store &
// dispatcher (C3), the workspace synchronizer (C1), and the log pipeline's
// server side (C5).
package server

import (
	"context"
	"log/slog"

	"github.com/stromhub/strom/internal/auth"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/dispatch"
)

// WorkspaceProvider is the subset of *workspace.Synchronizer the wire
// protocol depends on.
type WorkspaceProvider interface {
	Current(ctx context.Context) (revision string, definitions *defs.Definitions, err error)
	Snapshot(ctx context.Context, revision string) ([]byte, error)
}

// LogService is the subset of *logpipeline.Server the wire protocol
// depends on.
type LogService interface {
	Ingest(ctx context.Context, jobID, stepName string, entries []dispatch.LogEntry) error
	Read(ctx context.Context, jobID, stepName string) ([]dispatch.LogEntry, error)
}

// Server holds every dependency the wire protocol's handlers dispatch
// into. It has no HTTP-specific state of its own; Router builds the
// actual http.Handler around it.
type Server struct {
	Store     dispatch.Store
	Workspace WorkspaceProvider
	Logs      LogService

	WorkerAuth *auth.BearerAuthenticator
	UserAuth   auth.JWTConfig

	Logger *slog.Logger
}

// New constructs a Server. logger may be nil, in which case slog.Default
// is used.
func New(store dispatch.Store, ws WorkspaceProvider, logs LogService, workerToken string, userAuth auth.JWTConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Store:      store,
		Workspace:  ws,
		Logs:       logs,
		WorkerAuth: auth.NewBearerAuthenticator(workerToken),
		UserAuth:   userAuth,
		Logger:     logger.With(slog.String("component", "server")),
	}
}
