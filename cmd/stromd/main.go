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

// Command stromd is the server binary: it runs the workspace
// synchronizer (C1), the cron scheduler (C2), the job store & dispatcher
// (C3), and the log pipeline's server side (C5) behind one HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stromhub/strom/internal/auth"
	"github.com/stromhub/strom/internal/config"
	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/dispatch/memory"
	"github.com/stromhub/strom/internal/dispatch/postgres"
	"github.com/stromhub/strom/internal/dispatch/sqlite"
	"github.com/stromhub/strom/internal/log"
	"github.com/stromhub/strom/internal/logpipeline"
	"github.com/stromhub/strom/internal/scheduler"
	"github.com/stromhub/strom/internal/server"
	"github.com/stromhub/strom/internal/tracing"
	"github.com/stromhub/strom/internal/workspace"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen", "", "HTTP address to bind, e.g. :7777")
		db          = flag.String("db", "", "Dispatcher connection string (sqlite://path or postgres://dsn)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("stromd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *db != "" {
		cfg.DB = *db
	}
	logger = log.New(configToLogConfig(cfg.Log))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg.DB)
	if err != nil {
		logger.Error("failed to open dispatch store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	source, err := openWorkspaceSource(cfg.Workspace.Source, logger)
	if err != nil {
		logger.Error("failed to configure workspace source", slog.Any("error", err))
		os.Exit(1)
	}
	synchronizer := workspace.New(source, cfg.SnapshotCacheSize, logger)
	go synchronizer.Start(ctx)

	sink, err := openLogSink(cfg.LogSink)
	if err != nil {
		logger.Error("failed to configure log sink", slog.Any("error", err))
		os.Exit(1)
	}
	logServer := logpipeline.NewServer(sink, store)

	sched := scheduler.New(synchronizer, store, cfg.SchedulerTick, logger)
	sched.Start(ctx)
	defer sched.Stop()

	registry := prometheus.NewRegistry()
	collector, err := tracing.NewMetricsCollector(registry)
	if err != nil {
		logger.Error("failed to create metrics collector", slog.Any("error", err))
		os.Exit(1)
	}

	userAuth := auth.JWTConfig{
		Secret:    []byte(cfg.UserAuthSecret),
		Issuer:    cfg.UserAuthIssuer,
		ClockSkew: 30 * time.Second,
	}

	srv := server.New(store, synchronizer, logServer, cfg.WorkerToken, userAuth, logger)
	router := server.NewRouter(srv)
	router.Mux().Handle("GET /metrics", collector.Handler())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stromd listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.Any("signal", sig))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		logger.Error("stromd error", slog.Any("error", err))
		cancel()
		os.Exit(1)
	}
}

// openStore dispatches on cfg.DB's scheme: sqlite:// for a local file,
// postgres:// for a shared database, anything else (including empty)
// falls back to the in-memory backend used for development and tests.
func openStore(dsn string) (dispatch.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		return sqlite.New(sqlite.Config{Path: path, WAL: true})
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(postgres.Config{
			ConnectionString: dsn,
			MaxOpenConns:     10,
			MaxIdleConns:     5,
			ConnMaxLifetime:  30 * time.Minute,
		})
	default:
		return memory.New(), nil
	}
}

func openWorkspaceSource(cfg config.WorkspaceSourceConfig, logger *slog.Logger) (workspace.Source, error) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if cfg.Remote != "" {
		cacheDir, err := remoteCloneDir(cfg.Remote)
		if err != nil {
			return nil, err
		}
		return workspace.NewRemoteSource(cfg.Remote, cfg.Ref, cacheDir, interval, logger), nil
	}
	var opts []workspace.LocalSourceOption
	if cfg.MaxRescansPerMinute > 0 {
		opts = append(opts, workspace.WithMaxRescansPerMinute(cfg.MaxRescansPerMinute))
	}
	return workspace.NewLocalSource(cfg.Local, 200*time.Millisecond, logger, opts...), nil
}

func remoteCloneDir(remote string) (string, error) {
	dir, err := config.DefaultCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspace", sanitizeForPath(remote)), nil
}

func sanitizeForPath(s string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return replacer.Replace(s)
}

// openLogSink picks the durable log sink per cfg. A LogSinkConfig.ObjectStore
// entry is served by the directory-backed LocalPartStore behind ObjectSink,
// since no object-store client library exists in the retrieved pack; a real
// deployment would wire its own PartStore (S3/GCS/Azure Blob) into the same
// ObjectSink without any other code changing.
func openLogSink(cfg config.LogSinkConfig) (logpipeline.Sink, error) {
	if cfg.ObjectStore != nil {
		dir := filepath.Join(cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)
		store, err := logpipeline.NewLocalPartStore(dir)
		if err != nil {
			return nil, err
		}
		return logpipeline.NewObjectSink(store), nil
	}
	dir := cfg.Local
	if dir == "" {
		dir = "./strom-logs"
	}
	return logpipeline.NewFSSink(dir)
}

func configToLogConfig(cfg config.LoggingConfig) *log.Config {
	c := log.DefaultConfig()
	if cfg.Level != "" {
		c.Level = cfg.Level
	}
	if cfg.Format != "" {
		c.Format = log.Format(cfg.Format)
	}
	c.AddSource = cfg.AddSource
	return c
}
