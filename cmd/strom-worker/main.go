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

// Command strom-worker polls stromd for queued jobs and supervises a
// strom-runner subprocess per claimed job. It never executes a job
// itself: the runner is a fresh process per job so a crashed or hung
// action can't take the worker down with it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/stromhub/strom/internal/client"
	"github.com/stromhub/strom/internal/config"
	"github.com/stromhub/strom/internal/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// runnerInput mirrors strom-runner's runInput; kept as a separate type so
// the two binaries don't share an internal package for a small
// struct crossing a process boundary as JSON.
type runnerInput struct {
	JobID      string         `json:"job_id"`
	TaskName   string         `json:"task_name,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Revision   string         `json:"revision"`
	ServerAddr string         `json:"server_addr"`
	Token      string         `json:"token"`
	Fanout     int            `json:"fanout,omitempty"`
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		serverAddr  = flag.String("server", "", "stromd HTTP address")
		runnerPath  = flag.String("runner", "strom-runner", "Path to the strom-runner binary")
		idlePoll    = flag.Duration("idle-poll", 2*time.Second, "Delay before re-polling after an empty queue")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("strom-worker %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.LoadWorkerConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}

	workerID := os.Getenv("STROM_WORKER_ID")
	if workerID == "" {
		workerID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()
	defer cancel()

	c := client.New(cfg.ServerAddr, cfg.Token, nil)
	logger.Info("strom-worker started", slog.String("worker_id", workerID), slog.String("server", cfg.ServerAddr))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claim, err := c.Claim(ctx, workerID)
		if err != nil {
			logger.Error("claim failed", slog.Any("error", err))
			sleep(ctx, *idlePoll)
			continue
		}
		if claim == nil {
			sleep(ctx, *idlePoll)
			continue
		}

		runJob(ctx, *runnerPath, cfg.ServerAddr, cfg.RunnerFanout, claim, logger)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func runJob(ctx context.Context, runnerPath, serverAddr string, fanout int, claim *client.ClaimResult, logger *slog.Logger) {
	logger = logger.With(slog.String("job_id", claim.Job.JobID))
	logger.Info("claimed job")

	input := runnerInput{
		JobID:      claim.Job.JobID,
		TaskName:   claim.Job.TaskName,
		ActionName: claim.Job.ActionName,
		Input:      claim.Job.Input,
		Revision:   claim.Revision,
		ServerAddr: serverAddr,
		Token:      claim.Token,
		Fanout:     fanout,
	}
	data, err := json.Marshal(input)
	if err != nil {
		logger.Error("failed to encode runner input", slog.Any("error", err))
		return
	}

	cmd := exec.CommandContext(ctx, runnerPath)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		logger.Error("runner exited with error", slog.Any("error", err))
		return
	}
	logger.Info("job finished")
}
