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

// Command strom-runner is the C4 runner: it executes exactly one claimed
// job end to end and exits. strom-worker spawns one instance per job,
// handing it the claim over stdin as JSON.
package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stromhub/strom/internal/client"
	"github.com/stromhub/strom/internal/config"
	"github.com/stromhub/strom/internal/defs"
	"github.com/stromhub/strom/internal/dispatch"
	"github.com/stromhub/strom/internal/log"
	"github.com/stromhub/strom/internal/logpipeline"
	"github.com/stromhub/strom/internal/runnerexec"
	"github.com/stromhub/strom/internal/secrets"
)

// runInput is what strom-worker hands this process on stdin: everything
// needed to execute one job without talking back to stromd except
// through its wire protocol.
type runInput struct {
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
	fanout := flag.Int("fanout", 0, "Intra-job step concurrency (0 uses the claim's value, default 1)")
	flag.Parse()

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	var in runInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		logger.Error("failed to decode run input", slog.Any("error", err))
		os.Exit(1)
	}
	if *fanout > 0 {
		in.Fanout = *fanout
	}

	ctx := context.Background()
	if err := run(ctx, in, logger); err != nil {
		logger.Error("job execution failed", slog.String("job_id", in.JobID), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, in runInput, logger *slog.Logger) error {
	c := client.New(in.ServerAddr, in.Token, nil)

	snapshotDir, err := materializeSnapshot(ctx, c, in.Revision)
	if err != nil {
		return fmt.Errorf("materializing snapshot %s: %w", in.Revision, err)
	}

	files, err := readTree(snapshotDir)
	if err != nil {
		return fmt.Errorf("reading materialized snapshot: %w", err)
	}
	definitions, err := defs.ParseTree(files)
	if err != nil {
		return fmt.Errorf("parsing workspace definitions: %w", err)
	}

	if err := os.Chdir(snapshotDir); err != nil {
		return fmt.Errorf("entering snapshot directory: %w", err)
	}

	secretsReg := secrets.NewRegistry()
	_ = secretsReg.Register(secrets.NewEnvProvider(secrets.InheritEnvConfig{Enabled: true}))

	transport := logpipeline.NewHTTPTransport(in.ServerAddr, in.Token, nil)
	batcher := logpipeline.NewBatcher(ctx, transport, logger)

	executor := runnerexec.New(c, batcher, secretsReg, in.Fanout)

	job := &dispatch.Job{
		JobID:      in.JobID,
		TaskName:   in.TaskName,
		ActionName: in.ActionName,
		Input:      in.Input,
		Revision:   in.Revision,
	}

	if in.TaskName != "" {
		task, ok := definitions.Tasks[in.TaskName]
		if !ok {
			return fmt.Errorf("unknown task %q at revision %s", in.TaskName, in.Revision)
		}
		return executor.RunTask(ctx, job, task, definitions.Actions)
	}

	action, ok := definitions.Actions[in.ActionName]
	if !ok {
		return fmt.Errorf("unknown action %q at revision %s", in.ActionName, in.Revision)
	}
	return executor.RunAction(ctx, job, action)
}

// materializeSnapshot ensures revision's workspace tree exists on local
// disk under the runner's cache directory, downloading and extracting it
// if necessary. Extraction happens into a sibling temp directory and is
// published with a single os.Rename, so two runners racing on the same
// revision either both see the finished directory or one wins the rename
// and the loser's extraction is simply discarded - no lock file needed
// because the destination is content-addressed and idempotent.
func materializeSnapshot(ctx context.Context, c *client.Client, revision string) (string, error) {
	cacheDir, err := config.DefaultCacheDir()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(cacheDir, "snapshots", revision)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	data, err := c.Snapshot(ctx, revision)
	if err != nil {
		return "", err
	}

	tmp := dest + ".tmp-" + fmt.Sprintf("%d", os.Getpid())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", err
	}
	if err := extractTarGz(data, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		// Another runner won the race and dest already exists: use it.
		os.RemoveAll(tmp)
		if _, statErr := os.Stat(dest); statErr == nil {
			return dest, nil
		}
		return "", err
	}
	return dest, nil
}

func extractTarGz(data []byte, dir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		path := filepath.Join(dir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
}

func readTree(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	return files, err
}
