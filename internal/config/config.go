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

// Package config loads stromd/strom-worker/strom-runner configuration from
// YAML, with STROM_* environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	stromerrors "github.com/stromhub/strom/pkg/errors"
)

// WorkspaceSourceConfig selects where workspace definitions are read from.
// Exactly one of Local or Remote should be set.
type WorkspaceSourceConfig struct {
	Local        string        `yaml:"local,omitempty"`
	Remote       string        `yaml:"remote,omitempty"`
	Ref          string        `yaml:"ref,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// MaxRescansPerMinute caps how often a Local source's fsnotify
	// debounce is allowed to trigger an actual rescan; 0 leaves it
	// unbounded. Has no effect on a Remote source, which is already
	// paced by PollInterval.
	MaxRescansPerMinute int `yaml:"max_rescans_per_minute,omitempty"`
}

// WorkspaceConfig configures the workspace synchronizer (C1).
type WorkspaceConfig struct {
	Source WorkspaceSourceConfig `yaml:"source"`
}

// ObjectStoreConfig names a bucket/prefix for the object-store log sink.
type ObjectStoreConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// LogSinkConfig selects where step logs are durably persisted.
// Exactly one of Local or ObjectStore should be set.
type LogSinkConfig struct {
	Local       string             `yaml:"local,omitempty"`
	ObjectStore *ObjectStoreConfig `yaml:"object_store,omitempty"`
}

// LogBatchConfig holds the size and time bounds for client-side log
// batching. strom-runner builds its batcher with logpipeline's built-in
// bounds and does not read this value.
type LogBatchConfig struct {
	MaxBytes    int           `yaml:"max_bytes,omitempty"`
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`
}

// LoggingConfig configures process-wide structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level,omitempty"`
	Format    string `yaml:"format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// ServerConfig is stromd's configuration: the scheduler, job store &
// dispatcher, and log pipeline server side.
type ServerConfig struct {
	Log LoggingConfig `yaml:"log"`

	// ListenAddr is the HTTP address stromd binds, e.g. ":7777".
	ListenAddr string `yaml:"listen_addr"`

	// DB is the dispatcher's durable store connection string, e.g.
	// "sqlite:///var/lib/strom/strom.db" or a postgres:// DSN.
	DB string `yaml:"db"`

	Workspace WorkspaceConfig `yaml:"workspace"`

	LogSink  LogSinkConfig  `yaml:"log_sink"`
	LogBatch LogBatchConfig `yaml:"log_batch"`

	// WorkerToken is the shared secret workers/runners present as a bearer
	// token when claiming jobs or streaming logs back.
	WorkerToken string `yaml:"worker_token"`

	// UserAuthSecret is the HS256 signing key operators' JWTs are verified
	// against for POST /run. Empty disables manual runs.
	UserAuthSecret string `yaml:"user_auth_secret"`

	// UserAuthIssuer, if set, is the required JWT issuer claim.
	UserAuthIssuer string `yaml:"user_auth_issuer"`

	// SchedulerTick is how often the cron scheduler evaluates due triggers.
	SchedulerTick time.Duration `yaml:"scheduler_tick"`

	// SnapshotCacheSize bounds the server's in-memory LRU of workspace
	// snapshots keyed by revision.
	SnapshotCacheSize int `yaml:"snapshot_cache_size"`
}

// WorkerConfig is strom-worker's configuration: it claims jobs from stromd
// and supervises the runner subprocess(es) that execute them.
type WorkerConfig struct {
	Log LoggingConfig `yaml:"log"`

	// ServerAddr is stromd's HTTP address, e.g. "http://localhost:7777".
	ServerAddr string `yaml:"server_addr"`

	// Token authenticates this worker to stromd; must match ServerConfig.WorkerToken.
	Token string `yaml:"worker_token"`

	// RunnerFanout bounds intra-job parallelism: the number of same-layer
	// steps a runner may execute concurrently (default 1, strictly sequential).
	RunnerFanout int `yaml:"runner_fanout"`

	LogBatch LogBatchConfig `yaml:"log_batch"`
}

// ClientConfig is the strom operator CLI's configuration: which stromd to
// talk to and how to authenticate against POST /run.
type ClientConfig struct {
	// ServerAddr is stromd's HTTP address, e.g. "http://localhost:7777".
	ServerAddr string `yaml:"server_addr"`

	// Token is a signed operator JWT (see auth.GenerateJWT), sent as a
	// bearer token on user-auth endpoints like POST /run.
	Token string `yaml:"token"`
}

// DefaultClientConfig returns a ClientConfig with every optional field set
// to its documented default.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{ServerAddr: "http://localhost:7777"}
}

// LoadClientConfig loads strom CLI configuration from the YAML file at
// path (skipped if path is empty), then applies STROM_* environment
// overrides.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, &stromerrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", path), Cause: err}
		}
	}

	cfg.applyEnv()

	if cfg.ServerAddr == "" {
		return nil, &stromerrors.ConfigError{Key: "server_addr", Reason: "must be set"}
	}

	return &cfg, nil
}

// applyEnv overrides ClientConfig fields from STROM_* environment variables.
func (c *ClientConfig) applyEnv() {
	if v := os.Getenv("STROM_SERVER_ADDR"); v != "" {
		c.ServerAddr = v
	}
	if v := os.Getenv("STROM_TOKEN"); v != "" {
		c.Token = v
	}
}

// DefaultServerConfig returns a ServerConfig with every optional field set
// to its documented default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Log:               LoggingConfig{Level: "info", Format: "json"},
		ListenAddr:        ":7777",
		DB:                "sqlite://strom.db",
		SchedulerTick:     1 * time.Second,
		SnapshotCacheSize: 64,
		LogBatch:          LogBatchConfig{MaxBytes: 64 * 1024, MaxInterval: 200 * time.Millisecond},
	}
}

// DefaultWorkerConfig returns a WorkerConfig with every optional field set
// to its documented default.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Log:          LoggingConfig{Level: "info", Format: "json"},
		ServerAddr:   "http://localhost:7777",
		RunnerFanout: 1,
		LogBatch:     LogBatchConfig{MaxBytes: 64 * 1024, MaxInterval: 200 * time.Millisecond},
	}
}

// LoadServerConfig loads stromd configuration from the YAML file at path
// (skipped if path is empty), then applies STROM_* environment overrides.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, &stromerrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", path), Cause: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWorkerConfig loads strom-worker configuration from the YAML file at
// path (skipped if path is empty), then applies STROM_* environment overrides.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, &stromerrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", path), Cause: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadYAMLFile reads and unmarshals a YAML document into dst, expanding a
// leading "~/" to the user's home directory.
func loadYAMLFile(path string, dst any) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	return nil
}

// applyEnv overrides ServerConfig fields from STROM_* environment variables.
// Environment variables take precedence over file-based configuration.
func (c *ServerConfig) applyEnv() {
	if v := os.Getenv("STROM_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("STROM_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("STROM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("STROM_DB"); v != "" {
		c.DB = v
	}
	if v := os.Getenv("STROM_WORKSPACE_SOURCE_LOCAL"); v != "" {
		c.Workspace.Source.Local = v
	}
	if v := os.Getenv("STROM_WORKSPACE_SOURCE_REMOTE"); v != "" {
		c.Workspace.Source.Remote = v
	}
	if v := os.Getenv("STROM_WORKSPACE_SOURCE_REF"); v != "" {
		c.Workspace.Source.Ref = v
	}
	if v := os.Getenv("STROM_WORKSPACE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Workspace.Source.PollInterval = d
		}
	}
	if v := os.Getenv("STROM_LOG_SINK_LOCAL"); v != "" {
		c.LogSink.Local = v
	}
	if v := os.Getenv("STROM_WORKER_TOKEN"); v != "" {
		c.WorkerToken = v
	}
	if v := os.Getenv("STROM_USER_AUTH_SECRET"); v != "" {
		c.UserAuthSecret = v
	}
	if v := os.Getenv("STROM_USER_AUTH_ISSUER"); v != "" {
		c.UserAuthIssuer = v
	}
	if v := os.Getenv("STROM_SCHEDULER_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SchedulerTick = d
		}
	}
	if v := os.Getenv("STROM_SNAPSHOT_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SnapshotCacheSize = n
		}
	}
	applyLogBatchEnv(&c.LogBatch)
}

// applyEnv overrides WorkerConfig fields from STROM_* environment variables.
func (c *WorkerConfig) applyEnv() {
	if v := os.Getenv("STROM_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("STROM_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("STROM_SERVER_ADDR"); v != "" {
		c.ServerAddr = v
	}
	if v := os.Getenv("STROM_WORKER_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("STROM_RUNNER_FANOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RunnerFanout = n
		}
	}
	applyLogBatchEnv(&c.LogBatch)
}

func applyLogBatchEnv(b *LogBatchConfig) {
	if v := os.Getenv("STROM_LOG_BATCH_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.MaxBytes = n
		}
	}
	if v := os.Getenv("STROM_LOG_BATCH_MAX_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			b.MaxInterval = d
		}
	}
}

// Validate checks that ServerConfig is internally consistent.
func (c *ServerConfig) Validate() error {
	if c.Workspace.Source.Local == "" && c.Workspace.Source.Remote == "" {
		return &stromerrors.ConfigError{Key: "workspace.source", Reason: "exactly one of local or remote must be set"}
	}
	if c.Workspace.Source.Local != "" && c.Workspace.Source.Remote != "" {
		return &stromerrors.ConfigError{Key: "workspace.source", Reason: "only one of local or remote may be set"}
	}
	if c.SchedulerTick <= 0 {
		return &stromerrors.ConfigError{Key: "scheduler_tick", Reason: "must be positive"}
	}
	if c.SnapshotCacheSize <= 0 {
		return &stromerrors.ConfigError{Key: "snapshot_cache_size", Reason: "must be positive"}
	}
	return nil
}

// Validate checks that WorkerConfig is internally consistent.
func (c *WorkerConfig) Validate() error {
	if c.ServerAddr == "" {
		return &stromerrors.ConfigError{Key: "server_addr", Reason: "must be set"}
	}
	if c.RunnerFanout < 1 {
		return &stromerrors.ConfigError{Key: "runner_fanout", Reason: "must be >= 1"}
	}
	return nil
}
