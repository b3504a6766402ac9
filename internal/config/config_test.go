package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultServerConfig_Valid(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Workspace.Source.Local = "/workspace"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config (with a workspace source) to validate, got %v", err)
	}
}

func TestServerConfig_RequiresExactlyOneWorkspaceSource(t *testing.T) {
	cfg := DefaultServerConfig()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when neither local nor remote workspace source is set")
	}

	cfg.Workspace.Source.Local = "/workspace"
	cfg.Workspace.Source.Remote = "https://example.com/defs.git"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when both local and remote workspace sources are set")
	}
}

func TestLoadServerConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlBody := `
db: "postgres://localhost/strom"
workspace:
  source:
    remote: "https://example.com/org/defs.git"
    poll_interval: 30s
scheduler_tick: 500ms
snapshot_cache_size: 128
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}

	if cfg.DB != "postgres://localhost/strom" {
		t.Errorf("DB = %q, want postgres DSN", cfg.DB)
	}
	if cfg.Workspace.Source.Remote != "https://example.com/org/defs.git" {
		t.Errorf("Workspace.Source.Remote = %q", cfg.Workspace.Source.Remote)
	}
	if cfg.Workspace.Source.PollInterval != 30*time.Second {
		t.Errorf("Workspace.Source.PollInterval = %v, want 30s", cfg.Workspace.Source.PollInterval)
	}
	if cfg.SchedulerTick != 500*time.Millisecond {
		t.Errorf("SchedulerTick = %v, want 500ms", cfg.SchedulerTick)
	}
	if cfg.SnapshotCacheSize != 128 {
		t.Errorf("SnapshotCacheSize = %d, want 128", cfg.SnapshotCacheSize)
	}
	// Fields absent from the file keep their defaults.
	if cfg.LogBatch.MaxBytes != 64*1024 {
		t.Errorf("LogBatch.MaxBytes = %d, want default 65536", cfg.LogBatch.MaxBytes)
	}
}

func TestLoadServerConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("db: \"sqlite://file.db\"\nworkspace:\n  source:\n    local: /ws\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("STROM_DB", "sqlite://env.db")
	t.Setenv("STROM_SCHEDULER_TICK", "2s")

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}

	if cfg.DB != "sqlite://env.db" {
		t.Errorf("expected env var to override file value, DB = %q", cfg.DB)
	}
	if cfg.SchedulerTick != 2*time.Second {
		t.Errorf("expected env var to override default, SchedulerTick = %v", cfg.SchedulerTick)
	}
}

func TestLoadServerConfig_MissingFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error loading a nonexistent config file")
	}
}

func TestDefaultWorkerConfig_Valid(t *testing.T) {
	cfg := DefaultWorkerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default worker config to validate, got %v", err)
	}
}

func TestWorkerConfig_RunnerFanoutMustBePositive(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.RunnerFanout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for runner_fanout < 1")
	}
}

func TestLoadWorkerConfig_EnvOverride(t *testing.T) {
	t.Setenv("STROM_SERVER_ADDR", "http://stromd.internal:7777")
	t.Setenv("STROM_RUNNER_FANOUT", "4")
	t.Setenv("STROM_WORKER_TOKEN", "s3cr3t")

	cfg, err := LoadWorkerConfig("")
	if err != nil {
		t.Fatalf("LoadWorkerConfig() error = %v", err)
	}

	if cfg.ServerAddr != "http://stromd.internal:7777" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.RunnerFanout != 4 {
		t.Errorf("RunnerFanout = %d, want 4", cfg.RunnerFanout)
	}
	if cfg.Token != "s3cr3t" {
		t.Errorf("Token = %q", cfg.Token)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath() error = %v", err)
	}

	want := filepath.Join(dir, "strom", "config.yaml")
	if path != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", path, want)
	}
}
