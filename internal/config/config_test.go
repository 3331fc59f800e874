package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentos.yaml")
	content := `
transport:
  endpoint: tcp://127.0.0.1:4321
  discovery_interval: 250ms
  discovery_timeout: 3
llm:
  provider: openai
  openai:
    base_url: http://localhost:11434/v1
    model: llama3
storage:
  records:
    driver: badger
    path: state/records
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Endpoint != "tcp://127.0.0.1:4321" {
		t.Fatalf("unexpected endpoint %q", cfg.Transport.Endpoint)
	}
	if cfg.Transport.DiscoveryInterval.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected interval %s", cfg.Transport.DiscoveryInterval)
	}
	if cfg.Transport.DiscoveryTimeout.Std() != 3*time.Second {
		t.Fatalf("numeric durations are seconds, got %s", cfg.Transport.DiscoveryTimeout)
	}
	if cfg.Transport.ReconnectAttempts != 5 {
		t.Fatalf("expected default reconnect attempts")
	}
	if cfg.Storage.Records.Path != filepath.Join(dir, "state/records") {
		t.Fatalf("relative paths resolve against the config dir, got %q", cfg.Storage.Records.Path)
	}
	if len(cfg.Tools.Shell.Allowlist) != 0 {
		t.Fatalf("shell allowlist is left to the builtin default, got %v", cfg.Tools.Shell.Allowlist)
	}
	if len(cfg.Arena.Participants) != 2 || cfg.Arena.Concurrency != 2 {
		t.Fatalf("expected default arena participants, got %+v", cfg.Arena)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentos.json")
	content := `{"agent":{"default_strategy":"single_pass","max_iterations":3},"queue":{"driver":"redis","redis":{"address":"127.0.0.1:6379","block_wait":"2s"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.DefaultStrategy != "single_pass" || cfg.Agent.MaxIterations != 3 {
		t.Fatalf("unexpected agent config %+v", cfg.Agent)
	}
	if cfg.Queue.Redis.BlockWait.Std() != 2*time.Second {
		t.Fatalf("unexpected block wait %s", cfg.Queue.Redis.BlockWait)
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.LLM.Provider != "scripted" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
