package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadDispatcherConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "listen_addr: \":9000\"\n")
	cfg, err := LoadDispatcherConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected overridden listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.BuildTimeout != 5*time.Minute {
		t.Errorf("expected default build_timeout of 5m, got %v", cfg.BuildTimeout)
	}
	if cfg.BuildImage != "ubuntu:latest" {
		t.Errorf("expected default build image, got %q", cfg.BuildImage)
	}
}

func TestLoadWorkerConfigParsesIdModeAndParallelism(t *testing.T) {
	path := writeFile(t, "id: r1\nmode: taste-runner\nparallelism: 2\n")
	cfg, err := LoadWorkerConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Id != "r1" || cfg.Mode != "taste-runner" || cfg.Parallelism != 2 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadAgentConfigDefaultsAmqp(t *testing.T) {
	path := writeFile(t, "listen_addr: \":9797\"\n")
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AmqpQueue != "commits" {
		t.Errorf("expected default amqp queue, got %q", cfg.AmqpQueue)
	}
}

func TestLoadDispatcherConfigMissingFile(t *testing.T) {
	if _, err := LoadDispatcherConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected an error loading a missing config file")
	}
}
