package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
)

func TestDecode(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
workers: 8
retry:
  enabled: true
  max_retries: 3
  backoff: fixed
  base_delay: 250ms
output_dir: out
non_interactive: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 8 || cfg.OutputDir != "out" || !cfg.NonInteractive {
		t.Errorf("cfg = %+v", cfg)
	}
	want := orchestrator.RetryConfig{Enabled: true, MaxRetries: 3, Backoff: orchestrator.BackoffFixed, BaseDelay: 250 * time.Millisecond}
	if cfg.Retry != want {
		t.Errorf("retry = %+v, want %+v", cfg.Retry, want)
	}
	if cfg.HistoryDB != Default().HistoryDB {
		t.Errorf("unset keys keep defaults, history_db = %q", cfg.HistoryDB)
	}
}

func TestDecode_Empty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *Default() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader("wokers: 2\n"))
	if err == nil || !strings.Contains(err.Error(), "wokers") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d", cfg.Workers)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("an explicit missing file is an error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvWorkers:        "6",
		EnvOutputDir:      "/tmp/out",
		EnvHistoryDB:      "h.db",
		EnvNonInteractive: "1",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 6 || cfg.OutputDir != "/tmp/out" || cfg.HistoryDB != "h.db" || !cfg.NonInteractive {
		t.Errorf("cfg = %+v", cfg)
	}

	env[EnvNonInteractive] = "yes"
	cfg = Default()
	_ = cfg.ApplyEnv(lookup)
	if !cfg.NonInteractive {
		t.Error("any non-empty value disables interaction")
	}

	env[EnvWorkers] = "many"
	var ce *orchestrator.ConfigError
	if err := Default().ApplyEnv(lookup); !errors.As(err, &ce) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults: %v", err)
	}
	cfg.Workers = 0
	var ce *orchestrator.ConfigError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "workers" {
		t.Errorf("err = %v", err)
	}
	cfg = Default()
	cfg.Retry.Backoff = "linear"
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "retry.backoff" {
		t.Errorf("err = %v", err)
	}
}
