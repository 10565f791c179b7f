// Package config loads the optional tcrun.yaml project file and applies
// TCRUN_* environment overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/store"
)

// FileName is the project file looked up in the working directory.
const FileName = "tcrun.yaml"

// Config is the project configuration.
type Config struct {
	Workers        int                      `yaml:"workers"`
	Retry          orchestrator.RetryConfig `yaml:"retry"`
	OutputDir      string                   `yaml:"output_dir"`
	HistoryDB      string                   `yaml:"history_db"`
	NonInteractive bool                     `yaml:"non_interactive"`
	TestCasesDir   string                   `yaml:"testcases_dir"`
	CleanOutput    bool                     `yaml:"clean_output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers: 4,
		Retry: orchestrator.RetryConfig{
			MaxRetries: 2,
			Backoff:    orchestrator.BackoffExponential,
			BaseDelay:  orchestrator.DefaultBaseDelay,
		},
		OutputDir:    "tcrun-out",
		HistoryDB:    store.DefaultPath,
		TestCasesDir: "testcases",
	}
}

// Decode reads a project file over the defaults. Unknown keys are errors.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads path. An empty path means FileName in the working directory,
// and a missing default file yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Environment variables that override the file.
const (
	EnvWorkers        = "TCRUN_WORKERS"
	EnvOutputDir      = "TCRUN_OUTPUT_DIR"
	EnvHistoryDB      = "TCRUN_HISTORY_DB"
	EnvNonInteractive = "TCRUN_NON_INTERACTIVE"
)

// ApplyEnv overrides fields from the environment, read through lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &orchestrator.ConfigError{Field: "workers", Msg: fmt.Sprintf("%s=%q is not an integer", EnvWorkers, v)}
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvOutputDir); ok && v != "" {
		c.OutputDir = v
	}
	if v, ok := lookup(EnvHistoryDB); ok && v != "" {
		c.HistoryDB = v
	}
	if v, ok := lookup(EnvNonInteractive); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			// Any other non-empty value counts as set, as the artifact does.
			b = true
		}
		c.NonInteractive = b
	}
	return nil
}

// Validate checks the orchestration settings.
func (c *Config) Validate() error {
	oc := orchestrator.Config{Workers: c.Workers, Retry: c.Retry}
	return oc.Validate()
}
