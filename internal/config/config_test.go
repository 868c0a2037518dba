package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.AttemptBudget != 2 {
		t.Fatalf("expected attempt budget 2, got %d", cfg.Fetch.AttemptBudget)
	}
	if got := cfg.MinDelay(); got != 1500*time.Millisecond {
		t.Fatalf("expected min delay 1.5s, got %v", got)
	}
	if got := cfg.IndexTimeout(); got != 15*time.Second {
		t.Fatalf("expected index timeout 15s, got %v", got)
	}
	if got := cfg.DocumentTimeout(); got != 25*time.Second {
		t.Fatalf("expected document timeout 25s, got %v", got)
	}
	if cfg.Output.FlushEvery != 200 {
		t.Fatalf("expected flush_every 200, got %d", cfg.Output.FlushEvery)
	}
	if !cfg.Output.SkipExisting {
		t.Fatalf("expected skip_existing to default true")
	}
	if got := cfg.LockTTL(); got != 2*time.Hour {
		t.Fatalf("expected lock TTL 2h, got %v", got)
	}
	if len(cfg.Filter.Forms) != 2 || cfg.Filter.Forms[0] != "10-K" || cfg.Filter.Forms[1] != "10-K/A" {
		t.Fatalf("expected default forms [10-K 10-K/A], got %v", cfg.Filter.Forms)
	}
	if cfg.Fetch.BaseURL != "https://www.sec.gov" {
		t.Fatalf("expected default base URL, got %q", cfg.Fetch.BaseURL)
	}
	if cfg.Progress.Buffer != 1024 || cfg.Progress.BatchSize != 256 {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
	if got := cfg.FlushInterval(); got != time.Second {
		t.Fatalf("expected flush interval 1s, got %v", got)
	}
	if got := cfg.SinkTimeout(); got != 5*time.Second {
		t.Fatalf("expected sink timeout 5s, got %v", got)
	}
	if cfg.Ops.Addr != "" || cfg.Ops.APIKey != "" {
		t.Fatalf("expected ops server disabled by default, got %+v", cfg.Ops)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
source:
  input: gs://bucket/filings/2023_10k.parquet
  format: parquet
fetch:
  user_agent: Example Corp admin@example.com
  min_delay_seconds: 2.5
  attempt_budget: 3
output:
  prefix: /data/out
  flush_every: 50
checkpoint:
  path: /data/out/resume.json
limits:
  max_records: 100
filter:
  forms: ["10-K"]
  years: [2022, 2023]
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.Input != "gs://bucket/filings/2023_10k.parquet" {
		t.Fatalf("expected source input override, got %q", cfg.Source.Input)
	}
	if got := cfg.MinDelay(); got != 2500*time.Millisecond {
		t.Fatalf("expected min delay 2.5s, got %v", got)
	}
	if cfg.Fetch.AttemptBudget != 3 {
		t.Fatalf("expected attempt budget 3, got %d", cfg.Fetch.AttemptBudget)
	}
	if cfg.Output.FlushEvery != 50 {
		t.Fatalf("expected flush_every 50, got %d", cfg.Output.FlushEvery)
	}
	if got := cfg.CheckpointPath(); got != "/data/out/resume.json" {
		t.Fatalf("expected explicit checkpoint path, got %q", got)
	}
	if cfg.Limits.MaxRecords != 100 {
		t.Fatalf("expected max_records 100, got %d", cfg.Limits.MaxRecords)
	}
	if len(cfg.Filter.Years) != 2 || cfg.Filter.Years[0] != 2022 {
		t.Fatalf("expected year filter [2022 2023], got %v", cfg.Filter.Years)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply")
	}
	if err := cfg.ValidateFetch(); err != nil {
		t.Fatalf("ValidateFetch() error = %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FILINGSTREAM_FETCH_USER_AGENT", "Env Corp ops@env.example")
	t.Setenv("FILINGSTREAM_OUTPUT_FLUSH_EVERY", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.UserAgent != "Env Corp ops@env.example" {
		t.Fatalf("expected user agent from env, got %q", cfg.Fetch.UserAgent)
	}
	if cfg.Output.FlushEvery != 25 {
		t.Fatalf("expected flush_every 25 from env, got %d", cfg.Output.FlushEvery)
	}
}

func TestCheckpointPathDerived(t *testing.T) {
	t.Parallel()

	cfg := Config{Output: OutputConfig{Prefix: "gs://bucket/out/"}}
	if got := cfg.CheckpointPath(); got != "gs://bucket/out/_checkpoint.json" {
		t.Fatalf("expected derived checkpoint path, got %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Source: SourceConfig{Format: "auto", CSVChunkSize: 1000},
		Fetch: FetchConfig{
			MinDelaySeconds:        1.5,
			AttemptBudget:          2,
			IndexTimeoutSeconds:    15,
			DocumentTimeoutSeconds: 25,
			BaseURL:                "https://www.sec.gov",
		},
		Output:     OutputConfig{FlushEvery: 200},
		Checkpoint: CheckpointConfig{LockTTLMinutes: 120},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid format",
			cfg: func() Config {
				c := base
				c.Source.Format = "xml"
				return c
			}(),
			want: "source.format",
		},
		{
			name: "negative delay",
			cfg: func() Config {
				c := base
				c.Fetch.MinDelaySeconds = -1
				return c
			}(),
			want: "fetch.min_delay_seconds",
		},
		{
			name: "zero attempt budget",
			cfg: func() Config {
				c := base
				c.Fetch.AttemptBudget = 0
				return c
			}(),
			want: "fetch.attempt_budget",
		},
		{
			name: "zero flush threshold",
			cfg: func() Config {
				c := base
				c.Output.FlushEvery = 0
				return c
			}(),
			want: "output.flush_every",
		},
		{
			name: "negative record cap",
			cfg: func() Config {
				c := base
				c.Limits.MaxRecords = -1
				return c
			}(),
			want: "limits.max_records",
		},
		{
			name: "negative progress buffer",
			cfg: func() Config {
				c := base
				c.Progress.Buffer = -1
				return c
			}(),
			want: "progress settings",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateFetchRequiresClientLabel(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Source: SourceConfig{Input: "filings.parquet"},
		Output: OutputConfig{Prefix: "/data/out"},
		Fetch:  FetchConfig{UserAgent: "   "},
	}
	err := cfg.ValidateFetch()
	if err == nil || !strings.Contains(err.Error(), "fetch.user_agent") {
		t.Fatalf("expected user_agent error, got %v", err)
	}
}
