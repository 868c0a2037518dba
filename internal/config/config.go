// Package config loads pipeline configuration from defaults, an optional
// YAML file, and FILINGSTREAM_* environment variables, in that order of
// precedence (lowest to highest).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for all subcommands. Sections that a
// subcommand does not use are simply ignored by it.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Output     OutputConfig     `mapstructure:"output"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Events     EventsConfig     `mapstructure:"events"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourceConfig describes where filing references are read from.
type SourceConfig struct {
	// Input is the locator of the record source (local path, gs:// or s3:// URI).
	Input string `mapstructure:"input"`
	// Format selects the tabular decoder: "parquet", "csv", or "auto" to
	// infer from the input extension.
	Format string `mapstructure:"format"`
	// CSVChunkSize is the number of rows decoded per chunk for CSV inputs.
	CSVChunkSize int `mapstructure:"csv_chunk_size"`
}

// FetchConfig controls the rate-limited EDGAR fetcher.
type FetchConfig struct {
	// UserAgent identifies the operator to EDGAR, e.g.
	// "Example Corp admin@example.com". Required for any command that
	// performs outbound fetches.
	UserAgent              string  `mapstructure:"user_agent"`
	MinDelaySeconds        float64 `mapstructure:"min_delay_seconds"`
	AttemptBudget          int     `mapstructure:"attempt_budget"`
	IndexTimeoutSeconds    int     `mapstructure:"index_timeout_seconds"`
	DocumentTimeoutSeconds int     `mapstructure:"document_timeout_seconds"`
	BaseURL                string  `mapstructure:"base_url"`
}

// OutputConfig controls partition placement and flushing.
type OutputConfig struct {
	// Prefix is the destination for partition files (local dir, gs:// or
	// s3:// URI).
	Prefix       string `mapstructure:"prefix"`
	FlushEvery   int    `mapstructure:"flush_every"`
	SkipExisting bool   `mapstructure:"skip_existing"`
}

// CheckpointConfig controls resume state.
type CheckpointConfig struct {
	// Path overrides the checkpoint document location. When empty it is
	// derived as <output.prefix>/_checkpoint.json.
	Path           string `mapstructure:"path"`
	LockTTLMinutes int    `mapstructure:"lock_ttl_minutes"`
	DisableLock    bool   `mapstructure:"disable_lock"`
}

// LimitsConfig caps a single run. Zero means unlimited.
type LimitsConfig struct {
	MaxRecords    int `mapstructure:"max_records"`
	MaxPartitions int `mapstructure:"max_partitions"`
}

// FilterConfig restricts which source rows are streamed.
type FilterConfig struct {
	Forms []string `mapstructure:"forms"`
	CIKs  []string `mapstructure:"ciks"`
	Years []int    `mapstructure:"years"`
}

// StorageConfig carries credentials and endpoints for remote object stores.
// GCS uses application default credentials and needs no section here.
type StorageConfig struct {
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Secure    bool   `mapstructure:"s3_secure"`
}

// LedgerConfig enables the optional Postgres run ledger.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EventsConfig enables the optional Pub/Sub progress publisher.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the event hub feeding the log, metrics, and Pub/Sub
// sinks. Zero values fall back to the hub defaults.
type ProgressConfig struct {
	Buffer          int `mapstructure:"buffer"`
	BatchSize       int `mapstructure:"batch_size"`
	FlushIntervalMS int `mapstructure:"flush_interval_ms"`
	SinkTimeoutMS   int `mapstructure:"sink_timeout_ms"`
	// LogEvents mirrors every progress event into the structured log stream.
	LogEvents bool `mapstructure:"log_events"`
}

// OpsConfig enables the optional operational HTTP server. Empty Addr
// disables it. When APIKey is set the /v1 routes require it; probe and
// metrics endpoints stay open.
type OpsConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from defaults, the optional file at path, and
// environment variables prefixed with FILINGSTREAM (dots become underscores,
// e.g. FILINGSTREAM_FETCH_USER_AGENT).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILINGSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty-string defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("source.input", "")
	v.SetDefault("source.format", "auto")
	v.SetDefault("source.csv_chunk_size", 10000)

	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.min_delay_seconds", 1.5)
	v.SetDefault("fetch.attempt_budget", 2)
	v.SetDefault("fetch.index_timeout_seconds", 15)
	v.SetDefault("fetch.document_timeout_seconds", 25)
	v.SetDefault("fetch.base_url", "https://www.sec.gov")

	v.SetDefault("output.prefix", "")
	v.SetDefault("output.flush_every", 200)
	v.SetDefault("output.skip_existing", true)

	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.lock_ttl_minutes", 120)
	v.SetDefault("checkpoint.disable_lock", false)

	v.SetDefault("limits.max_records", 0)
	v.SetDefault("limits.max_partitions", 0)

	v.SetDefault("filter.forms", []string{"10-K", "10-K/A"})

	v.SetDefault("storage.s3_endpoint", "s3.amazonaws.com")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_access_key", "")
	v.SetDefault("storage.s3_secret_key", "")
	v.SetDefault("storage.s3_secure", true)

	v.SetDefault("ledger.dsn", "")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")

	v.SetDefault("progress.buffer", 1024)
	v.SetDefault("progress.batch_size", 256)
	v.SetDefault("progress.flush_interval_ms", 1000)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.log_events", false)

	v.SetDefault("ops.addr", "")
	v.SetDefault("ops.api_key", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate checks structural invariants that hold for every subcommand.
// Per-command requirements (input paths, the client label) are checked by
// ValidateFetch and ValidateIndexes.
func (c Config) Validate() error {
	if c.Source.CSVChunkSize <= 0 {
		return fmt.Errorf("source.csv_chunk_size must be > 0")
	}
	switch c.Source.Format {
	case "auto", "parquet", "csv":
	default:
		return fmt.Errorf("source.format must be auto, parquet, or csv")
	}
	if c.Fetch.MinDelaySeconds < 0 {
		return fmt.Errorf("fetch.min_delay_seconds must be >= 0")
	}
	if c.Fetch.AttemptBudget < 1 {
		return fmt.Errorf("fetch.attempt_budget must be >= 1")
	}
	if c.Fetch.IndexTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.index_timeout_seconds must be > 0")
	}
	if c.Fetch.DocumentTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.document_timeout_seconds must be > 0")
	}
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url must not be empty")
	}
	if c.Output.FlushEvery <= 0 {
		return fmt.Errorf("output.flush_every must be > 0")
	}
	if c.Checkpoint.LockTTLMinutes <= 0 {
		return fmt.Errorf("checkpoint.lock_ttl_minutes must be > 0")
	}
	if c.Limits.MaxRecords < 0 {
		return fmt.Errorf("limits.max_records must be >= 0")
	}
	if c.Limits.MaxPartitions < 0 {
		return fmt.Errorf("limits.max_partitions must be >= 0")
	}
	if c.Progress.Buffer < 0 || c.Progress.BatchSize < 0 ||
		c.Progress.FlushIntervalMS < 0 || c.Progress.SinkTimeoutMS < 0 {
		return fmt.Errorf("progress settings must be >= 0")
	}
	return nil
}

// ValidateFetch checks the requirements of the fetch subcommand. A missing
// client label is a configuration error so that no run can start anonymous.
func (c Config) ValidateFetch() error {
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return fmt.Errorf("fetch.user_agent is required: set it to an operator label such as \"Example Corp admin@example.com\"")
	}
	if c.Source.Input == "" {
		return fmt.Errorf("source.input is required")
	}
	if c.Output.Prefix == "" {
		return fmt.Errorf("output.prefix is required")
	}
	return nil
}

// ValidateIndexes checks the requirements of the indexes subcommand, which
// also talks to EDGAR and therefore needs the client label.
func (c Config) ValidateIndexes() error {
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return fmt.Errorf("fetch.user_agent is required: set it to an operator label such as \"Example Corp admin@example.com\"")
	}
	if c.Output.Prefix == "" {
		return fmt.Errorf("output.prefix is required")
	}
	return nil
}

// MinDelay is the minimum start-to-start spacing between outbound requests.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.Fetch.MinDelaySeconds * float64(time.Second))
}

// IndexTimeout bounds a single index-page request.
func (c Config) IndexTimeout() time.Duration {
	return time.Duration(c.Fetch.IndexTimeoutSeconds) * time.Second
}

// DocumentTimeout bounds a single document request.
func (c Config) DocumentTimeout() time.Duration {
	return time.Duration(c.Fetch.DocumentTimeoutSeconds) * time.Second
}

// LockTTL is the age past which a checkpoint lock is considered stale.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Checkpoint.LockTTLMinutes) * time.Minute
}

// FlushInterval is the cadence at which the progress hub flushes partial
// batches.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Progress.FlushIntervalMS) * time.Millisecond
}

// SinkTimeout bounds each sink invocation during a progress flush.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMS) * time.Millisecond
}

// CheckpointPath returns the configured checkpoint location, deriving it
// from the output prefix when unset.
func (c Config) CheckpointPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	return strings.TrimRight(c.Output.Prefix, "/") + "/_checkpoint.json"
}
