package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/api"
	"github.com/quantfold/filingstream/internal/checkpoint"
	"github.com/quantfold/filingstream/internal/clock/system"
	"github.com/quantfold/filingstream/internal/config"
	"github.com/quantfold/filingstream/internal/extract"
	collyfetcher "github.com/quantfold/filingstream/internal/fetcher/colly"
	"github.com/quantfold/filingstream/internal/fetcher/edgar"
	"github.com/quantfold/filingstream/internal/hash/sha256"
	"github.com/quantfold/filingstream/internal/id/uuid"
	"github.com/quantfold/filingstream/internal/ledger"
	ledgerpg "github.com/quantfold/filingstream/internal/ledger/postgres"
	"github.com/quantfold/filingstream/internal/partition"
	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/policy/filter"
	"github.com/quantfold/filingstream/internal/policy/pacer"
	"github.com/quantfold/filingstream/internal/progress"
	"github.com/quantfold/filingstream/internal/progress/sinks"
	pubsubpublisher "github.com/quantfold/filingstream/internal/publisher/pubsub"
	"github.com/quantfold/filingstream/internal/source"
	"github.com/quantfold/filingstream/internal/storage"
	"github.com/quantfold/filingstream/internal/tabular"
	"github.com/quantfold/filingstream/internal/telemetry"
)

// newFetchCmd creates the 'fetch' subcommand: the core streaming pipeline.
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Stream the filing catalog, fetch each document, and seal extracted text into partitions",
		Long: `Streams filing references out of the catalog table at --input, fetches each
document from EDGAR with paced, retried requests, extracts plain text, and
seals results into part-NNNNNN.parquet objects under --output-prefix. After
every sealed partition the checkpoint document is rewritten atomically, so a
killed run resumes exactly where it left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			cfg := rt.Config
			applyFetchOverrides(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateFetch(); err != nil {
				return err
			}
			return runFetch(cmd.Context(), cfg, rt.Logger)
		},
	}

	fs := cmd.Flags()
	fs.String("input", "", "catalog table locator (local path, gs:// or s3:// URI)")
	fs.String("format", "", "catalog format: auto, parquet, or csv")
	fs.String("output-prefix", "", "destination prefix for partition files")
	fs.String("user-agent", "", "client label sent to EDGAR, e.g. \"Example Corp admin@example.com\"")
	fs.Float64("delay", 0, "minimum start-to-start delay between requests, in seconds")
	fs.Int("retry-limit", 0, "total fetch attempts per filing, first try included")
	fs.Int("flush-every", 0, "records per sealed partition")
	fs.String("checkpoint-path", "", "checkpoint document locator (default <output-prefix>/_checkpoint.json)")
	fs.Bool("skip-existing", true, "treat an existing partition object as already sealed")
	fs.Int("max-records", 0, "stop streaming after this many records (0 = unlimited)")
	fs.Int("max-partitions", 0, "stop streaming after this many sealed partitions (0 = unlimited)")
	fs.StringSlice("forms", nil, "restrict to these form types (default from config)")
	fs.StringSlice("ciks", nil, "restrict to these CIK numbers")
	fs.IntSlice("years", nil, "restrict to these filing years")
	fs.String("ops-addr", "", "listen address for the ops HTTP server (empty = disabled)")
	fs.String("ledger-dsn", "", "Postgres DSN for the optional run ledger")
	fs.String("events-project", "", "GCP project for the optional events topic")
	fs.String("events-topic", "", "Pub/Sub topic for partition and run events")

	return cmd
}

// applyFetchOverrides copies changed flags onto the loaded config, keeping
// flags > env > file > defaults precedence.
func applyFetchOverrides(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("input") {
		cfg.Source.Input, _ = fs.GetString("input")
	}
	if fs.Changed("format") {
		cfg.Source.Format, _ = fs.GetString("format")
	}
	if fs.Changed("output-prefix") {
		cfg.Output.Prefix, _ = fs.GetString("output-prefix")
	}
	if fs.Changed("user-agent") {
		cfg.Fetch.UserAgent, _ = fs.GetString("user-agent")
	}
	if fs.Changed("delay") {
		cfg.Fetch.MinDelaySeconds, _ = fs.GetFloat64("delay")
	}
	if fs.Changed("retry-limit") {
		cfg.Fetch.AttemptBudget, _ = fs.GetInt("retry-limit")
	}
	if fs.Changed("flush-every") {
		cfg.Output.FlushEvery, _ = fs.GetInt("flush-every")
	}
	if fs.Changed("checkpoint-path") {
		cfg.Checkpoint.Path, _ = fs.GetString("checkpoint-path")
	}
	if fs.Changed("skip-existing") {
		cfg.Output.SkipExisting, _ = fs.GetBool("skip-existing")
	}
	if fs.Changed("max-records") {
		cfg.Limits.MaxRecords, _ = fs.GetInt("max-records")
	}
	if fs.Changed("max-partitions") {
		cfg.Limits.MaxPartitions, _ = fs.GetInt("max-partitions")
	}
	if fs.Changed("forms") {
		cfg.Filter.Forms, _ = fs.GetStringSlice("forms")
	}
	if fs.Changed("ciks") {
		cfg.Filter.CIKs, _ = fs.GetStringSlice("ciks")
	}
	if fs.Changed("years") {
		cfg.Filter.Years, _ = fs.GetIntSlice("years")
	}
	if fs.Changed("ops-addr") {
		cfg.Ops.Addr, _ = fs.GetString("ops-addr")
	}
	if fs.Changed("ledger-dsn") {
		cfg.Ledger.DSN, _ = fs.GetString("ledger-dsn")
	}
	if fs.Changed("events-project") {
		cfg.Events.ProjectID, _ = fs.GetString("events-project")
	}
	if fs.Changed("events-topic") {
		cfg.Events.Topic, _ = fs.GetString("events-topic")
	}
}

// runFetch builds the object graph and drives one pipeline run.
func runFetch(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	tp, err := telemetry.InitTracerProvider(ctx, "filingstream")
	if err != nil {
		logger.Warn("tracer provider init failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	outStore, closeOut, err := openStore(ctx, cfg.Storage, cfg.Output.Prefix)
	if err != nil {
		return fmt.Errorf("open output store: %w", err)
	}
	defer closeQuietly(logger, "output store", closeOut)

	ckStore, ckKey, closeCk, err := openObjectStore(ctx, cfg.Storage, cfg.CheckpointPath())
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer closeQuietly(logger, "checkpoint store", closeCk)

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("close source failed", zap.Error(cerr))
		}
	}()

	client, err := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.Fetch.UserAgent})
	if err != nil {
		return fmt.Errorf("build HTTP client: %w", err)
	}
	fetcher := edgar.New(edgar.Config{
		BaseURL:         cfg.Fetch.BaseURL,
		AttemptBudget:   cfg.Fetch.AttemptBudget,
		IndexTimeout:    cfg.IndexTimeout(),
		DocumentTimeout: cfg.DocumentTimeout(),
	}, client, pacer.New(cfg.MinDelay()), logger)

	writer := partition.NewWriter(outStore, partition.Options{
		FlushEvery:   cfg.Output.FlushEvery,
		SkipExisting: cfg.Output.SkipExisting,
		LastSeq:      -1,
		Logger:       logger,
	})

	ckpt := checkpoint.New(ckStore, checkpoint.Options{
		Key:         ckKey,
		LockTTL:     cfg.LockTTL(),
		DisableLock: cfg.Checkpoint.DisableLock,
		Logger:      logger,
	})

	var (
		runLedger    pipeline.Ledger
		ledgerReader ledger.Reader
	)
	if cfg.Ledger.DSN != "" {
		pg, err := ledgerpg.New(ctx, ledgerpg.Config{DSN: cfg.Ledger.DSN})
		if err != nil {
			return fmt.Errorf("connect run ledger: %w", err)
		}
		defer pg.Close()
		runLedger = pg
		ledgerReader = pg
	}

	var sinkList []progress.Sink
	if cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(logger))
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Warn("prometheus sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if cfg.Events.Topic != "" {
		psClient, err := pubsubv2.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() {
			if cerr := psClient.Close(); cerr != nil {
				logger.Warn("close pubsub client failed", zap.Error(cerr))
			}
		}()
		pub := pubsubpublisher.New(psClient.Publisher(cfg.Events.Topic))
		defer pub.Stop()
		sinkList = append(sinkList, sinks.NewEventsSink(pub, cfg.Events.Topic, nil, logger))
	}

	hub := progress.NewHub(progress.Config{
		Buffer:        cfg.Progress.Buffer,
		BatchSize:     cfg.Progress.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		SinkTimeout:   cfg.SinkTimeout(),
		Logger:        logger,
	}, sinkList...)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(drainCtx); cerr != nil {
			logger.Warn("progress hub drain failed", zap.Error(cerr))
		}
	}()

	runner, err := pipeline.NewRunner(pipeline.RunConfig{
		MaxRecords:    cfg.Limits.MaxRecords,
		MaxPartitions: cfg.Limits.MaxPartitions,
	}, pipeline.Deps{
		Source:     src,
		Fetcher:    fetcher,
		Extractor:  extract.New(),
		Writer:     writer,
		Checkpoint: ckpt,
		Ledger:     runLedger,
		IDs:        uuid.New(),
		Clock:      system.New(),
		Hasher:     sha256.New(),
		Progress:   hub,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.Ops.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           api.NewServer(runner, ledgerReader, cfg.Ops, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("ops server listening", zap.String("addr", cfg.Ops.Addr))
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("ops server failed", zap.Error(serveErr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("ops server shutdown failed", zap.Error(serr))
			}
		}()
	}

	summary, runErr := runner.Run(ctx)
	printSummary(summary)
	return runErr
}

// openSource opens the catalog table and wraps it in the filtering record
// source. Cleanup of the underlying handle rides on Source.Close.
func openSource(ctx context.Context, cfg config.Config, logger *zap.Logger) (*source.Source, error) {
	store, closeStore, err := openStoreForInput(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_, key := storage.SplitObjectLocator(cfg.Source.Input)

	format := cfg.Source.Format
	if format == "" || format == "auto" {
		if strings.HasSuffix(strings.ToLower(key), ".csv") {
			format = "csv"
		} else {
			format = "parquet"
		}
	}

	opts := source.Options{
		Filter: filter.New(cfg.Filter.Forms, cfg.Filter.CIKs, cfg.Filter.Years),
		Logger: logger,
	}

	switch format {
	case "parquet":
		ra, size, err := store.Open(ctx, key)
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("open catalog %s: %w", cfg.Source.Input, err)
		}
		reader, err := tabular.NewParquetChunkReader(ra, size, cfg.Source.CSVChunkSize)
		if err != nil {
			_ = ra.Close()
			_ = closeStore()
			return nil, fmt.Errorf("read catalog %s: %w", cfg.Source.Input, err)
		}
		return source.New(reader, opts, ra, closerAdapter{closeStore}), nil

	case "csv":
		data, err := store.ReadBytes(ctx, key)
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("open catalog %s: %w", cfg.Source.Input, err)
		}
		reader, err := tabular.NewCSVChunkReader(bytes.NewReader(data), cfg.Source.CSVChunkSize)
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("read catalog %s: %w", cfg.Source.Input, err)
		}
		return source.New(reader, opts, closerAdapter{closeStore}), nil

	default:
		_ = closeStore()
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
}

func openStoreForInput(ctx context.Context, cfg config.Config) (storage.Store, closeFunc, error) {
	dir, key := storage.SplitObjectLocator(cfg.Source.Input)
	if key == "" {
		return nil, nil, fmt.Errorf("input %q does not name a table object", cfg.Source.Input)
	}
	return openStore(ctx, cfg.Storage, dir)
}

// closerAdapter lets a closeFunc ride in a []io.Closer.
type closerAdapter struct {
	fn closeFunc
}

func (c closerAdapter) Close() error { return c.fn() }

var _ io.Closer = closerAdapter{}

func closeQuietly(logger *zap.Logger, what string, fn closeFunc) {
	if err := fn(); err != nil {
		logger.Warn("close failed", zap.String("component", what), zap.Error(err))
	}
}

// printSummary writes the final run accounting to stdout as indented JSON.
func printSummary(summary pipeline.Summary) {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode summary: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
