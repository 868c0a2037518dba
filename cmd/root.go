// Package cmd wires the filingstream subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/config"
	"github.com/quantfold/filingstream/internal/logging"
)

var (
	cfgFile     string
	development bool
)

// runtimeKeyType keys the Runtime in the command context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// Runtime carries the loaded configuration and logger that every subcommand
// uses. It is built once in PersistentPreRunE and injected into the command
// context, so tests can run subcommands against a canned Runtime.
type Runtime struct {
	Config config.Config
	Logger *zap.Logger
}

// runtimeFrom retrieves the Runtime injected by the root command.
func runtimeFrom(cmd *cobra.Command) (*Runtime, error) {
	rt, ok := cmd.Context().Value(runtimeKey).(*Runtime)
	if !ok || rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	return rt, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filingstream",
		Short: "A checkpointed pipeline for harvesting SEC EDGAR filings as plain text.",
		Long: `filingstream streams a catalog of SEC EDGAR filing references, fetches each
document with polite pacing and bounded retries, extracts plain text, and
seals the results into immutable parquet partitions with crash-safe
checkpointing, so an interrupted run resumes without repeating or losing
work.

Subcommands cover the full flow: "indexes" downloads quarterly company.idx
catalogs, "parse" turns them into a tabular filing catalog, "fetch" runs the
core pipeline, and "combine" merges partition outputs into one dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flag parsing and before the subcommand's RunE: the
		// place to load config and build the logger every command shares.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("development") {
				cfg.Logging.Development = development
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), runtimeKey, &Runtime{
				Config: cfg,
				Logger: logger,
			})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*Runtime); ok && rt != nil {
				// Stderr sync errors on some platforms are expected noise.
				_ = rt.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FILINGSTREAM_* environment variables apply on top")
	cmd.PersistentFlags().BoolVar(&development, "development", false, "use the development console logger")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newCombineCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code: zero on clean
// completion (tallied per-record failures included), non-zero on fatal
// aborts such as invalid configuration or an unreadable source.
func Execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "filingstream: %v\n", err)
		return 1
	}
	return 0
}
