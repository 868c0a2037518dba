package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/catalog"
	collyfetcher "github.com/quantfold/filingstream/internal/fetcher/colly"
	"github.com/quantfold/filingstream/internal/policy/pacer"
)

// newIndexesCmd creates the 'indexes' subcommand: the quarterly catalog
// sweep that feeds the parse stage.
func newIndexesCmd() *cobra.Command {
	var (
		outputPrefix string
		yearsArg     string
		startYear    int
		endYear      int
		quartersArg  string
		delay        float64
		timeoutSec   int
		baseURL      string
	)

	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Download quarterly EDGAR company.idx catalog files",
		Long: `Sweeps the EDGAR full-index archive for the selected years and quarters,
storing each company.idx under --output-prefix as <year>_<QTRn>_company.idx.
Destinations that already exist are skipped, so re-running a sweep only
fetches what is missing. Per-file failures are tallied, never fatal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			cfg := rt.Config
			if cmd.Flags().Changed("output-prefix") {
				cfg.Output.Prefix = outputPrefix
			}
			if cmd.Flags().Changed("user-agent") {
				cfg.Fetch.UserAgent, _ = cmd.Flags().GetString("user-agent")
			}
			if err := cfg.ValidateIndexes(); err != nil {
				return err
			}

			years, err := catalog.ParseYears(yearsArg, startYear, endYear)
			if err != nil {
				return err
			}
			quarters, err := catalog.ParseQuarters(quartersArg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg.Storage, cfg.Output.Prefix)
			if err != nil {
				return fmt.Errorf("open output store: %w", err)
			}
			defer closeQuietly(rt.Logger, "output store", closeStore)

			client, err := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.Fetch.UserAgent})
			if err != nil {
				return fmt.Errorf("build HTTP client: %w", err)
			}

			dl := catalog.NewDownloader(catalog.DownloadConfig{
				BaseURL:  baseURL,
				Years:    years,
				Quarters: quarters,
				Timeout:  time.Duration(timeoutSec) * time.Second,
			}, client, pacer.New(time.Duration(delay*float64(time.Second))), store, rt.Logger)

			stats, err := dl.Run(ctx)
			rt.Logger.Info("catalog sweep finished",
				zap.Int("requested", stats.Requested),
				zap.Int("downloaded", stats.Downloaded),
				zap.Int("skipped", stats.Skipped),
				zap.Int("failed", stats.Failed))
			if err != nil {
				return err
			}
			fmt.Printf("requested=%d downloaded=%d skipped=%d failed=%d\n",
				stats.Requested, stats.Downloaded, stats.Skipped, stats.Failed)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&outputPrefix, "output-prefix", "", "destination prefix for company.idx files")
	fs.String("user-agent", "", "client label sent to EDGAR")
	fs.StringVar(&yearsArg, "years", "", "comma-separated year list, e.g. 2019,2021")
	fs.IntVar(&startYear, "start-year", 0, "first year of an inclusive range (with --end-year)")
	fs.IntVar(&endYear, "end-year", 0, "last year of an inclusive range")
	fs.StringVar(&quartersArg, "quarters", "all", "\"all\" or a comma-separated subset, e.g. QTR1,QTR3")
	fs.Float64Var(&delay, "delay", 1.0, "minimum start-to-start delay between index requests, in seconds")
	fs.IntVar(&timeoutSec, "timeout", 60, "per-file request timeout, in seconds")
	fs.StringVar(&baseURL, "base-url", "", "full-index root (default the EDGAR archive)")

	return cmd
}
