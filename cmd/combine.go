package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/partition"
)

// newCombineCmd creates the 'combine' subcommand: many sealed partitions in,
// one parquet dataset out.
func newCombineCmd() *cobra.Command {
	var (
		inputPrefix string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge part-*.parquet partitions into a single parquet file",
		Long: `Lists every part-*.parquet object under --input-prefix in key order and
streams their row groups into one parquet object at --output. The output
becomes visible only when the merge completes, so an interrupted combine
never leaves a partial dataset behind.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			if inputPrefix == "" {
				return fmt.Errorf("--input-prefix is required")
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}

			ctx := cmd.Context()
			in, closeIn, err := openStore(ctx, rt.Config.Storage, inputPrefix)
			if err != nil {
				return fmt.Errorf("open input store: %w", err)
			}
			defer closeQuietly(rt.Logger, "input store", closeIn)

			out, outKey, closeOut, err := openObjectStore(ctx, rt.Config.Storage, output)
			if err != nil {
				return fmt.Errorf("open output store: %w", err)
			}
			defer closeQuietly(rt.Logger, "output store", closeOut)

			stats, err := partition.Combine(ctx, in, out, outKey, rt.Logger)
			if err != nil {
				return err
			}
			rt.Logger.Info("combine finished",
				zap.Int("parts", stats.Parts),
				zap.Int64("records", stats.Records),
				zap.Int64("bytes", stats.Bytes))
			fmt.Printf("parts=%d records=%d bytes=%d\n", stats.Parts, stats.Records, stats.Bytes)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&inputPrefix, "input-prefix", "", "prefix holding part-*.parquet objects")
	fs.StringVar(&output, "output", "", "destination parquet object")

	return cmd
}
