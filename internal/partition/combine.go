package partition

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/storage"
)

// combineProgressEvery is how many appended parts separate progress logs.
const combineProgressEvery = 25

// CombineStats tallies one merge.
type CombineStats struct {
	Parts   int
	Records int64
	Bytes   int64
}

// Combine merges every part-*.parquet object under the input store, in key
// order, into a single parquet object at outKey. Rows stream row group by
// row group; the output carries the first part's schema and snappy
// compression. An empty input set is an error. On failure the output writer
// is abandoned unclosed, so no partial object becomes visible.
func Combine(ctx context.Context, input, output storage.Store, outKey string, logger *zap.Logger) (CombineStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats CombineStats

	keys, err := input.List(ctx, "part-")
	if err != nil {
		return stats, fmt.Errorf("list parts: %w", err)
	}
	var parts []string
	for _, k := range keys {
		if strings.HasSuffix(strings.ToLower(k), ".parquet") {
			parts = append(parts, k)
		}
	}
	if len(parts) == 0 {
		return stats, fmt.Errorf("no parquet parts under input prefix")
	}
	logger.Info("combining partitions",
		zap.Int("parts", len(parts)),
		zap.String("output", output.URI(outKey)))

	wc, err := output.Create(ctx, outKey)
	if err != nil {
		return stats, fmt.Errorf("create %s: %w", outKey, err)
	}
	counted := &countingWriter{w: wc}

	var pw *parquet.Writer
	for i, key := range parts {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("combine interrupted: %w", err)
		}
		n, err := appendPart(ctx, input, key, counted, &pw)
		if err != nil {
			return stats, fmt.Errorf("append %s: %w", key, err)
		}
		stats.Parts++
		stats.Records += n

		if (i+1)%combineProgressEvery == 0 || i+1 == len(parts) {
			logger.Info("combine progress",
				zap.Int("appended", i+1),
				zap.Int("parts", len(parts)),
				zap.Int64("records", stats.Records))
		}
	}

	if err := pw.Close(); err != nil {
		return stats, fmt.Errorf("close parquet writer: %w", err)
	}
	if err := wc.Close(); err != nil {
		return stats, fmt.Errorf("commit %s: %w", outKey, err)
	}
	stats.Bytes = counted.n

	logger.Info("combined partitions",
		zap.Int("parts", stats.Parts),
		zap.Int64("records", stats.Records),
		zap.Int64("bytes", stats.Bytes),
		zap.String("uri", output.URI(outKey)))
	return stats, nil
}

// appendPart streams one part's rows into the shared writer, creating the
// writer from the first part's schema.
func appendPart(ctx context.Context, input storage.Store, key string, out io.Writer, pw **parquet.Writer) (int64, error) {
	ra, size, err := input.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer ra.Close()

	pf, err := parquet.OpenFile(ra, size)
	if err != nil {
		return 0, fmt.Errorf("open parquet: %w", err)
	}

	if *pw == nil {
		*pw = parquet.NewWriter(out, pf.Schema(), parquet.Compression(&parquet.Snappy))
	} else if (*pw).Schema().String() != pf.Schema().String() {
		return 0, fmt.Errorf("schema differs from first part")
	}

	var total int64
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		n, err := parquet.CopyRows(*pw, rows)
		if closeErr := rows.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			return total, fmt.Errorf("copy rows: %w", err)
		}
		total += n
	}
	return total, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
