// Package tabular decodes the columnar and delimited table formats the
// pipeline reads filing references from, chunk by chunk, and writes
// partition files in parquet.
package tabular

import "context"

// Row is one record as a column-name to string-value map. Null and missing
// cells are empty strings; numeric columns carry their decimal rendering.
type Row map[string]string

// ChunkReader yields bounded batches of rows in source order, so arbitrarily
// large tables never need to fit in memory.
type ChunkReader interface {
	// Next returns the next chunk, or io.EOF after the last one. A
	// returned chunk is never empty.
	Next(ctx context.Context) ([]Row, error)
	Close() error
}
