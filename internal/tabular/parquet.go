package tabular

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ParquetChunkReader streams rows out of a parquet file row group by row
// group, converting leaf values to strings.
type ParquetChunkReader struct {
	file      *parquet.File
	names     []string
	chunkSize int

	group int
	rows  parquet.Rows
	buf   []parquet.Row
}

// NewParquetChunkReader opens the parquet footer and prepares a chunked
// scan over all row groups.
func NewParquetChunkReader(ra io.ReaderAt, size int64, chunkSize int) (*ParquetChunkReader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0")
	}
	file, err := parquet.OpenFile(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	columns := file.Schema().Columns()
	names := make([]string, len(columns))
	for i, path := range columns {
		names[i] = strings.Join(path, ".")
	}
	return &ParquetChunkReader{
		file:      file,
		names:     names,
		chunkSize: chunkSize,
		buf:       make([]parquet.Row, chunkSize),
	}, nil
}

// Next returns up to chunkSize rows, or io.EOF once every row group is
// drained.
func (r *ParquetChunkReader) Next(ctx context.Context) ([]Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.rows == nil {
			groups := r.file.RowGroups()
			if r.group >= len(groups) {
				return nil, io.EOF
			}
			r.rows = groups[r.group].Rows()
			r.group++
		}

		n, err := r.rows.ReadRows(r.buf)
		if n > 0 {
			chunk := make([]Row, n)
			for i, prow := range r.buf[:n] {
				chunk[i] = r.toRow(prow)
			}
			return chunk, nil
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		// Row group exhausted, move to the next one.
		if closeErr := r.rows.Close(); closeErr != nil {
			return nil, fmt.Errorf("close row group: %w", closeErr)
		}
		r.rows = nil
	}
}

func (r *ParquetChunkReader) toRow(prow parquet.Row) Row {
	row := make(Row, len(r.names))
	for _, v := range prow {
		col := v.Column()
		if col < 0 || col >= len(r.names) {
			continue
		}
		if v.IsNull() {
			row[r.names[col]] = ""
			continue
		}
		row[r.names[col]] = v.String()
	}
	return row
}

// Close releases the current row group reader, if any.
func (r *ParquetChunkReader) Close() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}

// WriteParquet writes records as a single snappy-compressed parquet file.
// The write is buffered by the parquet encoder; the caller owns closing w.
func WriteParquet[T any](w io.Writer, records []T) error {
	pw := parquet.NewGenericWriter[T](w, parquet.Compression(&parquet.Snappy))
	for off := 0; off < len(records); {
		n, err := pw.Write(records[off:])
		if err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("parquet writer made no progress")
		}
		off += n
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
