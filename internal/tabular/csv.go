package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// CSVChunkReader streams rows out of a headered CSV document. Short records
// leave the trailing columns empty; extra cells beyond the header are
// dropped.
type CSVChunkReader struct {
	reader    *csv.Reader
	header    []string
	chunkSize int
	done      bool
}

// NewCSVChunkReader reads the header record and prepares a chunked scan.
func NewCSVChunkReader(r io.Reader, chunkSize int) (*CSVChunkReader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0")
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("csv input is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	names := make([]string, len(header))
	copy(names, header)

	return &CSVChunkReader{reader: cr, header: names, chunkSize: chunkSize}, nil
}

// Header returns the column names in file order.
func (r *CSVChunkReader) Header() []string {
	out := make([]string, len(r.header))
	copy(out, r.header)
	return out
}

// Next returns up to chunkSize rows, or io.EOF after the last record.
func (r *CSVChunkReader) Next(ctx context.Context) ([]Row, error) {
	if r.done {
		return nil, io.EOF
	}
	chunk := make([]Row, 0, r.chunkSize)
	for len(chunk) < r.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.reader.Read()
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		row := make(Row, len(r.header))
		for i, name := range r.header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		chunk = append(chunk, row)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// Close is a no-op; the caller owns the underlying reader.
func (r *CSVChunkReader) Close() error { return nil }
