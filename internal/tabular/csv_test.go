package tabular

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestCSVChunkReaderChunks(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"cik,company_name,form_type",
		"320193,Apple Inc,10-K",
		"789019,Microsoft Corp,10-K",
		"1018724,Amazon.com Inc,10-K/A",
		"1652044,Alphabet Inc,10-K",
		"1318605,Tesla Inc,10-K",
	}, "\n")

	r, err := NewCSVChunkReader(strings.NewReader(input), 2)
	if err != nil {
		t.Fatalf("NewCSVChunkReader() error = %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	var sizes []int
	var total int
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		sizes = append(sizes, len(chunk))
		total += len(chunk)
		for _, row := range chunk {
			if row["cik"] == "" || row["form_type"] == "" {
				t.Fatalf("row missing columns: %v", row)
			}
		}
	}
	if total != 5 {
		t.Fatalf("expected 5 rows, got %d", total)
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("unexpected chunk sizes %v", sizes)
	}
}

func TestCSVChunkReaderShortRecord(t *testing.T) {
	t.Parallel()

	input := "a,b,c\n1,2\n"
	r, err := NewCSVChunkReader(strings.NewReader(input), 10)
	if err != nil {
		t.Fatalf("NewCSVChunkReader() error = %v", err)
	}
	chunk, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(chunk) != 1 {
		t.Fatalf("expected 1 row, got %d", len(chunk))
	}
	row := chunk[0]
	if row["a"] != "1" || row["b"] != "2" || row["c"] != "" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestCSVChunkReaderEmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := NewCSVChunkReader(strings.NewReader(""), 10); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestCSVChunkReaderHeaderOnly(t *testing.T) {
	t.Parallel()

	r, err := NewCSVChunkReader(strings.NewReader("a,b\n"), 10)
	if err != nil {
		t.Fatalf("NewCSVChunkReader() error = %v", err)
	}
	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

var _ ChunkReader = (*CSVChunkReader)(nil)
