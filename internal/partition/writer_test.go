package partition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/storage/memory"
	"github.com/quantfold/filingstream/internal/tabular"
)

func makeRecord(i int) pipeline.ExtractedRecord {
	return pipeline.ExtractedRecord{
		AccessionID: fmt.Sprintf("0000000001-20-%06d", i),
		CIK:         "1",
		CompanyName: "Test Co",
		FormType:    "10-K",
		DateFiled:   "2020-01-02",
		Year:        2020,
		Quarter:     "QTR1",
		SourcePath:  fmt.Sprintf("edgar/data/1/doc-%d.htm", i),
		DocumentURL: fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/1/doc-%d.htm", i),
		HTTPStatus:  200,
		Text:        "Annual report text.",
		TextBytes:   19,
		RawBytes:    64,
		FetchedAt:   1700000000000,
	}
}

func readPartition(t *testing.T, store *memory.Store, key string) []tabular.Row {
	t.Helper()
	data, err := store.ReadBytes(context.Background(), key)
	require.NoError(t, err)

	pr, err := tabular.NewParquetChunkReader(bytes.NewReader(data), int64(len(data)), 512)
	require.NoError(t, err)
	defer pr.Close()

	var rows []tabular.Row
	for {
		chunk, err := pr.Next(context.Background())
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, chunk...)
	}
}

func TestFlushExactlyAtThreshold(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := NewWriter(store, Options{FlushEvery: 3, LastSeq: -1})

	w.Append(makeRecord(0))
	w.Append(makeRecord(1))
	flush, err := w.FlushIfDue(context.Background())
	require.NoError(t, err)
	require.Nil(t, flush, "buffer below threshold must not flush")
	require.Equal(t, 2, w.Buffered())

	w.Append(makeRecord(2))
	flush, err = w.FlushIfDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, flush)
	require.Equal(t, 0, flush.Seq)
	require.Equal(t, "part-000000.parquet", flush.Path)
	require.Equal(t, 3, flush.Records)
	require.Positive(t, flush.Bytes)
	require.False(t, flush.Skipped)
	require.Equal(t, []string{
		"0000000001-20-000000",
		"0000000001-20-000001",
		"0000000001-20-000002",
	}, flush.IDs)
	require.Equal(t, 0, w.Buffered())

	rows := readPartition(t, store, "part-000000.parquet")
	require.Len(t, rows, 3)
	require.Equal(t, "Test Co", rows[0]["company_name"])
	require.Equal(t, "0000000001-20-000001", rows[1]["accession_id"])
}

func TestFlushFinalSealsRemainder(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := NewWriter(store, Options{FlushEvery: 3, LastSeq: -1})

	for i := 0; i < 7; i++ {
		w.Append(makeRecord(i))
		if _, err := w.FlushIfDue(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}

	final, err := w.FlushFinal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, final)
	require.Equal(t, 2, final.Seq)
	require.Equal(t, 1, final.Records)

	again, err := w.FlushFinal(context.Background())
	require.NoError(t, err)
	require.Nil(t, again, "empty buffer must not seal another partition")

	keys, err := store.List(context.Background(), "part-")
	require.NoError(t, err)
	require.Equal(t, []string{
		"part-000000.parquet",
		"part-000001.parquet",
		"part-000002.parquet",
	}, keys)
	require.Len(t, readPartition(t, store, "part-000002.parquet"), 1)
}

func TestSkipExistingDropsBufferAndAdvances(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.WriteBytes(context.Background(), "part-000000.parquet", []byte("sealed by a previous run")))

	w := NewWriter(store, Options{FlushEvery: 2, SkipExisting: true, LastSeq: -1})
	w.Append(makeRecord(0))
	w.Append(makeRecord(1))

	flush, err := w.FlushIfDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, flush)
	require.True(t, flush.Skipped)
	require.Equal(t, 0, flush.Seq)
	require.Equal(t, 2, flush.Records)
	require.Zero(t, flush.Bytes)
	require.Equal(t, 0, w.Buffered())

	// The sealed object is untouched.
	data, err := store.ReadBytes(context.Background(), "part-000000.parquet")
	require.NoError(t, err)
	require.Equal(t, []byte("sealed by a previous run"), data)

	// The next flush lands on the following sequence number.
	w.Append(makeRecord(2))
	w.Append(makeRecord(3))
	flush, err = w.FlushIfDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, flush)
	require.False(t, flush.Skipped)
	require.Equal(t, 1, flush.Seq)
	require.Equal(t, "part-000001.parquet", flush.Path)
}

func TestResumeContinuesSequence(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := NewWriter(store, Options{FlushEvery: 2, LastSeq: 4})
	require.Equal(t, 5, w.NextSeq())

	w.Append(makeRecord(0))
	final, err := w.FlushFinal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, final)
	require.Equal(t, 5, final.Seq)
	require.Equal(t, "part-000005.parquet", final.Path)
}

func TestStartAtRepositionsNumbering(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := NewWriter(store, Options{FlushEvery: 2})
	require.Equal(t, 0, w.NextSeq())

	w.StartAt(3)
	require.Equal(t, 3, w.NextSeq())
	w.StartAt(-7)
	require.Equal(t, 0, w.NextSeq())
}

func TestOverwriteWhenSkipDisabled(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.WriteBytes(context.Background(), "part-000000.parquet", []byte("stale")))

	w := NewWriter(store, Options{FlushEvery: 1, SkipExisting: false, LastSeq: -1})
	w.Append(makeRecord(9))
	flush, err := w.FlushIfDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, flush)
	require.False(t, flush.Skipped)

	rows := readPartition(t, store, "part-000000.parquet")
	require.Len(t, rows, 1)
	require.Equal(t, "0000000001-20-000009", rows[0]["accession_id"])
}
