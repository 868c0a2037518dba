package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/policy/filter"
	"github.com/quantfold/filingstream/internal/tabular"
)

type fakeChunkReader struct {
	chunks [][]tabular.Row
	err    error
	closed bool
}

func (r *fakeChunkReader) Next(_ context.Context) ([]tabular.Row, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	return chunk, nil
}

func (r *fakeChunkReader) Close() error {
	r.closed = true
	return nil
}

func catalogRow(company, form, cik, date, filename string) tabular.Row {
	return tabular.Row{
		"Company Name": company,
		"Form Type":    form,
		"CIK":          cik,
		"Date Filed":   date,
		"Filename":     filename,
	}
}

func drain(t *testing.T, s *Source) []pipeline.FilingRef {
	t.Helper()
	var refs []pipeline.FilingRef
	for {
		ref, err := s.Next(context.Background())
		if err == io.EOF {
			return refs
		}
		require.NoError(t, err)
		refs = append(refs, ref)
	}
}

func TestNextYieldsRowsAcrossChunks(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{chunks: [][]tabular.Row{
		{
			catalogRow("Apple Inc", "10-K", "320193", "2018-11-05", "edgar/data/320193/000032019318000145/a10-k.htm"),
			catalogRow("Sensormatic", "10-K", "861439", "1994-08-25", "edgar/data/861439/0000912057-94-000263.txt"),
		},
		{
			catalogRow("Microsoft Corp", "10-K", "789019", "2023-07-27", "edgar/data/789019/000095017023035122/msft-10k.htm"),
		},
	}}

	s := New(reader, Options{Logger: zap.NewNop()})
	refs := drain(t, s)

	require.Len(t, refs, 3)
	require.Equal(t, "0000320193-18-000145", refs[0].AccessionID)
	require.Equal(t, "Apple Inc", refs[0].CompanyName)
	require.Equal(t, "10-K", refs[0].FormType)
	require.Equal(t, int32(2018), refs[0].Year)
	require.Equal(t, "0000912057-94-000263", refs[1].AccessionID)
	require.Equal(t, "Microsoft Corp", refs[2].CompanyName)

	stats := s.Stats()
	require.Equal(t, 3, stats.Yielded)
	require.Equal(t, 0, stats.Malformed)
	require.Equal(t, 0, stats.Filtered)
}

func TestNextSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{chunks: [][]tabular.Row{
		{
			catalogRow("No Filename Corp", "10-K", "1", "2020-01-01", "   "),
			catalogRow("Short Path Corp", "10-K", "2", "2020-01-01", "edgar/data"),
			catalogRow("Fine Corp", "10-K", "3", "2020-01-01", "edgar/data/3/0000000003-20-000001.txt"),
		},
	}}

	s := New(reader, Options{Logger: zap.NewNop()})
	refs := drain(t, s)

	require.Len(t, refs, 1)
	require.Equal(t, "Fine Corp", refs[0].CompanyName)
	require.Equal(t, 2, s.Stats().Malformed)
}

func TestNextAppliesFilter(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{chunks: [][]tabular.Row{
		{
			catalogRow("Keeper", "10-k", "1", "2020-01-01", "edgar/data/1/0000000001-20-000001.txt"),
			catalogRow("Amended", "10-K/A", "2", "2020-01-01", "edgar/data/2/0000000002-20-000001.txt"),
			catalogRow("Other", "8-K", "3", "2020-01-01", "edgar/data/3/0000000003-20-000001.txt"),
		},
	}}

	s := New(reader, Options{
		Filter: filter.New([]string{"10-K", "10-K/A"}, nil, nil),
		Logger: zap.NewNop(),
	})
	refs := drain(t, s)

	require.Len(t, refs, 2)
	require.Equal(t, "Keeper", refs[0].CompanyName)
	require.Equal(t, "Amended", refs[1].CompanyName)
	require.Equal(t, 1, s.Stats().Filtered)
}

func TestNextNormalizesEmbeddedSpaces(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{chunks: [][]tabular.Row{
		{catalogRow("Spacey", "10-K", "9", "2020-01-01", " edgar/data/9/0000000009-20-00 0001.txt ")},
	}}
	s := New(reader, Options{Logger: zap.NewNop()})
	refs := drain(t, s)

	require.Len(t, refs, 1)
	require.Equal(t, "edgar/data/9/0000000009-20-000001.txt", refs[0].SourcePath)
}

func TestNextLowercaseColumnsAlsoMatch(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{chunks: [][]tabular.Row{
		{
			{
				"company_name": "Lower Inc",
				"form_type":    "10-K",
				"cik":          "77",
				"date_filed":   "2021-03-31",
				"year":         "2021",
				"quarter":      "QTR1",
				"filename":     "edgar/data/77/0000000077-21-000001.txt",
			},
		},
	}}
	s := New(reader, Options{Logger: zap.NewNop()})
	refs := drain(t, s)

	require.Len(t, refs, 1)
	require.Equal(t, "Lower Inc", refs[0].CompanyName)
	require.Equal(t, int32(2021), refs[0].Year)
	require.Equal(t, "QTR1", refs[0].Quarter)
}

func TestNextWrapsMidStreamFailure(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("read parquet rows: connection reset")
	reader := &fakeChunkReader{
		chunks: [][]tabular.Row{
			{catalogRow("First", "10-K", "1", "2020-01-01", "edgar/data/1/0000000001-20-000001.txt")},
		},
		err: boom,
	}
	s := New(reader, Options{Logger: zap.NewNop()})

	_, err := s.Next(context.Background())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, pipeline.ErrSourceUnavailable)
	require.ErrorIs(t, err, boom)
}

func TestCloseReleasesReaderAndHandles(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{}
	handle := &closeRecorder{}
	s := New(reader, Options{Logger: zap.NewNop()}, handle)

	require.NoError(t, s.Close())
	require.True(t, reader.closed)
	require.True(t, handle.closed)
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestNextStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	reader := &fakeChunkReader{err: errors.New("should not surface")}
	s := New(reader, Options{Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, pipeline.ErrSourceUnavailable)
}
