package catalog_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/catalog"
	"github.com/quantfold/filingstream/internal/storage/memory"
	"github.com/quantfold/filingstream/internal/tabular"
)

const sampleIdx = `Description:           EDGAR Company Index
Last Data Received:    December 31, 2020
Anonymous FTP:         ftp://ftp.sec.gov/edgar/

Company Name                          Form Type   CIK      Date Filed  Filename
--------------------------------------------------------------------------------
APPLE INC                             10-K        320193   2020-10-30  edgar/data/320193/0000320193-20-000096.txt
INTERNATIONAL BUSINESS MACHINES CORP  8-K         51143    2020-12-10  edgar/data/51143/0000051143-20-000055.txt
MICROSOFT CORP                        10-K/A      789019   2020-13-45  edgar/data/789019/0001564590-20-000123.txt
a malformed line with single spaces only
`

func TestParseIndexFileSkipsChrome(t *testing.T) {
	t.Parallel()

	rows := catalog.ParseIndexFile([]byte(sampleIdx), "2020_QTR4_company.idx")
	require.Len(t, rows, 3)

	require.Equal(t, catalog.IndexRow{
		CompanyName: "APPLE INC",
		FormType:    "10-K",
		CIK:         "320193",
		DateFiled:   "2020-10-30",
		Filename:    "edgar/data/320193/0000320193-20-000096.txt",
		Year:        2020,
		Quarter:     "QTR4",
		SourceFile:  "2020_QTR4_company.idx",
	}, rows[0])
	require.Equal(t, "INTERNATIONAL BUSINESS MACHINES CORP", rows[1].CompanyName)
	require.Equal(t, "8-K", rows[1].FormType)
}

func TestParseIndexFileDecodesLatin1(t *testing.T) {
	t.Parallel()

	// 0xC9 is É in latin-1 and an invalid byte sequence in UTF-8.
	line := []byte("SOCI\xc9T\xc9 TEST SA                       20-F        1234567  2020-06-01  edgar/data/1234567/0001234567-20-000001.txt\n")
	rows := catalog.ParseIndexFile(line, "2020_QTR2_company.idx")
	require.Len(t, rows, 1)
	require.Equal(t, "SOCIÉTÉ TEST SA", rows[0].CompanyName)
}

func TestYearQuarterFromName(t *testing.T) {
	t.Parallel()

	year, quarter := catalog.YearQuarterFromName("2020_QTR4_company.idx")
	require.Equal(t, int32(2020), year)
	require.Equal(t, "QTR4", quarter)

	year, quarter = catalog.YearQuarterFromName("archive/1999_qtr1_company.idx")
	require.Equal(t, int32(1999), year)
	require.Equal(t, "QTR1", quarter)

	year, quarter = catalog.YearQuarterFromName("master.idx")
	require.Equal(t, int32(0), year)
	require.Equal(t, "", quarter)
}

func TestExpandForms(t *testing.T) {
	t.Parallel()

	require.Nil(t, catalog.ExpandForms(""))
	require.Equal(t, []string{"10-K", "10-K/A"}, catalog.ExpandForms("10k"))
	require.Equal(t, []string{"8-K", "8-K/A"}, catalog.ExpandForms("8K"))
	require.Equal(t, []string{"S-1", "S-1/A"}, catalog.ExpandForms("S-1, S-1/A"))
}

func TestParserChunksIntoParts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	input := memory.New()
	require.NoError(t, input.WriteBytes(ctx, "2020_QTR4_company.idx", []byte(sampleIdx)))

	output := memory.New()
	parser, err := catalog.NewParser(catalog.ParseConfig{ChunkSize: 2}, input, output, zap.NewNop())
	require.NoError(t, err)

	stats, err := parser.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Files)
	require.Equal(t, 3, stats.Rows)
	require.Equal(t, 2, stats.PartsWritten)
	require.Equal(t, 0, stats.Dropped)

	keys, err := output.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"part-000000.parquet", "part-000001.parquet"}, keys)

	data, err := output.ReadBytes(ctx, "part-000000.parquet")
	require.NoError(t, err)
	reader, err := tabular.NewParquetChunkReader(bytes.NewReader(data), int64(len(data)), 10)
	require.NoError(t, err)
	defer reader.Close()

	rows, err := reader.Next(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "APPLE INC", rows[0]["company_name"])
	require.Equal(t, "edgar/data/320193/0000320193-20-000096.txt", rows[0]["filename"])
	require.Equal(t, "2020", rows[0]["year"])
	require.Equal(t, "QTR4", rows[0]["quarter"])
}

func TestParserFormsFilterValidatesDates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	input := memory.New()
	require.NoError(t, input.WriteBytes(ctx, "2020_QTR4_company.idx", []byte(sampleIdx)))

	output := memory.New()
	parser, err := catalog.NewParser(catalog.ParseConfig{
		Forms: []string{"10-K", "10-K/A"},
	}, input, output, zap.NewNop())
	require.NoError(t, err)

	stats, err := parser.Run(ctx)
	require.NoError(t, err)
	// The 8-K row fails the form filter; the 10-K/A row carries an
	// impossible date and is dropped by validation.
	require.Equal(t, 1, stats.Rows)
	require.Equal(t, 2, stats.Dropped)
	require.Equal(t, 1, stats.PartsWritten)
}

func TestParserSkipExistingLeavesPartsAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	input := memory.New()
	require.NoError(t, input.WriteBytes(ctx, "2020_QTR4_company.idx", []byte(sampleIdx)))

	output := memory.New()
	sentinel := []byte("sealed by an earlier run")
	require.NoError(t, output.WriteBytes(ctx, "part-000000.parquet", sentinel))

	parser, err := catalog.NewParser(catalog.ParseConfig{SkipExisting: true}, input, output, zap.NewNop())
	require.NoError(t, err)

	stats, err := parser.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.PartsWritten)
	require.Equal(t, 1, stats.PartsSkipped)

	data, err := output.ReadBytes(ctx, "part-000000.parquet")
	require.NoError(t, err)
	require.Equal(t, sentinel, data)
}

func TestParserWritesCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	input := memory.New()
	require.NoError(t, input.WriteBytes(ctx, "2020_QTR4_company.idx", []byte(sampleIdx)))

	output := memory.New()
	parser, err := catalog.NewParser(catalog.ParseConfig{Format: "csv"}, input, output, zap.NewNop())
	require.NoError(t, err)

	stats, err := parser.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PartsWritten)

	data, err := output.ReadBytes(ctx, "part-000000.csv")
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "company_name", records[0][0])
	require.Equal(t, "APPLE INC", records[1][0])
	require.Equal(t, "2020", records[1][5])
}

func TestParserEmptyInputIsNotAnError(t *testing.T) {
	t.Parallel()

	parser, err := catalog.NewParser(catalog.ParseConfig{}, memory.New(), memory.New(), zap.NewNop())
	require.NoError(t, err)

	stats, err := parser.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.ParseStats{}, stats)
}

func TestNewParserRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := catalog.NewParser(catalog.ParseConfig{Format: "orc"}, memory.New(), memory.New(), zap.NewNop())
	require.Error(t, err)
}
