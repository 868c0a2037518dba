package partition

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/storage/memory"
	"github.com/quantfold/filingstream/internal/tabular"
)

type combineRow struct {
	AccessionID string `parquet:"accession_id"`
	FormType    string `parquet:"form_type"`
}

func writePart(t *testing.T, store *memory.Store, key string, from, to int) {
	t.Helper()
	var recs []combineRow
	for i := from; i < to; i++ {
		recs = append(recs, combineRow{AccessionID: makeRecord(i).AccessionID, FormType: "10-K"})
	}
	var buf bytes.Buffer
	require.NoError(t, tabular.WriteParquet(&buf, recs))
	require.NoError(t, store.WriteBytes(context.Background(), key, buf.Bytes()))
}

func TestCombineMergesPartsInOrder(t *testing.T) {
	ctx := context.Background()
	input := memory.New()
	writePart(t, input, "part-000000.parquet", 0, 2)
	writePart(t, input, "part-000001.parquet", 2, 5)

	// Neighbors under the prefix must not leak into the merge.
	require.NoError(t, input.WriteBytes(ctx, "_checkpoint.json", []byte("{}")))
	require.NoError(t, input.WriteBytes(ctx, "part-readme.txt", []byte("notes")))

	output := memory.New()
	stats, err := Combine(ctx, input, output, "combined.parquet", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Parts)
	require.Equal(t, int64(5), stats.Records)
	require.Greater(t, stats.Bytes, int64(0))

	data, err := output.ReadBytes(ctx, "combined.parquet")
	require.NoError(t, err)
	require.Equal(t, int(stats.Bytes), len(data))

	reader, err := tabular.NewParquetChunkReader(bytes.NewReader(data), int64(len(data)), 16)
	require.NoError(t, err)
	defer reader.Close()

	var ids []string
	for {
		rows, err := reader.Next(ctx)
		if err != nil {
			break
		}
		for _, row := range rows {
			ids = append(ids, row["accession_id"])
		}
	}
	require.Len(t, ids, 5)
	require.Equal(t, makeRecord(0).AccessionID, ids[0])
	require.Equal(t, makeRecord(4).AccessionID, ids[4])
}

func TestCombineRefusesEmptyInput(t *testing.T) {
	_, err := Combine(context.Background(), memory.New(), memory.New(), "combined.parquet", zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no parquet parts")
}

func TestCombineRejectsMixedSchemas(t *testing.T) {
	ctx := context.Background()
	input := memory.New()
	writePart(t, input, "part-000000.parquet", 0, 2)

	var buf bytes.Buffer
	other := []struct {
		Name string `parquet:"name"`
	}{{Name: "different shape"}}
	require.NoError(t, tabular.WriteParquet(&buf, other))
	require.NoError(t, input.WriteBytes(ctx, "part-000001.parquet", buf.Bytes()))

	output := memory.New()
	_, err := Combine(ctx, input, output, "combined.parquet", zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema differs")

	// The failed merge must not publish a partial object.
	exists, err := output.Exists(ctx, "combined.parquet")
	require.NoError(t, err)
	require.False(t, exists)
}
