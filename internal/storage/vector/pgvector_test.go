package vector

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要带 pgvector 扩展的 PostgreSQL：MMRAG_PG_DSN=postgres://... go test ./internal/storage/vector
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("MMRAG_PG_DSN")
	if dsn == "" {
		t.Skip("MMRAG_PG_DSN 未设置，跳过 pgvector 集成测试")
	}
	ctx := context.Background()
	s, err := NewPGStore(ctx, dsn, 2, nil)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Reset(ctx)
	require.NoError(t, err)

	idx, err := s.Open(ctx, "text", 2, MetricIP)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}, {0, 1}, {1, 0}}, []json.RawMessage{rec(0), rec(1), rec(2)}))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
	assert.InDelta(t, 1, hits[0].Score, 1e-6)

	reopened, err := s.Open(ctx, "text", 2, MetricL2)
	require.NoError(t, err)
	assert.Equal(t, MetricIP, reopened.Metric())

	records, err := idx.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	names, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "text")
}
