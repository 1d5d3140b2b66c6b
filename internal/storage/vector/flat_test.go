package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/pipeline/common"
)

func rec(id int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%d}`, id))
}

func recID(t *testing.T, h Hit) int {
	t.Helper()
	var v struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(h.Record, &v))
	return v.ID
}

func openFlat(t *testing.T, dir, name string, dim int, m Metric) *FlatIndex {
	t.Helper()
	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	idx, err := s.Open(context.Background(), name, dim, m)
	require.NoError(t, err)
	return idx.(*FlatIndex)
}

func TestFlatStore_CreateWritesLayout(t *testing.T) {
	dir := t.TempDir()
	openFlat(t, dir, "text", 3, MetricIP)

	for _, f := range []string{"text.index", "text_meta.json", "text_index_config.json"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	var cfg IndexConfig
	b, err := os.ReadFile(filepath.Join(dir, "text_index_config.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &cfg))
	assert.Equal(t, IndexConfig{Type: MetricIP, Dim: 3}, cfg)
}

func TestFlatStore_ExistingConfigWins(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricL2)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(1)}))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	reopened, err := s.Open(ctx, "text", 2, MetricIP)
	require.NoError(t, err)
	assert.Equal(t, MetricL2, reopened.Metric())
	assert.Equal(t, 1, reopened.Len())

	_, err = s.Open(ctx, "text", 3, MetricIP)
	assert.True(t, errors.Is(err, common.ErrDimensionMismatch), "got %v", err)
}

func TestFlatIndex_OpenRequiresDimension(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Open(context.Background(), "text", 0, MetricIP)
	assert.True(t, errors.Is(err, common.ErrInvalidInput), "got %v", err)

	_, err = s.Open(context.Background(), "../evil", 2, MetricIP)
	assert.True(t, errors.Is(err, common.ErrInvalidInput), "got %v", err)
}

func TestFlatIndex_SelfIsBestMatch(t *testing.T) {
	ctx := context.Background()
	for _, m := range []Metric{MetricIP, MetricL2} {
		t.Run(string(m), func(t *testing.T) {
			idx := openFlat(t, t.TempDir(), "unified", 3, m)
			vecs := [][]float32{
				Normalize([]float32{1, 2, 3}),
				Normalize([]float32{3, 2, 1}),
				Normalize([]float32{0, 1, 0}),
			}
			require.NoError(t, idx.Add(ctx, vecs, []json.RawMessage{rec(0), rec(1), rec(2)}))

			for i, v := range vecs {
				hits, err := idx.Search(ctx, v, 3)
				require.NoError(t, err)
				require.Len(t, hits, 3)
				assert.Equal(t, 1, hits[0].Rank)
				assert.Equal(t, i, recID(t, hits[0]))
				for _, h := range hits[1:] {
					assert.False(t, m.Better(h.Score, hits[0].Score), "hit %d beats self", h.Position)
				}
			}
		})
	}
}

func TestFlatIndex_ScoresMatchMetric(t *testing.T) {
	ctx := context.Background()
	idx := openFlat(t, "", "x", 2, MetricL2)
	require.NoError(t, idx.Add(ctx, [][]float32{{0, 0}, {3, 4}}, []json.RawMessage{rec(0), rec(1)}))
	hits, err := idx.Search(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0, hits[0].Score, 1e-9)
	assert.InDelta(t, 25, hits[1].Score, 1e-9)

	ip := openFlat(t, "", "y", 2, MetricIP)
	require.NoError(t, ip.Add(ctx, [][]float32{{1, 0}, {0.5, 0.5}}, []json.RawMessage{rec(0), rec(1)}))
	hits, err = ip.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-6)
}

func TestFlatIndex_TieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := openFlat(t, "", "text", 2, MetricIP)
	same := []float32{0.6, 0.8}
	require.NoError(t, idx.Add(ctx, [][]float32{same, {1, 0}, same, same}, []json.RawMessage{rec(0), rec(1), rec(2), rec(3)}))

	hits, err := idx.Search(ctx, same, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
}

func TestFlatIndex_KSaturationAndEmpty(t *testing.T) {
	ctx := context.Background()
	idx := openFlat(t, "", "image", 2, MetricIP)

	hits, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}, {0, 1}}, []json.RawMessage{rec(0), rec(1)}))
	hits, err = idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, []int{1, 2}, []int{hits[0].Rank, hits[1].Rank})

	hits, err = idx.Search(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFlatIndex_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	idx := openFlat(t, "", "text", 3, MetricIP)

	err := idx.Add(ctx, [][]float32{{1, 2}}, []json.RawMessage{rec(0)})
	assert.True(t, errors.Is(err, common.ErrDimensionMismatch), "got %v", err)
	assert.Equal(t, 0, idx.Len())

	_, err = idx.Search(ctx, []float32{1, 2}, 1)
	assert.True(t, errors.Is(err, common.ErrDimensionMismatch), "got %v", err)

	err = idx.Add(ctx, [][]float32{{1, 2, 3}}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput), "got %v", err)

	err = idx.Add(ctx, [][]float32{{1, 2, 3}}, []json.RawMessage{json.RawMessage(`{bad`)})
	assert.True(t, errors.Is(err, common.ErrInvalidInput), "got %v", err)
	assert.Equal(t, 0, idx.Len())
}

func TestFlatIndex_PersistsAcrossStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(10)}))
	require.NoError(t, idx.Add(ctx, [][]float32{{0, 1}}, []json.RawMessage{rec(11)}))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	again, ok, err := s.Lookup(ctx, "text")
	require.NoError(t, err)
	require.True(t, ok)
	records, err := again.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"id":11}`, string(records[1]))

	hits, err := again.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, 11, recID(t, hits[0]))
}

func TestFlatIndex_RollForwardCommittedStage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))

	// 模拟提交日志已写入但正式文件尚未替换时崩溃
	data := []float32{1, 0, 0, 1}
	require.NoError(t, idx.stage(data, []json.RawMessage{rec(0), rec(1)}))
	require.NoError(t, writeJournal(dir, "text", 2))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	reopened, ok, err := s.Lookup(ctx, "text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, reopened.Len())
	assert.NoFileExists(t, filepath.Join(dir, "text.commit"))
	assert.NoFileExists(t, filepath.Join(dir, "text.index.tmp"))
}

func TestFlatIndex_DiscardUncommittedStage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))

	// 暂存完成但未写提交日志
	require.NoError(t, idx.stage([]float32{1, 0, 0, 1}, []json.RawMessage{rec(0), rec(1)}))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	reopened, ok, err := s.Lookup(ctx, "text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, reopened.Len())
	assert.NoFileExists(t, filepath.Join(dir, "text.index.tmp"))
	assert.NoFileExists(t, filepath.Join(dir, "text_meta.json.tmp"))
}

func TestFlatIndex_FailedStageLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))

	// 暂存元数据路径被非空目录占用，写入必然失败
	blocker := filepath.Join(dir, "text_meta.json.tmp")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))

	err := idx.Add(ctx, [][]float32{{0, 1}}, []json.RawMessage{rec(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.Equal(t, 1, idx.Len())
	hits, err := idx.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, recID(t, hits[0]))
	assert.NoFileExists(t, filepath.Join(dir, "text.commit"))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	reopened, ok, err := s.Lookup(ctx, "text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, reopened.Len())

	require.NoError(t, os.RemoveAll(blocker))
	require.NoError(t, idx.Add(ctx, [][]float32{{0, 1}}, []json.RawMessage{rec(1)}))
	assert.Equal(t, 2, idx.Len())
}

func TestFlatIndex_CountMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "text_meta.json"), []byte(`[{"id":0},{"id":1}]`), 0o644))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	_, _, err = s.Lookup(ctx, "text")
	assert.True(t, errors.Is(err, common.ErrIndexCorrupt), "got %v", err)
}

func TestFlatIndex_HeaderMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	openFlat(t, dir, "text", 2, MetricIP)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "text_index_config.json"), []byte(`{"type":"L2","dim":2}`), 0o644))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	_, _, err = s.Lookup(ctx, "text")
	assert.True(t, errors.Is(err, common.ErrIndexCorrupt), "got %v", err)
}

func TestFlatIndex_MissingConfigRecoveredFromHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openFlat(t, dir, "image", 4, MetricL2)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 2, 3, 4}}, []json.RawMessage{rec(0)}))
	require.NoError(t, os.Remove(filepath.Join(dir, "image_index_config.json")))

	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	got, ok, err := s.Lookup(ctx, "image")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MetricL2, got.Metric())
	assert.Equal(t, 4, got.Dimension())
	assert.FileExists(t, filepath.Join(dir, "image_index_config.json"))
}

func TestFlatStore_Reset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFlatStore(dir, nil)
	require.NoError(t, err)
	idx, err := s.Open(ctx, "text", 2, MetricIP)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(`[]`), 0o644))

	removed, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"text.index", "text_meta.json", "text_index_config.json"}, removed)
	assert.FileExists(t, filepath.Join(dir, "catalog.json"))

	_, ok, err := s.Lookup(ctx, "text")
	require.NoError(t, err)
	assert.False(t, ok)

	// 旧句柄不可再写
	err = idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(1)})
	assert.Error(t, err)

	// 重建后使用新度量
	fresh, err := s.Open(ctx, "text", 2, MetricL2)
	require.NoError(t, err)
	assert.Equal(t, MetricL2, fresh.Metric())
	assert.Equal(t, 0, fresh.Len())
}

func TestFlatIndex_ConcurrentSearchDuringAdd(t *testing.T) {
	ctx := context.Background()
	idx := openFlat(t, t.TempDir(), "text", 2, MetricIP)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []json.RawMessage{rec(0)}))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hits, err := idx.Search(ctx, []float32{1, 0}, 3)
				if err != nil || len(hits) == 0 {
					t.Errorf("search: %v %d", err, len(hits))
					return
				}
			}
		}()
	}
	for i := 1; i <= 10; i++ {
		require.NoError(t, idx.Add(ctx, [][]float32{{0, 1}}, []json.RawMessage{rec(i)}))
	}
	wg.Wait()
	assert.Equal(t, 11, idx.Len())
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)
	m, err = ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricIP, m)
	_, err = ParseMetric("cosine")
	assert.Error(t, err)
	assert.True(t, MetricIP.Normalized())
	assert.False(t, MetricL2.Normalized())
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	z := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, z)
}

func TestMarshalRecords_DecodeHit(t *testing.T) {
	type r struct {
		DocID string `json:"doc_id"`
	}
	raw, err := MarshalRecords([]r{{DocID: "a"}})
	require.NoError(t, err)
	got, err := DecodeHit[r](Hit{Record: raw[0]})
	require.NoError(t, err)
	assert.Equal(t, "a", got.DocID)
}
