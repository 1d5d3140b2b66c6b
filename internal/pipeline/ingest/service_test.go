package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/model/embedding"
	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/metadata"
	"mmrag/internal/storage/object"
	"mmrag/internal/storage/vector"
)

type serviceFixture struct {
	dir     string
	svc     *Service
	source  *hashingSource
	vectors *vector.FlatStore
	catalog *metadata.FileCatalog
	images  *metadata.ImageTable
	objects *object.MemoryStore
}

func newServiceFixture(t *testing.T, doc *fakeDoc, storage string) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	vectors, err := vector.NewFlatStore(filepath.Join(dir, "index"), nil)
	require.NoError(t, err)
	catalog, err := metadata.NewFileCatalog(filepath.Join(dir, metadata.CatalogFileName), nil)
	require.NoError(t, err)
	artifacts, err := NewArtifactWriter(filepath.Join(dir, "index"))
	require.NoError(t, err)
	f := &serviceFixture{
		dir:     dir,
		source:  newHashingSource(64),
		vectors: vectors,
		catalog: catalog,
		images:  metadata.NewImageTable(filepath.Join(dir, metadata.ImageDataFileName), nil),
		objects: object.NewMemoryStore("/static/images"),
	}
	f.svc, err = NewService(Deps{
		Models:    f.source,
		Vectors:   vectors,
		Catalog:   catalog,
		Images:    f.images,
		Objects:   f.objects,
		Artifacts: artifacts,
		Elements:  NewElementParser(openerFor(doc), f.objects, nil, DefaultChunking(), nil),
		Pages:     NewPageParser(openerFor(doc), 500, 100, nil),
	}, Options{ImageStorage: storage})
	require.NoError(t, err)
	return f
}

func reportDoc() *fakeDoc {
	return &fakeDoc{pages: []*PageContent{{
		Text:   "Intro\n\nBody text about transformers.",
		Tables: [][][]string{{{"k", "v"}}},
		Images: []image.Image{solid(color.RGBA{B: 255, A: 255}, 4, 4)},
	}}}
}

func TestService_IngestSplit(t *testing.T) {
	f := newServiceFixture(t, reportDoc(), "")
	ctx := context.Background()

	res, err := f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{Uploaded: "report.pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocID)
	assert.Equal(t, "report.pdf", res.Uploaded)
	assert.Equal(t, 1, res.TextChunksAdded)
	assert.Equal(t, 1, res.ImageCaptionsAdded)
	assert.Equal(t, 1, res.TablesCount)
	assert.Equal(t, Totals{Text: 1, Images: 1}, res.Totals)

	res2, err := f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, res.DocID, res2.DocID)
	assert.Equal(t, Totals{Text: 2, Images: 2}, res2.Totals)

	n, err := f.catalog.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	doc, err := f.catalog.Get(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, "/data/report.pdf", doc.PDFPath)
	images, err := ReadImages(doc.ImagesJSON)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "Image on page 1 from section Intro", images[0].Caption)

	idx, ok, err := f.vectors.Lookup(ctx, common.IndexText)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vector.MetricIP, idx.Metric())
	assert.Equal(t, 64, idx.Dimension())
	records, err := idx.Records(ctx)
	require.NoError(t, err)
	chunk, err := vector.DecodeHit[common.TextChunk](vector.Hit{Record: records[0]})
	require.NoError(t, err)
	assert.Equal(t, res.DocID, chunk.DocID)
	assert.Equal(t, "Intro\n\nBody text about transformers.", chunk.Content)
}

func TestService_IngestUnified(t *testing.T) {
	f := newServiceFixture(t, reportDoc(), "")
	ctx := context.Background()

	res, err := f.svc.IngestUnified(ctx, "/data/report.pdf", IngestOptions{IndexType: "L2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.TextAdded)
	assert.Equal(t, 1, res.ImagesAdded)
	assert.Equal(t, 2, res.Total)

	idx, ok, err := f.vectors.Lookup(ctx, common.IndexUnified)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vector.MetricL2, idx.Metric())
	records, err := idx.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	rec, err := vector.DecodeHit[common.UnifiedRecord](vector.Hit{Record: records[1]})
	require.NoError(t, err)
	assert.Equal(t, common.TypeImage, rec.Type)
	assert.Equal(t, "[Image: page_0_img_0]", rec.Content)
	assert.Equal(t, "page_0_img_0", rec.ImageID)
	assert.Equal(t, 0, rec.Page)

	payload := f.images.All(ctx)[res.DocID]["page_0_img_0"]
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), raw[:4])

	// 已存在索引的度量不被后续请求覆盖
	res2, err := f.svc.IngestUnified(ctx, "/data/report.pdf", IngestOptions{IndexType: "IP"})
	require.NoError(t, err)
	assert.Equal(t, 4, res2.Total)
	assert.Equal(t, vector.MetricL2, idx.Metric())
}

func TestService_IngestUnified_ObjectStorage(t *testing.T) {
	f := newServiceFixture(t, reportDoc(), ImageStorageObject)
	ctx := context.Background()

	res, err := f.svc.IngestUnified(ctx, "/data/report.pdf", IngestOptions{})
	require.NoError(t, err)
	url := f.images.All(ctx)[res.DocID]["page_0_img_0"]
	assert.Equal(t, "/static/images/"+res.DocID+"/page_0_img_0.png", url)
	ok, err := f.objects.Exists(ctx, res.DocID+"/page_0_img_0.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("model unavailable", func(t *testing.T) {
		f := newServiceFixture(t, reportDoc(), "")
		f.source.fail = errors.New("connection refused")
		_, err := f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{})
		assert.ErrorIs(t, err, common.ErrModelUnavailable)
		n, err := f.catalog.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("caption embedding fails after text", func(t *testing.T) {
		f := newServiceFixture(t, reportDoc(), "")
		flaky := &failAfter{TextEmbedder: f.source.provider, ok: 1}
		f.source.text = embedding.NewLazy("hashing", func(ctx context.Context) (embedding.TextEmbedder, error) {
			return flaky, nil
		})
		_, err := f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{})
		assert.ErrorIs(t, err, common.ErrModelUnavailable)
		assert.Equal(t, 2, flaky.calls)

		for _, name := range []string{common.IndexText, common.IndexImage} {
			idx, ok, err := f.vectors.Lookup(ctx, name)
			require.NoError(t, err)
			if ok {
				assert.Zero(t, idx.Len(), name)
			}
		}
		n, err := f.catalog.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("bad index type", func(t *testing.T) {
		f := newServiceFixture(t, reportDoc(), "")
		_, err := f.svc.IngestUnified(ctx, "/data/report.pdf", IngestOptions{IndexType: "cosine"})
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		f := newServiceFixture(t, reportDoc(), "")
		_, err := f.vectors.Open(ctx, common.IndexText, 8, vector.MetricIP)
		require.NoError(t, err)
		_, err = f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{})
		assert.ErrorIs(t, err, common.ErrDimensionMismatch)
		n, err := f.catalog.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("object storage requires store", func(t *testing.T) {
		_, err := NewService(Deps{
			Models:    newHashingSource(8),
			Vectors:   vector.NewMemoryStore(),
			Catalog:   metadata.NewMemoryCatalog(),
			Artifacts: &ArtifactWriter{dir: t.TempDir()},
		}, Options{ImageStorage: ImageStorageObject})
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	})
}

func TestService_Reset(t *testing.T) {
	f := newServiceFixture(t, reportDoc(), "")
	ctx := context.Background()

	_, err := f.svc.IngestSplit(ctx, "/data/report.pdf", IngestOptions{})
	require.NoError(t, err)
	_, err = f.svc.IngestUnified(ctx, "/data/report.pdf", IngestOptions{})
	require.NoError(t, err)

	removed, err := f.svc.Reset(ctx)
	require.NoError(t, err)
	assert.Contains(t, removed, metadata.CatalogFileName)
	assert.Contains(t, removed, metadata.ImageDataFileName)
	assert.Contains(t, removed, "text.index")
	assert.Contains(t, removed, "unified_meta.json")
	assert.IsNonDecreasing(t, removed)

	n, err := f.catalog.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := f.vectors.Lookup(ctx, common.IndexText)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.images.Len(ctx))

	again, err := f.svc.Reset(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}
