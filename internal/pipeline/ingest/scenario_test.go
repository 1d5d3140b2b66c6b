package ingest

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unidoc/unipdf/v3/creator"

	"mmrag/internal/pipeline/common"
	"mmrag/internal/pipeline/query"
	"mmrag/internal/storage/metadata"
	"mmrag/internal/storage/vector"
)

const routingSentence = "Sparse expert routing keeps per token compute flat while parameter counts grow."

var scenarioBody = []string{
	routingSentence,
	"Gradient checkpointing trades recomputation for activation memory during backpropagation.",
	"Rotary position embeddings encode relative offsets directly inside attention logits.",
	"Speculative decoding drafts several tokens cheaply and verifies them in one pass.",
	"Quantized weights shrink serving footprints with modest perplexity regressions.",
	"Retrieval augmentation grounds generations on passages fetched from external corpora.",
	"Curriculum schedules order training examples from easy toward difficult ones.",
	"Layer normalization stabilizes deep residual stacks across long optimization runs.",
	"Contrastive pretraining aligns captions with pixels inside one shared latent space.",
	"Beam search widens decoding frontiers yet often produces repetitive continuations.",
	"Distillation transfers behaviour from large teachers into compact student networks.",
	"Tokenizer vocabularies balance sequence length against embedding table size.",
	"Mixed precision arithmetic accelerates matrix multiplies on modern accelerators.",
	"Early stopping halts training once validation loss stops improving for a while.",
}

// writeScenarioPDF 第 1 页为一段长文本，第 2 页只有一张图片
func writeScenarioPDF(t *testing.T, path string) {
	t.Helper()
	c := creator.New()
	c.NewPage()
	p := c.NewParagraph(strings.Join(scenarioBody, " "))
	p.SetFontSize(10)
	if err := c.Draw(p); err != nil {
		skipIfUnlicensed(t, err)
		require.NoError(t, err)
	}

	c.NewPage()
	gradient := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			gradient.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
		}
	}
	img, err := c.NewImageFromGoImage(gradient)
	if err != nil {
		skipIfUnlicensed(t, err)
		require.NoError(t, err)
	}
	img.ScaleToWidth(128)
	require.NoError(t, c.Draw(img))

	if err := c.WriteToFile(path); err != nil {
		skipIfUnlicensed(t, err)
		require.NoError(t, err)
	}
}

func skipIfUnlicensed(t *testing.T, err error) {
	t.Helper()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "license") {
		t.Skipf("unipdf 未授权，设置 UNIDOC_LICENSE_API_KEY 后运行: %v", err)
	}
}

func TestScenario_UnifiedIngestRealPDF(t *testing.T) {
	require.NoError(t, SetLicenseKey(os.Getenv("UNIDOC_LICENSE_API_KEY")))
	ctx := context.Background()
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "paper.pdf")
	writeScenarioPDF(t, pdfPath)

	vectors, err := vector.NewFlatStore(filepath.Join(dir, "index"), nil)
	require.NoError(t, err)
	catalog, err := metadata.NewFileCatalog(filepath.Join(dir, metadata.CatalogFileName), nil)
	require.NoError(t, err)
	artifacts, err := NewArtifactWriter(filepath.Join(dir, "index"))
	require.NoError(t, err)
	images := metadata.NewImageTable(filepath.Join(dir, metadata.ImageDataFileName), nil)
	source := newHashingSource(256)

	svc, err := NewService(Deps{
		Models:    source,
		Vectors:   vectors,
		Catalog:   catalog,
		Images:    images,
		Artifacts: artifacts,
		Pages:     NewPageParser(OpenPDF, 500, 100, nil),
	}, Options{})
	require.NoError(t, err)

	res, err := svc.IngestUnified(ctx, pdfPath, IngestOptions{IndexType: "IP"})
	skipIfUnlicensed(t, err)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ImagesAdded)
	assert.GreaterOrEqual(t, res.TextAdded, 2)
	assert.Equal(t, res.TextAdded+res.ImagesAdded, res.Total)

	idx, ok, err := vectors.Lookup(ctx, common.IndexUnified)
	require.NoError(t, err)
	require.True(t, ok)
	records, err := idx.Records(ctx)
	require.NoError(t, err)
	var imageIDs []string
	for _, raw := range records {
		rec, err := vector.DecodeHit[common.UnifiedRecord](vector.Hit{Record: raw})
		require.NoError(t, err)
		switch rec.Type {
		case common.TypeText:
			assert.LessOrEqual(t, utf8.RuneCountInString(rec.Content), 500)
			assert.Equal(t, 0, rec.Page)
		case common.TypeImage:
			imageIDs = append(imageIDs, rec.ImageID)
			assert.Equal(t, 1, rec.Page)
		}
	}
	assert.Equal(t, []string{"page_1_img_0"}, imageIDs)
	assert.Contains(t, images.All(ctx)[res.DocID], "page_1_img_0")

	r := query.NewUnifiedRetriever(source, vectors, images, nil, nil)
	found, err := r.Search(ctx, routingSentence, 3, query.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, found.Hits)
	top := found.Hits[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, common.TypeText, top.Type)
	assert.Equal(t, res.DocID, top.DocID)
	assert.Contains(t, strings.Join(strings.Fields(top.Content), " "), routingSentence)
}
