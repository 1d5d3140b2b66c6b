package ingest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/object"
)

func sampleDoc() *fakeDoc {
	return &fakeDoc{
		pages: []*PageContent{
			{
				Text:   "Intro\n\nSome body text.",
				Tables: [][][]string{{{"h1", "h2"}, {"1", "2"}}},
				Images: []image.Image{solid(color.RGBA{R: 255, A: 255}, 4, 4)},
			},
			nil,
			{Text: "never read"},
			{Images: []image.Image{solid(color.Gray{Y: 128}, 4, 4)}},
		},
		panics: map[int]bool{2: true},
	}
}

func TestElementParser_Parse(t *testing.T) {
	doc := sampleDoc()
	objects := object.NewMemoryStore("/static/images")
	runner := &fakeRunner{out: "Scanned words here.\n"}
	p := NewElementParser(openerFor(doc), objects, NewTesseractOCR("", "", runner), DefaultChunking(), nil)

	res, err := p.Parse(context.Background(), "paper.pdf", ParseOptions{OCREnabled: true})
	require.NoError(t, err)
	assert.True(t, doc.closed)
	assert.NotEmpty(t, res.DocID)
	assert.Equal(t, 2, res.Skipped)

	require.Len(t, res.TextChunks, 2)
	assert.Equal(t, 0, res.TextChunks[0].ChunkID)
	assert.Equal(t, CategoryComposite, res.TextChunks[0].Type)
	assert.Equal(t, "Intro\n\nSome body text.", res.TextChunks[0].Content)
	assert.Equal(t, 1, *res.TextChunks[0].PageNumber)
	assert.Equal(t, "Intro", *res.TextChunks[0].Section)
	assert.Equal(t, 1, res.TextChunks[1].ChunkID)
	assert.Equal(t, "Scanned words here.", res.TextChunks[1].Content)
	assert.Equal(t, 4, *res.TextChunks[1].PageNumber)

	require.Len(t, res.Tables, 1)
	assert.Equal(t, "h1\th2\n1\t2", res.Tables[0].Content)
	assert.Equal(t, common.TypeTable, res.Tables[0].Type)

	require.Len(t, res.Images, 2)
	assert.Equal(t, "Image on page 1 from section Intro", res.Images[0].Caption)
	assert.Equal(t, "/static/images/"+res.DocID+"/page_1_img_0.png", res.Images[0].ImagePath)
	ok, err := objects.Exists(context.Background(), res.DocID+"/page_4_img_0.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"tesseract", "stdin", "stdout", "-l", "eng"}, runner.calls[0])
}

func TestElementParser_MaxPagesAndNoOCR(t *testing.T) {
	runner := &fakeRunner{out: "unused"}
	p := NewElementParser(openerFor(sampleDoc()), nil, NewTesseractOCR("", "", runner), DefaultChunking(), nil)

	res, err := p.Parse(context.Background(), "paper.pdf", ParseOptions{MaxPages: 1})
	require.NoError(t, err)
	assert.Len(t, res.TextChunks, 1)
	assert.Len(t, res.Tables, 1)
	require.Len(t, res.Images, 1)
	assert.Empty(t, res.Images[0].ImagePath)
	assert.Zero(t, res.Skipped)
	assert.Empty(t, runner.calls)
}

func TestElementParser_OCRFailureSkips(t *testing.T) {
	doc := &fakeDoc{pages: []*PageContent{{Images: []image.Image{solid(color.White, 2, 2)}}}}
	runner := &fakeRunner{err: errors.New("tesseract: not found")}
	p := NewElementParser(openerFor(doc), nil, NewTesseractOCR("", "", runner), DefaultChunking(), nil)

	res, err := p.Parse(context.Background(), "scan.pdf", ParseOptions{OCREnabled: true})
	require.NoError(t, err)
	assert.Empty(t, res.TextChunks)
	assert.Len(t, res.Images, 1)
	assert.Equal(t, 1, res.Skipped)
}

func TestElementParser_OpenErrors(t *testing.T) {
	p := NewElementParser(func(string) (PDFDocument, error) { return nil, os.ErrNotExist }, nil, nil, DefaultChunking(), nil)

	_, err := p.Parse(context.Background(), " ", ParseOptions{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = p.Parse(context.Background(), "missing.pdf", ParseOptions{})
	assert.ErrorIs(t, err, common.ErrParseFailure)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestElementParser_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := &fakeDoc{pages: []*PageContent{nil}}
	p := NewElementParser(openerFor(doc), nil, nil, DefaultChunking(), nil)
	_, err := p.Parse(ctx, "a.pdf", ParseOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlaceholderCaption(t *testing.T) {
	assert.Equal(t, "Image on page 3", PlaceholderCaption(common.IntPtr(3), ""))
	assert.Equal(t, "Image on page -1 from section Methods", PlaceholderCaption(nil, "Methods"))
}

func TestPageParser_Parse(t *testing.T) {
	long := strings.Repeat("word ", 40)
	doc := &fakeDoc{pages: []*PageContent{
		{Text: "hello world", Images: []image.Image{solid(color.Black, 3, 3)}},
		{Text: long, Images: []image.Image{image.NewRGBA(image.Rect(0, 0, 0, 0))}},
		nil,
	}}
	p := NewPageParser(openerFor(doc), 50, 10, nil)

	res, err := p.Parse(context.Background(), "slides.pdf", ParseOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "hello world", res.Chunks[0].Content)
	assert.Equal(t, 0, *res.Chunks[0].PageNumber)
	for i, c := range res.Chunks {
		assert.Equal(t, i, c.ChunkID)
		assert.Equal(t, common.TypeText, c.Type)
		assert.LessOrEqual(t, len([]rune(c.Content)), 50)
	}
	assert.Equal(t, 1, *res.Chunks[len(res.Chunks)-1].PageNumber)

	require.Len(t, res.Images, 1)
	assert.Equal(t, "page_0_img_0", res.Images[0].ImageID)
	assert.Equal(t, 0, res.Images[0].Page)
	assert.NotEmpty(t, res.Images[0].PNG)
	assert.Equal(t, 2, res.Skipped)
}

func TestPageParser_KeepsSourceImageIndex(t *testing.T) {
	doc := &fakeDoc{pages: []*PageContent{{
		Text:     "figure page",
		Images:   []image.Image{nil, solid(color.White, 2, 2)},
		Warnings: []error{errors.New("decode image 0")},
	}}}

	res, err := NewPageParser(openerFor(doc), 50, 10, nil).Parse(context.Background(), "fig.pdf", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "page_0_img_1", res.Images[0].ImageID)
	assert.Equal(t, 1, res.Skipped)

	objects := object.NewMemoryStore("/static/images")
	parsed, err := NewElementParser(openerFor(doc), objects, nil, DefaultChunking(), nil).Parse(context.Background(), "fig.pdf", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, parsed.Images, 1)
	assert.True(t, strings.HasSuffix(parsed.Images[0].ImagePath, "/page_1_img_1.png"), parsed.Images[0].ImagePath)
}

func TestPageParser_Defaults(t *testing.T) {
	p := NewPageParser(nil, 0, -1, nil)
	assert.Equal(t, 500, p.chunkSize)
	assert.Equal(t, 100, p.overlap)
}
