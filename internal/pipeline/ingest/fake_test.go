package ingest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"mmrag/internal/model/embedding"
	"mmrag/internal/pipeline/common"
)

// fakeDoc 内存中的 PDF，pages[i] 为 nil 时该页返回错误
type fakeDoc struct {
	pages  []*PageContent
	panics map[int]bool
	closed bool
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) Page(ctx context.Context, index int) (*PageContent, error) {
	if d.panics[index] {
		panic("broken xref")
	}
	if d.pages[index] == nil {
		return nil, errors.New("bad page")
	}
	pc := *d.pages[index]
	pc.Index = index
	return &pc, nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

func openerFor(doc *fakeDoc) Opener {
	return func(path string) (PDFDocument, error) { return doc, nil }
}

func solid(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// fakeRunner 记录调用并返回固定输出
type fakeRunner struct {
	mu    sync.Mutex
	out   string
	err   error
	calls [][]string
	stdin [][]byte
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.stdin = append(r.stdin, stdin)
	return []byte(r.out), r.err
}

// hashingSource 以 hashing 提供商充当全部模型
type hashingSource struct {
	provider *embedding.HashingProvider
	text     *embedding.Lazy[embedding.TextEmbedder]
	joint    *embedding.Lazy[embedding.JointEmbedder]
	fail     error
}

func newHashingSource(dim int) *hashingSource {
	p, err := embedding.NewHashingProvider(dim)
	if err != nil {
		panic(err)
	}
	s := &hashingSource{provider: p}
	s.text = embedding.NewLazy("hashing", func(ctx context.Context) (embedding.TextEmbedder, error) {
		if s.fail != nil {
			return nil, s.fail
		}
		return s.provider, nil
	})
	s.joint = embedding.NewLazy("hashing", func(ctx context.Context) (embedding.JointEmbedder, error) {
		if s.fail != nil {
			return nil, s.fail
		}
		return s.provider, nil
	})
	return s
}

func (s *hashingSource) Text(key string) *embedding.Lazy[embedding.TextEmbedder]   { return s.text }
func (s *hashingSource) Joint(key string) *embedding.Lazy[embedding.JointEmbedder] { return s.joint }

// failAfter 前 ok 次调用正常，之后返回模型不可用
type failAfter struct {
	embedding.TextEmbedder
	ok    int
	calls int
}

func (f *failAfter) EmbedText(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	f.calls++
	if f.calls > f.ok {
		return nil, common.Errorf("embedding", common.ErrModelUnavailable, "第 %d 次调用超时", f.calls)
	}
	return f.TextEmbedder.EmbedText(ctx, texts, normalize)
}
