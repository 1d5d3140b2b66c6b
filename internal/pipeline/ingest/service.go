// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mmrag/internal/model/embedding"
	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/metadata"
	"mmrag/internal/storage/object"
	"mmrag/internal/storage/vector"
	"mmrag/pkg/log"
	"mmrag/pkg/metrics"
	"mmrag/pkg/tracing"
)

// 图片存储方式（unified 模式）
const (
	ImageStorageInline = "inline"
	ImageStorageObject = "object"
)

// Options 服务级默认参数
type Options struct {
	Metric       vector.Metric
	ImageStorage string
	Parse        ParseOptions
}

// Deps 服务依赖
type Deps struct {
	Models    embedding.Source
	Vectors   vector.Store
	Catalog   metadata.Catalog
	Images    *metadata.ImageTable
	Objects   object.Store
	Artifacts *ArtifactWriter
	Elements  *ElementParser
	Pages     *PageParser
	Logger    *log.Logger
}

// IngestOptions 单次入库参数
type IngestOptions struct {
	Model     string        // provider.model_key，为空时使用默认模型
	IndexType string        // IP | L2，仅在索引首次创建时生效
	Parse     *ParseOptions // 为 nil 时使用服务默认
	Uploaded  string        // 上传时的原始文件名
}

// Totals 入库后各索引的总条目数
type Totals struct {
	Text   int `json:"text"`
	Images int `json:"images"`
}

// SplitIngestResult split 模式入库结果
type SplitIngestResult struct {
	DocID              string `json:"doc_id"`
	Uploaded           string `json:"uploaded,omitempty"`
	TextChunksAdded    int    `json:"text_chunks_added"`
	ImageCaptionsAdded int    `json:"image_captions_added"`
	Totals             Totals `json:"totals"`
	TablesCount        int    `json:"tables_count"`
	Skipped            int    `json:"skipped_elements"`
}

// UnifiedIngestResult unified 模式入库结果
type UnifiedIngestResult struct {
	DocID       string `json:"doc_id"`
	Uploaded    string `json:"uploaded,omitempty"`
	Added       int    `json:"added"`
	TextAdded   int    `json:"text_added"`
	ImagesAdded int    `json:"images_added"`
	Total       int    `json:"total"`
	Skipped     int    `json:"skipped_elements"`
}

// Service 入库服务；入库串行执行，检索可并发
type Service struct {
	mu     sync.Mutex
	deps   Deps
	opts   Options
	logger *log.Logger
}

// NewService 创建入库服务
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Models == nil || deps.Vectors == nil || deps.Catalog == nil || deps.Artifacts == nil {
		return nil, common.Errorf("ingest", common.ErrInvalidInput, "入库服务缺少必要依赖")
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	if deps.Elements == nil {
		deps.Elements = NewElementParser(OpenPDF, deps.Objects, nil, DefaultChunking(), deps.Logger)
	}
	if deps.Pages == nil {
		deps.Pages = NewPageParser(OpenPDF, 0, 0, deps.Logger)
	}
	if deps.Images == nil {
		deps.Images = metadata.NewImageTable("", deps.Logger)
	}
	if opts.Metric == "" {
		opts.Metric = vector.MetricIP
	}
	if opts.ImageStorage == "" {
		opts.ImageStorage = ImageStorageInline
	}
	if opts.ImageStorage == ImageStorageObject && deps.Objects == nil {
		return nil, common.Errorf("ingest", common.ErrInvalidInput, "image_storage=object 需要对象存储")
	}
	return &Service{deps: deps, opts: opts, logger: deps.Logger}, nil
}

func (s *Service) metric(indexType string) (vector.Metric, error) {
	if indexType == "" {
		return s.opts.Metric, nil
	}
	m, err := vector.ParseMetric(indexType)
	if err != nil {
		return "", common.Wrapf("ingest", common.ErrInvalidInput, err, "index_type")
	}
	return m, nil
}

func (s *Service) parseOptions(o IngestOptions) ParseOptions {
	if o.Parse != nil {
		return *o.Parse
	}
	return s.opts.Parse
}

// IngestSplit 结构化解析后分别写入文本索引与图片说明索引
func (s *Service) IngestSplit(ctx context.Context, pdfPath string, o IngestOptions) (res *SplitIngestResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pctx, done := s.begin(ctx, common.ModeSplit, pdfPath)
	defer func() { done(err) }()
	ctx = pctx.Context

	metric, err := s.metric(o.IndexType)
	if err != nil {
		return nil, err
	}
	provider, err := s.deps.Models.Text(o.Model).Get(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.deps.Elements.Parse(ctx, pdfPath, s.parseOptions(o))
	if err != nil {
		return nil, err
	}
	pctx.Metadata["doc_id"] = parsed.DocID

	texts := make([]string, len(parsed.TextChunks))
	for i, c := range parsed.TextChunks {
		texts[i] = c.Content
	}
	captions := make([]string, len(parsed.Images))
	for i, im := range parsed.Images {
		captions[i] = im.Caption
	}
	// 两批都完成向量化后才写入索引
	textBatch, err := prepareText(ctx, s.deps.Vectors, common.IndexText, provider, metric, texts, parsed.TextChunks)
	if err != nil {
		return nil, err
	}
	imageBatch, err := prepareText(ctx, s.deps.Vectors, common.IndexImage, provider, metric, captions, parsed.Images)
	if err != nil {
		return nil, err
	}

	doc, err := s.deps.Artifacts.Write(pdfPath, parsed.DocID, parsed.TextChunks, parsed.Images, parsed.Tables)
	if err != nil {
		return nil, err
	}
	textTotal, err := textBatch.add(ctx)
	if err != nil {
		return nil, err
	}
	imageTotal, err := imageBatch.add(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Catalog.Append(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("split 入库完成", "doc_id", parsed.DocID, "text", len(texts), "images", len(captions), "tables", len(parsed.Tables))
	return &SplitIngestResult{
		DocID:              parsed.DocID,
		Uploaded:           o.Uploaded,
		TextChunksAdded:    len(texts),
		ImageCaptionsAdded: len(captions),
		Totals:             Totals{Text: textTotal, Images: imageTotal},
		TablesCount:        len(parsed.Tables),
		Skipped:            parsed.Skipped,
	}, nil
}

// pendingAdd 已完成向量化、尚未写入的一批条目
type pendingAdd struct {
	store vector.Store
	name  string
	idx   vector.Index
	vecs  [][]float32
	recs  []json.RawMessage
}

// prepareText 打开索引并向量化 texts；texts 为空时 add 只返回索引当前条目数
func prepareText[T any](ctx context.Context, store vector.Store, name string, provider embedding.TextEmbedder, metric vector.Metric, texts []string, records []T) (*pendingAdd, error) {
	p := &pendingAdd{store: store, name: name}
	if len(texts) == 0 {
		return p, nil
	}
	idx, err := store.Open(ctx, name, provider.Dimension(), metric)
	if err != nil {
		return nil, err
	}
	vecs, err := embedTexts(ctx, provider, texts, idx.Metric().Normalized())
	if err != nil {
		return nil, err
	}
	recs, err := vector.MarshalRecords(records)
	if err != nil {
		return nil, common.Wrapf("ingest", common.ErrPersistence, err, "序列化 %s 元数据", name)
	}
	p.idx, p.vecs, p.recs = idx, vecs, recs
	return p, nil
}

func (p *pendingAdd) add(ctx context.Context) (int, error) {
	if p.idx == nil {
		return existingLen(ctx, p.store, p.name)
	}
	if err := p.idx.Add(ctx, p.vecs, p.recs); err != nil {
		return 0, err
	}
	metrics.IndexedEntries.WithLabelValues(p.name).Set(float64(p.idx.Len()))
	return p.idx.Len(), nil
}

func embedTexts(ctx context.Context, provider embedding.TextEmbedder, texts []string, normalize bool) (vecs [][]float32, err error) {
	ctx, span := tracing.StartEmbedSpan(ctx, provider.Model(), "text", len(texts))
	defer func() { tracing.End(span, err) }()
	return provider.EmbedText(ctx, texts, normalize)
}

func embedImages(ctx context.Context, provider embedding.JointEmbedder, images []image.Image, normalize bool) (vecs [][]float32, err error) {
	ctx, span := tracing.StartEmbedSpan(ctx, provider.Model(), "image", len(images))
	defer func() { tracing.End(span, err) }()
	return provider.EmbedImage(ctx, images, normalize)
}

func existingLen(ctx context.Context, store vector.Store, name string) (int, error) {
	idx, ok, err := store.Lookup(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	return idx.Len(), nil
}

// IngestUnified 逐页解析，文本与图片用联合模型写入同一索引
func (s *Service) IngestUnified(ctx context.Context, pdfPath string, o IngestOptions) (res *UnifiedIngestResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pctx, done := s.begin(ctx, common.ModeUnified, pdfPath)
	defer func() { done(err) }()
	ctx = pctx.Context

	metric, err := s.metric(o.IndexType)
	if err != nil {
		return nil, err
	}
	provider, err := s.deps.Models.Joint(o.Model).Get(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.deps.Pages.Parse(ctx, pdfPath, s.parseOptions(o))
	if err != nil {
		return nil, err
	}
	pctx.Metadata["doc_id"] = parsed.DocID

	records := make([]common.UnifiedRecord, 0, len(parsed.Chunks)+len(parsed.Images))
	texts := make([]string, len(parsed.Chunks))
	for i, c := range parsed.Chunks {
		texts[i] = c.Content
		records = append(records, common.UnifiedRecord{
			DocID: parsed.DocID, Page: *c.PageNumber, Type: common.TypeText, Content: c.Content, ChunkID: common.IntPtr(c.ChunkID),
		})
	}
	imgs := make([]image.Image, len(parsed.Images))
	imageRecords := make([]common.ImageRecord, len(parsed.Images))
	payloads := make(map[string]string, len(parsed.Images))
	for i, pi := range parsed.Images {
		imgs[i] = pi.Image
		records = append(records, common.UnifiedRecord{
			DocID: parsed.DocID, Page: pi.Page, Type: common.TypeImage, Content: "[Image: " + pi.ImageID + "]", ImageID: pi.ImageID,
		})
		payload, err := s.imagePayload(ctx, parsed.DocID, pi)
		if err != nil {
			return nil, err
		}
		payloads[pi.ImageID] = payload
		imageRecords[i] = common.ImageRecord{
			DocID: parsed.DocID, PageNumber: common.IntPtr(pi.Page), ImageID: pi.ImageID, Caption: "[Image: " + pi.ImageID + "]",
		}
		if s.opts.ImageStorage == ImageStorageObject {
			imageRecords[i].ImagePath = payload
		}
	}

	total := 0
	if len(records) == 0 {
		if total, err = existingLen(ctx, s.deps.Vectors, common.IndexUnified); err != nil {
			return nil, err
		}
	} else {
		idx, err := s.deps.Vectors.Open(ctx, common.IndexUnified, provider.Dimension(), metric)
		if err != nil {
			return nil, err
		}
		normalize := idx.Metric().Normalized()
		textVecs, err := embedTexts(ctx, provider, texts, normalize)
		if err != nil {
			return nil, err
		}
		imageVecs, err := embedImages(ctx, provider, imgs, normalize)
		if err != nil {
			return nil, err
		}
		recs, err := vector.MarshalRecords(records)
		if err != nil {
			return nil, common.Wrapf("ingest", common.ErrPersistence, err, "序列化 unified 元数据")
		}
		if err := idx.Add(ctx, append(textVecs, imageVecs...), recs); err != nil {
			return nil, err
		}
		total = idx.Len()
		metrics.IndexedEntries.WithLabelValues(common.IndexUnified).Set(float64(total))
	}

	if err := s.deps.Images.Merge(ctx, parsed.DocID, payloads); err != nil {
		return nil, err
	}
	doc, err := s.deps.Artifacts.Write(pdfPath, parsed.DocID, parsed.Chunks, imageRecords, nil)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Catalog.Append(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("unified 入库完成", "doc_id", parsed.DocID, "text", len(texts), "images", len(imgs), "total", total)
	return &UnifiedIngestResult{
		DocID:       parsed.DocID,
		Uploaded:    o.Uploaded,
		Added:       len(records),
		TextAdded:   len(texts),
		ImagesAdded: len(imgs),
		Total:       total,
		Skipped:     parsed.Skipped,
	}, nil
}

// imagePayload inline 模式返回 base64 PNG，object 模式写入对象存储并返回 URL
func (s *Service) imagePayload(ctx context.Context, docID string, pi PageImage) (string, error) {
	if s.opts.ImageStorage != ImageStorageObject {
		return base64.StdEncoding.EncodeToString(pi.PNG), nil
	}
	key := docID + "/" + pi.ImageID + ".png"
	if err := s.deps.Objects.Put(ctx, key, bytes.NewReader(pi.PNG), int64(len(pi.PNG)), "image/png"); err != nil {
		return "", err
	}
	return s.deps.Objects.URL(key), nil
}

// Reset 清空索引、台账、产物、图片旁表与已保存的图片，返回被删除的名称
func (s *Service) Reset(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	collect := func(names []string, err error) error {
		removed = append(removed, names...)
		return err
	}
	if err := collect(s.deps.Vectors.Reset(ctx)); err != nil {
		return nil, err
	}
	if err := collect(s.deps.Catalog.Reset(ctx)); err != nil {
		return nil, err
	}
	if err := collect(s.deps.Artifacts.Reset()); err != nil {
		return nil, err
	}
	if err := collect(s.deps.Images.Reset(ctx)); err != nil {
		return nil, err
	}
	if s.deps.Objects != nil {
		objs, err := s.deps.Objects.Reset(ctx)
		if err != nil {
			return nil, err
		}
		removed = append(removed, objs...)
	}
	for _, name := range []string{common.IndexText, common.IndexImage, common.IndexUnified} {
		metrics.IndexedEntries.WithLabelValues(name).Set(0)
	}
	sort.Strings(removed)
	s.logger.Info("已重置索引", "removed", len(removed))
	return removed, nil
}

// begin 创建 PipelineContext 与 span，返回的回调负责记录指标
func (s *Service) begin(ctx context.Context, mode, pdfPath string) (*common.PipelineContext, func(error)) {
	ctx, span := tracing.StartIngestSpan(ctx, mode, pdfPath)
	pctx := common.NewPipelineContext(ctx, mode+":"+filepath.Base(pdfPath))
	return pctx, func(err error) {
		pctx.Finish(err)
		tracing.End(span, err)
		metrics.IngestDuration.WithLabelValues(mode).Observe(pctx.Duration().Seconds())
		metrics.IngestTotal.WithLabelValues(mode, metrics.StatusLabel(err, common.ErrorCode)).Inc()
		if err != nil {
			s.logger.Error("入库失败", "mode", mode, "pdf", pdfPath, "code", common.ErrorCode(err), "error", err,
				"elapsed", pctx.Duration().Round(time.Millisecond).String())
		}
	}
}
