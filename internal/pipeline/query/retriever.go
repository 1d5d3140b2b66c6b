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

package query

import (
	"context"
	"strings"

	"mmrag/internal/model/embedding"
	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/metadata"
	"mmrag/internal/storage/vector"
	"mmrag/pkg/log"
	"mmrag/pkg/metrics"
	"mmrag/pkg/tracing"
)

// 默认 top-k
const (
	DefaultSplitK   = 3
	DefaultUnifiedK = 5
)

// SearchOptions 单次检索参数
type SearchOptions struct {
	Model string // provider.model_key，为空时使用默认模型
}

// SplitResult split 模式检索结果
type SplitResult struct {
	TextHits  []common.TextHit  `json:"text_hits"`
	ImageHits []common.ImageHit `json:"images"`
}

// UnifiedResult unified 模式检索结果；Images 为全部已知图片 doc_id -> image_id -> 负载，不限于命中
type UnifiedResult struct {
	Hits   []common.UnifiedHit          `json:"hits"`
	Images map[string]map[string]string `json:"images"`
}

// SplitRetriever 分别检索 text 与 image 索引
type SplitRetriever struct {
	models  embedding.Source
	vectors vector.Store
	encoder *Encoder
	logger  *log.Logger
}

// NewSplitRetriever 创建 split 检索器
func NewSplitRetriever(models embedding.Source, vectors vector.Store, encoder *Encoder, logger *log.Logger) *SplitRetriever {
	if encoder == nil {
		encoder = NewEncoder(nil, 0, logger)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &SplitRetriever{models: models, vectors: vectors, encoder: encoder, logger: logger}
}

// Search 检索文本切片与图片说明，各自最多 k 条
func (r *SplitRetriever) Search(ctx context.Context, query string, k int, opts SearchOptions) (res *SplitResult, err error) {
	if k <= 0 {
		k = DefaultSplitK
	}
	ctx, done := begin(ctx, common.ModeSplit, k)
	defer func() { done(err) }()

	if err := validateQuery(query); err != nil {
		return nil, err
	}
	res = &SplitResult{TextHits: []common.TextHit{}, ImageHits: []common.ImageHit{}}

	lazy := r.models.Text(opts.Model)
	textHits, err := r.search(ctx, lazy, common.IndexText, query, k)
	if err != nil {
		return nil, err
	}
	for _, h := range textHits {
		c, err := vector.DecodeHit[common.TextChunk](h)
		if err != nil {
			return nil, common.Wrapf("query", common.ErrIndexCorrupt, err, "text 元数据")
		}
		res.TextHits = append(res.TextHits, common.TextHit{
			Rank: h.Rank, Score: h.Score, Content: c.Content, Page: c.PageNumber, Section: c.Section, DocID: c.DocID, ChunkID: c.ChunkID,
		})
	}

	imageHits, err := r.search(ctx, lazy, common.IndexImage, query, k)
	if err != nil {
		return nil, err
	}
	for _, h := range imageHits {
		im, err := vector.DecodeHit[common.ImageRecord](h)
		if err != nil {
			return nil, common.Wrapf("query", common.ErrIndexCorrupt, err, "image 元数据")
		}
		res.ImageHits = append(res.ImageHits, common.ImageHit{
			Rank: h.Rank, Score: h.Score, ImagePath: im.ImagePath, Caption: im.Caption, Page: im.PageNumber, DocID: im.DocID,
		})
	}
	return res, nil
}

// search 索引不存在或为空时返回空结果，且不加载模型
func (r *SplitRetriever) search(ctx context.Context, lazy *embedding.Lazy[embedding.TextEmbedder], name, query string, k int) ([]vector.Hit, error) {
	idx, ok, err := r.vectors.Lookup(ctx, name)
	if err != nil || !ok || idx.Len() == 0 {
		return nil, err
	}
	provider, err := lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(idx, provider); err != nil {
		return nil, err
	}
	vec, err := r.encoder.Encode(ctx, provider, query, idx.Metric().Normalized())
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, vec, k)
}

// UnifiedRetriever 在 unified 索引中混合检索文本与图片
type UnifiedRetriever struct {
	models  embedding.Source
	vectors vector.Store
	images  *metadata.ImageTable
	encoder *Encoder
	logger  *log.Logger
}

// NewUnifiedRetriever 创建 unified 检索器
func NewUnifiedRetriever(models embedding.Source, vectors vector.Store, images *metadata.ImageTable, encoder *Encoder, logger *log.Logger) *UnifiedRetriever {
	if encoder == nil {
		encoder = NewEncoder(nil, 0, logger)
	}
	if logger == nil {
		logger = log.Nop()
	}
	if images == nil {
		images = metadata.NewImageTable("", logger)
	}
	return &UnifiedRetriever{models: models, vectors: vectors, images: images, encoder: encoder, logger: logger}
}

// Search 用联合模型的文本编码器检索，返回最多 k 条混排结果
func (r *UnifiedRetriever) Search(ctx context.Context, query string, k int, opts SearchOptions) (res *UnifiedResult, err error) {
	if k <= 0 {
		k = DefaultUnifiedK
	}
	ctx, done := begin(ctx, common.ModeUnified, k)
	defer func() { done(err) }()

	if err := validateQuery(query); err != nil {
		return nil, err
	}
	res = &UnifiedResult{Hits: []common.UnifiedHit{}, Images: copyImages(r.images.All(ctx))}

	idx, ok, err := r.vectors.Lookup(ctx, common.IndexUnified)
	if err != nil {
		return nil, err
	}
	if !ok || idx.Len() == 0 {
		return res, nil
	}
	provider, err := r.models.Joint(opts.Model).Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(idx, provider); err != nil {
		return nil, err
	}
	vec, err := r.encoder.Encode(ctx, provider, query, idx.Metric().Normalized())
	if err != nil {
		return nil, err
	}
	hits, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	for _, h := range hits {
		rec, err := vector.DecodeHit[common.UnifiedRecord](h)
		if err != nil {
			return nil, common.Wrapf("query", common.ErrIndexCorrupt, err, "unified 元数据")
		}
		res.Hits = append(res.Hits, common.UnifiedHit{
			Rank: h.Rank, Score: h.Score, Type: rec.Type, Content: rec.Content, Page: rec.Page,
			DocID: rec.DocID, ChunkID: rec.ChunkID, ImageID: rec.ImageID,
		})
		if rec.Type == common.TypeImage {
			if _, ok := res.Images[rec.DocID][rec.ImageID]; !ok {
				r.logger.Warn("图片旁表缺少命中图片", "doc_id", rec.DocID, "image_id", rec.ImageID)
			}
		}
	}
	return res, nil
}

// copyImages 复制旁表，调用方可自由修改结果
func copyImages(all map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(all))
	for docID, imgs := range all {
		m := make(map[string]string, len(imgs))
		for id, payload := range imgs {
			m[id] = payload
		}
		out[docID] = m
	}
	return out
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return common.Errorf("query", common.ErrInvalidInput, "Missing query")
	}
	return nil
}

func checkDimension(idx vector.Index, provider embedding.TextEmbedder) error {
	if provider.Dimension() != idx.Dimension() {
		return common.Errorf("query", common.ErrDimensionMismatch, "索引 %s 维度为 %d，模型 %s 维度为 %d",
			idx.Name(), idx.Dimension(), provider.Model(), provider.Dimension())
	}
	return nil
}

func begin(ctx context.Context, mode string, k int) (context.Context, func(error)) {
	ctx, span := tracing.StartSearchSpan(ctx, mode, k)
	pctx := common.NewPipelineContext(ctx, "search:"+mode)
	return ctx, func(err error) {
		pctx.Finish(err)
		tracing.End(span, err)
		metrics.SearchDuration.WithLabelValues(mode).Observe(pctx.Duration().Seconds())
		metrics.SearchTotal.WithLabelValues(mode, metrics.StatusLabel(err, common.ErrorCode)).Inc()
	}
}
