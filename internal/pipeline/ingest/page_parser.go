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
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"mmrag/internal/pipeline/common"
	"mmrag/internal/splitter"
	"mmrag/pkg/log"
)

// PageImage unified 模式抽取的页面图片
type PageImage struct {
	ImageID string // page_{page_index}_img_{img_index}
	Page    int    // 从 0 开始
	Image   image.Image
	PNG     []byte
}

// PageParseResult 逐页解析结果
type PageParseResult struct {
	DocID   string
	Chunks  []common.TextChunk
	Images  []PageImage
	Skipped int
}

// PageParser 逐页抽取文本与图片（unified 模式），不做 OCR 与表格
type PageParser struct {
	open      Opener
	chunkSize int
	overlap   int
	logger    *log.Logger
}

// NewPageParser 创建逐页解析器，chunkSize 为 0 时使用 500
func NewPageParser(open Opener, chunkSize, overlap int, logger *log.Logger) *PageParser {
	if open == nil {
		open = OpenPDF
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &PageParser{open: open, chunkSize: chunkSize, overlap: overlap, logger: logger}
}

// ImageID 页面图片标识
func ImageID(page, index int) string {
	return fmt.Sprintf("page_%d_img_%d", page, index)
}

// Parse 解析 PDF
func (p *PageParser) Parse(ctx context.Context, pdfPath string, opts ParseOptions) (*PageParseResult, error) {
	size, overlap := p.chunkSize, p.overlap
	if opts.ChunkSize > 0 {
		size = opts.ChunkSize
	}
	if opts.ChunkOverlap > 0 {
		overlap = opts.ChunkOverlap
	}
	split, err := splitter.NewRecursiveCharacterSplitter(size, overlap)
	if err != nil {
		return nil, common.Wrapf("parse", common.ErrInvalidInput, err, "切片参数")
	}

	doc, err := openDocument(p.open, pdfPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	res := &PageParseResult{DocID: uuid.NewString()}
	logger := p.logger.With("doc_id", res.DocID)
	chunkID := 0
	for i := 0; i < pageLimit(doc.NumPages(), opts.MaxPages); i++ {
		pc, err := readPage(ctx, doc, i)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("跳过无法解析的页面", "page", i, "error", err)
			res.Skipped++
			continue
		}
		for _, w := range pc.Warnings {
			logger.Warn("跳过畸形元素", "page", i, "error", w)
			res.Skipped++
		}
		for _, text := range split.Split(pc.Text) {
			res.Chunks = append(res.Chunks, common.TextChunk{
				DocID: res.DocID, ChunkID: chunkID, PageNumber: common.IntPtr(i), Type: common.TypeText, Content: text,
			})
			chunkID++
		}
		for j, img := range pc.Images {
			if img == nil {
				continue
			}
			data, err := encodePNG(img)
			if err != nil {
				logger.Warn("跳过无法编码的图片", "page", i, "image", j, "error", err)
				res.Skipped++
				continue
			}
			res.Images = append(res.Images, PageImage{ImageID: ImageID(i, j), Page: i, Image: img, PNG: data})
		}
	}
	return res, nil
}
