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
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/google/uuid"

	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/object"
	"mmrag/pkg/log"
	"mmrag/pkg/metrics"
)

// ParseOptions 解析参数
type ParseOptions struct {
	OCREnabled   bool
	OCRLanguages string
	MaxPages     int // 0 表示不限
	ChunkSize    int // 非 0 时覆盖默认切片长度
	ChunkOverlap int
}

// ParseResult 结构化解析结果
type ParseResult struct {
	DocID      string
	TextChunks []common.TextChunk
	Images     []common.ImageRecord
	Tables     []common.TableRecord
	Skipped    int
}

// ElementParser 结构化元素解析（split 模式）
type ElementParser struct {
	open     Opener
	objects  object.Store
	ocr      OCR
	chunking ChunkingOptions
	logger   *log.Logger
}

// NewElementParser 创建结构化解析器；ocr 为 nil 时不做 OCR，objects 为 nil 时图片不落盘
func NewElementParser(open Opener, objects object.Store, ocr OCR, chunking ChunkingOptions, logger *log.Logger) *ElementParser {
	if open == nil {
		open = OpenPDF
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &ElementParser{open: open, objects: objects, ocr: ocr, chunking: chunking, logger: logger}
}

// PlaceholderCaption 图片的占位说明，页码未知时为 -1
func PlaceholderCaption(page *int, section string) string {
	p := -1
	if page != nil {
		p = *page
	}
	if section != "" {
		return fmt.Sprintf("Image on page %d from section %s", p, section)
	}
	return fmt.Sprintf("Image on page %d", p)
}

// Parse 解析 PDF 为文本切片、图片与表格
func (p *ElementParser) Parse(ctx context.Context, pdfPath string, opts ParseOptions) (*ParseResult, error) {
	doc, err := openDocument(p.open, pdfPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	res := &ParseResult{DocID: uuid.NewString()}
	logger := p.logger.With("doc_id", res.DocID)

	var els []Element
	for i := 0; i < pageLimit(doc.NumPages(), opts.MaxPages); i++ {
		pc, err := readPage(ctx, doc, i)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("跳过无法解析的页面", "page", i+1, "error", err)
			res.skip("page")
			continue
		}
		for _, w := range pc.Warnings {
			logger.Warn("跳过畸形元素", "page", i+1, "error", w)
			res.skip("image")
		}
		els = append(els, p.pageElements(ctx, pc, opts, logger, res)...)
	}
	assignSections(els)

	chunking := p.chunking
	if opts.ChunkSize > 0 {
		chunking.MaxCharacters = opts.ChunkSize
		if chunking.NewAfterNChars > opts.ChunkSize {
			chunking.NewAfterNChars = opts.ChunkSize
		}
	}
	if opts.ChunkOverlap > 0 {
		chunking.Overlap = opts.ChunkOverlap
	}

	chunkID := 0
	for _, el := range ChunkByTitle(els, chunking) {
		page := common.IntPtr(el.Page)
		section := common.StringPtr(el.Section)
		switch el.Category {
		case CategoryTable:
			res.Tables = append(res.Tables, common.TableRecord{
				DocID: res.DocID, PageNumber: page, Section: section, Content: el.Text, Type: common.TypeTable,
			})
		case CategoryImage:
			path, err := p.storeImage(ctx, res.DocID, el)
			if err != nil {
				logger.Warn("跳过无法保存的图片", "page", el.Page, "error", err)
				res.skip("image")
				continue
			}
			res.Images = append(res.Images, common.ImageRecord{
				DocID: res.DocID, PageNumber: page, Section: section, ImagePath: path,
				Caption: PlaceholderCaption(page, el.Section),
			})
		default:
			if strings.TrimSpace(el.Text) == "" {
				continue
			}
			res.TextChunks = append(res.TextChunks, common.TextChunk{
				DocID: res.DocID, ChunkID: chunkID, PageNumber: page, Section: section, Type: el.Category, Content: el.Text,
			})
			chunkID++
		}
	}
	return res, nil
}

func (p *ElementParser) pageElements(ctx context.Context, pc *PageContent, opts ParseOptions, logger *log.Logger, res *ParseResult) []Element {
	page := pc.Index + 1
	els := PartitionText(pc.Text, page)

	if opts.OCREnabled && p.ocr != nil && strings.TrimSpace(pc.Text) == "" {
		for j, img := range pc.Images {
			if img == nil {
				continue
			}
			text, err := p.ocr.Recognize(ctx, img)
			if err != nil {
				logger.Warn("OCR 失败", "page", page, "image", j, "error", err)
				res.skip("ocr")
				continue
			}
			for _, para := range Paragraphs(text) {
				els = append(els, Element{Category: CategoryNarrative, Text: para, Page: page})
			}
		}
	}
	for _, rows := range pc.Tables {
		els = append(els, Element{Category: CategoryTable, Text: TableText(rows), Rows: rows, Page: page})
	}
	for j, img := range pc.Images {
		if img == nil {
			continue
		}
		els = append(els, Element{Category: CategoryImage, Image: img, ImageIdx: j, Page: page})
	}
	return els
}

func (p *ElementParser) storeImage(ctx context.Context, docID string, el Element) (string, error) {
	if p.objects == nil {
		return "", nil
	}
	data, err := encodePNG(el.Image)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/page_%d_img_%d.png", docID, el.Page, el.ImageIdx)
	if err := p.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		return "", err
	}
	return p.objects.URL(key), nil
}

func (r *ParseResult) skip(reason string) {
	r.Skipped++
	metrics.ParseSkipped.WithLabelValues(reason).Inc()
}

// openDocument 打开 PDF 并把未分类的错误归为解析失败
func openDocument(open Opener, path string) (PDFDocument, error) {
	if strings.TrimSpace(path) == "" {
		return nil, common.Errorf("parse", common.ErrInvalidInput, "pdf 路径不能为空")
	}
	doc, err := open(path)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrParseFailure) {
			return nil, err
		}
		return nil, common.Wrapf("parse", common.ErrParseFailure, err, "打开 %s", path)
	}
	return doc, nil
}

// readPage 读取单页，页面级 panic 转为错误
func readPage(ctx context.Context, doc PDFDocument, index int) (pc *PageContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("第 %d 页解析 panic: %v", index+1, r)
		}
	}()
	return doc.Page(ctx, index)
}

func pageLimit(pages, maxPages int) int {
	if maxPages > 0 && maxPages < pages {
		return maxPages
	}
	return pages
}

func encodePNG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("图片为空")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码 PNG failed: %w", err)
	}
	return buf.Bytes(), nil
}
