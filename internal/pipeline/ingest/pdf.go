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
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"mmrag/internal/pipeline/common"
)

// PageContent 单页抽取结果
type PageContent struct {
	Index  int // 从 0 开始
	Text   string
	Tables [][][]string // 表格 -> 行 -> 单元格
	// Images 按源图片顺序排列，解码失败的位置为 nil，下标即图片序号
	Images []image.Image
	// Warnings 不影响整页的局部失败（某张图片解码失败等）
	Warnings []error
}

// PDFDocument 按页读取 PDF
type PDFDocument interface {
	NumPages() int
	Page(ctx context.Context, index int) (*PageContent, error)
	Close() error
}

// Opener 打开 PDF 文件
type Opener func(path string) (PDFDocument, error)

// SetLicenseKey 设置 unipdf 计量许可证
func SetLicenseKey(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("设置 unipdf license failed: %w", err)
	}
	return nil
}

type unipdfDocument struct {
	file   *os.File
	reader *model.PdfReader
	pages  int
}

// OpenPDF 用 unipdf 打开 PDF；文件不存在为 ErrInvalidInput，无法解析为 ErrParseFailure
func OpenPDF(path string) (PDFDocument, error) {
	if strings.TrimSpace(path) == "" {
		return nil, common.Errorf("parse", common.ErrInvalidInput, "pdf 路径不能为空")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.Errorf("parse", common.ErrInvalidInput, "文件不存在: %s", path)
		}
		return nil, common.Wrapf("parse", common.ErrInvalidInput, err, "打开 %s", path)
	}
	doc, err := newUnipdfDocument(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return doc, nil
}

func newUnipdfDocument(f *os.File) (*unipdfDocument, error) {
	reader, err := model.NewPdfReader(f)
	if err != nil {
		return nil, common.Wrapf("parse", common.ErrParseFailure, err, "打开 PDF")
	}
	encrypted, err := reader.IsEncrypted()
	if err != nil {
		return nil, common.Wrapf("parse", common.ErrParseFailure, err, "读取加密信息")
	}
	if encrypted {
		ok, err := reader.Decrypt([]byte(""))
		if err != nil || !ok {
			return nil, common.Errorf("parse", common.ErrParseFailure, "PDF 已加密且无法以空密码解密")
		}
	}
	n, err := reader.GetNumPages()
	if err != nil {
		return nil, common.Wrapf("parse", common.ErrParseFailure, err, "获取页数")
	}
	return &unipdfDocument{file: f, reader: reader, pages: n}, nil
}

func (d *unipdfDocument) NumPages() int { return d.pages }

// Page 抽取文本、表格与嵌入图片；文本抽取失败时返回错误
func (d *unipdfDocument) Page(ctx context.Context, index int) (*PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := d.reader.GetPage(index + 1)
	if err != nil {
		return nil, fmt.Errorf("获取第 %d 页failed: %w", index+1, err)
	}
	ex, err := extractor.New(page)
	if err != nil {
		return nil, fmt.Errorf("创建第 %d 页提取器failed: %w", index+1, err)
	}
	pt, _, _, err := ex.ExtractPageText()
	if err != nil {
		return nil, fmt.Errorf("提取第 %d 页文本failed: %w", index+1, err)
	}

	pc := &PageContent{Index: index, Text: pt.Text()}
	for _, t := range pt.Tables() {
		rows := make([][]string, 0, len(t.Cells))
		for _, row := range t.Cells {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = strings.TrimSpace(c.Text)
			}
			rows = append(rows, cells)
		}
		if len(rows) > 0 {
			pc.Tables = append(pc.Tables, rows)
		}
	}

	imgs, err := ex.ExtractPageImages(nil)
	if err != nil {
		pc.Warnings = append(pc.Warnings, fmt.Errorf("提取第 %d 页图片failed: %w", index+1, err))
		return pc, nil
	}
	pc.Images = make([]image.Image, len(imgs.Images))
	for j, mark := range imgs.Images {
		if mark.Image == nil {
			pc.Warnings = append(pc.Warnings, fmt.Errorf("第 %d 页第 %d 张图片为空", index+1, j))
			continue
		}
		gi, err := mark.Image.ToGoImage()
		if err != nil {
			pc.Warnings = append(pc.Warnings, fmt.Errorf("解码第 %d 页第 %d 张图片failed: %w", index+1, j, err))
			continue
		}
		pc.Images[j] = gi
	}
	return pc, nil
}

func (d *unipdfDocument) Close() error { return d.file.Close() }
