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

package app

import (
	"context"
	"os"
	"path/filepath"

	"mmrag/internal/pipeline/common"
	"mmrag/internal/storage/metadata"
)

// DocumentInfo 文档信息 DTO，供 API 层使用，不依赖 storage 具体类型
type DocumentInfo struct {
	DocID      string `json:"doc_id"`
	Name       string `json:"name"`
	PDFPath    string `json:"pdf_path"`
	Size       int64  `json:"size"`
	TextJSON   string `json:"text_json"`
	ImagesJSON string `json:"images_json"`
	TablesJSON string `json:"tables_json"`
}

// DocumentPage 分页结果
type DocumentPage struct {
	Items  []*DocumentInfo `json:"items"`
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// DocumentService 文档门面：API 层仅依赖此接口，不直接调用 storage
type DocumentService interface {
	ListDocuments(ctx context.Context, offset, limit int) (*DocumentPage, error)
	GetDocument(ctx context.Context, docID string) (*DocumentInfo, error)
}

type documentService struct {
	repo *metadata.Repository
}

// NewDocumentService 创建文档门面
func NewDocumentService(catalog metadata.Catalog) DocumentService {
	return &documentService{repo: metadata.NewRepository(catalog)}
}

func (s *documentService) ListDocuments(ctx context.Context, offset, limit int) (*DocumentPage, error) {
	p := metadata.Pagination{Offset: offset, Limit: limit}
	docs, total, err := s.repo.ListDocuments(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]*DocumentInfo, len(docs))
	for i, d := range docs {
		out[i] = docToInfo(d)
	}
	if limit <= 0 {
		limit = len(out)
	}
	return &DocumentPage{Items: out, Total: total, Offset: offset, Limit: limit}, nil
}

func (s *documentService) GetDocument(ctx context.Context, docID string) (*DocumentInfo, error) {
	d, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	return docToInfo(d), nil
}

func docToInfo(d common.Document) *DocumentInfo {
	info := &DocumentInfo{
		DocID:      d.DocID,
		Name:       filepath.Base(d.PDFPath),
		PDFPath:    d.PDFPath,
		TextJSON:   d.TextJSON,
		ImagesJSON: d.ImagesJSON,
		TablesJSON: d.TablesJSON,
	}
	if st, err := os.Stat(d.PDFPath); err == nil {
		info.Size = st.Size()
	}
	return info
}
