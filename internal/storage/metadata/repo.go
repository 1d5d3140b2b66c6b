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

package metadata

import (
	"context"

	"mmrag/internal/pipeline/common"
)

// Repository 面向 API 的台账查询
type Repository struct {
	catalog Catalog
}

// NewRepository 创建 Repository
func NewRepository(catalog Catalog) *Repository {
	return &Repository{catalog: catalog}
}

// Pagination 分页参数
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ListDocuments 分页列出文档，返回当前页与总数；Limit<=0 时默认 1000
func (r *Repository) ListDocuments(ctx context.Context, p Pagination) ([]common.Document, int, error) {
	docs, err := r.catalog.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := len(docs)
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Offset >= total {
		return []common.Document{}, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return docs[p.Offset:end], total, nil
}

// GetDocument 按 doc_id 获取文档
func (r *Repository) GetDocument(ctx context.Context, docID string) (common.Document, error) {
	return r.catalog.Get(ctx, docID)
}
