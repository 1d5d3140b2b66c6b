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
	"sync"

	"mmrag/internal/pipeline/common"
)

// MemoryCatalog 内存台账
type MemoryCatalog struct {
	mu   sync.RWMutex
	docs []common.Document
}

// NewMemoryCatalog 创建内存台账
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{}
}

// Append 追加记录
func (c *MemoryCatalog) Append(ctx context.Context, doc common.Document) error {
	if doc.DocID == "" {
		return common.Errorf("catalog", common.ErrInvalidInput, "doc_id 不能为空")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

// List 返回全部记录的副本
func (c *MemoryCatalog) List(ctx context.Context) ([]common.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]common.Document, len(c.docs))
	copy(out, c.docs)
	return out, nil
}

// Get 按 doc_id 获取
func (c *MemoryCatalog) Get(ctx context.Context, docID string) (common.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return find(c.docs, docID)
}

// Len 记录数量
func (c *MemoryCatalog) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs), nil
}

// Reset 清空
func (c *MemoryCatalog) Reset(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = nil
	return nil, nil
}

// find 返回最后一条匹配记录
func find(docs []common.Document, docID string) (common.Document, error) {
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i].DocID == docID {
			return docs[i], nil
		}
	}
	return common.Document{}, common.Errorf("catalog", common.ErrDocumentNotFound, "document %s not found", docID)
}
