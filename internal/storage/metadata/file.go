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
	"errors"
	"os"
	"path/filepath"
	"sync"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/log"
	"mmrag/pkg/utils"
)

// CatalogFileName 默认台账文件名
const CatalogFileName = "catalog.json"

// FileCatalog JSON 数组文件台账；每次追加读出全部记录再原子重写
type FileCatalog struct {
	path   string
	logger *log.Logger
	mu     sync.Mutex
}

// NewFileCatalog 创建文件台账，目录不存在时自动创建
func NewFileCatalog(path string, logger *log.Logger) (*FileCatalog, error) {
	if path == "" {
		return nil, common.Errorf("catalog", common.ErrInvalidInput, "catalog 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, common.Wrapf("catalog", common.ErrPersistence, err, "创建 catalog 目录")
	}
	return &FileCatalog{path: path, logger: logger}, nil
}

// Path 台账文件路径
func (c *FileCatalog) Path() string { return c.path }

// Append 追加记录
func (c *FileCatalog) Append(ctx context.Context, doc common.Document) error {
	if doc.DocID == "" {
		return common.Errorf("catalog", common.ErrInvalidInput, "doc_id 不能为空")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := c.load()
	docs = append(docs, doc)
	if err := utils.WriteJSONAtomic(c.path, docs); err != nil {
		return common.Wrapf("catalog", common.ErrPersistence, err, "写入 %s", c.path)
	}
	return nil
}

// List 按追加顺序返回全部记录
func (c *FileCatalog) List(ctx context.Context) ([]common.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(), nil
}

// Get 按 doc_id 获取
func (c *FileCatalog) Get(ctx context.Context, docID string) (common.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return find(c.load(), docID)
}

// Len 记录数量
func (c *FileCatalog) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.load()), nil
}

// Reset 删除台账文件
func (c *FileCatalog) Reset(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, p := range []string{c.path, c.path + ".tmp"} {
		ok, err := utils.RemoveIfExists(p)
		if err != nil {
			return removed, common.Wrapf("catalog", common.ErrPersistence, err, "删除 %s", p)
		}
		if ok {
			removed = append(removed, filepath.Base(p))
		}
	}
	return removed, nil
}

// load 读取全部记录；文件缺失视为空，无法解析时记录日志并视为空
func (c *FileCatalog) load() []common.Document {
	var docs []common.Document
	if err := utils.ReadJSON(c.path, &docs); err != nil {
		if !errors.Is(err, os.ErrNotExist) && c.logger != nil {
			c.logger.Warn("catalog 无法读取，按空台账处理", "path", c.path, "error", err)
		}
		return []common.Document{}
	}
	if docs == nil {
		docs = []common.Document{}
	}
	return docs
}
