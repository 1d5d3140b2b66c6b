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

// ImageDataFileName unified 模式图片旁表
const ImageDataFileName = "image_data.json"

// ImageTable doc_id -> image_id -> 图片负载（base64 PNG 或对象存储 URL）
type ImageTable struct {
	path   string
	logger *log.Logger
	mu     sync.RWMutex
	cache  map[string]map[string]string
	loaded bool
}

// NewImageTable 创建图片旁表；path 为空时仅保存在内存
func NewImageTable(path string, logger *log.Logger) *ImageTable {
	return &ImageTable{path: path, logger: logger}
}

// Merge 合并一个文档的图片并原子写回
func (t *ImageTable) Merge(ctx context.Context, docID string, images map[string]string) error {
	if len(images) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	all := t.loadLocked()
	next := make(map[string]map[string]string, len(all)+1)
	for k, v := range all {
		next[k] = v
	}
	docImages := make(map[string]string, len(images)+len(all[docID]))
	for k, v := range all[docID] {
		docImages[k] = v
	}
	for k, v := range images {
		docImages[k] = v
	}
	next[docID] = docImages

	if t.path != "" {
		if err := utils.WriteJSONAtomic(t.path, next); err != nil {
			return common.Wrapf("image_table", common.ErrPersistence, err, "写入 %s", t.path)
		}
	}
	t.cache = next
	return nil
}

// All 返回全部图片；返回值只读
func (t *ImageTable) All(ctx context.Context) map[string]map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked()
}

// Len 图片总数
func (t *ImageTable) Len(ctx context.Context) int {
	n := 0
	for _, imgs := range t.All(ctx) {
		n += len(imgs)
	}
	return n
}

// Reset 删除旁表文件
func (t *ImageTable) Reset(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = map[string]map[string]string{}
	t.loaded = true
	if t.path == "" {
		return nil, nil
	}
	var removed []string
	for _, p := range []string{t.path, t.path + ".tmp"} {
		ok, err := utils.RemoveIfExists(p)
		if err != nil {
			return removed, common.Wrapf("image_table", common.ErrPersistence, err, "删除 %s", p)
		}
		if ok {
			removed = append(removed, filepath.Base(p))
		}
	}
	return removed, nil
}

func (t *ImageTable) loadLocked() map[string]map[string]string {
	if t.loaded {
		return t.cache
	}
	t.cache = map[string]map[string]string{}
	t.loaded = true
	if t.path == "" {
		return t.cache
	}
	var all map[string]map[string]string
	if err := utils.ReadJSON(t.path, &all); err != nil {
		if !errors.Is(err, os.ErrNotExist) && t.logger != nil {
			t.logger.Warn("图片旁表无法读取，按空表处理", "path", t.path, "error", err)
		}
		return t.cache
	}
	if all != nil {
		t.cache = all
	}
	return t.cache
}
