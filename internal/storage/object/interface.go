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

package object

import (
	"context"
	"io"
	"path"
	"strings"

	"mmrag/internal/pipeline/common"
)

// Store 对象存储接口（页面图片、上传的 PDF）
type Store interface {
	// Put 写入对象，已存在时覆盖
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	// Get 读取对象，不存在时返回 common.ErrDocumentNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	// Delete 删除对象
	Delete(ctx context.Context, key string) error
	// List 列出对象，按 key 排序
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)
	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
	// URL 对象的对外访问路径
	URL(key string) string
	// Reset 删除全部对象，返回被删除的 key
	Reset(ctx context.Context) ([]string, error)
	// Close 关闭存储
	Close() error
}

// ObjectInfo 对象信息
type ObjectInfo struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	CreatedAt   int64  `json:"created_at"`
}

// CleanKey 规范化对象 key，拒绝绝对路径与越界路径
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, `\`, "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", common.Errorf("object", common.ErrInvalidInput, "非法对象 key: %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", common.Errorf("object", common.ErrInvalidInput, "非法对象 key: %q", key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	if base == "" {
		return key
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}

// ContentTypeOf 根据扩展名推断内容类型
func ContentTypeOf(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
