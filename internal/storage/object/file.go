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
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/utils"
)

// FileStore 本地目录对象存储，key 即相对 root 的路径
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore 创建本地对象存储
func NewFileStore(root, baseURL string) (*FileStore, error) {
	if root == "" {
		return nil, common.Errorf("object", common.ErrInvalidInput, "对象存储根目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, common.Wrapf("object", common.ErrPersistence, err, "创建 %s", root)
	}
	return &FileStore{root: root, baseURL: baseURL}, nil
}

// Root 根目录
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(key string) (string, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return key, filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put 原子写入对象
func (s *FileStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	_, p, err := s.path(key)
	if err != nil {
		return err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return common.Wrapf("object", common.ErrPersistence, err, "读取对象 %s", key)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return common.Wrapf("object", common.ErrPersistence, err, "创建目录")
	}
	if err := utils.WriteFileAtomic(p, b); err != nil {
		return common.Wrapf("object", common.ErrPersistence, err, "写入对象 %s", key)
	}
	return nil
}

// Get 读取对象
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	key, p, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, common.Errorf("object", common.ErrDocumentNotFound, "object %s not found", key)
		}
		return nil, nil, common.Wrapf("object", common.ErrPersistence, err, "打开对象 %s", key)
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		f.Close()
		return nil, nil, common.Errorf("object", common.ErrDocumentNotFound, "object %s not found", key)
	}
	return f, &ObjectInfo{Key: key, Size: st.Size(), ContentType: ContentTypeOf(key), CreatedAt: st.ModTime().Unix()}, nil
}

// Delete 删除对象，不存在不报错
func (s *FileStore) Delete(ctx context.Context, key string) error {
	_, p, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := utils.RemoveIfExists(p); err != nil {
		return common.Wrapf("object", common.ErrPersistence, err, "删除对象 %s", key)
	}
	return nil
}

// List 列出对象
func (s *FileStore) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var results []*ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		results = append(results, &ObjectInfo{Key: key, Size: info.Size(), ContentType: ContentTypeOf(key), CreatedAt: info.ModTime().Unix()})
		return nil
	})
	if err != nil {
		return nil, common.Wrapf("object", common.ErrPersistence, err, "遍历 %s", s.root)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// Exists 检查对象是否存在
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, p, err := s.path(key)
	if err != nil {
		return false, err
	}
	return utils.FileExists(p), nil
}

// URL 对外访问路径
func (s *FileStore) URL(key string) string { return joinURL(s.baseURL, key) }

// Reset 删除 root 下全部对象，保留 root 目录本身
func (s *FileStore) Reset(ctx context.Context) ([]string, error) {
	objs, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		if err := s.Delete(ctx, o.Key); err != nil {
			return keys, err
		}
		keys = append(keys, o.Key)
	}
	entries, _ := os.ReadDir(s.root)
	for _, e := range entries {
		if e.IsDir() {
			_ = os.RemoveAll(filepath.Join(s.root, e.Name()))
		}
	}
	return keys, nil
}

// Close 关闭存储
func (s *FileStore) Close() error { return nil }
