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
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"mmrag/internal/pipeline/common"
)

// MemoryStore 内存对象存储实现
type MemoryStore struct {
	baseURL string
	objects map[string]*object
	mu      sync.RWMutex
}

type object struct {
	data []byte
	info ObjectInfo
}

// NewMemoryStore 创建内存对象存储
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string]*object),
	}
}

// Put 写入对象
func (s *MemoryStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	buffer := &bytes.Buffer{}
	if size > 0 {
		buffer.Grow(int(size))
	}
	if _, err := io.Copy(buffer, data); err != nil {
		return fmt.Errorf("failed to read object data: %w", err)
	}
	if contentType == "" {
		contentType = ContentTypeOf(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &object{
		data: buffer.Bytes(),
		info: ObjectInfo{Key: key, Size: int64(buffer.Len()), ContentType: contentType, CreatedAt: time.Now().Unix()},
	}
	return nil
}

// Get 读取对象
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, nil, common.Errorf("object", common.ErrDocumentNotFound, "object %s not found", key)
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.data)), &info, nil
}

// Delete 删除对象，不存在不报错
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List 列出对象
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			info := obj.info
			results = append(results, &info)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// Exists 检查对象是否存在
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.objects[key]
	return exists, nil
}

// URL 对外访问路径
func (s *MemoryStore) URL(key string) string { return joinURL(s.baseURL, key) }

// Reset 清空
func (s *MemoryStore) Reset(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.objects = make(map[string]*object)
	return keys, nil
}

// Close 关闭存储连接
func (s *MemoryStore) Close() error {
	return nil
}
