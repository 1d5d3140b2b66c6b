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

package embedding

import (
	"context"
	"errors"
	"sync"

	"mmrag/internal/pipeline/common"
)

// Lazy 首次使用时创建提供商并在进程内复用；创建失败的结果同样被缓存
type Lazy[T any] struct {
	name string
	load func(ctx context.Context) (T, error)

	once   sync.Once
	mu     sync.RWMutex
	value  T
	err    error
	loaded bool
}

// NewLazy 创建延迟加载器
func NewLazy[T any](name string, load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, load: load}
}

// Name 加载器名称（通常为 provider.model_key）
func (l *Lazy[T]) Name() string { return l.name }

// Get 返回提供商；并发调用只会触发一次加载
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.once.Do(func() {
		// 加载结果会被所有调用方共享，不随首个请求取消
		v, err := l.load(context.WithoutCancel(ctx))
		if err != nil && !errors.Is(err, common.ErrModelUnavailable) {
			err = common.Wrapf("embedding", common.ErrModelUnavailable, err, "加载 %s 失败", l.name)
		}
		l.mu.Lock()
		l.value, l.err, l.loaded = v, err, true
		l.mu.Unlock()
	})
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.err
}

// Loaded 是否已完成加载（无论成功与否）
func (l *Lazy[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Ready 已加载且可用
func (l *Lazy[T]) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded && l.err == nil
}
