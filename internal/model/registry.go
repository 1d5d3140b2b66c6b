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

package model

import (
	"context"
	"fmt"
	"sync"

	"mmrag/internal/model/embedding"
	"mmrag/pkg/config"
	"mmrag/pkg/secrets"
)

// Registry 按 provider.model_key 解析 Embedding 提供商，每个 key 只创建一次
type Registry struct {
	cfg     config.ModelConfig
	secrets secrets.Store

	mu    sync.Mutex
	text  map[string]*embedding.Lazy[embedding.TextEmbedder]
	joint map[string]*embedding.Lazy[embedding.JointEmbedder]
}

// NewRegistry 创建模型注册表；store 为 nil 时 secret:// 引用无法解析
func NewRegistry(cfg config.ModelConfig, store secrets.Store) *Registry {
	return &Registry{
		cfg:     cfg,
		secrets: store,
		text:    make(map[string]*embedding.Lazy[embedding.TextEmbedder]),
		joint:   make(map[string]*embedding.Lazy[embedding.JointEmbedder]),
	}
}

// Spec 解析 key 对应的提供商参数
func (r *Registry) Spec(ctx context.Context, key string) (embedding.ProviderSpec, error) {
	providerName, modelKey, err := config.ParseDefaultKey(key)
	if err != nil {
		return embedding.ProviderSpec{}, err
	}
	pc, ok := r.cfg.Embedding.Providers[providerName]
	if !ok {
		return embedding.ProviderSpec{}, fmt.Errorf("Embedding provider not registered: %s", providerName)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return embedding.ProviderSpec{}, fmt.Errorf("Embedding model not registered: %s", key)
	}
	apiKey, err := secrets.Resolve(ctx, r.secrets, pc.APIKey)
	if err != nil {
		return embedding.ProviderSpec{}, err
	}
	return embedding.ProviderSpec{
		Provider:  providerName,
		Type:      pc.Type,
		APIKey:    apiKey,
		BaseURL:   pc.BaseURL,
		Timeout:   pc.Timeout,
		RateLimit: pc.RateLimit,
		BatchSize: pc.BatchSize,
		Model:     mi.Name,
		Dimension: mi.Dimension,
	}, nil
}

// Text 文本提供商（split 模式），key 为空时使用 defaults.text
func (r *Registry) Text(key string) *embedding.Lazy[embedding.TextEmbedder] {
	if key == "" {
		key = r.cfg.Defaults.Text
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.text[key]; ok {
		return l
	}
	l := embedding.NewLazy(key, func(ctx context.Context) (embedding.TextEmbedder, error) {
		spec, err := r.Spec(ctx, key)
		if err != nil {
			return nil, err
		}
		return embedding.New(ctx, spec)
	})
	r.text[key] = l
	return l
}

// Joint 联合提供商（unified 模式），key 为空时使用 defaults.joint
func (r *Registry) Joint(key string) *embedding.Lazy[embedding.JointEmbedder] {
	if key == "" {
		key = r.cfg.Defaults.Joint
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.joint[key]; ok {
		return l
	}
	l := embedding.NewLazy(key, func(ctx context.Context) (embedding.JointEmbedder, error) {
		spec, err := r.Spec(ctx, key)
		if err != nil {
			return nil, err
		}
		return embedding.NewJoint(ctx, spec)
	})
	r.joint[key] = l
	return l
}

// DefaultText 默认文本提供商
func (r *Registry) DefaultText() *embedding.Lazy[embedding.TextEmbedder] {
	return r.Text("")
}

// DefaultJoint 默认联合提供商
func (r *Registry) DefaultJoint() *embedding.Lazy[embedding.JointEmbedder] {
	return r.Joint("")
}

var _ embedding.Source = (*Registry)(nil)
