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
	"fmt"
	"time"
)

// ProviderSpec 创建单个模型提供商所需的参数（API key 已解析）
type ProviderSpec struct {
	Provider  string // 配置中的提供商名称
	Type      string // openai | clip | hashing
	APIKey    string
	BaseURL   string
	Timeout   string
	RateLimit float64
	BatchSize int
	Model     string
	Dimension int
}

// New 按类型创建提供商
func New(ctx context.Context, spec ProviderSpec) (TextEmbedder, error) {
	timeout := 60 * time.Second
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("解析 %s.timeout 失败: %w", spec.Provider, err)
		}
		timeout = d
	}

	switch spec.Type {
	case "openai":
		return NewOpenAIProvider(ctx, OpenAIConfig{
			Name:      spec.Provider,
			APIKey:    spec.APIKey,
			BaseURL:   spec.BaseURL,
			Model:     spec.Model,
			Dimension: spec.Dimension,
			BatchSize: spec.BatchSize,
			RateLimit: spec.RateLimit,
			Timeout:   timeout,
		})
	case "clip":
		return NewCLIPProvider(ctx, CLIPConfig{
			Name:      spec.Provider,
			BaseURL:   spec.BaseURL,
			APIKey:    spec.APIKey,
			Model:     spec.Model,
			Dimension: spec.Dimension,
			BatchSize: spec.BatchSize,
			RateLimit: spec.RateLimit,
			Timeout:   timeout,
		})
	case "hashing":
		return NewHashingProvider(spec.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s", spec.Type)
	}
}

// NewJoint 创建联合提供商，提供商不支持图片时返回错误
func NewJoint(ctx context.Context, spec ProviderSpec) (JointEmbedder, error) {
	p, err := New(ctx, spec)
	if err != nil {
		return nil, err
	}
	j, ok := p.(JointEmbedder)
	if !ok {
		return nil, fmt.Errorf("provider %s (%s) 不支持图片向量化", spec.Provider, spec.Type)
	}
	return j, nil
}
