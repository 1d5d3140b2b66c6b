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
	"image"
)

// TextEmbedder 文本向量化
type TextEmbedder interface {
	// Model 模型名称
	Model() string
	// Dimension 输出向量维度
	Dimension() int
	// EmbedText 返回与 texts 一一对应的向量；normalize 为 true 时做 L2 归一化
	EmbedText(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
}

// ImageEmbedder 图片向量化
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, images []image.Image, normalize bool) ([][]float32, error)
}

// JointEmbedder 文本与图片共享同一向量空间
type JointEmbedder interface {
	TextEmbedder
	ImageEmbedder
}

// Source 按 provider.model_key 获取提供商，key 为空时返回默认提供商
type Source interface {
	Text(key string) *Lazy[TextEmbedder]
	Joint(key string) *Lazy[JointEmbedder]
}
