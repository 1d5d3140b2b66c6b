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
	"image"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/image/draw"

	"mmrag/internal/pipeline/common"
)

const thumbSide = 16

// HashingProvider 基于特征哈希的确定性联合提供商，无需模型服务，用于离线与测试
//
// 文本取小写词的一元与二元组，图片取 16x16 灰度缩略图的去均值像素与亮度档位；
// 两者落在同一个 dim 维空间但语义并不对齐。
type HashingProvider struct {
	dim   int
	model string
}

// NewHashingProvider 创建指定维度的哈希提供商
func NewHashingProvider(dim int) (*HashingProvider, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing 维度必须为正数: %d", dim)
	}
	return &HashingProvider{dim: dim, model: fmt.Sprintf("hashing-%d", dim)}, nil
}

// Model 模型名称
func (h *HashingProvider) Model() string { return h.model }

// Dimension 向量维度
func (h *HashingProvider) Dimension() int { return h.dim }

// EmbedText 文本特征哈希
func (h *HashingProvider) EmbedText(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := make([]float32, h.dim)
		tokens := tokenize(t)
		for j, tok := range tokens {
			h.add(v, "u:"+tok, 1)
			if j > 0 {
				h.add(v, "b:"+tokens[j-1]+" "+tok, 0.5)
			}
		}
		out[i] = v
	}
	if normalize {
		normalizeAll(out)
	}
	return out, nil
}

// EmbedImage 缩略图像素哈希
func (h *HashingProvider) EmbedImage(ctx context.Context, images []image.Image, normalize bool) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if img == nil || img.Bounds().Empty() {
			return nil, common.Errorf("embedding", common.ErrInvalidInput, "第 %d 张图片为空", i)
		}
		thumb := image.NewGray(image.Rect(0, 0, thumbSide, thumbSide))
		draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

		var mean float64
		for _, p := range thumb.Pix {
			mean += float64(p)
		}
		mean /= float64(len(thumb.Pix))

		v := make([]float32, h.dim)
		for j, p := range thumb.Pix {
			h.add(v, fmt.Sprintf("px:%d", j), (float64(p)-mean)/255)
		}
		// 纯色图片去均值后为零向量，保留亮度档位
		h.add(v, fmt.Sprintf("mean:%d", int(mean)/32), 0.5)
		out[i] = v
	}
	if normalize {
		normalizeAll(out)
	}
	return out, nil
}

// add 哈希到桶并按符号位累加
func (h *HashingProvider) add(v []float32, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += float32(weight)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
