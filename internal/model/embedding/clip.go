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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"mmrag/internal/pipeline/common"
)

// CLIPConfig CLIP 推理服务配置
type CLIPConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int // 0 表示首次加载时探测
	BatchSize int
	RateLimit float64
	Timeout   time.Duration
}

// CLIPProvider 文本与图片共享向量空间的联合提供商
//
// 服务端协议：
//
//	POST /embed/text  {"model": "...", "texts": ["..."]}
//	POST /embed/image {"model": "...", "images": ["<base64 png>"]}
//	=> {"embeddings": [[...], ...]}
//
// 文本截断到 77 个 token 由服务端负责。
type CLIPProvider struct {
	client    *resty.Client
	name      string
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
}

type clipTextRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type clipImageRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

type clipResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type clipError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// NewCLIPProvider 创建 CLIP 提供商；Dimension 为 0 时探测
func NewCLIPProvider(ctx context.Context, cfg CLIPConfig) (*CLIPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, common.Errorf("embedding", common.ErrModelUnavailable, "CLIP 服务地址未配置")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	name := cfg.Name
	if name == "" {
		name = "clip"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	p := &CLIPProvider{
		client:    client,
		name:      name,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batch,
		limiter:   newLimiter(cfg.RateLimit),
	}
	if p.dimension <= 0 {
		sample, err := p.post(ctx, kindText, "/embed/text", clipTextRequest{Model: p.model, Texts: []string{"dimension check"}}, 1)
		if err != nil {
			return nil, common.Wrapf("embedding", common.ErrModelUnavailable, err, "探测模型 %s 维度", cfg.Model)
		}
		p.dimension = len(sample[0])
	}
	return p, nil
}

// Model 模型名称
func (p *CLIPProvider) Model() string { return p.model }

// Dimension 向量维度
func (p *CLIPProvider) Dimension() int { return p.dimension }

// EmbedText 文本编码
func (p *CLIPProvider) EmbedText(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, r := range batchRanges(len(texts), p.batchSize) {
		vs, err := p.post(ctx, kindText, "/embed/text", clipTextRequest{Model: p.model, Texts: texts[r[0]:r[1]]}, r[1]-r[0])
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return p.finish(out, len(texts), normalize)
}

// EmbedImage 图片编码，图片以 PNG base64 传输
func (p *CLIPProvider) EmbedImage(ctx context.Context, images []image.Image, normalize bool) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(images))
	for _, r := range batchRanges(len(images), p.batchSize) {
		encoded := make([]string, 0, r[1]-r[0])
		for i := r[0]; i < r[1]; i++ {
			s, err := EncodePNGBase64(images[i])
			if err != nil {
				return nil, common.Wrapf("embedding", common.ErrInvalidInput, err, "编码第 %d 张图片", i)
			}
			encoded = append(encoded, s)
		}
		vs, err := p.post(ctx, kindImage, "/embed/image", clipImageRequest{Model: p.model, Images: encoded}, len(encoded))
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return p.finish(out, len(images), normalize)
}

func (p *CLIPProvider) finish(out [][]float32, want int, normalize bool) ([][]float32, error) {
	if err := checkVectors(p.name, out, want, p.dimension); err != nil {
		return nil, err
	}
	if normalize {
		normalizeAll(out)
	}
	return out, nil
}

func (p *CLIPProvider) post(ctx context.Context, kind, path string, body any, want int) (vs [][]float32, err error) {
	start := time.Now()
	defer func() { observe(p.name, kind, start, err) }()

	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}
	var out clipResponse
	var apiErr clipError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return nil, common.Wrapf("embedding", common.ErrModelUnavailable, err, "%s %s", p.name, path)
	}
	if resp.StatusCode() != http.StatusOK {
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Detail
		}
		if msg == "" {
			msg = resp.String()
		}
		kindErr := common.ErrModelUnavailable
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
			kindErr = common.ErrInvalidInput
		}
		return nil, common.Errorf("embedding", kindErr, "%s %s: HTTP %d: %s", p.name, path, resp.StatusCode(), msg)
	}
	if err := checkVectors(p.name, out.Embeddings, want, 0); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// EncodePNG 将图片编码为 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("图片为空")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodePNGBase64 将图片编码为 base64 PNG
func EncodePNGBase64(img image.Image) (string, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
