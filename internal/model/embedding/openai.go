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
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"mmrag/internal/pipeline/common"
)

// OpenAIConfig OpenAI 兼容 /v1/embeddings 服务配置（OpenAI、TEI、Ollama、vLLM 等）
type OpenAIConfig struct {
	Name      string // 提供商名称，用于指标
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int // 0 表示首次加载时探测
	BatchSize int
	RateLimit float64
	Timeout   time.Duration
}

// OpenAIProvider 文本向量化提供商（句向量模型）
type OpenAIProvider struct {
	client    openai.Client
	name      string
	model     string
	dimension int
	batchSize int
	sendDims  bool
	limiter   *rate.Limiter
}

// NewOpenAIProvider 创建提供商；Dimension 为 0 时发起一次探测请求确定维度
func NewOpenAIProvider(ctx context.Context, cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, common.Errorf("embedding", common.ErrModelUnavailable, "未配置 embedding 模型名称")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// 本地推理服务通常不校验密钥
		apiKey = "EMPTY"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > 2048 {
		batch = 64
	}
	p := &OpenAIProvider{
		client:    openai.NewClient(opts...),
		name:      name,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batch,
		// 只有 text-embedding-3 系列接受 dimensions 参数
		sendDims: cfg.Dimension > 0 && strings.HasPrefix(cfg.Model, "text-embedding-3"),
		limiter:  newLimiter(cfg.RateLimit),
	}
	if p.dimension <= 0 {
		sample, err := p.embed(ctx, []string{"dimension check"})
		if err != nil {
			return nil, common.Wrapf("embedding", common.ErrModelUnavailable, err, "探测模型 %s 维度", cfg.Model)
		}
		p.dimension = len(sample[0])
	}
	return p, nil
}

// Model 模型名称
func (p *OpenAIProvider) Model() string { return p.model }

// Dimension 向量维度
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// EmbedText 批量向量化
func (p *OpenAIProvider) EmbedText(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, r := range batchRanges(len(texts), p.batchSize) {
		vs, err := p.embed(ctx, texts[r[0]:r[1]])
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	if err := checkVectors(p.name, out, len(texts), p.dimension); err != nil {
		return nil, err
	}
	if normalize {
		normalizeAll(out)
	}
	return out, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string) (vs [][]float32, err error) {
	start := time.Now()
	defer func() { observe(p.name, kindText, start, err) }()

	if err := waitLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(p.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.sendDims {
		params.Dimensions = openai.Int(int64(p.dimension))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, common.Wrapf("embedding", common.ErrModelUnavailable, err, "%s 向量化请求", p.name)
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vs = make([][]float32, len(data))
	for i, d := range data {
		vs[i] = toFloat32(d.Embedding)
	}
	if err := checkVectors(p.name, vs, len(texts), 0); err != nil {
		return nil, err
	}
	return vs, nil
}
