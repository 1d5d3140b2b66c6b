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

package query

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"mmrag/internal/model/embedding"
	"mmrag/internal/storage/cache"
	"mmrag/pkg/log"
	"mmrag/pkg/metrics"
	"mmrag/pkg/tracing"
)

const queryKeyPrefix = "qvec:"

// Encoder 查询向量化，按 (model, normalize, query) 缓存结果
type Encoder struct {
	cache  cache.Store
	ttl    time.Duration
	logger *log.Logger
}

// NewEncoder 创建查询编码器；store 为 nil 时不缓存
func NewEncoder(store cache.Store, ttl time.Duration, logger *log.Logger) *Encoder {
	if store == nil {
		store = cache.NoopStore{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Encoder{cache: store, ttl: ttl, logger: logger}
}

// CacheKey 查询向量的缓存键
func CacheKey(model string, normalize bool, query string) string {
	h := xxhash.New()
	_, _ = h.WriteString(model)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatBool(normalize))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(query)
	return queryKeyPrefix + strconv.FormatUint(h.Sum64(), 16)
}

// Encode 返回查询向量；缓存读写失败只记录日志
func (e *Encoder) Encode(ctx context.Context, provider embedding.TextEmbedder, query string, normalize bool) (vec []float32, err error) {
	key := CacheKey(provider.Model(), normalize, query)
	switch err := e.cache.Get(ctx, key, &vec); {
	case err == nil && len(vec) == provider.Dimension():
		metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		e.logger.Warn("读取查询向量缓存失败", "error", err)
	}
	metrics.QueryCacheTotal.WithLabelValues("miss").Inc()

	ctx, span := tracing.StartEmbedSpan(ctx, provider.Model(), "query", 1)
	defer func() { tracing.End(span, err) }()
	vecs, err := provider.EmbedText(ctx, []string{query}, normalize)
	if err != nil {
		return nil, err
	}
	vec = vecs[0]
	if err := e.cache.Set(ctx, key, vec, e.ttl); err != nil {
		e.logger.Warn("写入查询向量缓存失败", "error", err)
	}
	return vec, nil
}
