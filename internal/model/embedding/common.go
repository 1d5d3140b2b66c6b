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
	"math"
	"time"

	"golang.org/x/time/rate"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/metrics"
)

const (
	kindText  = "text"
	kindImage = "image"
)

// newLimiter 每秒 rps 次请求，<=0 不限流
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(rps))
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// waitLimiter 等待令牌，ctx 取消时返回错误
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

func observe(provider, kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingRequests.WithLabelValues(provider, kind, status).Inc()
	metrics.EmbeddingDuration.WithLabelValues(provider, kind).Observe(time.Since(start).Seconds())
}

// batchRanges 把 n 个输入按 size 切分为 [start,end) 区间
func batchRanges(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// normalizeAll 原地 L2 归一化，零向量保持不变
func normalizeAll(vs [][]float32) {
	for _, v := range vs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum == 0 {
			continue
		}
		inv := 1 / math.Sqrt(sum)
		for i := range v {
			v[i] = float32(float64(v[i]) * inv)
		}
	}
}

// checkVectors 校验返回数量与维度；dim<=0 时只要求各向量维度一致
func checkVectors(provider string, vs [][]float32, want, dim int) error {
	if len(vs) != want {
		return common.Errorf("embedding", common.ErrModelUnavailable, "%s 返回 %d 个向量，期望 %d", provider, len(vs), want)
	}
	for i, v := range vs {
		if dim <= 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return common.Errorf("embedding", common.ErrDimensionMismatch, "%s 第 %d 个向量维度 %d，期望 %d", provider, i, len(v), dim)
		}
	}
	return nil
}
