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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 与 CLI 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		IngestDuration, IngestTotal, IndexedEntries,
		SearchDuration, SearchTotal,
		EmbeddingRequests, EmbeddingDuration,
		ParseSkipped, QueryCacheTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IngestDuration 单个 PDF 入库耗时（秒）
var IngestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mmrag_ingest_duration_seconds",
		Help:    "单个 PDF 入库耗时（秒）",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"mode"}, // split | unified
)

// IngestTotal 入库次数（按结果）
var IngestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mmrag_ingest_total",
		Help: "入库次数",
	},
	[]string{"mode", "status"}, // status: ok | error code
)

// IndexedEntries 各索引当前条目数
var IndexedEntries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mmrag_indexed_entries",
		Help: "索引条目数",
	},
	[]string{"index"},
)

// SearchDuration 检索耗时（秒）
var SearchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mmrag_search_duration_seconds",
		Help:    "检索耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"mode"},
)

// SearchTotal 检索次数（按结果）
var SearchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mmrag_search_total",
		Help: "检索次数",
	},
	[]string{"mode", "status"},
)

// EmbeddingRequests 向量化请求数
var EmbeddingRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mmrag_embedding_requests_total",
		Help: "向量化请求数",
	},
	[]string{"provider", "kind", "status"}, // kind: text | image
)

// EmbeddingDuration 向量化请求耗时（秒）
var EmbeddingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mmrag_embedding_duration_seconds",
		Help:    "向量化请求耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider", "kind"},
)

// ParseSkipped 解析时跳过的元素数
var ParseSkipped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mmrag_parse_skipped_elements_total",
		Help: "解析时跳过的畸形元素数",
	},
	[]string{"reason"},
)

// QueryCacheTotal 查询向量缓存命中情况
var QueryCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mmrag_query_cache_total",
		Help: "查询向量缓存命中情况",
	},
	[]string{"result"}, // hit | miss
)

// StatusLabel 将错误转换为指标标签
func StatusLabel(err error, code func(error) string) string {
	if err == nil {
		return "ok"
	}
	if code == nil {
		return "error"
	}
	return code(err)
}

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
