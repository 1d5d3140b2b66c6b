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

package vector

import (
	"context"
	"encoding/json"
	"fmt"
)

// Index 一个持久化的向量索引：向量与元数据按位置一一对应，只追加
type Index interface {
	// Name 索引名称，如 text、image、unified
	Name() string
	// Metric 索引度量，创建后不可变
	Metric() Metric
	// Dimension 向量维度，创建后不可变
	Dimension() int
	// Len 条目数
	Len() int
	// Add 原子追加向量与元数据，两者要么全部落盘要么都不变
	Add(ctx context.Context, vectors [][]float32, records []json.RawMessage) error
	// Search 精确检索 top-k
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Records 返回全部元数据（按插入顺序）
	Records(ctx context.Context) ([]json.RawMessage, error)
}

// Store 索引集合，按名称打开或创建索引
type Store interface {
	// Open 打开已有索引或以给定度量创建；已有索引的度量优先，维度必须一致
	Open(ctx context.Context, name string, dim int, metric Metric) (Index, error)
	// Lookup 仅打开已存在的索引
	Lookup(ctx context.Context, name string) (Index, bool, error)
	// Reset 清空全部索引，返回删除的文件或表名
	Reset(ctx context.Context) ([]string, error)
	// Close 关闭存储连接
	Close() error
}

// Hit 检索结果
type Hit struct {
	Rank     int             `json:"rank"`     // 从 1 开始
	Score    float64         `json:"score"`    // IP 为内积，L2 为平方距离
	Position int             `json:"position"` // 在索引中的插入位置
	Record   json.RawMessage `json:"record"`
}

// IndexConfig 索引配置，首次创建时写入，之后只读
type IndexConfig struct {
	Type Metric `json:"type"`
	Dim  int    `json:"dim"`
}

// MarshalRecords 将任意元数据序列化为 Add 所需格式
func MarshalRecords[T any](records []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(records))
	for i := range records {
		b, err := json.Marshal(records[i])
		if err != nil {
			return nil, fmt.Errorf("序列化元数据 %d failed: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// DecodeHit 将命中的元数据解码为 T
func DecodeHit[T any](h Hit) (T, error) {
	var v T
	if err := json.Unmarshal(h.Record, &v); err != nil {
		return v, fmt.Errorf("解析元数据 %d failed: %w", h.Position, err)
	}
	return v, nil
}
