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
	"fmt"
	"math"
	"strings"
)

// Metric 相似度度量
type Metric string

const (
	// MetricIP 内积，分数越大越相似
	MetricIP Metric = "IP"
	// MetricL2 平方欧氏距离，分数越小越相似
	MetricL2 Metric = "L2"
)

// ParseMetric 解析度量名称，空串返回 IP
func ParseMetric(s string) (Metric, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "IP":
		return MetricIP, nil
	case "L2":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("不支持的索引类型: %q", s)
	}
}

// Normalized 查询与入库向量是否需要 L2 归一化
func (m Metric) Normalized() bool {
	return m == MetricIP
}

// Score 按度量计算 a 与 b 的分数
func (m Metric) Score(a, b []float32) float64 {
	if m == MetricL2 {
		return SquaredL2(a, b)
	}
	return InnerProduct(a, b)
}

// Better a 是否优于 b
func (m Metric) Better(a, b float64) bool {
	if m == MetricL2 {
		return a < b
	}
	return a > b
}

// InnerProduct 内积
func InnerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// SquaredL2 平方欧氏距离
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Normalize 原地 L2 归一化，零向量保持不变
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
