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
	"container/heap"
	"sort"
)

type candidate struct {
	pos   int
	score float64
}

// worse 分数更差，或分数相同时插入更晚
func worse(m Metric, a, b candidate) bool {
	if a.score != b.score {
		return m.Better(b.score, a.score)
	}
	return a.pos > b.pos
}

// boundedHeap 堆顶为当前最差候选
type boundedHeap struct {
	metric Metric
	items  []candidate
}

func (h *boundedHeap) Len() int           { return len(h.items) }
func (h *boundedHeap) Less(i, j int) bool { return worse(h.metric, h.items[i], h.items[j]) }
func (h *boundedHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap) Push(x any)         { h.items = append(h.items, x.(candidate)) }
func (h *boundedHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// topK 对行优先存储的 data 做精确扫描，返回按优劣排序的前 k 个
func topK(m Metric, query []float32, data []float32, dim, k int) []candidate {
	n := 0
	if dim > 0 {
		n = len(data) / dim
	}
	if k <= 0 || n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	h := &boundedHeap{metric: m, items: make([]candidate, 0, k)}
	for pos := 0; pos < n; pos++ {
		c := candidate{pos: pos, score: m.Score(query, data[pos*dim:(pos+1)*dim])}
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if worse(m, h.items[0], c) {
			h.items[0] = c
			heap.Fix(h, 0)
		}
	}
	out := h.items
	sort.Slice(out, func(i, j int) bool { return worse(m, out[j], out[i]) })
	return out
}
