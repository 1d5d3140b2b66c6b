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

package metadata

import (
	"context"

	"mmrag/internal/pipeline/common"
)

// Catalog 已摄取文档的只追加台账
type Catalog interface {
	// Append 追加一条文档记录
	Append(ctx context.Context, doc common.Document) error
	// List 按追加顺序返回全部记录
	List(ctx context.Context) ([]common.Document, error)
	// Get 按 doc_id 获取记录，不存在时返回 common.ErrDocumentNotFound
	Get(ctx context.Context, docID string) (common.Document, error)
	// Len 记录数量
	Len(ctx context.Context) (int, error)
	// Reset 清空台账，返回被删除的文件名
	Reset(ctx context.Context) ([]string, error)
}
