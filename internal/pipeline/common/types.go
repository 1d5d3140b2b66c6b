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

package common

import (
	"context"
	"time"
)

// PipelineContext Pipeline 执行上下文
type PipelineContext struct {
	Context   context.Context
	ID        string
	Metadata  map[string]interface{}
	StartTime time.Time
	EndTime   time.Time
	Status    string
	Error     error
}

// NewPipelineContext 创建新的 Pipeline 上下文
func NewPipelineContext(ctx context.Context, id string) *PipelineContext {
	return &PipelineContext{
		Context:   ctx,
		ID:        id,
		Metadata:  make(map[string]interface{}),
		StartTime: time.Now(),
		Status:    "running",
	}
}

// Finish 记录结束时间与状态
func (c *PipelineContext) Finish(err error) {
	c.EndTime = time.Now()
	c.Error = err
	if err != nil {
		c.Status = "failed"
		return
	}
	c.Status = "completed"
}

// Duration 返回执行耗时
func (c *PipelineContext) Duration() time.Duration {
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// Document 已入库文档在 catalog 中的记录
type Document struct {
	DocID      string `json:"doc_id"`
	PDFPath    string `json:"pdf_path"`
	TextJSON   string `json:"text_json"`
	ImagesJSON string `json:"images_json"`
	TablesJSON string `json:"tables_json"`
}

// 索引名称
const (
	IndexText    = "text"
	IndexImage   = "image"
	IndexUnified = "unified"
)

// 检索模式
const (
	ModeSplit   = "split"
	ModeUnified = "unified"
)

// 条目类型
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeTable = "table"
)

// TextChunk 文本切片
type TextChunk struct {
	DocID      string  `json:"doc_id"`
	ChunkID    int     `json:"chunk_id"`
	PageNumber *int    `json:"page_number"`
	Section    *string `json:"section"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
}

// ImageRecord 图片记录；split 模式使用 ImagePath，unified 模式使用 ImageID
type ImageRecord struct {
	DocID      string  `json:"doc_id"`
	PageNumber *int    `json:"page_number"`
	Section    *string `json:"section"`
	ImagePath  string  `json:"image_path,omitempty"`
	ImageID    string  `json:"image_id,omitempty"`
	Caption    string  `json:"caption"`
}

// TableRecord 表格记录，只持久化不建索引
type TableRecord struct {
	DocID      string  `json:"doc_id"`
	PageNumber *int    `json:"page_number"`
	Section    *string `json:"section"`
	Content    string  `json:"content"`
	Type       string  `json:"type"`
}

// UnifiedRecord unified 索引中每个向量对应的元数据
type UnifiedRecord struct {
	DocID   string `json:"doc_id"`
	Page    int    `json:"page"`
	Type    string `json:"type"`
	Content string `json:"content"`
	ChunkID *int   `json:"chunk_id,omitempty"`
	ImageID string `json:"image_id,omitempty"`
}

// TextHit 文本检索结果
type TextHit struct {
	Rank    int     `json:"rank"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
	Page    *int    `json:"page"`
	Section *string `json:"section"`
	DocID   string  `json:"doc_id"`
	ChunkID int     `json:"chunk_id"`
}

// ImageHit 图片检索结果
type ImageHit struct {
	Rank      int     `json:"rank"`
	Score     float64 `json:"score"`
	ImagePath string  `json:"image_path"`
	Caption   string  `json:"caption"`
	Page      *int    `json:"page"`
	DocID     string  `json:"doc_id"`
}

// UnifiedHit unified 检索结果，文本与图片混排
type UnifiedHit struct {
	Rank    int     `json:"rank"`
	Score   float64 `json:"score"`
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Page    int     `json:"page"`
	DocID   string  `json:"doc_id"`
	ChunkID *int    `json:"chunk_id,omitempty"`
	ImageID string  `json:"image_id,omitempty"`
}

// IntPtr 返回 v 的指针
func IntPtr(v int) *int { return &v }

// StringPtr 返回 s 的指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
