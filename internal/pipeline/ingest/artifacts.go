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

package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/utils"
)

// ArtifactWriter 每个文档的 {doc_id}_text.json / _images.json / _tables.json
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter 创建 ArtifactWriter
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.Wrapf("artifacts", common.ErrPersistence, err, "创建 %s", dir)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Paths 文档的三个产物路径
func (w *ArtifactWriter) Paths(docID string) (text, images, tables string) {
	return filepath.Join(w.dir, docID+"_text.json"),
		filepath.Join(w.dir, docID+"_images.json"),
		filepath.Join(w.dir, docID+"_tables.json")
}

// Write 写入三个产物并返回 catalog 记录；nil 切片写为 []
func (w *ArtifactWriter) Write(pdfPath, docID string, chunks []common.TextChunk, images []common.ImageRecord, tables []common.TableRecord) (common.Document, error) {
	textPath, imagesPath, tablesPath := w.Paths(docID)
	if chunks == nil {
		chunks = []common.TextChunk{}
	}
	if images == nil {
		images = []common.ImageRecord{}
	}
	if tables == nil {
		tables = []common.TableRecord{}
	}
	for _, f := range []struct {
		path string
		v    any
	}{{textPath, chunks}, {imagesPath, images}, {tablesPath, tables}} {
		if err := utils.WriteJSONAtomic(f.path, f.v); err != nil {
			return common.Document{}, common.Wrapf("artifacts", common.ErrPersistence, err, "写入 %s", f.path)
		}
	}
	return common.Document{
		DocID:      docID,
		PDFPath:    pdfPath,
		TextJSON:   textPath,
		ImagesJSON: imagesPath,
		TablesJSON: tablesPath,
	}, nil
}

// ReadText 读取文本产物
func ReadText(path string) ([]common.TextChunk, error) {
	var out []common.TextChunk
	if err := utils.ReadJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadImages 读取图片产物
func ReadImages(path string) ([]common.ImageRecord, error) {
	var out []common.ImageRecord
	if err := utils.ReadJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadTables 读取表格产物
func ReadTables(path string) ([]common.TableRecord, error) {
	var out []common.TableRecord
	if err := utils.ReadJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reset 删除全部文档产物，返回被删除的文件名
func (w *ArtifactWriter) Reset() ([]string, error) {
	var removed []string
	for _, pattern := range []string{"*_text.json", "*_images.json", "*_tables.json"} {
		matches, err := filepath.Glob(filepath.Join(w.dir, pattern))
		if err != nil {
			return removed, err
		}
		for _, m := range matches {
			ok, err := utils.RemoveIfExists(m)
			if err != nil {
				return removed, common.Wrapf("artifacts", common.ErrPersistence, err, "删除 %s", m)
			}
			if ok {
				removed = append(removed, filepath.Base(m))
			}
		}
	}
	sort.Strings(removed)
	return removed, nil
}
