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

package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	mmapp "mmrag/internal/app"
	"mmrag/internal/pipeline/common"
	"mmrag/internal/pipeline/ingest"
	"mmrag/internal/pipeline/query"
	"mmrag/internal/storage/object"
	"mmrag/pkg/metrics"
)

// Ingester 入库与重置
type Ingester interface {
	IngestSplit(ctx context.Context, pdfPath string, o ingest.IngestOptions) (*ingest.SplitIngestResult, error)
	IngestUnified(ctx context.Context, pdfPath string, o ingest.IngestOptions) (*ingest.UnifiedIngestResult, error)
	Reset(ctx context.Context) ([]string, error)
}

// SplitSearcher split 模式检索
type SplitSearcher interface {
	Search(ctx context.Context, q string, k int, opts query.SearchOptions) (*query.SplitResult, error)
}

// UnifiedSearcher unified 模式检索
type UnifiedSearcher interface {
	Search(ctx context.Context, q string, k int, opts query.SearchOptions) (*query.UnifiedResult, error)
}

// Handler HTTP 处理器
type Handler struct {
	ingester   Ingester
	docService mmapp.DocumentService
	split      SplitSearcher
	unified    UnifiedSearcher
	objects    object.Store
	uploadsDir string
	mode       string
	splitK     int
	unifiedK   int
}

// NewHandler 创建处理器；默认 unified 模式，上传目录 static/uploads
func NewHandler(ingester Ingester, docService mmapp.DocumentService) *Handler {
	return &Handler{
		ingester:   ingester,
		docService: docService,
		uploadsDir: filepath.Join("static", "uploads"),
		mode:       common.ModeUnified,
		splitK:     query.DefaultSplitK,
		unifiedK:   query.DefaultUnifiedK,
	}
}

// SetRetrievers 设置检索器
func (h *Handler) SetRetrievers(split SplitSearcher, unified UnifiedSearcher) {
	h.split = split
	h.unified = unified
}

// SetObjects 设置图片对象存储（/static/images）
func (h *Handler) SetObjects(objects object.Store) {
	h.objects = objects
}

// SetUploadsDir 设置上传目录
func (h *Handler) SetUploadsDir(dir string) {
	if dir != "" {
		h.uploadsDir = dir
	}
}

// SetMode 设置默认管线模式与默认 top-k
func (h *Handler) SetMode(mode string, splitK, unifiedK int) {
	if mode != "" {
		h.mode = mode
	}
	if splitK > 0 {
		h.splitK = splitK
	}
	if unifiedK > 0 {
		h.unifiedK = unifiedK
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

// UploadDocument 上传 PDF 并入库
// POST /api/documents/upload
func (h *Handler) UploadDocument(ctx context.Context, c *app.RequestContext) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "No file part")
		return
	}
	name := filepath.Base(strings.ReplaceAll(file.Filename, "\\", "/"))
	if file.Filename == "" || name == "." || name == "/" {
		badRequest(c, "No selected file")
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		badRequest(c, "Only PDF files are supported")
		return
	}
	mode, err := h.modeOf(string(c.FormValue("mode")))
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		writeError(ctx, c, common.Wrapf("upload", common.ErrPersistence, err, "创建上传目录"))
		return
	}
	dst := filepath.Join(h.uploadsDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		writeError(ctx, c, common.Wrapf("upload", common.ErrPersistence, err, "保存 %s", name))
		return
	}

	opts := ingest.IngestOptions{
		Model:     string(c.FormValue("model")),
		IndexType: string(c.FormValue("index_type")),
		Uploaded:  name,
	}
	var res interface{}
	if mode == common.ModeSplit {
		res, err = h.ingester.IngestSplit(ctx, dst, opts)
	} else {
		res, err = h.ingester.IngestUnified(ctx, dst, opts)
	}
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// Search 检索
// GET /api/search?query=&k=&mode=&model=
func (h *Handler) Search(ctx context.Context, c *app.RequestContext) {
	q := strings.TrimSpace(c.Query("query"))
	if q == "" {
		badRequest(c, "Missing query")
		return
	}
	mode, err := h.modeOf(c.Query("mode"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	k := h.unifiedK
	if mode == common.ModeSplit {
		k = h.splitK
	}
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "k must be a positive integer")
			return
		}
		k = n
	}
	opts := query.SearchOptions{Model: c.Query("model")}

	if mode == common.ModeSplit {
		if h.split == nil {
			writeError(ctx, c, common.Errorf("search", common.ErrModelUnavailable, "split 检索未启用"))
			return
		}
		res, err := h.split.Search(ctx, q, k, opts)
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		c.JSON(consts.StatusOK, res)
		return
	}
	if h.unified == nil {
		writeError(ctx, c, common.Errorf("search", common.ErrModelUnavailable, "unified 检索未启用"))
		return
	}
	res, err := h.unified.Search(ctx, q, k, opts)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// Reset 清空全部索引与台账
// POST /api/reset
func (h *Handler) Reset(ctx context.Context, c *app.RequestContext) {
	removed, err := h.ingester.Reset(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"removed": removed})
}

// ListDocuments 分页列出台账
// GET /api/documents?offset=&limit=
func (h *Handler) ListDocuments(ctx context.Context, c *app.RequestContext) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	page, err := h.docService.ListDocuments(ctx, offset, limit)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, page)
}

// GetDocument 获取单个文档
// GET /api/documents/:doc_id
func (h *Handler) GetDocument(ctx context.Context, c *app.RequestContext) {
	doc, err := h.docService.GetDocument(ctx, c.Param("doc_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, doc)
}

// Metrics Prometheus 文本格式
// GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// StaticImage 读取已保存的图片
// GET /static/images/*filepath
func (h *Handler) StaticImage(ctx context.Context, c *app.RequestContext) {
	if h.objects == nil {
		c.JSON(consts.StatusNotFound, map[string]string{"error": "not found", "code": "not_found"})
		return
	}
	key := strings.TrimPrefix(c.Param("filepath"), "/")
	rc, info, err := h.objects.Get(ctx, key)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, info.ContentType, data)
}

func (h *Handler) modeOf(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return h.mode, nil
	case common.ModeSplit:
		return common.ModeSplit, nil
	case common.ModeUnified:
		return common.ModeUnified, nil
	}
	return "", common.Errorf("http", common.ErrInvalidInput, "mode 仅支持 unified|split，当前: %q", raw)
}

func badRequest(c *app.RequestContext, msg string) {
	c.JSON(consts.StatusBadRequest, map[string]string{"error": msg, "code": "invalid_input"})
}

// StatusOf 将核心错误映射为 HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return consts.StatusBadRequest
	case errors.Is(err, common.ErrDocumentNotFound):
		return consts.StatusNotFound
	case errors.Is(err, common.ErrParseFailure):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, common.ErrDimensionMismatch):
		return consts.StatusConflict
	case errors.Is(err, common.ErrModelUnavailable):
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := StatusOf(err)
	if status >= consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "%s %s failed: %v", c.Method(), c.Path(), err)
	}
	c.JSON(status, map[string]string{"error": err.Error(), "code": common.ErrorCode(err)})
}
