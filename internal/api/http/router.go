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
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"mmrag/internal/api/http/middleware"
)

// Router HTTP 路由
type Router struct {
	handler       *Handler
	middleware    *middleware.Middleware
	maxUploadSize int
	global        []app.HandlerFunc
}

// NewRouter 创建路由
func NewRouter(handler *Handler, middleware *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: middleware}
}

// SetMaxUploadSize 设置请求体上限（字节），<=0 使用 hertz 默认
func (r *Router) SetMaxUploadSize(n int) {
	r.maxUploadSize = n
}

// Use 追加在内置中间件之前执行的全局中间件，需在 Build 前调用
func (r *Router) Use(mw ...app.HandlerFunc) {
	r.global = append(r.global, mw...)
}

// Build 创建 Hertz 服务并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := []config.Option{server.WithHostPorts(addr)}
	if r.maxUploadSize > 0 {
		all = append(all, server.WithMaxRequestBodySize(r.maxUploadSize))
	}
	h := server.Default(append(all, opts...)...)
	r.Register(h)
	return h
}

// Register 注册全部路由
func (r *Router) Register(h *server.Hertz) {
	mw := r.middleware
	if len(r.global) > 0 {
		h.Use(r.global...)
	}
	h.Use(mw.AccessLog(), mw.CORS(), mw.RateLimit())

	h.GET("/metrics", r.handler.Metrics)
	h.GET("/static/images/*filepath", r.handler.StaticImage)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	if mw.AuthEnabled() {
		api.POST("/login", mw.LoginHandler())
	}

	protected := api.Group("", mw.Auth())
	protected.POST("/documents/upload", r.handler.UploadDocument)
	protected.GET("/documents", r.handler.ListDocuments)
	protected.GET("/documents/:doc_id", r.handler.GetDocument)
	protected.GET("/search", r.handler.Search)
	protected.POST("/reset", r.handler.Reset)
}
