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

package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"
	"golang.org/x/time/rate"

	"mmrag/pkg/config"
	"mmrag/pkg/log"
)

const identityKey = "user"

// Middleware 中间件管理器
type Middleware struct {
	cfg     config.MiddlewareConfig
	logger  *log.Logger
	limiter *rate.Limiter
	jwt     *jwt.HertzJWTMiddleware
}

// NewMiddleware 创建中间件管理器；启用认证时初始化 JWT
func NewMiddleware(cfg config.MiddlewareConfig, logger *log.Logger) (*Middleware, error) {
	if logger == nil {
		logger = log.Nop()
	}
	m := &Middleware{cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Auth {
		mw, err := newJWT(cfg)
		if err != nil {
			return nil, err
		}
		m.jwt = mw
	}
	return m, nil
}

func newJWT(cfg config.MiddlewareConfig) (*jwt.HertzJWTMiddleware, error) {
	if cfg.JWTKey == "" {
		return nil, errors.New("api.middleware.jwt_key 未配置")
	}
	timeout := time.Hour
	if cfg.JWTTimeout != "" {
		d, err := time.ParseDuration(cfg.JWTTimeout)
		if err != nil {
			return nil, err
		}
		timeout = d
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "mmrag",
		Key:         []byte(cfg.JWTKey),
		Timeout:     timeout,
		MaxRefresh:  timeout,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if name, ok := data.(string); ok {
				return jwt.MapClaims{identityKey: name}
			}
			return jwt.MapClaims{}
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var login struct {
				Username string `json:"username" form:"username"`
				Password string `json:"password" form:"password"`
			}
			if err := c.Bind(&login); err != nil || login.Username == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			if login.Username != cfg.Username || login.Password != cfg.Password {
				return nil, jwt.ErrFailedAuthentication
			}
			return login.Username, nil
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"error": message, "code": "unauthorized"})
		},
	})
}

// AuthEnabled 是否启用 JWT 认证
func (m *Middleware) AuthEnabled() bool { return m.jwt != nil }

// LoginHandler 登录并签发 token
func (m *Middleware) LoginHandler() app.HandlerFunc {
	return m.jwt.LoginHandler
}

// Auth JWT 认证；未启用时放行
func (m *Middleware) Auth() app.HandlerFunc {
	if m.jwt == nil {
		return func(ctx context.Context, c *app.RequestContext) { c.Next(ctx) }
	}
	return m.jwt.MiddlewareFunc()
}

// CORS 跨域
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !m.cfg.CORS {
			c.Next(ctx)
			return
		}
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Max-Age", "86400")
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 全局令牌桶限流
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.limiter != nil && !m.limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "请求过于频繁，请稍后再试",
				"code":  "rate_limited",
			})
			return
		}
		c.Next(ctx)
	}
}

// AccessLog 访问日志
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		m.logger.Info("http",
			"method", string(c.Method()),
			"path", string(c.Path()),
			"status", c.Response.StatusCode(),
			"client_ip", c.ClientIP(),
			"latency", time.Since(start).String())
	}
}
