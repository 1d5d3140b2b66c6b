package middleware

import (
	"context"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"mmrag/pkg/config"
)

func newEngine(t *testing.T, cfg config.MiddlewareConfig) *server.Hertz {
	t.Helper()
	m, err := NewMiddleware(cfg, nil)
	if err != nil {
		t.Fatalf("NewMiddleware: %v", err)
	}
	h := server.Default(server.WithHostPorts(":0"))
	h.Use(m.AccessLog(), m.CORS(), m.RateLimit())
	h.GET("/ping", m.Auth(), func(ctx context.Context, c *app.RequestContext) {
		c.String(consts.StatusOK, "pong")
	})
	return h
}

func TestRateLimit(t *testing.T) {
	h := newEngine(t, config.MiddlewareConfig{RateLimit: 1})
	if got := ut.PerformRequest(h.Engine, "GET", "/ping", nil).Result().StatusCode(); got != consts.StatusOK {
		t.Fatalf("first request status = %d, want 200", got)
	}
	if got := ut.PerformRequest(h.Engine, "GET", "/ping", nil).Result().StatusCode(); got != consts.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", got)
	}
}

func TestCORS(t *testing.T) {
	h := newEngine(t, config.MiddlewareConfig{CORS: true})
	w := ut.PerformRequest(h.Engine, "OPTIONS", "/ping", nil)
	if got := w.Result().StatusCode(); got != consts.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", got)
	}
	if got := string(w.Result().Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}

	h = newEngine(t, config.MiddlewareConfig{})
	w = ut.PerformRequest(h.Engine, "GET", "/ping", nil)
	if got := string(w.Result().Header.Peek("Access-Control-Allow-Origin")); got != "" {
		t.Fatalf("cors disabled but allow origin = %q", got)
	}
}

func TestAuth(t *testing.T) {
	if _, err := NewMiddleware(config.MiddlewareConfig{Auth: true}, nil); err == nil {
		t.Fatal("auth without jwt_key should fail")
	}
	if _, err := NewMiddleware(config.MiddlewareConfig{Auth: true, JWTKey: "k", JWTTimeout: "later"}, nil); err == nil {
		t.Fatal("bad jwt_timeout should fail")
	}

	h := newEngine(t, config.MiddlewareConfig{})
	if got := ut.PerformRequest(h.Engine, "GET", "/ping", nil).Result().StatusCode(); got != consts.StatusOK {
		t.Fatalf("auth disabled status = %d, want 200", got)
	}

	h = newEngine(t, config.MiddlewareConfig{Auth: true, JWTKey: "secret", Username: "u", Password: "p"})
	if got := ut.PerformRequest(h.Engine, "GET", "/ping", nil).Result().StatusCode(); got != consts.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", got)
	}
}
