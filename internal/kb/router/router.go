// Package router 注册知识库服务的 HTTP 路由。
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/handler"
	"github.com/kart-io/knowledge-base/pkg/infra/middleware"
	"github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/response"
)

// HealthCheck 返回依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Config 路由可选项。
type Config struct {
	// Limiter 非空时作用于 ingest、reindex 与 test-query
	Limiter *middleware.RateLimiter
	// MaxBodyBytes 请求体上限，0 表示不限制
	MaxBodyBytes int64
	// Metrics /metrics 处理器，为空则不注册
	Metrics http.Handler
	// Health /healthz 检查项
	Health map[string]HealthCheck
}

// Register 安装全局中间件并注册全部路由。
func Register(engine *gin.Engine, h *handler.KBHandler, cfg Config) {
	logger.Info("Registering knowledge-base routes...")

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Language(),
		middleware.Tracing(),
		middleware.Logger(),
	)
	if cfg.MaxBodyBytes > 0 {
		engine.Use(func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodyBytes)
			c.Next()
		})
	}

	engine.NoRoute(func(c *gin.Context) {
		writeErr(c, errors.ErrRouteNotFound)
	})
	engine.NoMethod(func(c *gin.Context) {
		writeErr(c, errors.ErrRouteNotFound)
	})

	engine.GET("/healthz", healthz(cfg.Health))
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	limited := []gin.HandlerFunc{}
	if cfg.Limiter != nil {
		limited = append(limited, cfg.Limiter.Middleware())
	}
	with := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, limited...), hf)
	}

	kb := engine.Group("/knowledge-base")
	{
		kb.POST("/ingest", with(h.Ingest)...)
		kb.GET("/search", h.Search)
		kb.POST("/test-query", with(h.TestQuery)...)
		kb.POST("/reindex/:category", with(h.Reindex)...)
		kb.GET("/stats", h.Stats)

		kb.GET("/documents", h.ListDocuments)
		kb.GET("/documents/:id", h.GetDocument)
		kb.DELETE("/documents/:id", with(h.DeleteDocument)...)

		kb.GET("/categories", h.ListCategories)
		kb.DELETE("/categories/:category", with(h.DropCategory)...)

		kb.GET("/settings", h.Settings)
	}

	logger.Info("HTTP routes registered")
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": results})
	}
}

func writeErr(c *gin.Context, e *errors.Errno) {
	resp := response.ErrWithLang(e, middleware.LanguageFrom(c)).
		WithRequestID(middleware.RequestIDFrom(c)).
		WithTimestamp(time.Now())
	c.JSON(resp.HTTPStatus(), resp)
}
