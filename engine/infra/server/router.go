package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	memrouter "github.com/capsulehq/capsule/engine/memory/router"
	"github.com/capsulehq/capsule/pkg/config"
	"github.com/capsulehq/capsule/pkg/logger"
	"github.com/capsulehq/capsule/pkg/version"
)

// buildRouter assembles the gin engine: recovery, request logging, the
// unauthenticated health probe, and the versioned memory API.
func buildRouter(cfg *config.Config, deps *Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", healthz(deps))

	api := router.Group("/v1")
	memrouter.Register(api, &memrouter.Deps{
		Service: deps.Service,
		Capture: deps.Capture,
		APIKeys: cfg.APIKeys,
	})
	return router
}

// requestLogger attaches the process logger to the request context and
// emits one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetDefault()
		ctx := logger.ContextWithLogger(c.Request.Context(), log)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		log.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func healthz(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := deps.Store.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		info := version.Get()
		c.JSON(code, gin.H{
			"status":  status,
			"version": info.Version,
			"commit":  info.CommitHash,
		})
	}
}
