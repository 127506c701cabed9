// Package router provides RAG service routing.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/rag/handler"
)

// HealthChecker 是依赖健康检查的最小接口。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Register registers the RAG service routes on the gin engine.
// deps 中的每个依赖都会出现在 /healthz 的检查结果里。
func Register(engine *gin.Engine, ragHandler *handler.RAGHandler, deps map[string]HealthChecker) {
	logger.Info("Registering RAG routes...")

	engine.GET("/healthz", healthz(deps))

	v1 := engine.Group("/v1")
	{
		teams := v1.Group("/teams/:team")
		{
			teams.POST("/documents", ragHandler.UploadDocument)
			teams.GET("/documents", ragHandler.ListDocuments)
			teams.DELETE("/documents/:filename", ragHandler.DeleteDocument)
			teams.DELETE("", ragHandler.DeleteTeam)

			teams.POST("/query", ragHandler.Query)
			teams.POST("/query/stream", ragHandler.StreamQuery)

			teams.GET("/stats", ragHandler.Stats)
		}

		v1.DELETE("/sessions/:session_id", ragHandler.ClearSession)
	}

	logger.Info("HTTP routes registered")
}

// healthz 逐个探测依赖，任一失败时返回 503。
func healthz(deps map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		c.JSON(status, gin.H{
			"status": http.StatusText(status),
			"checks": checks,
		})
	}
}
