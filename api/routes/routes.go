package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-alttext/api/handlers"
	"github.com/feichai0017/pdf-alttext/api/middleware"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(allowedOrigins))

	r.GET("/healthz", h.Health)

	// API 版本组
	v1 := r.Group("/api/v1")

	sessions := v1.Group("/sessions")
	{
		sessions.POST("", h.Session.Upload)
		sessions.DELETE("/:sid", h.Session.Delete)
		sessions.GET("/:sid/progress", h.Session.Progress)
		sessions.GET("/:sid/images", h.Session.ListImages)
		sessions.GET("/:sid/images/:name", h.Session.Image)
		sessions.POST("/:sid/images/:name/flip", h.Session.Flip)

		sessions.GET("/:sid/alt-text/progress", h.AltText.Progress)
		sessions.GET("/:sid/alt-text/:lang/document", h.AltText.Document)
		sessions.GET("/:sid/alt-text/:lang/results", h.AltText.Results)
		sessions.GET("/:sid/copy-panel", h.AltText.CopyPanel)
	}

	v1.POST("/alt-text", h.AltText.Generate)
	v1.GET("/jobs/:taskId", h.Session.JobStatus)
}
