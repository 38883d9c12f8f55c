package server

import (
	"net/http"

	"message-bundle/internal/platform/health"
	"message-bundle/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// Router 維運路由：只提供健康檢查與 Prometheus 指標
func Router(h *health.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// 請求 ID 最優先，讓存取日誌帶上追蹤 ID
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.AccessLogMiddleware())
	r.Use(securityHeadersMiddleware())

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}
