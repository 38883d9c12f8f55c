package middleware

import (
	"fmt"
	"time"

	"message-bundle/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware 以結構化日誌記錄每個請求；5xx 記為 ERROR，4xx 記為 WARNING
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		req := &logger.HTTPRequest{
			RequestMethod: c.Request.Method,
			RequestURL:    c.Request.URL.Path,
			Status:        status,
			RemoteIP:      c.ClientIP(),
			Latency:       fmt.Sprintf("%.3fs", time.Since(start).Seconds()),
		}

		severity := logger.SeverityInfo
		switch {
		case status >= 500:
			severity = logger.SeverityError
		case status >= 400:
			severity = logger.SeverityWarning
		}
		logger.Log(c.Request.Context(), severity, "HTTP request",
			logger.WithAction("http_request"),
			logger.WithHTTPRequest(req))
	}
}
