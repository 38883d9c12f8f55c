// Package health 提供維運伺服器的健康檢查端點.
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"message-bundle/internal/constants"
	"message-bundle/internal/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
	statusWarning   = "warning"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB
)

// PingFunc 檢查單一依賴是否可用
type PingFunc func(ctx context.Context) error

// Dependency 健康檢查的外部依賴. Required 的依賴失敗時整體狀態為 unhealthy 並回傳 503，
// 否則只降級為 degraded.
type Dependency struct {
	Name     string
	Required bool
	Ping     PingFunc
}

// MongoDependency MongoDB 依賴（必要）
func MongoDependency(client *mongo.Client) Dependency {
	return Dependency{
		Name:     "mongodb",
		Required: true,
		Ping: func(ctx context.Context) error {
			if client == nil {
				return fmt.Errorf("database connection not available")
			}
			return client.Ping(ctx, nil)
		},
	}
}

// RedisDependency Redis 未讀數快取依賴（可選）
func RedisDependency(client *redis.Client) Dependency {
	return Dependency{
		Name: "redis",
		Ping: func(ctx context.Context) error {
			if client == nil {
				return fmt.Errorf("redis connection not available")
			}
			return client.Ping(ctx).Err()
		},
	}
}

// Handler 健康檢查處理器.
type Handler struct {
	appName      string
	debug        bool
	dependencies []Dependency
	timeout      time.Duration
	startTime    time.Time
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(appName string, debug bool, deps ...Dependency) *Handler {
	return &Handler{
		appName:      appName,
		debug:        debug,
		dependencies: deps,
		timeout:      constants.HealthCheckTimeout * time.Second,
		startTime:    time.Now(),
	}
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	overall := statusHealthy
	code := http.StatusOK
	deps := gin.H{}
	for _, dep := range h.dependencies {
		status, errMsg := statusHealthy, ""
		if err := h.check(ctx, dep); err != nil {
			status, errMsg = statusUnhealthy, err.Error()
			logger.Error(ctx, "健康檢查失敗",
				logger.WithAction("health_check"),
				logger.WithError(err),
				logger.WithDetails(map[string]interface{}{"dependency": dep.Name}))

			if dep.Required {
				overall = statusUnhealthy
				code = http.StatusServiceUnavailable
			} else if overall == statusHealthy {
				overall = statusDegraded
			}
		}
		deps[dep.Name] = gin.H{
			"status":   status,
			"error":    errMsg,
			"required": dep.Required,
		}
	}

	systemStatus := h.checkSystemResources()

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	c.JSON(code, gin.H{
		"status":    overall,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.appName,
			"version": appVersion,
			"debug":   h.debug,
		},
		"dependencies": deps,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(h.startTime).String(),
		},
	})
}

func (h *Handler) check(ctx context.Context, dep Dependency) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return dep.Ping(ctx)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":  fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"sys":    fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc": m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}
