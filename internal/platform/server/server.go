// Package server 維運 HTTP 伺服器.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"message-bundle/internal/platform/config"
	"message-bundle/internal/platform/logger"
)

const shutdownTimeout = 30 * time.Second

// New 建立 HTTP 伺服器
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	timeout := time.Duration(cfg.Timeout) * time.Second
	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  120 * time.Second,
	}
}

// Run 啟動伺服器，ctx 取消時優雅關閉. 正常關閉時回傳 nil
func Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "伺服器正在監聽", logger.WithDetails(map[string]interface{}{"addr": srv.Addr}))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("伺服器啟動失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "收到關閉信號，正在優雅關閉伺服器...", logger.WithAction("shutdown"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("伺服器關閉失敗: %w", err)
	}

	logger.Info(context.Background(), "伺服器已優雅關閉")
	return nil
}
