package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"message-bundle/internal/platform/config"
	"message-bundle/internal/platform/driver"
	"message-bundle/internal/platform/health"
	"message-bundle/internal/platform/logger"
	"message-bundle/internal/platform/server"
	"message-bundle/internal/storage/cache"
	"message-bundle/internal/storage/database"
	"message-bundle/internal/storage/database/message"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// 啟動流程的日誌共用同一個追蹤 ID
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())

	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()
	if !config.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Infof(ctx, "設定載入成功，環境: %s，訊息集合: %s，嚴格模式: %t",
		config.GetEnv(), cfg.Messaging.Collection, cfg.Messaging.StrictMatch)

	mongoClient, err := driver.ConnectMongo(ctx, cfg.Database.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(mongoClient); err != nil {
			logger.Errorf(context.Background(), "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	deps := []health.Dependency{health.MongoDependency(mongoClient)}

	// Redis 為可選：連線失敗時不啟用未讀數快取
	var unreadCache message.UnreadCache
	if cfg.Redis.Enabled {
		redisClient, err := driver.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warningf(ctx, "Redis 連線失敗，停用未讀數快取: %v", err)
		} else {
			defer closeRedis(redisClient)
			unreadCache = cache.NewRedisUnreadCache(redisClient, time.Duration(cfg.Redis.UnreadTTLSeconds)*time.Second)
			deps = append(deps, health.RedisDependency(redisClient))
		}
	}

	repos := database.NewRepositories(ctx, cfg, mongoClient.Database(cfg.Database.Mongo.Database), unreadCache)
	defer func() {
		// 關閉前提交尚未寫入的訊息
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repos.ReadState.Flush(flushCtx); err != nil {
			logger.Errorf(flushCtx, "關閉前提交暫存訊息失敗: %v", err)
		}
	}()
	logger.Info(ctx, "儲存庫集合初始化完成", logger.WithDetails(map[string]interface{}{
		"class": repos.ReadState.Class(),
	}))

	h := health.NewHealthHandler(cfg.App.Name, config.IsDebug(), deps...)
	srv := server.New(cfg.Server, server.Router(h))
	logger.Notice(ctx, "維運伺服器啟動", logger.WithDetails(map[string]interface{}{
		"addr":    config.GetServerAddr(),
		"version": cfg.App.Version,
	}))
	if err := server.Run(ctx, srv); err != nil {
		logger.Critical(context.Background(), "維運伺服器錯誤", logger.WithError(err))
		return err
	}
	return nil
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Errorf(context.Background(), "關閉 Redis 連接失敗: %v", err)
	}
}
