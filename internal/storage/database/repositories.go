package database

import (
	"context"
	"time"

	"message-bundle/internal/platform/config"
	"message-bundle/internal/platform/logger"
	"message-bundle/internal/storage/database/message"
	"message-bundle/internal/storage/documentstore"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Store     *documentstore.MongoStore
	Message   *message.Repository
	ReadState *message.ReadStateTracker
}

// NewRepositories 以明確傳入的 MongoDB 連線創建倉儲集合. cache 可為 nil.
func NewRepositories(ctx context.Context, cfg *config.Config, db *mongo.Database, cache message.UnreadCache) *Repositories {
	collection := cfg.Messaging.Collection

	// 索引建立失敗不中斷服務啟動
	if err := message.CreateIndexes(ctx, db, collection); err != nil {
		logger.Warning(ctx, "創建訊息索引失敗", logger.WithError(err))
	}

	store := documentstore.NewMongoStore(db, collection, time.Duration(cfg.Messaging.WriteTimeoutSeconds)*time.Second)
	repo := message.NewRepository(store, (*message.Message)(nil))
	if cache != nil {
		repo.SetUnreadCache(cache)
	}

	return &Repositories{
		Store:     store,
		Message:   repo,
		ReadState: message.NewReadStateTracker(repo, message.WithStrictMatch(cfg.Messaging.StrictMatch)),
	}
}
