package message

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建訊息集合索引
func CreateIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	messages := db.Collection(collection)

	// 1. 討論串 ID + 創建時間（討論串批次標記、未讀計數、依序讀取）
	threadTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: fieldThreadID, Value: 1},
			{Key: fieldCreatedAt, Value: 1},
		},
		Options: options.Index().SetName("thread_time_idx"),
	}

	// 2. 發送者 ID + 創建時間
	senderTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: fieldSenderID, Value: 1},
			{Key: fieldCreatedAt, Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	_, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{threadTimeIndex, senderTimeIndex})
	return err
}
