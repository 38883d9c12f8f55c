package documentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// connectTestMongo 連接測試用 MongoDB，無法連線時跳過測試
func connectTestMongo(t *testing.T) *mongo.Database {
	t.Helper()

	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		url = "mongodb://localhost:27017"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url).SetServerSelectionTimeout(2 * time.Second))
	if err != nil {
		t.Skipf("跳過測試：無法連接到 MongoDB: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("跳過測試：無法連接到 MongoDB: %v", err)
	}

	db := client.Database(fmt.Sprintf("documentstore_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

func TestMongoStore_UpdateAndFlush(t *testing.T) {
	db := connectTestMongo(t)
	ctx := context.Background()
	store := NewMongoStore(db, "messages", 5*time.Second)

	a := &testDoc{ID: bson.NewObjectID(), GroupID: "g1", Flags: map[string]bool{"author": true}}
	b := &testDoc{ID: bson.NewObjectID(), GroupID: "g1"}
	c := &testDoc{ID: bson.NewObjectID(), GroupID: "g2"}
	store.Persist(a)
	store.Persist(b)
	store.Persist(c)
	require.NoError(t, store.Flush(ctx))

	res, err := store.ExecuteUpdate(ctx, Update{
		Filter: bson.D{{Key: "group_id", Value: "g1"}},
		Set:    bson.D{{Key: "flags.user_1", Value: true}},
		Multi:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Matched)

	n, err := store.Count(ctx, bson.D{{Key: "flags.user_1", Value: bson.D{{Key: "$ne", Value: true}}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 再次保存過時的 a 不會覆蓋欄位路徑更新
	a.GroupID = "g3"
	store.Persist(a)
	require.NoError(t, store.Flush(ctx))

	var got testDoc
	require.NoError(t, store.FindOne(ctx, bson.D{{Key: "_id", Value: a.ID}}, &got))
	assert.Equal(t, "g3", got.GroupID)
	assert.True(t, got.Flags["author"])
	assert.True(t, got.Flags["user_1"])

	err = store.FindOne(ctx, bson.D{{Key: "_id", Value: bson.NewObjectID()}}, &got)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(mongo.ErrNoDocuments), ErrNoDocuments)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrStoreUnavailable)
	assert.ErrorIs(t, classify(mongo.ErrClientDisconnected), ErrStoreUnavailable)

	other := errors.New("write conflict")
	assert.Equal(t, other, classify(other))
}
