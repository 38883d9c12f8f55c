package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"message-bundle/internal/storage/database/message"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ message.UnreadCache = (*RedisUnreadCache)(nil)

// connectTestRedis 連接測試用 Redis，無法連線時跳過測試
func connectTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("跳過測試：無法連接到 Redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestCache(t *testing.T, threadID string) (*RedisUnreadCache, *redis.Client) {
	t.Helper()
	client := connectTestRedis(t)
	c := NewRedisUnreadCache(client, time.Minute)
	c.keyPrefix = fmt.Sprintf("test:unread:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = client.Del(context.Background(), c.key(threadID), c.versionKey(threadID)).Err()
	})
	return c, client
}

func TestRedisUnreadCache(t *testing.T) {
	threadID := "thread_1"
	c, client := newTestCache(t, threadID)
	ctx := context.Background()

	_, version, ok, err := c.Get(ctx, threadID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), version)

	require.NoError(t, c.Set(ctx, threadID, "alice", 3, version))
	require.NoError(t, c.Set(ctx, threadID, "bob", 1, version))

	count, _, ok, err := c.Get(ctx, threadID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), count)

	ttl, err := client.TTL(ctx, c.key(threadID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.InvalidateParticipant(ctx, threadID, "alice"))
	_, version, ok, err = c.Get(ctx, threadID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), version)

	_, _, ok, err = c.Get(ctx, threadID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.InvalidateThread(ctx, threadID))
	_, version, ok, err = c.Get(ctx, threadID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), version)
}

func TestRedisUnreadCache_SetSkippedAfterInvalidation(t *testing.T) {
	threadID := "thread_2"
	c, _ := newTestCache(t, threadID)
	ctx := context.Background()

	_, version, ok, err := c.Get(ctx, threadID, "bob")
	require.NoError(t, err)
	require.False(t, ok)

	// 讀取與寫回之間發生標記
	require.NoError(t, c.InvalidateParticipant(ctx, threadID, "bob"))
	require.NoError(t, c.Set(ctx, threadID, "bob", 5, version))

	_, current, ok, err := c.Get(ctx, threadID, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "value read before the invalidation is not written back")

	require.NoError(t, c.Set(ctx, threadID, "bob", 4, current))
	count, _, ok, err := c.Get(ctx, threadID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), count)
}

func TestNewRedisUnreadCache_DefaultTTL(t *testing.T) {
	c := NewRedisUnreadCache(nil, 0)
	assert.Equal(t, 300*time.Second, c.ttl)
	assert.Equal(t, "readstate:unread:t1", c.key("t1"))
	assert.Equal(t, "readstate:unread:t1:ver", c.versionKey("t1"))
}
