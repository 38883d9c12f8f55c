// Package cache 以 Redis 快取討論串內每位參與者的未讀數.
//
// 每個討論串一個 hash：key 為 <prefix><threadID>，field 為參與者 ID.
// 單一參與者的標記操作刪除對應 field；討論串有新訊息時刪除整個 hash.
// 每次失效都遞增討論串的版本 key（<prefix><threadID>:ver），
// Set 以 WATCH 確認版本未變才寫入，避免把失效前算出的舊值寫回.
package cache

import (
	"context"
	"errors"
	"time"

	"message-bundle/internal/constants"

	"github.com/redis/go-redis/v9"
)

const versionSuffix = ":ver"

// RedisUnreadCache 未讀數快取
type RedisUnreadCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisUnreadCache 創建未讀數快取，ttl <= 0 時使用預設值
func NewRedisUnreadCache(client *redis.Client, ttl time.Duration) *RedisUnreadCache {
	if ttl <= 0 {
		ttl = constants.DefaultUnreadCacheTTL * time.Second
	}
	return &RedisUnreadCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: constants.UnreadCacheKeyPrefix,
	}
}

func (c *RedisUnreadCache) key(threadID string) string {
	return c.keyPrefix + threadID
}

func (c *RedisUnreadCache) versionKey(threadID string) string {
	return c.key(threadID) + versionSuffix
}

// Get 讀取未讀數與討論串目前的版本，未命中時 ok 為 false
func (c *RedisUnreadCache) Get(ctx context.Context, threadID, participantID string) (int64, int64, bool, error) {
	var countCmd, versionCmd *redis.StringCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.HGet(ctx, c.key(threadID), participantID)
		versionCmd = pipe.Get(ctx, c.versionKey(threadID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, false, err
	}

	version, err := int64OrZero(versionCmd)
	if err != nil {
		return 0, 0, false, err
	}
	count, err := countCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, version, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return count, version, true, nil
}

// Set 在版本未變時寫入未讀數並刷新整個 hash 的 TTL.
// 讀取後若有失效操作遞增了版本，放棄寫入並回傳 nil
func (c *RedisUnreadCache) Set(ctx context.Context, threadID, participantID string, count, version int64) error {
	key, versionKey := c.key(threadID), c.versionKey(threadID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := int64OrZero(tx.Get(ctx, versionKey))
		if err != nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, participantID, count)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateParticipant 清除單一參與者的未讀數並遞增版本
func (c *RedisUnreadCache) InvalidateParticipant(ctx context.Context, threadID, participantID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, c.key(threadID), participantID)
		c.bumpVersion(ctx, pipe, threadID)
		return nil
	})
	return err
}

// InvalidateThread 清除整個討論串的未讀數並遞增版本
func (c *RedisUnreadCache) InvalidateThread(ctx context.Context, threadID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(threadID))
		c.bumpVersion(ctx, pipe, threadID)
		return nil
	})
	return err
}

// bumpVersion 版本 key 的 TTL 為快取的兩倍，確保比任何快取項目活得久
func (c *RedisUnreadCache) bumpVersion(ctx context.Context, pipe redis.Pipeliner, threadID string) {
	pipe.Incr(ctx, c.versionKey(threadID))
	pipe.Expire(ctx, c.versionKey(threadID), 2*c.ttl)
}

func int64OrZero(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
