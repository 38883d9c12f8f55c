package constants

// 參與者相關常數
const (
	MaxParticipantIDLength = 100
)

// 存儲相關常數
const (
	DefaultMessageCollection = "messages"
	DefaultWriteTimeout      = 5 // 秒
)

// 未讀數快取相關常數
const (
	DefaultUnreadCacheTTL = 300 // 秒
	UnreadCacheKeyPrefix  = "readstate:unread:"
	DefaultRedisPoolSize  = 10
)

// 健康檢查相關常數
const (
	HealthCheckTimeout = 5 // 秒
)
