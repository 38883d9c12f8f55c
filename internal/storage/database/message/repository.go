package message

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"message-bundle/internal/platform/logger"
	"message-bundle/internal/platform/metrics"
	"message-bundle/internal/storage/documentstore"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// UnreadCache 未讀數快取，key 為 (討論串, 參與者).
// Get 同時回傳討論串的版本；任何失效都會遞增版本，
// Set 只在版本與讀取時相同時寫入，否則靜默放棄.
type UnreadCache interface {
	Get(ctx context.Context, threadID, participantID string) (count, version int64, ok bool, err error)
	Set(ctx context.Context, threadID, participantID string, count, version int64) error
	InvalidateParticipant(ctx context.Context, threadID, participantID string) error
	InvalidateThread(ctx context.Context, threadID string) error
}

// Repository 綁定訊息集合的倉儲
type Repository struct {
	store documentstore.Store
	class string
	cache UnreadCache
}

// NewRepository 創建訊息倉儲. prototype 為設定的訊息型別，nil 時使用 *Message
func NewRepository(store documentstore.Store, prototype interface{}) *Repository {
	if prototype == nil {
		prototype = (*Message)(nil)
	}
	return &Repository{
		store: store,
		class: className(prototype),
	}
}

// SetUnreadCache 設定未讀數快取，nil 代表停用
func (r *Repository) SetUnreadCache(cache UnreadCache) {
	r.cache = cache
}

// Store 回傳綁定訊息集合的存儲
func (r *Repository) Store() documentstore.Store {
	return r.store
}

// Class 回傳設定的訊息型別完整名稱（套件路徑.型別名稱）
func (r *Repository) Class() string {
	return r.class
}

// GetByID 根據 ID 讀取訊息
func (r *Repository) GetByID(ctx context.Context, id bson.ObjectID) (*Message, error) {
	if id.IsZero() {
		return nil, invalidArgument("message id is empty")
	}

	var m Message
	if err := r.store.FindOne(ctx, bson.D{{Key: fieldID, Value: id}}, &m); err != nil {
		if errors.Is(err, documentstore.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
		}
		return nil, err
	}
	return &m, nil
}

// CountUnreadByParticipant 計算討論串中參與者未讀的訊息數（不含自己發送的）
func (r *Repository) CountUnreadByParticipant(ctx context.Context, thread *Thread, participant *Participant) (int64, error) {
	if thread == nil || thread.ID.IsZero() {
		return 0, invalidArgument("thread is nil")
	}
	if err := validateParticipant(participant); err != nil {
		return 0, err
	}

	threadID := thread.ID.Hex()
	var version int64
	cacheable := r.cache != nil
	if r.cache != nil {
		count, v, ok, err := r.cache.Get(ctx, threadID, participant.ID)
		version = v
		switch {
		case err != nil:
			cacheable = false
			metrics.ObserveUnreadCache("error")
			logger.Warning(ctx, "讀取未讀數快取失敗",
				logger.WithThreadID(threadID),
				logger.WithParticipantID(participant.ID),
				logger.WithError(err))
		case ok:
			metrics.ObserveUnreadCache("hit")
			return count, nil
		default:
			metrics.ObserveUnreadCache("miss")
		}
	}

	count, err := r.store.Count(ctx, bson.D{
		{Key: fieldThreadID, Value: thread.ID},
		{Key: fieldSenderID, Value: bson.D{{Key: "$ne", Value: participant.ID}}},
		{Key: readStatePath(participant.ID), Value: bson.D{{Key: "$ne", Value: true}}},
	})
	if err != nil {
		return 0, err
	}

	if cacheable {
		if err := r.cache.Set(ctx, threadID, participant.ID, count, version); err != nil {
			logger.Warning(ctx, "寫入未讀數快取失敗",
				logger.WithThreadID(threadID),
				logger.WithParticipantID(participant.ID),
				logger.WithError(err))
		}
	}
	return count, nil
}

// threadOf 從存儲讀取訊息所屬的討論串
func (r *Repository) threadOf(ctx context.Context, id bson.ObjectID) (bson.ObjectID, error) {
	var ref struct {
		ThreadID bson.ObjectID `bson:"thread_id"`
	}
	if err := r.store.FindOne(ctx, bson.D{{Key: fieldID, Value: id}}, &ref); err != nil {
		return bson.ObjectID{}, err
	}
	return ref.ThreadID, nil
}

// invalidateMessageParticipant 以存儲中的 thread_id 清除快取；
// 記憶體中的 ThreadID 可能為空或過時，只在查不到時退回使用
func (r *Repository) invalidateMessageParticipant(ctx context.Context, m *Message, participantID string) {
	if r.cache == nil {
		return
	}
	threadID, err := r.threadOf(ctx, m.ID)
	if err != nil {
		if !errors.Is(err, documentstore.ErrNoDocuments) {
			logger.Warning(ctx, "讀取訊息所屬討論串失敗",
				logger.WithMessageID(m.ID.Hex()),
				logger.WithParticipantID(participantID),
				logger.WithError(err))
		}
		threadID = m.ThreadID
	}
	r.invalidateParticipant(ctx, threadID, participantID)
}

// invalidateParticipant 讓 (討論串, 參與者) 的未讀數快取失效；失敗只記錄
func (r *Repository) invalidateParticipant(ctx context.Context, threadID bson.ObjectID, participantID string) {
	if r.cache == nil || threadID.IsZero() {
		return
	}
	if err := r.cache.InvalidateParticipant(ctx, threadID.Hex(), participantID); err != nil {
		logger.Warning(ctx, "清除未讀數快取失敗",
			logger.WithThreadID(threadID.Hex()),
			logger.WithParticipantID(participantID),
			logger.WithError(err))
	}
}

// invalidateThread 讓整個討論串的未讀數快取失效；失敗只記錄
func (r *Repository) invalidateThread(ctx context.Context, threadID bson.ObjectID) {
	if r.cache == nil || threadID.IsZero() {
		return
	}
	if err := r.cache.InvalidateThread(ctx, threadID.Hex()); err != nil {
		logger.Warning(ctx, "清除討論串未讀數快取失敗",
			logger.WithThreadID(threadID.Hex()),
			logger.WithError(err))
	}
}

func className(prototype interface{}) string {
	t := reflect.TypeOf(prototype)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}
