package message

import (
	"context"
	"fmt"
	"time"

	"message-bundle/internal/platform/logger"
	"message-bundle/internal/platform/metrics"
	"message-bundle/internal/storage/documentstore"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ReadStateTracker 以參與者為單位追蹤訊息已讀狀態.
//
// 標記操作直接在存儲上執行欄位路徑的批次更新（is_read_by_participant.<id>），
// 不載入也不修改記憶體中的 Message，因此不會覆蓋其他欄位的並行修改.
// 存儲只保證單一文檔更新是原子的；討論串層級的更新對整個討論串不是交易性的，
// 讀取端可能看到部分套用的結果. 本身不加鎖也不重試.
type ReadStateTracker struct {
	repo   *Repository
	store  documentstore.Store
	strict bool
}

// Option ReadStateTracker 選項
type Option func(*ReadStateTracker)

// WithStrictMatch 開啟時，過濾條件未命中任何訊息會回傳 ErrNotFound；
// 預設為靜默成功（批次更新的一般語意）
func WithStrictMatch(strict bool) Option {
	return func(t *ReadStateTracker) {
		t.strict = strict
	}
}

// NewReadStateTracker 創建已讀狀態追蹤器
func NewReadStateTracker(repo *Repository, opts ...Option) *ReadStateTracker {
	t := &ReadStateTracker{
		repo:  repo,
		store: repo.Store(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkReadByParticipant 將訊息標記為參與者已讀
func (t *ReadStateTracker) MarkReadByParticipant(ctx context.Context, message *Message, participant *Participant) error {
	return t.markMessage(ctx, message, participant, true)
}

// MarkUnreadByParticipant 將訊息標記為參與者未讀
func (t *ReadStateTracker) MarkUnreadByParticipant(ctx context.Context, message *Message, participant *Participant) error {
	return t.markMessage(ctx, message, participant, false)
}

// MarkThreadReadStateByParticipant 以一次批次更新設定討論串內所有訊息的已讀狀態
func (t *ReadStateTracker) MarkThreadReadStateByParticipant(ctx context.Context, thread *Thread, participant *Participant, isRead bool) error {
	if thread == nil {
		return invalidArgument("thread is nil")
	}
	if err := t.setReadState(ctx, ByThreadID(thread.ID), participant, isRead); err != nil {
		return err
	}
	t.repo.invalidateParticipant(ctx, thread.ID, participant.ID)
	return nil
}

func (t *ReadStateTracker) markMessage(ctx context.Context, message *Message, participant *Participant, isRead bool) error {
	if message == nil {
		return invalidArgument("message is nil")
	}
	if err := t.setReadState(ctx, ByID(message.ID), participant, isRead); err != nil {
		return err
	}
	t.repo.invalidateMessageParticipant(ctx, message, participant.ID)
	return nil
}

// setReadState 對符合 filter 的所有訊息設定 is_read_by_participant.<participant> = isRead
func (t *ReadStateTracker) setReadState(ctx context.Context, filter Filter, participant *Participant, isRead bool) (err error) {
	start := time.Now()
	op := filter.operation()
	var matched int64
	defer func() {
		metrics.ObserveReadState(op, resultLabel(err), matched, start)
	}()

	if err := validateParticipant(participant); err != nil {
		return err
	}
	if !filter.valid() {
		return invalidArgument("empty filter")
	}

	res, err := t.store.ExecuteUpdate(ctx, documentstore.Update{
		Filter: filter.condition(),
		Set:    bson.D{{Key: readStatePath(participant.ID), Value: isRead}},
		Multi:  true,
	})
	if err != nil {
		logger.Error(ctx, "更新已讀狀態失敗",
			logger.WithAction(op),
			logger.WithParticipantID(participant.ID),
			logger.WithError(err),
			logger.WithDetails(map[string]interface{}{"filter": filter.String(), "is_read": isRead}))
		return fmt.Errorf("set read state (%s): %w", filter, err)
	}
	matched = res.Matched

	if matched == 0 {
		if t.strict {
			return fmt.Errorf("%w: %s", ErrNotFound, filter)
		}
		logger.Debug(ctx, "已讀狀態更新未命中任何訊息",
			logger.WithAction(op),
			logger.WithParticipantID(participant.ID),
			logger.WithDetails(map[string]interface{}{"filter": filter.String()}))
	}
	return nil
}

// SaveMessage 交給存儲保存（新建或更新）. flushImmediately 為 true 時在回傳前提交；
// 否則只暫存，提交時機由呼叫端透過 Flush 決定.
// 已讀狀態欄位只在建立時寫入，之後由標記操作維護.
func (t *ReadStateTracker) SaveMessage(ctx context.Context, message *Message, flushImmediately bool) (err error) {
	defer func() {
		metrics.ObserveMessageSaved(flushImmediately, resultLabel(err))
	}()

	if message == nil {
		return invalidArgument("message is nil")
	}
	if message.ID.IsZero() {
		return invalidArgument("message id is empty")
	}
	if message.ThreadID.IsZero() {
		return invalidArgument("message %s has no thread", message.ID.Hex())
	}

	t.store.Persist(message)
	if flushImmediately {
		if err := t.store.Flush(ctx); err != nil {
			logger.Error(ctx, "保存訊息失敗",
				logger.WithAction("save_message"),
				logger.WithMessageID(message.ID.Hex()),
				logger.WithThreadID(message.ThreadID.Hex()),
				logger.WithError(err))
			return fmt.Errorf("save message %s: %w", message.ID.Hex(), err)
		}
	}

	// 暫存的寫入在 Flush 前重新計算的未讀數可能過時，最多維持快取 TTL
	t.repo.invalidateThread(ctx, message.ThreadID)
	return nil
}

// SaveMessageAndFlush 保存並立即提交
func (t *ReadStateTracker) SaveMessageAndFlush(ctx context.Context, message *Message) error {
	return t.SaveMessage(ctx, message, true)
}

// Flush 提交所有暫存的訊息
func (t *ReadStateTracker) Flush(ctx context.Context) error {
	if err := t.store.Flush(ctx); err != nil {
		logger.Error(ctx, "提交暫存訊息失敗", logger.WithAction("flush"), logger.WithError(err))
		return err
	}
	return nil
}

// Class 回傳設定的訊息型別完整名稱
func (t *ReadStateTracker) Class() string {
	return t.repo.Class()
}
