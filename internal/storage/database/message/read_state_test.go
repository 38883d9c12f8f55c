package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"message-bundle/internal/storage/documentstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	alice = &Participant{ID: "user_alice"}
	bob   = &Participant{ID: "user_bob"}
	carol = &Participant{ID: "user_carol"}
)

func newTestTracker(t *testing.T, opts ...Option) (*ReadStateTracker, *Repository, *documentstore.MemoryStore) {
	t.Helper()
	store := documentstore.NewMemoryStore()
	repo := NewRepository(store, nil)
	return NewReadStateTracker(repo, opts...), repo, store
}

// saveThread 建立含 n 則訊息（由 alice 發送）的討論串並提交
func saveThread(t *testing.T, tracker *ReadStateTracker, n int) *Thread {
	t.Helper()
	thread := NewThread()
	for i := 0; i < n; i++ {
		m := NewMessage(thread, alice, fmt.Sprintf("message %d", i))
		require.NoError(t, tracker.SaveMessage(context.Background(), m, false))
	}
	require.NoError(t, tracker.Flush(context.Background()))
	return thread
}

func storedReadState(t *testing.T, repo *Repository, m *Message, p *Participant) bool {
	t.Helper()
	stored, err := repo.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	return stored.IsReadBy(p.ID)
}

func TestMarkReadByParticipant_WritesStorageOnly(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))

	assert.True(t, storedReadState(t, repo, m, bob))
	// 記憶體中的實例不被修改
	assert.False(t, m.IsReadBy(bob.ID))
}

func TestMarkReadByParticipant_IgnoresStaleInMemoryState(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	// 記憶體中聲稱已讀，但存儲中沒有
	m.IsReadByParticipant[bob.ID] = true
	require.NoError(t, tracker.MarkUnreadByParticipant(ctx, m, bob))
	assert.False(t, storedReadState(t, repo, m, bob))

	m.IsReadByParticipant[bob.ID] = false
	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))
	assert.True(t, storedReadState(t, repo, m, bob))
}

func TestMarkReadByParticipant_Idempotent(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))
	once, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))
	twice, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestMarkReadUnreadRead_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))
	require.NoError(t, tracker.MarkUnreadByParticipant(ctx, m, bob))
	assert.False(t, storedReadState(t, repo, m, bob))
	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))

	assert.True(t, storedReadState(t, repo, m, bob))
}

func TestMarkReadByParticipant_ParticipantIsolation(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, carol))
	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))
	require.NoError(t, tracker.MarkUnreadByParticipant(ctx, m, bob))

	stored, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReadBy(carol.ID))
	assert.False(t, stored.IsReadBy(bob.ID))
	assert.True(t, stored.IsReadBy(alice.ID), "sender stays read")
}

func TestMarkThreadReadStateByParticipant(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 3)
	other := saveThread(t, tracker, 2)

	require.NoError(t, tracker.MarkThreadReadStateByParticipant(ctx, thread, bob, true))

	for _, m := range thread.Messages {
		assert.True(t, storedReadState(t, repo, m, bob))
	}
	for _, m := range other.Messages {
		assert.False(t, storedReadState(t, repo, m, bob))
	}

	require.NoError(t, tracker.MarkThreadReadStateByParticipant(ctx, thread, bob, false))
	for _, m := range thread.Messages {
		assert.False(t, storedReadState(t, repo, m, bob))
	}
}

// countingStore 記錄 ExecuteUpdate 呼叫次數，並可模擬存儲無法連線
type countingStore struct {
	documentstore.Store
	mu          sync.Mutex
	updates     []documentstore.Update
	unavailable bool
}

func (s *countingStore) ExecuteUpdate(ctx context.Context, u documentstore.Update) (documentstore.UpdateResult, error) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return documentstore.UpdateResult{}, fmt.Errorf("%w: connection refused", documentstore.ErrStoreUnavailable)
	}
	return s.Store.ExecuteUpdate(ctx, u)
}

func (s *countingStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return fmt.Errorf("%w: connection refused", documentstore.ErrStoreUnavailable)
	}
	return s.Store.Flush(ctx)
}

func TestMarkThreadReadStateByParticipant_SingleBulkUpdate(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: documentstore.NewMemoryStore()}
	tracker := NewReadStateTracker(NewRepository(store, nil))
	thread := saveThread(t, tracker, 4)

	require.NoError(t, tracker.MarkThreadReadStateByParticipant(ctx, thread, bob, true))

	require.Len(t, store.updates, 1)
	u := store.updates[0]
	assert.True(t, u.Multi)
	assert.Equal(t, bson.D{{Key: "thread_id", Value: thread.ID}}, u.Filter)
	assert.Equal(t, bson.D{{Key: "is_read_by_participant.user_bob", Value: true}}, u.Set)
}

func TestSetReadState_NoMatchPolicy(t *testing.T) {
	ctx := context.Background()
	ghost := &Message{ID: bson.NewObjectID(), ThreadID: bson.NewObjectID()}

	lenient, _, _ := newTestTracker(t)
	assert.NoError(t, lenient.MarkReadByParticipant(ctx, ghost, bob))
	assert.NoError(t, lenient.MarkThreadReadStateByParticipant(ctx, NewThread(), bob, true))

	strict, _, _ := newTestTracker(t, WithStrictMatch(true))
	err := strict.MarkReadByParticipant(ctx, ghost, bob)
	assert.ErrorIs(t, err, ErrNotFound)
	err = strict.MarkThreadReadStateByParticipant(ctx, NewThread(), bob, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadStateTracker_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: documentstore.NewMemoryStore()}
	tracker := NewReadStateTracker(NewRepository(store, nil))
	m := NewMessage(NewThread(), alice, "hi")

	testCases := []struct {
		name string
		call func() error
	}{
		{"nil message", func() error { return tracker.MarkReadByParticipant(ctx, nil, bob) }},
		{"nil participant", func() error { return tracker.MarkUnreadByParticipant(ctx, m, nil) }},
		{"nil thread", func() error { return tracker.MarkThreadReadStateByParticipant(ctx, nil, bob, true) }},
		{"zero message id", func() error { return tracker.MarkReadByParticipant(ctx, &Message{}, bob) }},
		{"zero thread id", func() error { return tracker.MarkThreadReadStateByParticipant(ctx, &Thread{}, bob, true) }},
		{"empty participant id", func() error { return tracker.MarkReadByParticipant(ctx, m, &Participant{}) }},
		{"dotted participant id", func() error { return tracker.MarkReadByParticipant(ctx, m, &Participant{ID: "a.b"}) }},
		{"operator participant id", func() error { return tracker.MarkReadByParticipant(ctx, m, &Participant{ID: "$set"}) }},
		{"save nil message", func() error { return tracker.SaveMessage(ctx, nil, true) }},
		{"save message without thread", func() error {
			return tracker.SaveMessage(ctx, &Message{ID: bson.NewObjectID()}, true)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), ErrInvalidArgument)
		})
	}
	assert.Empty(t, store.updates, "invalid calls never reach the store")
}

func TestReadStateTracker_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: documentstore.NewMemoryStore()}
	tracker := NewReadStateTracker(NewRepository(store, nil))
	thread := saveThread(t, tracker, 1)

	store.unavailable = true

	err := tracker.MarkReadByParticipant(ctx, thread.Messages[0], bob)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = tracker.MarkThreadReadStateByParticipant(ctx, thread, bob, true)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = tracker.SaveMessage(ctx, NewMessage(thread, alice, "later"), true)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, errors.Is(err, documentstore.ErrStoreUnavailable))
}

func TestSaveMessage_FlushImmediately(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	m := NewMessage(NewThread(), alice, "hello")

	require.NoError(t, tracker.SaveMessage(ctx, m, true))

	stored, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Body, stored.Body)
	assert.Equal(t, m.ThreadID, stored.ThreadID)
	assert.True(t, m.CreatedAt.Equal(stored.CreatedAt))
	assert.True(t, stored.IsReadBy(alice.ID))
}

func TestSaveMessage_StagedUntilFlush(t *testing.T) {
	ctx := context.Background()
	tracker, repo, store := newTestTracker(t)
	m := NewMessage(NewThread(), alice, "draft")

	require.NoError(t, tracker.SaveMessage(ctx, m, false))
	assert.Equal(t, 1, store.Pending())

	_, err := repo.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tracker.Flush(ctx))
	_, err = repo.GetByID(ctx, m.ID)
	assert.NoError(t, err)
}

func TestSaveMessage_DoesNotClobberReadState(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	require.NoError(t, tracker.MarkReadByParticipant(ctx, m, bob))

	// m 在記憶體中已過時（沒有 bob 的已讀），保存其他欄位的修改
	m.Body = "edited"
	require.NoError(t, tracker.SaveMessageAndFlush(ctx, m))

	stored, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", stored.Body)
	assert.True(t, stored.IsReadBy(bob.ID))
}

func TestMarkReadByParticipant_ConcurrentParticipants(t *testing.T) {
	ctx := context.Background()
	tracker, repo, _ := newTestTracker(t)
	thread := saveThread(t, tracker, 1)
	m := thread.Messages[0]

	participants := make([]*Participant, 20)
	for i := range participants {
		participants[i] = &Participant{ID: fmt.Sprintf("user_%02d", i)}
	}

	var wg sync.WaitGroup
	for _, p := range participants {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			assert.NoError(t, tracker.MarkReadByParticipant(ctx, m, p))
		}(p)
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.True(t, stored.IsReadBy(p.ID), p.ID)
	}
}

func TestReadStateTracker_Class(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	assert.Equal(t, "message-bundle/internal/storage/database/message.Message", tracker.Class())
}
