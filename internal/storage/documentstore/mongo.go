package documentstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore 以單一 MongoDB 集合實作 Store
type MongoStore struct {
	collection   *mongo.Collection
	writeTimeout time.Duration

	mu      sync.Mutex
	pending []Document
	index   map[bson.ObjectID]int
}

// NewMongoStore 創建綁定到指定集合的存儲
func NewMongoStore(db *mongo.Database, collection string, writeTimeout time.Duration) *MongoStore {
	return &MongoStore{
		collection:   db.Collection(collection),
		writeTimeout: writeTimeout,
		index:        make(map[bson.ObjectID]int),
	}
}

// Collection 回傳底層集合
func (s *MongoStore) Collection() *mongo.Collection {
	return s.collection
}

// ExecuteUpdate 直接在存儲上執行欄位路徑更新
func (s *MongoStore) ExecuteUpdate(ctx context.Context, u Update) (UpdateResult, error) {
	if len(u.Set) == 0 {
		return UpdateResult{}, ErrEmptyUpdate
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	update := bson.D{{Key: "$set", Value: u.Set}}

	var (
		res *mongo.UpdateResult
		err error
	)
	if u.Multi {
		res, err = s.collection.UpdateMany(ctx, u.Filter, update)
	} else {
		res, err = s.collection.UpdateOne(ctx, u.Filter, update)
	}
	if err != nil {
		return UpdateResult{}, classify(err)
	}

	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// Persist 暫存文檔，同一 _id 重複暫存時以最後一次為準
func (s *MongoStore) Persist(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.DocumentID()
	if i, ok := s.index[id]; ok {
		s.pending[i] = doc
		return
	}
	s.index[id] = len(s.pending)
	s.pending = append(s.pending, doc)
}

// Flush 以一次有序的 BulkWrite 提交所有暫存文檔.
// 既有文檔只 $set 一般欄位，InsertOnlyFields 透過 $setOnInsert 寫入.
func (s *MongoStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(s.pending))
	for _, doc := range s.pending {
		set, insertOnly, err := splitFields(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", doc.DocumentID().Hex(), err)
		}

		update := bson.D{}
		if len(set) > 0 {
			update = append(update, bson.E{Key: "$set", Value: set})
		}
		if len(insertOnly) > 0 {
			update = append(update, bson.E{Key: "$setOnInsert", Value: insertOnly})
		}
		if len(update) == 0 {
			update = append(update, bson.E{Key: "$setOnInsert", Value: bson.D{{Key: "_id", Value: doc.DocumentID()}}})
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc.DocumentID()}}).
			SetUpdate(update).
			SetUpsert(true))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		// 暫存區保留，呼叫端可重試 Flush
		return classify(err)
	}

	s.pending = nil
	s.index = make(map[bson.ObjectID]int)
	return nil
}

// FindOne 查詢單一文檔並解碼到 out
func (s *MongoStore) FindOne(ctx context.Context, filter bson.D, out interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.collection.FindOne(ctx, filter).Decode(out); err != nil {
		return classify(err)
	}
	return nil
}

// Count 計算符合條件的文檔數
func (s *MongoStore) Count(ctx context.Context, filter bson.D) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// withTimeout 呼叫端沒有 deadline 時套用寫入逾時
func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.writeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.writeTimeout)
}

// classify 把驅動錯誤轉成本套件的錯誤類型
func classify(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %w", ErrNoDocuments, err)
	case mongo.IsNetworkError(err),
		mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}
