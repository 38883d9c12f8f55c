// Package documentstore 定義訊息集合使用的文檔存儲抽象.
//
// Store 提供三類操作:
//  1. 以欄位路徑直接更新符合條件的文檔（不經過記憶體中的實體）
//  2. Persist 暫存文檔，Flush 一次提交
//  3. 簡單的查詢與計數
//
// 過濾條件使用 bson.D，值為等值比較；唯一支援的操作符是 $ne.
package documentstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrStoreUnavailable 存儲無法連線或逾時.
	ErrStoreUnavailable = errors.New("document store unavailable")
	// ErrNoDocuments 查詢沒有結果.
	ErrNoDocuments = errors.New("no documents in result")
	// ErrEmptyUpdate 更新請求沒有任何欄位.
	ErrEmptyUpdate = errors.New("update has no fields to set")
	// ErrUnsupportedFilter 過濾條件使用了不支援的操作符.
	ErrUnsupportedFilter = errors.New("unsupported filter operator")
)

// Document 可被 Persist 的文檔.
type Document interface {
	DocumentID() bson.ObjectID
}

// InsertOnlyFields 由文檔宣告只在建立時寫入的欄位.
// 這些欄位由其他路徑（例如欄位路徑更新）維護，Flush 既有文檔時不會覆蓋.
type InsertOnlyFields interface {
	InsertOnlyFields() []string
}

// Update 單一欄位路徑更新請求.
type Update struct {
	Filter bson.D
	Set    bson.D
	Multi  bool // true 時更新所有符合的文檔
}

// UpdateResult 更新結果.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Store 文檔存儲.
type Store interface {
	ExecuteUpdate(ctx context.Context, u Update) (UpdateResult, error)
	Persist(doc Document)
	Flush(ctx context.Context) error
	FindOne(ctx context.Context, filter bson.D, out interface{}) error
	Count(ctx context.Context, filter bson.D) (int64, error)
}

// splitFields 把文檔欄位分成一般欄位與只在建立時寫入的欄位，_id 不在兩者之中
func splitFields(doc Document) (set bson.D, insertOnly bson.D, err error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, nil, err
	}

	skip := map[string]bool{}
	if declared, ok := doc.(InsertOnlyFields); ok {
		for _, name := range declared.InsertOnlyFields() {
			skip[name] = true
		}
	}

	for _, f := range fields {
		switch {
		case f.Key == "_id":
		case skip[f.Key]:
			insertOnly = append(insertOnly, f)
		default:
			set = append(set, f)
		}
	}
	return set, insertOnly, nil
}
