package documentstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore 行程內的 Store 實作，用於測試與本地開發.
//
// 文檔以 BSON 編碼後的 map 形式保存，所以欄位路徑更新與 MongoStore 行為一致.
// 每次 ExecuteUpdate 在鎖內完成，對單一文檔是原子的.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[bson.ObjectID]map[string]interface{}
	order   []bson.ObjectID
	pending []Document
	index   map[bson.ObjectID]int
}

// NewMemoryStore 創建空的記憶體存儲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[bson.ObjectID]map[string]interface{}),
		index: make(map[bson.ObjectID]int),
	}
}

// ExecuteUpdate 在符合條件的文檔上設定欄位路徑
func (m *MemoryStore) ExecuteUpdate(ctx context.Context, u Update) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(u.Set) == 0 {
		return UpdateResult{}, ErrEmptyUpdate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var res UpdateResult
	for _, id := range m.order {
		doc := m.docs[id]
		ok, err := matches(doc, u.Filter)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}

		res.Matched++
		changed := false
		for _, f := range u.Set {
			value, err := normalizeValue(f.Value)
			if err != nil {
				return res, err
			}
			if current, found := lookup(doc, f.Key); !found || !reflect.DeepEqual(current, value) {
				setPath(doc, f.Key, value)
				changed = true
			}
		}
		if changed {
			res.Modified++
		}

		if !u.Multi {
			break
		}
	}
	return res, nil
}

// Persist 暫存文檔，Flush 前不可見
func (m *MemoryStore) Persist(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.DocumentID()
	if i, ok := m.index[id]; ok {
		m.pending[i] = doc
		return
	}
	m.index[id] = len(m.pending)
	m.pending = append(m.pending, doc)
}

// Flush 提交暫存文檔，語意與 MongoStore 相同（既有文檔不覆蓋 InsertOnlyFields）
func (m *MemoryStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 先全部編碼，任何一筆失敗都不寫入
	type staged struct {
		id         bson.ObjectID
		set        map[string]interface{}
		insertOnly map[string]interface{}
	}
	batch := make([]staged, 0, len(m.pending))
	for _, doc := range m.pending {
		set, insertOnly, err := splitFields(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", doc.DocumentID().Hex(), err)
		}
		setMap, err := toMap(set)
		if err != nil {
			return err
		}
		insertMap, err := toMap(insertOnly)
		if err != nil {
			return err
		}
		batch = append(batch, staged{id: doc.DocumentID(), set: setMap, insertOnly: insertMap})
	}

	for _, s := range batch {
		existing, ok := m.docs[s.id]
		if !ok {
			existing = map[string]interface{}{"_id": s.id}
			for k, v := range s.insertOnly {
				existing[k] = v
			}
			m.docs[s.id] = existing
			m.order = append(m.order, s.id)
		}
		for k, v := range s.set {
			existing[k] = v
		}
	}

	m.pending = nil
	m.index = make(map[bson.ObjectID]int)
	return nil
}

// FindOne 回傳第一筆符合的文檔
func (m *MemoryStore) FindOne(ctx context.Context, filter bson.D, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		doc := m.docs[id]
		ok, err := matches(doc, filter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			return err
		}
		return bson.Unmarshal(raw, out)
	}
	return ErrNoDocuments
}

// Count 計算符合條件的文檔數
func (m *MemoryStore) Count(ctx context.Context, filter bson.D) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, id := range m.order {
		ok, err := matches(m.docs[id], filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Pending 回傳尚未 Flush 的文檔數
func (m *MemoryStore) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func matches(doc map[string]interface{}, filter bson.D) (bool, error) {
	for _, cond := range filter {
		current, found := lookup(doc, cond.Key)

		if op, ok := operatorOf(cond.Value); ok {
			if op.Key != "$ne" {
				return false, fmt.Errorf("%w: %s", ErrUnsupportedFilter, op.Key)
			}
			want, err := normalizeValue(op.Value)
			if err != nil {
				return false, err
			}
			if found && reflect.DeepEqual(current, want) {
				return false, nil
			}
			continue
		}

		want, err := normalizeValue(cond.Value)
		if err != nil {
			return false, err
		}
		if !found || !reflect.DeepEqual(current, want) {
			return false, nil
		}
	}
	return true, nil
}

// operatorOf 判斷條件值是否為單一操作符文檔，例如 {$ne: true}
func operatorOf(v interface{}) (bson.E, bool) {
	switch t := v.(type) {
	case bson.D:
		if len(t) == 1 && strings.HasPrefix(t[0].Key, "$") {
			return t[0], true
		}
	case bson.M:
		if len(t) == 1 {
			for k, val := range t {
				if strings.HasPrefix(k, "$") {
					return bson.E{Key: k, Value: val}, true
				}
			}
		}
	}
	return bson.E{}, false
}

func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, p := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setPath(doc map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[p] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// toMap 將 bson.D 經過一次 BSON 編解碼，得到與存儲內容相同型別的 map
func toMap(d bson.D) (map[string]interface{}, error) {
	if len(d) == 0 {
		return map[string]interface{}{}, nil
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return normalize(m).(map[string]interface{}), nil
}

// normalizeValue 單一值經過 BSON 編解碼後的形式（int -> int32/int64 等）
func normalizeValue(v interface{}) (interface{}, error) {
	m, err := toMap(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	return m["v"], nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
