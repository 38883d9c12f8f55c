package message

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type filterKind int

const (
	filterByID filterKind = iota + 1
	filterByThreadID
)

// Filter 已讀狀態更新的目標：單一訊息或整個討論串
type Filter struct {
	kind filterKind
	id   bson.ObjectID
}

// ByID 以訊息 ID 過濾
func ByID(messageID bson.ObjectID) Filter {
	return Filter{kind: filterByID, id: messageID}
}

// ByThreadID 以討論串 ID 過濾，命中討論串內所有訊息
func ByThreadID(threadID bson.ObjectID) Filter {
	return Filter{kind: filterByThreadID, id: threadID}
}

func (f Filter) valid() bool {
	return (f.kind == filterByID || f.kind == filterByThreadID) && !f.id.IsZero()
}

func (f Filter) condition() bson.D {
	switch f.kind {
	case filterByThreadID:
		return bson.D{{Key: fieldThreadID, Value: f.id}}
	default:
		return bson.D{{Key: fieldID, Value: f.id}}
	}
}

// operation 用於日誌與指標的操作名稱
func (f Filter) operation() string {
	if f.kind == filterByThreadID {
		return "mark_thread"
	}
	return "mark_message"
}

func (f Filter) String() string {
	switch f.kind {
	case filterByID:
		return fmt.Sprintf("%s=%s", fieldID, f.id.Hex())
	case filterByThreadID:
		return fmt.Sprintf("%s=%s", fieldThreadID, f.id.Hex())
	default:
		return "<empty filter>"
	}
}
