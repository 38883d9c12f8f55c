// Package message 提供訊息文檔的持久化存取與每位參與者的已讀狀態追蹤.
//
// 已讀狀態保存在訊息文檔的 is_read_by_participant 欄位（參與者 ID -> bool），
// 缺少的項目視為未讀. 標記已讀/未讀時直接對存儲執行欄位路徑更新，
// 不載入、不修改記憶體中的 Message；呼叫後記憶體中的實例可能是過時的.
package message

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// 文檔欄位名稱.
const (
	fieldID        = "_id"
	fieldThreadID  = "thread_id"
	fieldSenderID  = "sender_id"
	fieldCreatedAt = "created_at"
	fieldReadState = "is_read_by_participant"
)

// Message 訊息數據模型
type Message struct {
	ID                  bson.ObjectID   `bson:"_id" json:"id"`
	ThreadID            bson.ObjectID   `bson:"thread_id" json:"thread_id"`
	SenderID            string          `bson:"sender_id" json:"sender_id"`
	Body                string          `bson:"body" json:"body"`
	CreatedAt           time.Time       `bson:"created_at" json:"created_at"`
	IsReadByParticipant map[string]bool `bson:"is_read_by_participant,omitempty" json:"is_read_by_participant,omitempty"`
}

// NewMessage 創建新的訊息並加入討論串，發送者視為已讀
func NewMessage(thread *Thread, sender *Participant, body string) *Message {
	m := &Message{
		ID:                  bson.NewObjectID(),
		Body:                body,
		CreatedAt:           time.Now().UTC().Truncate(time.Millisecond),
		IsReadByParticipant: map[string]bool{},
	}
	if sender != nil {
		m.SenderID = sender.ID
		m.IsReadByParticipant[sender.ID] = true
	}
	if thread != nil {
		m.ThreadID = thread.ID
		thread.Messages = append(thread.Messages, m)
	}
	return m
}

// DocumentID 實作 documentstore.Document
func (m *Message) DocumentID() bson.ObjectID {
	return m.ID
}

// InsertOnlyFields 已讀狀態只透過欄位路徑更新維護，保存訊息時不覆蓋
func (m *Message) InsertOnlyFields() []string {
	return []string{fieldReadState}
}

// IsReadBy 回傳記憶體中的已讀狀態；可能落後於存儲
func (m *Message) IsReadBy(participantID string) bool {
	return m.IsReadByParticipant[participantID]
}

// Thread 討論串，擁有依建立順序排列的訊息
type Thread struct {
	ID       bson.ObjectID
	Messages []*Message
}

// NewThread 創建新的討論串
func NewThread() *Thread {
	return &Thread{ID: bson.NewObjectID()}
}

// Participant 參與者，只以 ID 參照
type Participant struct {
	ID string
}
