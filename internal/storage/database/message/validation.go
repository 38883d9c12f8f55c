package message

import (
	"regexp"
	"strings"

	"message-bundle/internal/constants"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// ParseID 驗證並解析十六進制 ObjectID
func ParseID(hex string) (bson.ObjectID, error) {
	if !objectIDPattern.MatchString(hex) {
		return bson.ObjectID{}, invalidArgument("無效的 ObjectID 格式: %q", hex)
	}
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, invalidArgument("無效的 ObjectID 格式: %q", hex)
	}
	return id, nil
}

// validateParticipant 參與者 ID 會成為欄位路徑的一段，
// 不能含有 . 也不能以 $ 開頭（防止 MongoDB 操作符注入與路徑穿越）
func validateParticipant(p *Participant) error {
	if p == nil {
		return invalidArgument("participant is nil")
	}
	id := p.ID
	switch {
	case strings.TrimSpace(id) == "":
		return invalidArgument("participant id is empty")
	case len(id) > constants.MaxParticipantIDLength:
		return invalidArgument("participant id exceeds %d characters", constants.MaxParticipantIDLength)
	case strings.HasPrefix(id, "$"):
		return invalidArgument("participant id must not start with $: %q", id)
	case strings.ContainsAny(id, ".\x00"):
		return invalidArgument("participant id must not contain '.' or NUL: %q", id)
	}
	return nil
}

// readStatePath 回傳 is_read_by_participant.<participantID>
func readStatePath(participantID string) string {
	return fieldReadState + "." + participantID
}
