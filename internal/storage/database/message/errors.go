package message

import (
	"errors"
	"fmt"

	"message-bundle/internal/storage/documentstore"
)

var (
	// ErrNotFound 過濾條件未命中任何訊息（僅在嚴格模式下回傳）.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidArgument 參數為 nil 或格式錯誤.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStoreUnavailable 文檔存儲無法連線.
	ErrStoreUnavailable = documentstore.ErrStoreUnavailable
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// resultLabel 將錯誤對應到指標的 result 標籤
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
