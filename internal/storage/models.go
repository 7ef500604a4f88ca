package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationRecord is a locally cached conversation summary.
type ConversationRecord struct {
	ID         string
	CreatedAt  time.Time
	KBID       string
	KBName     string
	ModelID    string
	LastActive time.Time
}

// MessageRecord is a locally cached confirmed chat message. Provisional
// entries are never written to the cache.
type MessageRecord struct {
	ID             string
	ConversationID string
	Speaker        string
	Text           string
	CreatedAt      time.Time
}
