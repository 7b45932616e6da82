package policies

import (
	"context"
	"time"
)

// Notification is a deduplicated new-message alert ready for fan-out.
type Notification struct {
	MessageID       string
	ConversationKey string
	SenderID        string
	RecipientID     string
	Text            string
	SentAt          time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
