package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTextRequired   = errors.New("chat: message text is required")
	ErrSenderRequired = errors.New("chat: sender id is required")
	ErrInvalidKey     = errors.New("chat: conversation key must be counterpart:house")
)

// ConversationKey identifies a logical thread between the viewing user and one
// counterpart about one house listing.
type ConversationKey struct {
	CounterpartID string
	HouseID       string
}

func (k ConversationKey) String() string {
	return k.CounterpartID + ":" + k.HouseID
}

func (k ConversationKey) IsZero() bool {
	return k.CounterpartID == "" && k.HouseID == ""
}

// ParseConversationKey parses the "counterpart:house" wire form.
func ParseConversationKey(raw string) (ConversationKey, error) {
	counterpart, house, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || counterpart == "" || house == "" {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return ConversationKey{CounterpartID: counterpart, HouseID: house}, nil
}

// Message is a single chat entry. Optimistic entries carry a locally issued
// temporary id until the server-confirmed counterpart replaces them.
type Message struct {
	ID         string
	Key        ConversationKey
	SenderID   string
	ReceiverID string
	Text       string
	Timestamp  time.Time
	Optimistic bool
	Read       bool
}

// SameAction reports whether a confirmed message plausibly represents the same
// user action as an optimistic one: same sender, same text, timestamps within
// the dedup window. Temporary ids never match server ids, so this heuristic is
// the only available tie-break; two genuinely distinct identical texts inside
// the window collapse to one, an accepted limitation.
func (m Message) SameAction(optimistic Message, window time.Duration) bool {
	if m.SenderID != optimistic.SenderID || m.Text != optimistic.Text {
		return false
	}
	delta := m.Timestamp.Sub(optimistic.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta < window
}

func (m Message) validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return ErrSenderRequired
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrTextRequired
	}
	return nil
}
