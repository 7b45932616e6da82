package dto

import "time"

// Conversation is one entry of the recency-ordered chat listing.
type Conversation struct {
	Key             string    `json:"key"`
	CounterpartID   string    `json:"counterpart_id"`
	HouseID         string    `json:"house_id"`
	LastMessageText string    `json:"last_message_text,omitempty"`
	LastMessageTime time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int       `json:"unread_count"`
	Selected        bool      `json:"selected,omitempty"`
}

// ConversationList is the listing response.
type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ChatMessage is a single message as exposed over the local API. Pending
// marks optimistic entries the server has not confirmed yet.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	HouseID    string    `json:"house_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Pending    bool      `json:"pending,omitempty"`
	Read       bool      `json:"read,omitempty"`
}

// ChatMessageList is the per-conversation log response.
type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

// SendMessageRequest is the send payload; the conversation key rides in the
// URL.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// DeleteConversationResponse reports whether the removed thread was the one
// currently open, so the caller can close its view.
type DeleteConversationResponse struct {
	Deselected bool `json:"deselected"`
}

// ChannelStatus describes one realtime channel of the sync daemon.
type ChannelStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StatusResponse is the connection overview.
type StatusResponse struct {
	UserID   string          `json:"user_id"`
	Selected string          `json:"selected,omitempty"`
	Channels []ChannelStatus `json:"channels"`
}
