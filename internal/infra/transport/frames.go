package transport

import (
	"encoding/json"
	"time"
)

// Frame types pushed by the realtime backend. Every inbound and outbound
// frame is a JSON object discriminated by its "type" field.
const (
	FrameChatMessage      = "chat_message"
	FramePaymentCompleted = "payment_completed"
	FrameHouseDeleted     = "house_deleted"
	FrameHouseStatus      = "house_status"
	FrameFavoritesCleanup = "favorites_cleanup"
)

// Frame is one parsed inbound frame. Raw holds the full object so typed
// payloads can be decoded by the dispatching layer.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// ChatMessageFrame mirrors the backend's chat push/echo payload.
type ChatMessageFrame struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	HouseID    string    `json:"house_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// HouseEventFrame covers house_deleted and house_status feed entries.
type HouseEventFrame struct {
	Type    string `json:"type"`
	HouseID string `json:"house_id"`
	Status  string `json:"status,omitempty"`
}

// PaymentCompletedFrame announces a finished payment on the payments feed.
type PaymentCompletedFrame struct {
	Type      string `json:"type"`
	PaymentID string `json:"payment_id"`
	HouseID   string `json:"house_id"`
	TenantID  string `json:"tenant_id"`
}
