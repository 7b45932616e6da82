package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"househunter/internal/app/dto"
	"househunter/internal/app/session"
	"househunter/internal/domain/chat"
)

// ChatHTTP exposes the local chat-sync endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	OpenConversation(c *gin.Context)
	CloseConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	ClearConversation(c *gin.Context)
	DeleteConversation(c *gin.Context)
	Status(c *gin.Context)
}

// Syncer is the session surface the handler drives; *session.Session
// satisfies it.
type Syncer interface {
	UserID() string
	Open(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error)
	Close(key chat.ConversationKey)
	Send(ctx context.Context, key chat.ConversationKey, text string) (chat.Message, error)
	MarkRead(ctx context.Context, key chat.ConversationKey) error
	Delete(ctx context.Context, key chat.ConversationKey) (bool, error)
	Clear(key chat.ConversationKey)
	Conversations() []chat.Conversation
	Messages(key chat.ConversationKey) []chat.Message
	Selected() chat.ConversationKey
}

// ChannelStatuses reports the realtime channels and their connection state.
type ChannelStatuses func() []dto.ChannelStatus

// ChatHandler bridges the local HTTP API with the sync session.
type ChatHandler struct {
	Session  Syncer
	Channels ChannelStatuses
	Logger   *slog.Logger
}

// ListConversations returns the recency-ordered listing with unread counts.
func (h ChatHandler) ListConversations(c *gin.Context) {
	selected := h.Session.Selected()
	convs := h.Session.Conversations()
	out := dto.ConversationList{Items: make([]dto.Conversation, 0, len(convs))}
	for _, conv := range convs {
		out.Items = append(out.Items, dto.Conversation{
			Key:             conv.Key.String(),
			CounterpartID:   conv.Key.CounterpartID,
			HouseID:         conv.Key.HouseID,
			LastMessageText: conv.LastMessageText,
			LastMessageTime: conv.LastMessageTime,
			UnreadCount:     conv.UnreadCount,
			Selected:        conv.Key == selected,
		})
	}
	c.JSON(http.StatusOK, out)
}

// OpenConversation selects a thread, fetches its history from the backend and
// marks it read, returning the reconciled log.
func (h ChatHandler) OpenConversation(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	msgs, err := h.Session.Open(c.Request.Context(), key)
	if err != nil {
		h.logError("open conversation failed", err, "conversation", key.String())
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
		return
	}
	c.JSON(http.StatusOK, toMessageList(msgs))
}

// CloseConversation deselects the thread and drops its chat channel; local
// state is untouched.
func (h ChatHandler) CloseConversation(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	h.Session.Close(key)
	c.Status(http.StatusNoContent)
}

// ListMessages returns the local reconciled log without touching the backend.
func (h ChatHandler) ListMessages(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toMessageList(h.Session.Messages(key)))
}

// SendMessage delivers a message, realtime first with REST fallback. A failed
// send reports 502 and leaves no trace locally.
func (h ChatHandler) SendMessage(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	msg, err := h.Session.Send(c.Request.Context(), key, req.Text)
	if err != nil {
		if errors.Is(err, session.ErrSendFailed) {
			h.logError("send failed on both paths", err, "conversation", key.String())
			c.JSON(http.StatusBadGateway, gin.H{"error": "message could not be delivered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toMessage(msg))
}

// MarkRead advances the viewer's read marker to now.
func (h ChatHandler) MarkRead(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	if err := h.Session.MarkRead(c.Request.Context(), key); err != nil {
		h.logError("mark read failed", err, "conversation", key.String())
	}
	c.JSON(http.StatusOK, gin.H{"read_at": time.Now().UTC()})
}

// ClearConversation wipes the local log only; the server copy survives.
func (h ChatHandler) ClearConversation(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	h.Session.Clear(key)
	c.Status(http.StatusNoContent)
}

// DeleteConversation removes the thread server-side first; local state is
// untouched when the server refuses.
func (h ChatHandler) DeleteConversation(c *gin.Context) {
	key, ok := h.parseKey(c)
	if !ok {
		return
	}
	deselected, err := h.Session.Delete(c.Request.Context(), key)
	if err != nil {
		h.logError("delete conversation failed", err, "conversation", key.String())
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
		return
	}
	c.JSON(http.StatusOK, dto.DeleteConversationResponse{Deselected: deselected})
}

// Status reports the sync daemon's channels and selection.
func (h ChatHandler) Status(c *gin.Context) {
	out := dto.StatusResponse{UserID: h.Session.UserID()}
	if selected := h.Session.Selected(); !selected.IsZero() {
		out.Selected = selected.String()
	}
	if h.Channels != nil {
		out.Channels = h.Channels()
	}
	if out.Channels == nil {
		out.Channels = []dto.ChannelStatus{}
	}
	c.JSON(http.StatusOK, out)
}

func (h ChatHandler) parseKey(c *gin.Context) (chat.ConversationKey, bool) {
	key, err := chat.ParseConversationKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation key"})
		return chat.ConversationKey{}, false
	}
	return key, true
}

func (h ChatHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func toMessage(m chat.Message) dto.ChatMessage {
	return dto.ChatMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		HouseID:    m.Key.HouseID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		Pending:    m.Optimistic,
		Read:       m.Read,
	}
}

func toMessageList(msgs []chat.Message) dto.ChatMessageList {
	out := dto.ChatMessageList{Items: make([]dto.ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Items = append(out.Items, toMessage(m))
	}
	return out
}

var _ ChatHTTP = (*ChatHandler)(nil)
