package transport

import (
	"context"
	"log/slog"
	"sync"
)

// ChatChannels owns the per-house chat connection. The backend exposes one
// chat endpoint per house (chat/<houseID>), so opening a conversation dials
// that house's channel, switching houses moves the connection and closing the
// conversation tears it down. At most one chat channel is live at a time.
type ChatChannels struct {
	logger *slog.Logger

	// newChannel is swapped in tests to inject fake dialers and timers.
	newChannel func(houseID string) *Channel

	mu       sync.Mutex
	current  *Channel
	handlers []Handler
}

func NewChatChannels(baseURL, token string, logger *slog.Logger) *ChatChannels {
	return &ChatChannels{
		logger: logger,
		newChannel: func(houseID string) *Channel {
			return NewChannel(baseURL, "chat/"+houseID, token, logger)
		},
	}
}

// OnMessage registers a handler applied to the current channel and every one
// opened later.
func (m *ChatChannels) OnMessage(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	if m.current != nil {
		m.current.OnMessage(h)
	}
}

// Connect dials chat/<houseID>. Reconnecting to the already-open house is
// idempotent; a different house closes the previous channel first.
func (m *ChatChannels) Connect(ctx context.Context, houseID string) error {
	m.mu.Lock()
	if m.current != nil && m.current.Key() == "chat/"+houseID {
		ch := m.current
		m.mu.Unlock()
		return ch.Connect(ctx)
	}
	old := m.current
	ch := m.newChannel(houseID)
	for _, h := range m.handlers {
		ch.OnMessage(h)
	}
	m.current = ch
	m.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(); err != nil && m.logger != nil {
			m.logger.Warn("previous chat channel close failed", "channel", old.Key(), "error", err)
		}
	}
	return ch.Connect(ctx)
}

// Disconnect closes the open chat channel, if any.
func (m *ChatChannels) Disconnect() error {
	m.mu.Lock()
	ch := m.current
	m.current = nil
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Disconnect()
}

// Send writes a frame to the open chat channel.
func (m *ChatChannels) Send(payload any) error {
	m.mu.Lock()
	ch := m.current
	m.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Send(payload)
}

// Status reports the open channel's key and state; "chat" and disconnected
// when no conversation is open.
func (m *ChatChannels) Status() (string, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "chat", StatusDisconnected
	}
	return m.current.Key(), m.current.Status()
}
