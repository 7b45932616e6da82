package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"househunter/internal/app/policies"
	"househunter/internal/domain/chat"
)

var ErrSendFailed = errors.New("session: message could not be delivered")

// Messaging is the REST collaborator surface the session needs.
type Messaging interface {
	ListMessages(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error)
	CreateMessage(ctx context.Context, key chat.ConversationKey, text string) (chat.Message, error)
	MarkRead(ctx context.Context, key chat.ConversationKey, at time.Time) error
	DeleteConversation(ctx context.Context, key chat.ConversationKey) error
}

// Realtime is the per-conversation chat channel. The backend serves one chat
// endpoint per house, so opening a conversation connects that house's
// channel, switching conversations moves it and closing tears it down. Send
// reports failure without blocking; the session then falls back to REST.
type Realtime interface {
	Connect(ctx context.Context, houseID string) error
	Disconnect() error
	Send(payload any) error
}

// Config wires a session's collaborators.
type Config struct {
	UserID   string
	API      Messaging
	Tracker  *chat.ReadStateTracker
	Notifier policies.Notifier
	Realtime Realtime
	Logger   *slog.Logger
	Now      func() time.Time
}

// Session owns all per-user chat state: one message store per conversation,
// the conversation index and the read-state tracker. Every mutation funnels
// through a single goroutine (Run), so transport callbacks, poll ticks and
// API handlers never race on the stores. That serialization is what the
// engine relies on instead of locks.
type Session struct {
	userID   string
	api      Messaging
	tracker  *chat.ReadStateTracker
	index    *chat.Index
	notifier policies.Notifier
	realtime Realtime
	logger   *slog.Logger
	now      func() time.Time

	stores   map[chat.ConversationKey]*chat.Store
	commands chan func()
}

func New(cfg Config) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		userID:   cfg.UserID,
		api:      cfg.API,
		tracker:  cfg.Tracker,
		index:    chat.NewIndex(cfg.Tracker),
		notifier: cfg.Notifier,
		realtime: cfg.Realtime,
		logger:   logger,
		now:      now,
		stores:   make(map[chat.ConversationKey]*chat.Store),
		commands: make(chan func(), 64),
	}
}

func (s *Session) UserID() string { return s.userID }

// Run drains the command queue until ctx is cancelled. All state access
// happens on this goroutine.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			cmd()
		}
	}
}

// do schedules fn on the session goroutine and waits for it to finish.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	s.commands <- func() {
		fn()
		close(done)
	}
	<-done
}

// Open selects a conversation: lifts any deletion tombstone, warms the read
// marker, fetches history through the reconcile path, connects the house's
// chat channel and marks the thread read, mirroring what opening a chat modal
// does.
func (s *Session) Open(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error) {
	msgs, err := s.api.ListMessages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", key, err)
	}
	var out []chat.Message
	s.do(func() {
		s.index.Restore(key)
		s.index.Select(key)
		if err := s.tracker.Load(ctx, key); err != nil {
			s.logger.Warn("read marker load failed", "conversation", key.String(), "error", err)
		}
		store := s.storeFor(key)
		store.Reconcile(msgs)
		s.index.Replace(key, store.Messages())
		out = store.Messages()
	})
	if s.realtime != nil {
		if err := s.realtime.Connect(ctx, key.HouseID); err != nil {
			s.logger.Warn("chat channel connect failed, retrying in background", "house_id", key.HouseID, "error", err)
		}
	}
	if err := s.MarkRead(ctx, key); err != nil {
		s.logger.Warn("mark read on open failed", "conversation", key.String(), "error", err)
	}
	return out, nil
}

// Close deselects the conversation and tears down its chat channel.
func (s *Session) Close(key chat.ConversationKey) {
	var deselected bool
	s.do(func() {
		if s.index.Selected() == key {
			s.index.Select(chat.ConversationKey{})
			deselected = true
		}
	})
	if deselected {
		s.disconnectRealtime()
	}
}

// Send appends the message optimistically, then attempts delivery: realtime
// transport first, REST fallback. If both fail the optimistic entry is
// reverted so the caller can offer a retry.
func (s *Session) Send(ctx context.Context, key chat.ConversationKey, text string) (chat.Message, error) {
	var (
		tempID string
		msg    chat.Message
		err    error
	)
	s.do(func() {
		store := s.storeFor(key)
		msg = chat.Message{
			SenderID:   s.userID,
			ReceiverID: key.CounterpartID,
			Text:       text,
			Timestamp:  s.now(),
		}
		tempID, err = store.AppendOptimistic(msg)
		if err != nil {
			return
		}
		msg.ID = tempID
		msg.Optimistic = true
		s.index.Replace(key, store.Messages())
	})
	if err != nil {
		return chat.Message{}, err
	}

	if s.realtime != nil {
		payload := map[string]any{
			"type":        "chat_message",
			"sender_id":   s.userID,
			"receiver_id": key.CounterpartID,
			"house_id":    key.HouseID,
			"text":        text,
			"timestamp":   msg.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if sendErr := s.realtime.Send(payload); sendErr == nil {
			// Confirmation arrives as the transport echo and resolves the
			// optimistic entry through Reconcile.
			return msg, nil
		} else {
			s.logger.Warn("transport send failed, falling back to rest", "conversation", key.String(), "error", sendErr)
		}
	}

	confirmed, restErr := s.api.CreateMessage(ctx, key, text)
	if restErr != nil {
		s.do(func() {
			store := s.storeFor(key)
			if rmErr := store.RemoveOptimistic(tempID); rmErr != nil {
				s.logger.Warn("optimistic revert failed", "temp_id", tempID, "error", rmErr)
			}
			s.index.Replace(key, store.Messages())
		})
		return chat.Message{}, fmt.Errorf("%w: %s", ErrSendFailed, restErr)
	}
	s.do(func() {
		store := s.storeFor(key)
		store.Reconcile([]chat.Message{confirmed})
		s.index.Replace(key, store.Messages())
	})
	return confirmed, nil
}

// MarkRead advances the viewer's marker now, persists it and syncs the
// server-side copy best-effort.
func (s *Session) MarkRead(ctx context.Context, key chat.ConversationKey) error {
	at := s.now()
	var persistErr error
	s.do(func() {
		persistErr = s.tracker.MarkRead(ctx, key, at)
	})
	if persistErr != nil {
		s.logger.Warn("read marker persist failed", "conversation", key.String(), "error", persistErr)
	}
	if err := s.api.MarkRead(ctx, key, at); err != nil {
		s.logger.Warn("server mark-read failed", "conversation", key.String(), "error", err)
	}
	return persistErr
}

// Delete removes the conversation server-side first; local state changes only
// after the server confirms, otherwise everything stays as it was.
func (s *Session) Delete(ctx context.Context, key chat.ConversationKey) (deselected bool, err error) {
	if err := s.api.DeleteConversation(ctx, key); err != nil {
		return false, fmt.Errorf("session: delete %s: %w", key, err)
	}
	s.do(func() {
		deselected = s.index.Remove(key)
		delete(s.stores, key)
	})
	if deselected {
		s.disconnectRealtime()
	}
	return deselected, nil
}

// Clear wipes the local log only; the server copy is untouched and a later
// fetch restores it.
func (s *Session) Clear(key chat.ConversationKey) {
	s.do(func() {
		if store, ok := s.stores[key]; ok {
			store.Clear()
			s.index.Replace(key, nil)
		}
	})
}

// HandleIncoming is the transport push/echo path: one confirmed message is
// reconciled, the index updated and a notification emitted when warranted.
func (s *Session) HandleIncoming(ctx context.Context, msg chat.Message) {
	s.do(func() {
		s.reconcileLocked(ctx, msg.Key, []chat.Message{msg})
	})
}

// HandlePollBatch is the polling path: unseen messages from a fetch pass
// through the identical reconcile entry point.
func (s *Session) HandlePollBatch(ctx context.Context, key chat.ConversationKey, msgs []chat.Message) {
	if len(msgs) == 0 {
		return
	}
	s.do(func() {
		s.reconcileLocked(ctx, key, msgs)
	})
}

// HandleHouseDeleted drops every thread about a deleted listing.
func (s *Session) HandleHouseDeleted(houseID string) {
	var deselected bool
	s.do(func() {
		deselected = s.index.RemoveByHouse(houseID)
		for key := range s.stores {
			if key.HouseID == houseID {
				delete(s.stores, key)
			}
		}
	})
	if deselected {
		s.logger.Info("selected conversation removed with house", "house_id", houseID)
		s.disconnectRealtime()
	}
}

// Conversations returns the recency-ordered listing.
func (s *Session) Conversations() []chat.Conversation {
	var out []chat.Conversation
	s.do(func() {
		out = s.index.Conversations()
	})
	return out
}

// Messages returns the reconciled log for one conversation.
func (s *Session) Messages(key chat.ConversationKey) []chat.Message {
	var out []chat.Message
	s.do(func() {
		if store, ok := s.stores[key]; ok {
			out = store.Messages()
		}
	})
	return out
}

// Selected returns the currently open conversation key.
func (s *Session) Selected() chat.ConversationKey {
	var key chat.ConversationKey
	s.do(func() {
		key = s.index.Selected()
	})
	return key
}

// SeenIDs snapshots the confirmed ids of one conversation for the poll diff.
func (s *Session) SeenIDs(key chat.ConversationKey) map[string]struct{} {
	var ids map[string]struct{}
	s.do(func() {
		if store, ok := s.stores[key]; ok {
			ids = store.IDSet()
		}
	})
	if ids == nil {
		ids = map[string]struct{}{}
	}
	return ids
}

// reconcileLocked runs on the session goroutine only.
func (s *Session) reconcileLocked(ctx context.Context, key chat.ConversationKey, msgs []chat.Message) {
	if key.IsZero() {
		return
	}
	store := s.storeFor(key)
	store.Reconcile(msgs)
	s.index.Replace(key, store.Messages())
	for _, msg := range msgs {
		if !s.tracker.ShouldNotify(msg) {
			continue
		}
		if s.notifier == nil {
			continue
		}
		notification := policies.Notification{
			MessageID:       msg.ID,
			ConversationKey: key.String(),
			SenderID:        msg.SenderID,
			RecipientID:     s.userID,
			Text:            msg.Text,
			SentAt:          msg.Timestamp,
		}
		if err := s.notifier.Notify(ctx, notification); err != nil {
			s.logger.Warn("notification publish failed", "message_id", msg.ID, "error", err)
		}
	}
}

func (s *Session) disconnectRealtime() {
	if s.realtime == nil {
		return
	}
	if err := s.realtime.Disconnect(); err != nil {
		s.logger.Warn("chat channel close failed", "error", err)
	}
}

func (s *Session) storeFor(key chat.ConversationKey) *chat.Store {
	store, ok := s.stores[key]
	if !ok {
		store = chat.NewStore(key)
		s.stores[key] = store
	}
	return store
}
