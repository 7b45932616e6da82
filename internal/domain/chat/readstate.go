package chat

import (
	"context"
	"errors"
	"time"
)

// ErrMarkerNotFound is returned by MarkerStore implementations when no marker
// has been persisted yet for the (user, conversation) pair.
var ErrMarkerNotFound = errors.New("chat: read marker not found")

// notifiedCap bounds the remembered notification ids so repeated polls and
// re-renders cannot grow the set without limit.
const notifiedCap = 1000

// MarkerStore persists last-read timestamps per user and conversation.
// Eventual consistency is acceptable: a stale marker only affects unread
// counts, never message content.
type MarkerStore interface {
	Get(ctx context.Context, userID string, key ConversationKey) (time.Time, error)
	Set(ctx context.Context, userID string, key ConversationKey, at time.Time) error
}

// ReadStateTracker computes unread counts and notification decisions for one
// viewing user. Counts are derived from the message set and the marker on
// every call, never stored.
type ReadStateTracker struct {
	viewerID string
	store    MarkerStore

	markers  map[ConversationKey]time.Time
	notified map[string]struct{}
	order    []string
}

func NewReadStateTracker(viewerID string, store MarkerStore) *ReadStateTracker {
	return &ReadStateTracker{
		viewerID: viewerID,
		store:    store,
		markers:  make(map[ConversationKey]time.Time),
		notified: make(map[string]struct{}),
	}
}

func (t *ReadStateTracker) ViewerID() string { return t.viewerID }

// Load warms the in-memory marker from the store. A missing marker is not an
// error: the conversation has simply never been opened.
func (t *ReadStateTracker) Load(ctx context.Context, key ConversationKey) error {
	at, err := t.store.Get(ctx, t.viewerID, key)
	if err != nil {
		if errors.Is(err, ErrMarkerNotFound) {
			return nil
		}
		return err
	}
	t.markers[key] = at
	return nil
}

// MarkRead advances the marker to at and persists it. The in-memory marker is
// updated even when persistence fails, so the returned error is best-effort
// information for the caller to log.
func (t *ReadStateTracker) MarkRead(ctx context.Context, key ConversationKey, at time.Time) error {
	t.markers[key] = at
	return t.store.Set(ctx, t.viewerID, key, at)
}

// LastReadAt returns the current marker, zero when never read.
func (t *ReadStateTracker) LastReadAt(key ConversationKey) time.Time {
	return t.markers[key]
}

// UnreadCount counts messages after the marker that were not sent by the
// viewer.
func (t *ReadStateTracker) UnreadCount(key ConversationKey, msgs []Message) int {
	lastRead := t.markers[key]
	count := 0
	for _, m := range msgs {
		if m.SenderID != t.viewerID && m.Timestamp.After(lastRead) {
			count++
		}
	}
	return count
}

// ShouldNotify decides whether a message warrants a user-facing notification
// and records the id so the same message never notifies twice, regardless of
// how many sources deliver it.
func (t *ReadStateTracker) ShouldNotify(msg Message) bool {
	if msg.SenderID == t.viewerID {
		return false
	}
	if !msg.Timestamp.After(t.markers[msg.Key]) {
		return false
	}
	if _, seen := t.notified[msg.ID]; seen {
		return false
	}
	t.remember(msg.ID)
	return true
}

func (t *ReadStateTracker) remember(id string) {
	t.notified[id] = struct{}{}
	t.order = append(t.order, id)
	for len(t.order) > notifiedCap {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.notified, oldest)
	}
}
