package chat

import (
	"sort"
	"time"
)

// Conversation is the derived listing entry for one thread. It is recomputed
// from the message set on every ingest, never mutated independently.
type Conversation struct {
	Key             ConversationKey
	LastMessageText string
	LastMessageTime time.Time
	UnreadCount     int
	Messages        []Message
}

// Index groups messages into conversations keyed by (counterpart, house) and
// keeps the listing ordered by recency. Removal tombstones the key so stale
// cached messages cannot resurrect a deleted thread.
type Index struct {
	tracker  *ReadStateTracker
	groups   map[ConversationKey][]Message
	removed  map[ConversationKey]struct{}
	selected ConversationKey
}

func NewIndex(tracker *ReadStateTracker) *Index {
	return &Index{
		tracker: tracker,
		groups:  make(map[ConversationKey][]Message),
		removed: make(map[ConversationKey]struct{}),
	}
}

// Ingest merges messages into their conversation groups. Messages for removed
// conversations are dropped until Restore is called for that key.
func (ix *Index) Ingest(msgs []Message) {
	for _, m := range msgs {
		if m.Key.IsZero() {
			continue
		}
		if _, gone := ix.removed[m.Key]; gone {
			continue
		}
		ix.groups[m.Key] = mergeByID(ix.groups[m.Key], m)
	}
}

// Replace swaps the full message set for one conversation, used when a store
// has already reconciled the canonical log.
func (ix *Index) Replace(key ConversationKey, msgs []Message) {
	if _, gone := ix.removed[key]; gone {
		return
	}
	ix.groups[key] = append([]Message(nil), msgs...)
}

// Conversations returns the listing, most recent activity first.
func (ix *Index) Conversations() []Conversation {
	out := make([]Conversation, 0, len(ix.groups))
	for key, msgs := range ix.groups {
		out = append(out, ix.summarize(key, msgs))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// Get returns one conversation summary.
func (ix *Index) Get(key ConversationKey) (Conversation, bool) {
	msgs, ok := ix.groups[key]
	if !ok {
		return Conversation{}, false
	}
	return ix.summarize(key, msgs), true
}

// Select marks a conversation as the one currently open in the UI.
func (ix *Index) Select(key ConversationKey) {
	ix.selected = key
}

func (ix *Index) Selected() ConversationKey { return ix.selected }

// Remove deletes the group and tombstones the key. It reports whether the
// removed conversation was the selected one, in which case the caller must
// deselect; this is a pure state transition with no transport side effect.
func (ix *Index) Remove(key ConversationKey) (deselected bool) {
	delete(ix.groups, key)
	ix.removed[key] = struct{}{}
	if ix.selected == key {
		ix.selected = ConversationKey{}
		return true
	}
	return false
}

// RemoveByHouse drops every conversation about a house, used when the listing
// itself is deleted upstream.
func (ix *Index) RemoveByHouse(houseID string) (deselected bool) {
	for key := range ix.groups {
		if key.HouseID == houseID {
			if ix.Remove(key) {
				deselected = true
			}
		}
	}
	return deselected
}

// Restore lifts the tombstone after an explicit re-fetch of the conversation.
func (ix *Index) Restore(key ConversationKey) {
	delete(ix.removed, key)
}

func (ix *Index) summarize(key ConversationKey, msgs []Message) Conversation {
	conv := Conversation{Key: key, Messages: append([]Message(nil), msgs...)}
	for _, m := range msgs {
		if !m.Timestamp.Before(conv.LastMessageTime) {
			conv.LastMessageTime = m.Timestamp
			conv.LastMessageText = m.Text
		}
	}
	if ix.tracker != nil {
		conv.UnreadCount = ix.tracker.UnreadCount(key, msgs)
	}
	return conv
}

func mergeByID(msgs []Message, in Message) []Message {
	for idx, m := range msgs {
		if m.ID == in.ID {
			msgs[idx] = in
			return msgs
		}
	}
	msgs = append(msgs, in)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}
