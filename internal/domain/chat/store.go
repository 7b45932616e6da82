package chat

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DedupWindow bounds how far apart an optimistic entry and its confirmed echo
// may be timestamped while still counting as the same send.
const DedupWindow = 5 * time.Second

var ErrUnknownTempID = errors.New("chat: unknown temporary message id")

// Store is the in-memory ordered log for one conversation. It is owned by a
// single session goroutine; all merging of optimistic inserts, websocket
// echoes and poll results goes through Reconcile so there is exactly one
// source of truth for the merge rules.
type Store struct {
	key      ConversationKey
	messages []Message
	byID     map[string]int
	tempSeq  int
}

// NewStore creates an empty store for one conversation.
func NewStore(key ConversationKey) *Store {
	return &Store{key: key, byID: make(map[string]int)}
}

func (s *Store) Key() ConversationKey { return s.key }

func (s *Store) Len() int { return len(s.messages) }

// Messages returns a copy of the log in timestamp order.
func (s *Store) Messages() []Message {
	return append([]Message(nil), s.messages...)
}

// Has reports whether a message with the given id is already stored.
func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// AppendOptimistic inserts a locally created message before the server has
// confirmed it and returns the temporary id the caller resolves later.
func (s *Store) AppendOptimistic(msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	s.tempSeq++
	msg.ID = fmt.Sprintf("temp-%d", s.tempSeq)
	msg.Key = s.key
	msg.Optimistic = true
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

// RemoveOptimistic reverts a failed send. Confirmed entries are never removed
// this way.
func (s *Store) RemoveOptimistic(tempID string) error {
	idx, ok := s.byID[tempID]
	if !ok || !s.messages[idx].Optimistic {
		return ErrUnknownTempID
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.reindex()
	return nil
}

// Reconcile merges confirmed messages from any source (websocket echo, poll)
// into the log. The same input applied twice leaves the log unchanged:
//
//  1. an entry with the same server id is replaced in place, so field updates
//     (read flags) land without changing identity or position;
//  2. otherwise a matching optimistic entry (sender, text, timestamps within
//     DedupWindow) is replaced in place instead of appending a duplicate;
//  3. otherwise the message is appended as new.
//
// The log is then re-sorted ascending by timestamp, stable on ties.
func (s *Store) Reconcile(incoming []Message) {
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		in.Key = s.key
		in.Optimistic = false

		if idx, ok := s.byID[in.ID]; ok {
			s.messages[idx] = in
			continue
		}
		if idx, ok := s.matchOptimistic(in); ok {
			delete(s.byID, s.messages[idx].ID)
			s.messages[idx] = in
			s.byID[in.ID] = idx
			continue
		}
		s.byID[in.ID] = len(s.messages)
		s.messages = append(s.messages, in)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Timestamp.Before(s.messages[j].Timestamp)
	})
	s.reindex()
}

// Clear drops all local state. Local-only: the server copy is untouched.
func (s *Store) Clear() {
	s.messages = nil
	s.byID = make(map[string]int)
}

// IDSet returns the server ids currently present, used by the polling path to
// diff a fetched page before reconciling.
func (s *Store) IDSet() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.messages))
	for _, m := range s.messages {
		if !m.Optimistic {
			ids[m.ID] = struct{}{}
		}
	}
	return ids
}

func (s *Store) matchOptimistic(in Message) (int, bool) {
	for idx, m := range s.messages {
		if m.Optimistic && in.SameAction(m, DedupWindow) {
			return idx, true
		}
	}
	return 0, false
}

func (s *Store) reindex() {
	for idx, m := range s.messages {
		s.byID[m.ID] = idx
	}
	for id, idx := range s.byID {
		if idx >= len(s.messages) || s.messages[idx].ID != id {
			delete(s.byID, id)
		}
	}
}
