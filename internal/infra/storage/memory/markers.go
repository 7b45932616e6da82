package memory

import (
	"context"
	"sync"
	"time"

	"househunter/internal/domain/chat"
)

// MarkerStore keeps read markers in memory, used in tests and when the
// daemon runs without Mongo.
type MarkerStore struct {
	mu    sync.RWMutex
	items map[string]time.Time
}

func NewMarkerStore() *MarkerStore {
	return &MarkerStore{items: make(map[string]time.Time)}
}

func (s *MarkerStore) Get(_ context.Context, userID string, key chat.ConversationKey) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.items[userID+"/"+key.String()]
	if !ok {
		return time.Time{}, chat.ErrMarkerNotFound
	}
	return at, nil
}

func (s *MarkerStore) Set(_ context.Context, userID string, key chat.ConversationKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[userID+"/"+key.String()] = at
	return nil
}

var _ chat.MarkerStore = (*MarkerStore)(nil)
