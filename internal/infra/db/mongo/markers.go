package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"househunter/internal/domain/chat"
)

const markersCollection = "read_markers"

// MarkerStore persists per-(user, conversation) read markers. Writes are
// upserts; no transactional guarantees are needed because a stale marker only
// affects unread-count display.
type MarkerStore struct {
	col *mongo.Collection
}

func NewMarkerStore(client *Client) *MarkerStore {
	return &MarkerStore{col: client.DB.Collection(markersCollection)}
}

type markerDoc struct {
	UserID          string    `bson:"user_id"`
	ConversationKey string    `bson:"conversation_key"`
	LastReadAt      time.Time `bson:"last_read_at"`
}

func (s *MarkerStore) Get(ctx context.Context, userID string, key chat.ConversationKey) (time.Time, error) {
	filter := bson.M{"user_id": userID, "conversation_key": key.String()}
	var doc markerDoc
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, chat.ErrMarkerNotFound
		}
		return time.Time{}, fmt.Errorf("mongo: load marker: %w", err)
	}
	return doc.LastReadAt, nil
}

func (s *MarkerStore) Set(ctx context.Context, userID string, key chat.ConversationKey, at time.Time) error {
	filter := bson.M{"user_id": userID, "conversation_key": key.String()}
	update := bson.M{"$set": bson.M{"last_read_at": at}}
	_, err := s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save marker: %w", err)
	}
	return nil
}

var _ chat.MarkerStore = (*MarkerStore)(nil)
