package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"househunter/internal/app/policies"
	"househunter/internal/infra/obs"
)

// Publisher is the broker surface the notifier needs; the kafka producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// KafkaNotifier publishes deduplicated new-message notifications to a topic
// keyed by recipient, so downstream consumers (push, e-mail digests) see one
// partition per user.
type KafkaNotifier struct {
	producer Publisher
	topic    string
}

func NewKafkaNotifier(producer Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

type notificationEvent struct {
	EventID         string    `json:"event_id"`
	MessageID       string    `json:"message_id"`
	ConversationKey string    `json:"conversation_key"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	Text            string    `json:"text"`
	SentAt          time.Time `json:"sent_at"`
	EmittedAt       time.Time `json:"emitted_at"`
}

func (n *KafkaNotifier) Notify(ctx context.Context, notification policies.Notification) error {
	event := notificationEvent{
		EventID:         uuid.NewString(),
		MessageID:       notification.MessageID,
		ConversationKey: notification.ConversationKey,
		SenderID:        notification.SenderID,
		RecipientID:     notification.RecipientID,
		Text:            notification.Text,
		SentAt:          notification.SentAt,
		EmittedAt:       time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	headers := map[string]string{"event_name": "chat.message.new"}
	if err := n.producer.Publish(ctx, n.topic, notification.RecipientID, payload, headers); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	obs.IncNotification()
	return nil
}

var _ policies.Notifier = (*KafkaNotifier)(nil)
