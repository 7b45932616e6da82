package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"househunter/internal/domain/chat"
)

var ErrNotFound = errors.New("api: not found")

// Config defines REST client settings.
type Config struct {
	BaseURL     string
	AuthToken   string
	UserID      string
	CallTimeout time.Duration
	HTTPClient  *http.Client
}

// Client wraps the marketplace message API. The endpoint shapes are imposed
// by the backend and matched exactly; this client owns none of them.
type Client struct {
	base        string
	token       string
	userID      string
	callTimeout time.Duration
	http        *http.Client
	logger      *slog.Logger
}

// NewClient validates config and returns a typed client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api: base url required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("api: user id required")
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.AuthToken,
		userID:      cfg.UserID,
		callTimeout: callTimeout,
		http:        httpClient,
		logger:      logger,
	}, nil
}

type wireMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	HouseID    string    `json:"house_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// ListMessages fetches the ordered message list for one conversation.
func (c *Client) ListMessages(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error) {
	endpoint := c.base + "/messages?conversation=" + url.QueryEscape(key.String())
	var wire []wireMessage
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, c.toDomain(w))
	}
	return out, nil
}

// CreateMessage posts a new message and returns the server-confirmed copy.
func (c *Client) CreateMessage(ctx context.Context, key chat.ConversationKey, text string) (chat.Message, error) {
	body := map[string]string{
		"sender_id":   c.userID,
		"receiver_id": key.CounterpartID,
		"house_id":    key.HouseID,
		"text":        text,
	}
	var wire wireMessage
	if err := c.call(ctx, http.MethodPost, c.base+"/messages", body, &wire); err != nil {
		return chat.Message{}, err
	}
	return c.toDomain(wire), nil
}

// MarkRead records the viewer's read marker server-side.
func (c *Client) MarkRead(ctx context.Context, key chat.ConversationKey, at time.Time) error {
	body := map[string]string{
		"conversation": key.String(),
		"reader_id":    c.userID,
		"read_at":      at.UTC().Format(time.RFC3339),
	}
	return c.call(ctx, http.MethodPatch, c.base+"/messages/mark-read", body, nil)
}

// DeleteConversation removes the thread server-side; the caller updates local
// state only after this succeeds.
func (c *Client) DeleteConversation(ctx context.Context, key chat.ConversationKey) error {
	endpoint := c.base + "/conversations/" + url.PathEscape(key.String())
	return c.call(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("api: %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func (c *Client) toDomain(w wireMessage) chat.Message {
	counterpart := w.SenderID
	if counterpart == c.userID {
		counterpart = w.ReceiverID
	}
	return chat.Message{
		ID:         w.ID,
		Key:        chat.ConversationKey{CounterpartID: counterpart, HouseID: w.HouseID},
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Text:       w.Text,
		Timestamp:  w.Timestamp,
		Read:       w.Read,
	}
}
