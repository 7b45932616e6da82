package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"househunter/internal/infra/obs"
)

const (
	backoffBase = 1000 * time.Millisecond
	backoffCap  = 30000 * time.Millisecond
	maxAttempts = 5
)

var ErrNotConnected = errors.New("transport: channel not connected")

// Status is the connection state of one channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Handler receives one parsed inbound frame.
type Handler func(Frame)

// Conn is the minimal websocket surface the channel needs; gorilla satisfies
// it in production, tests inject fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection to a URL.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// stopTimer lets a scheduled retry be cancelled.
type stopTimer interface{ Stop() bool }

// Channel owns exactly one websocket connection for a logical channel key
// (chat/<houseID>, payment-completions, house-status, favorites-cleanup) and
// recovers abnormal drops with capped exponential backoff. A manual
// Disconnect is terminal: it cancels any pending retry and no further
// attempts run until the next Connect.
type Channel struct {
	key    string
	url    string
	dialer Dialer
	logger *slog.Logger

	// after is time.AfterFunc unless a test injects simulated time.
	after func(d time.Duration, fn func()) stopTimer

	mu       sync.Mutex
	status   Status
	conn     Conn
	attempts int
	retry    stopTimer
	manual   bool
	handlers []Handler
	onStatus []func(Status)
}

// NewChannel builds a channel for key authenticated by token. The token rides
// a query parameter because the upstream endpoint expects it there.
func NewChannel(baseURL, key, token string, logger *slog.Logger) *Channel {
	endpoint := baseURL + "/" + key + "?token=" + url.QueryEscape(token)
	return &Channel{
		key:    key,
		url:    endpoint,
		dialer: gorillaDialer{},
		logger: logger,
		status: StatusDisconnected,
		after: func(d time.Duration, fn func()) stopTimer {
			return time.AfterFunc(d, fn)
		},
	}
}

func (c *Channel) Key() string { return c.key }

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnMessage registers a handler invoked once per parsed inbound frame.
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// OnStatusChange registers a handler for state transitions.
func (c *Channel) OnStatusChange(h func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, h)
}

// Connect opens the transport. Idempotent while connected or connecting. A
// successful open resets the backoff schedule.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.DialContext(ctx, c.url)
	if err != nil {
		c.mu.Lock()
		c.setStatusLocked(StatusDisconnected)
		manual := c.manual
		c.mu.Unlock()
		if !manual {
			c.scheduleRetry(ctx)
		}
		return fmt.Errorf("transport: dial %s: %w", c.key, err)
	}

	c.mu.Lock()
	// Disconnect may have run while the dial was in flight; the manual close
	// wins and the fresh connection is discarded.
	if c.manual {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()
	obs.SetChannelConnected(c.key, true)

	go c.readLoop(ctx, conn)
	return nil
}

// Disconnect closes the channel normally and clears all reconnection state.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()
	obs.SetChannelConnected(c.key, false)

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if gc, ok := conn.(*websocket.Conn); ok {
		_ = gc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	}
	return conn.Close()
}

// Send marshals payload as JSON and writes it to the transport. Failure while
// disconnected is reported, never fatal; the caller already applied its
// optimistic update and decides how to fall back.
func (c *Channel) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()

	if status != StatusConnected || conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", c.key, err)
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, err)
			return
		}
		frame, ok := c.parseFrame(data)
		if !ok {
			continue
		}
		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(frame)
		}
	}
}

func (c *Channel) parseFrame(data []byte) (Frame, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == "" {
		if c.logger != nil {
			c.logger.Warn("malformed frame dropped", "channel", c.key, "error", err)
		}
		obs.IncFrameDropped(c.key)
		return Frame{}, false
	}
	return Frame{Type: probe.Type, Raw: append(json.RawMessage(nil), data...)}, true
}

func (c *Channel) handleClose(ctx context.Context, err error) {
	c.mu.Lock()
	manual := c.manual
	c.conn = nil
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()
	obs.SetChannelConnected(c.key, false)

	if manual || isNormalClosure(err) {
		return
	}
	if c.logger != nil {
		c.logger.Warn("channel dropped", "channel", c.key, "error", err)
	}
	c.scheduleRetry(ctx)
}

// scheduleRetry arms the backoff timer for the next attempt. Attempts past
// the cap leave the channel disconnected; surfacing that and falling back to
// polling is the caller's job.
func (c *Channel) scheduleRetry(ctx context.Context) {
	c.mu.Lock()
	if c.manual || c.attempts >= maxAttempts {
		if c.attempts >= maxAttempts && c.logger != nil {
			c.logger.Error("reconnect attempts exhausted", "channel", c.key, "attempts", c.attempts)
		}
		c.mu.Unlock()
		return
	}
	delay := backoffDelay(c.attempts)
	c.attempts++
	attempt := c.attempts
	c.retry = c.after(delay, func() {
		if err := c.Connect(ctx); err != nil && c.logger != nil {
			c.logger.Warn("reconnect failed", "channel", c.key, "attempt", attempt, "error", err)
		}
	})
	c.mu.Unlock()

	obs.IncReconnect(c.key)
	if c.logger != nil {
		c.logger.Info("reconnect scheduled", "channel", c.key, "attempt", attempt, "delay", delay)
	}
}

func (c *Channel) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	for _, h := range c.onStatus {
		go h(s)
	}
}

// backoffDelay doubles per attempt from backoffBase up to backoffCap.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

func isNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}
	return false
}
