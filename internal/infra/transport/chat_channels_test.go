package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatChannels(dialer Dialer, timers *fakeTimers) *ChatChannels {
	m := NewChatChannels("ws://backend", "tok", nil)
	m.newChannel = func(houseID string) *Channel {
		ch := NewChannel("ws://backend", "chat/"+houseID, "tok", nil)
		ch.dialer = dialer
		if timers != nil {
			ch.after = timers.after
		}
		return ch
	}
	return m
}

func TestConnectDialsHouseChannel(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestChatChannels(dialer, &fakeTimers{})

	require.NoError(t, m.Connect(context.Background(), "house-12"))

	key, status := m.Status()
	assert.Equal(t, "chat/house-12", key)
	assert.Equal(t, StatusConnected, status)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestConnectSameHouseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestChatChannels(dialer, &fakeTimers{})

	require.NoError(t, m.Connect(context.Background(), "house-12"))
	require.NoError(t, m.Connect(context.Background(), "house-12"))

	assert.Equal(t, 1, dialer.dialCount())
}

func TestSwitchingHousesMovesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestChatChannels(dialer, &fakeTimers{})

	require.NoError(t, m.Connect(context.Background(), "house-12"))
	require.NoError(t, m.Connect(context.Background(), "house-55"))

	key, status := m.Status()
	assert.Equal(t, "chat/house-55", key)
	assert.Equal(t, StatusConnected, status)

	first := dialer.conns[0]
	first.mu.Lock()
	defer first.mu.Unlock()
	assert.True(t, first.closed, "previous house channel must be closed")
}

func TestSendRequiresOpenConversation(t *testing.T) {
	m := newTestChatChannels(&fakeDialer{}, &fakeTimers{})
	assert.ErrorIs(t, m.Send(map[string]string{"type": "chat_message"}), ErrNotConnected)
}

func TestHandlersFollowTheConnectionAcrossHouses(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestChatChannels(dialer, &fakeTimers{})

	frames := make(chan Frame, 4)
	m.OnMessage(func(f Frame) { frames <- f })

	require.NoError(t, m.Connect(context.Background(), "house-12"))
	require.NoError(t, m.Connect(context.Background(), "house-55"))

	dialer.conns[1].incoming <- []byte(`{"type":"chat_message","id":"srv-1","house_id":"house-55"}`)

	select {
	case f := <-frames:
		assert.Equal(t, FrameChatMessage, f.Type)
	case <-time.After(time.Second):
		t.Fatal("frame not dispatched on the new house channel")
	}
}

func TestDisconnectClosesCurrentChannel(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestChatChannels(dialer, &fakeTimers{})
	require.NoError(t, m.Connect(context.Background(), "house-12"))

	require.NoError(t, m.Disconnect())

	key, status := m.Status()
	assert.Equal(t, "chat", key)
	assert.Equal(t, StatusDisconnected, status)
	conn := dialer.conns[0]
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}
