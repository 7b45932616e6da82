package ginserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"househunter/internal/app/dto"
	"househunter/internal/app/session"
	"househunter/internal/domain/chat"
)

var testKey = chat.ConversationKey{CounterpartID: "landlord-7", HouseID: "house-12"}

type fakeSyncer struct {
	conversations []chat.Conversation
	messages      []chat.Message
	opened        []chat.ConversationKey
	closed        []chat.ConversationKey
	sent          []string
	sendMsg       chat.Message
	sendErr       error
	deleted       []chat.ConversationKey
	deleteErr     error
	deselected    bool
	cleared       []chat.ConversationKey
	marked        []chat.ConversationKey
	selected      chat.ConversationKey
}

func (f *fakeSyncer) UserID() string { return "tenant-1" }

func (f *fakeSyncer) Open(_ context.Context, key chat.ConversationKey) ([]chat.Message, error) {
	f.opened = append(f.opened, key)
	return f.messages, nil
}

func (f *fakeSyncer) Close(key chat.ConversationKey) { f.closed = append(f.closed, key) }

func (f *fakeSyncer) Send(_ context.Context, _ chat.ConversationKey, text string) (chat.Message, error) {
	f.sent = append(f.sent, text)
	return f.sendMsg, f.sendErr
}

func (f *fakeSyncer) MarkRead(_ context.Context, key chat.ConversationKey) error {
	f.marked = append(f.marked, key)
	return nil
}

func (f *fakeSyncer) Delete(_ context.Context, key chat.ConversationKey) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return f.deselected, nil
}

func (f *fakeSyncer) Clear(key chat.ConversationKey) { f.cleared = append(f.cleared, key) }

func (f *fakeSyncer) Conversations() []chat.Conversation { return f.conversations }

func (f *fakeSyncer) Messages(chat.ConversationKey) []chat.Message { return f.messages }

func (f *fakeSyncer) Selected() chat.ConversationKey { return f.selected }

func newTestRouter(syncer *fakeSyncer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := ChatHandler{
		Session: syncer,
		Channels: func() []dto.ChannelStatus {
			return []dto.ChannelStatus{{Name: "chat", Status: "connected"}}
		},
	}
	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/status", handler.Status)
	api.GET("/conversations", handler.ListConversations)
	api.POST("/conversations/:key/open", handler.OpenConversation)
	api.POST("/conversations/:key/close", handler.CloseConversation)
	api.GET("/conversations/:key/messages", handler.ListMessages)
	api.POST("/conversations/:key/messages", handler.SendMessage)
	api.POST("/conversations/:key/read", handler.MarkRead)
	api.POST("/conversations/:key/clear", handler.ClearConversation)
	api.DELETE("/conversations/:key", handler.DeleteConversation)
	return router
}

func TestListConversationsMarksSelected(t *testing.T) {
	syncer := &fakeSyncer{
		conversations: []chat.Conversation{
			{Key: testKey, LastMessageText: "see you", LastMessageTime: time.Now(), UnreadCount: 2},
		},
		selected: testKey,
	}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out dto.ConversationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "landlord-7:house-12", out.Items[0].Key)
	assert.Equal(t, 2, out.Items[0].UnreadCount)
	assert.True(t, out.Items[0].Selected)
}

func TestOpenConversationParsesKey(t *testing.T) {
	syncer := &fakeSyncer{
		messages: []chat.Message{{ID: "srv-1", Key: testKey, SenderID: "landlord-7", Text: "hi"}},
	}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/open", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []chat.ConversationKey{testKey}, syncer.opened)
	var out dto.ChatMessageList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "house-12", out.Items[0].HouseID)
}

func TestCloseConversationDeselects(t *testing.T) {
	syncer := &fakeSyncer{}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/close", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []chat.ConversationKey{testKey}, syncer.closed)
	assert.Empty(t, syncer.deleted)
}

func TestOpenConversationRejectsMalformedKey(t *testing.T) {
	router := newTestRouter(&fakeSyncer{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/not-a-key/open", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageReturnsPendingEntry(t *testing.T) {
	syncer := &fakeSyncer{
		sendMsg: chat.Message{ID: "temp-1", Key: testKey, SenderID: "tenant-1", Text: "hello", Optimistic: true},
	}
	router := newTestRouter(syncer)

	body := strings.NewReader(`{"text":"hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/messages", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{"hello"}, syncer.sent)
	var out dto.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "temp-1", out.ID)
	assert.True(t, out.Pending)
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	syncer := &fakeSyncer{}
	router := newTestRouter(syncer)

	body := strings.NewReader(`{"text":"   "}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/messages", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, syncer.sent)
}

func TestSendMessageReportsDeliveryFailure(t *testing.T) {
	syncer := &fakeSyncer{sendErr: session.ErrSendFailed}
	router := newTestRouter(syncer)

	body := strings.NewReader(`{"text":"hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/messages", body))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeleteConversationReportsDeselect(t *testing.T) {
	syncer := &fakeSyncer{deselected: true}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/landlord-7:house-12", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out dto.DeleteConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Deselected)
	require.Equal(t, []chat.ConversationKey{testKey}, syncer.deleted)
}

func TestClearConversationIsLocal(t *testing.T) {
	syncer := &fakeSyncer{}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/landlord-7:house-12/clear", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []chat.ConversationKey{testKey}, syncer.cleared)
	assert.Empty(t, syncer.deleted)
}

func TestStatusReportsChannels(t *testing.T) {
	syncer := &fakeSyncer{selected: testKey}
	router := newTestRouter(syncer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "tenant-1", out.UserID)
	assert.Equal(t, "landlord-7:house-12", out.Selected)
	require.Len(t, out.Channels, 1)
	assert.Equal(t, "connected", out.Channels[0].Status)
}
