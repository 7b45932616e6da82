package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = ConversationKey{CounterpartID: "landlord-7", HouseID: "house-12"}

func confirmed(id, sender, text string, at time.Time) Message {
	return Message{ID: id, Key: testKey, SenderID: sender, Text: text, Timestamp: at}
}

func TestAppendOptimisticAssignsTempID(t *testing.T) {
	store := NewStore(testKey)

	id, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "temp-1", id)

	id2, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "there"})
	require.NoError(t, err)
	assert.Equal(t, "temp-2", id2)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Optimistic)
}

func TestAppendOptimisticRejectsEmpty(t *testing.T) {
	store := NewStore(testKey)

	_, err := store.AppendOptimistic(Message{SenderID: "tenant-1"})
	assert.ErrorIs(t, err, ErrTextRequired)

	_, err = store.AppendOptimistic(Message{Text: "hi"})
	assert.ErrorIs(t, err, ErrSenderRequired)
}

func TestReconcileResolvesOptimisticEcho(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	_, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "hi", Timestamp: base})
	require.NoError(t, err)

	store.Reconcile([]Message{confirmed("42", "tenant-1", "hi", base.Add(time.Second))})

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ID)
	assert.False(t, msgs[0].Optimistic)
}

func TestReconcileOutsideWindowAppends(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	_, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "hi", Timestamp: base})
	require.NoError(t, err)

	store.Reconcile([]Message{confirmed("42", "tenant-1", "hi", base.Add(DedupWindow+time.Second))})

	assert.Equal(t, 2, store.Len())
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()
	batch := []Message{
		confirmed("1", "landlord-7", "welcome", base),
		confirmed("2", "tenant-1", "thanks", base.Add(time.Minute)),
	}

	store.Reconcile(batch)
	first := store.Messages()
	store.Reconcile(batch)

	assert.Equal(t, first, store.Messages())
}

func TestReconcileUpdatesExistingInPlace(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	store.Reconcile([]Message{confirmed("1", "landlord-7", "welcome", base)})

	updated := confirmed("1", "landlord-7", "welcome", base)
	updated.Read = true
	store.Reconcile([]Message{updated})

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestReconcileOrdersOutOfOrderArrivals(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	store.Reconcile([]Message{confirmed("2", "landlord-7", "second", base.Add(10*time.Second))})
	store.Reconcile([]Message{confirmed("1", "landlord-7", "first", base.Add(5*time.Second))})

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "2", msgs[1].ID)
}

func TestReconcileStableOnTimestampTies(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	store.Reconcile([]Message{
		confirmed("a", "landlord-7", "one", base),
		confirmed("b", "landlord-7", "two", base),
	})

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestDuplicateEchoScenario(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	// Send "hi" optimistically, then a poll observes the confirmed copy.
	_, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "hi", Timestamp: base})
	require.NoError(t, err)
	store.Reconcile([]Message{confirmed("42", "tenant-1", "hi", base.Add(time.Second))})
	// The websocket echo of the same message arrives afterwards.
	store.Reconcile([]Message{confirmed("42", "tenant-1", "hi", base.Add(time.Second))})

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ID)
	assert.False(t, msgs[0].Optimistic)
}

func TestRemoveOptimisticRevertsFailedSend(t *testing.T) {
	store := NewStore(testKey)

	id, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, store.RemoveOptimistic(id))
	assert.Equal(t, 0, store.Len())

	assert.ErrorIs(t, store.RemoveOptimistic("temp-99"), ErrUnknownTempID)
}

func TestRemoveOptimisticRefusesConfirmed(t *testing.T) {
	store := NewStore(testKey)

	store.Reconcile([]Message{confirmed("1", "landlord-7", "welcome", time.Now())})
	assert.ErrorIs(t, store.RemoveOptimistic("1"), ErrUnknownTempID)
	assert.Equal(t, 1, store.Len())
}

func TestIDSetExcludesOptimistic(t *testing.T) {
	store := NewStore(testKey)
	base := time.Now()

	_, err := store.AppendOptimistic(Message{SenderID: "tenant-1", Text: "pending", Timestamp: base})
	require.NoError(t, err)
	store.Reconcile([]Message{confirmed("1", "landlord-7", "welcome", base.Add(-time.Minute))})

	ids := store.IDSet()
	assert.Len(t, ids, 1)
	_, ok := ids["1"]
	assert.True(t, ok)
}

func TestClearIsLocalOnly(t *testing.T) {
	store := NewStore(testKey)
	store.Reconcile([]Message{confirmed("1", "landlord-7", "welcome", time.Now())})

	store.Clear()
	assert.Equal(t, 0, store.Len())

	// A later poll of the untouched server copy brings the history back.
	store.Reconcile([]Message{confirmed("1", "landlord-7", "welcome", time.Now())})
	assert.Equal(t, 1, store.Len())
}
