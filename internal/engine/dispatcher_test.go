package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
)

func (f *fixture) pendingNotification(t *testing.T, user *db.User, ch db.Channel, priority db.Priority) *db.Notification {
	t.Helper()
	event := f.addEvent(t, db.EventTaskCreated, priority)
	n := db.NewPendingNotification(user.ID, event, ch)
	created, err := f.mem.InsertNotificationIfAbsent(context.Background(), n)
	require.NoError(t, err)
	require.True(t, created)
	return n
}

func (f *fixture) status(t *testing.T, id uuid.UUID) *db.Notification {
	t.Helper()
	n, err := f.mem.GetNotification(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestDispatch_Sent(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	status, err := f.engine.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSent, status)

	stored := f.status(t, n.ID)
	assert.Equal(t, db.StatusSent, stored.Status)
	require.NotNil(t, stored.SentAt)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, u.Email, msg.Recipient)
	assert.Equal(t, n.ID, msg.NotificationID)
	assert.Equal(t, n.Title, msg.Title)
}

func TestDispatch_InAppAddressesUserID(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelInApp, db.PriorityHigh)

	_, err := f.engine.Dispatch(context.Background(), n)
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, u.ID.String(), f.sender.sent[0].Recipient)
}

func TestDispatch_MissingPhone(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "alice", strPtr(""))
	n := f.pendingNotification(t, u, db.ChannelSMS, db.PriorityHigh)

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, ErrMissingRecipient)

	stored := f.status(t, n.ID)
	assert.Equal(t, db.StatusFailed, stored.Status)
	assert.Nil(t, stored.SentAt)
	assert.Zero(t, f.sender.total())
}

func TestDispatch_MissingUser(t *testing.T) {
	f := newFixture(t)
	ghost := &db.User{ID: uuid.New()}
	n := f.pendingNotification(t, ghost, db.ChannelEmail, db.PriorityHigh)

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, ErrMissingRecipient)
	assert.Equal(t, db.StatusFailed, f.status(t, n.ID).Status)
}

func TestDispatch_SenderError(t *testing.T) {
	f := newFixture(t)
	rejected := errors.New("mailbox unavailable")
	f.sender.failOn[db.ChannelEmail] = rejected

	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, rejected)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, db.ChannelEmail, de.Channel)
	assert.Equal(t, db.StatusFailed, f.status(t, n.ID).Status)
}

func TestDispatch_SendTimeout(t *testing.T) {
	f := newFixture(t)
	f.sender.blockFor = 5 * time.Second

	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	start := time.Now()
	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, db.StatusFailed, f.status(t, n.ID).Status)
}

func TestDispatch_NoSenderForChannel(t *testing.T) {
	mem := db.NewMemoryStore()
	d := NewDispatcher(mem, mem, channel.NewRegistry(zap.NewNop()), time.Second, zap.NewNop())

	u := &db.User{Name: "alice", Email: "alice@example.com", Preferences: []db.Preference{}}
	require.NoError(t, mem.CreateUser(context.Background(), u))
	event := &db.Event{Type: db.EventTaskCreated, Priority: db.PriorityHigh, Data: db.EventData{Title: "t"}}
	require.NoError(t, mem.CreateEvent(context.Background(), event))
	n := db.NewPendingNotification(u.ID, event, db.ChannelEmail)
	_, err := mem.InsertNotificationIfAbsent(context.Background(), n)
	require.NoError(t, err)

	status, err := d.Dispatch(context.Background(), n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, channel.ErrNoSender)
}

func TestDispatch_TerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	_, err := f.mem.UpdateNotificationStatus(context.Background(), n.ID, db.StatusFailed, nil)
	require.NoError(t, err)

	status, err := f.engine.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, status)
	assert.Zero(t, f.sender.total())
}

func TestDispatch_UnknownNotification(t *testing.T) {
	f := newFixture(t)
	n := &db.Notification{ID: uuid.New()}

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Empty(t, status)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDispatch_PersistFailureKeepsPending(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{MemoryStore: mem, failUpdate: true}
	f := newFixtureWithStore(t, store, mem, nil)

	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Empty(t, status)
	assert.ErrorIs(t, err, ErrTransientStore)
	assert.Equal(t, db.StatusPending, f.status(t, n.ID).Status)
}

func TestDispatch_CancelledCallerStillRecordsOutcome(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)

	ctx, cancel := context.WithCancel(context.Background())
	f.sender.blockFor = time.Second
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	status, err := f.engine.Dispatch(ctx, n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, db.StatusFailed, f.status(t, n.ID).Status)
}

func TestDispatch_UserLookupFailureMarksFailed(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{MemoryStore: mem}
	f := newFixtureWithStore(t, store, mem, nil)

	u := f.addUser(t, "alice", nil)
	n := f.pendingNotification(t, u, db.ChannelEmail, db.PriorityHigh)
	store.failGetUser = true

	status, err := f.engine.Dispatch(context.Background(), n)
	assert.Equal(t, db.StatusFailed, status)
	assert.ErrorIs(t, err, ErrMissingRecipient)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrTransientStore)

	assert.Equal(t, db.StatusFailed, f.status(t, n.ID).Status)
	assert.Zero(t, f.sender.total())
}

func TestDispatch_LostRaceReportsStoredStatus(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{MemoryStore: mem}

	ctx := context.Background()
	u := &db.User{Name: "alice", Email: "alice@example.com", Preferences: []db.Preference{}}
	require.NoError(t, mem.CreateUser(ctx, u))
	event := &db.Event{
		Type:     db.EventTaskCreated,
		Priority: db.PriorityHigh,
		Data:     db.EventData{Title: "Task created", Description: "Write the quarterly report"},
	}
	require.NoError(t, mem.CreateEvent(ctx, event))
	n := db.NewPendingNotification(u.ID, event, db.ChannelEmail)
	_, err := mem.InsertNotificationIfAbsent(ctx, n)
	require.NoError(t, err)

	// Another dispatcher already recorded SENT; this one reads a stale PENDING
	// copy and its own delivery fails.
	sentAt := time.Now().UTC()
	changed, err := mem.UpdateNotificationStatus(ctx, n.ID, db.StatusSent, &sentAt)
	require.NoError(t, err)
	require.True(t, changed)
	store.staleReads = 1

	sender := newFakeSender()
	sender.failOn[db.ChannelEmail] = errors.New("smtp 451")

	core, logs := observer.New(zap.DebugLevel)
	d := NewDispatcher(store, store, channel.NewRegistry(zap.NewNop(), sender), time.Second, zap.New(core))

	status, err := d.Dispatch(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSent, status)

	stored, err := mem.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSent, stored.Status)

	assert.Equal(t, 1, logs.FilterMessage("dispatch lost race").Len())
	assert.Zero(t, logs.FilterMessage("notification failed").Len())
	assert.Zero(t, logs.FilterMessage("notification sent").Len())
}
