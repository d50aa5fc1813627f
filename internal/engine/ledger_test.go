package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/herald/internal/db"
)

func TestGenerateForEvent_LowStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addUser(t, "alice", nil, pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelInApp))
	f.addUser(t, "bob", nil, pref(db.EventTaskCreated, db.ChannelEmail))
	f.addUser(t, "carol", nil, pref(db.EventUserSignup, db.ChannelEmail))

	event := f.addEvent(t, db.EventTaskCreated, db.PriorityLow)

	result, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Subscribers)
	assert.Equal(t, 3, result.Created)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Dispatched.Sent)

	records := f.notificationsFor(t, event.ID)
	require.Len(t, records, 3)
	for _, n := range records {
		assert.Equal(t, db.StatusPending, n.Status)
		assert.Equal(t, db.PriorityLow, n.Priority)
		assert.Equal(t, event.Data.Title, n.Title)
		assert.NotEmpty(t, n.Fingerprint)
	}
	assert.Zero(t, f.sender.total(), "low priority waits for the batch")
}

func TestGenerateForEvent_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addUser(t, "alice", nil, pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelInApp))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityLow)

	_, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)

	again, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, 2, again.Duplicates)
	assert.Len(t, f.notificationsFor(t, event.ID), 2)
}

func TestGenerateForEvent_NoSubscribers(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(t, db.EventTaskDeleted, db.PriorityHigh)

	result, err := f.engine.OnEventCreated(context.Background(), event)
	require.NoError(t, err)
	assert.Zero(t, result.Subscribers)
	assert.Zero(t, result.Created)
	assert.Empty(t, f.notificationsFor(t, event.ID))
}

func TestGenerateForEvent_InvalidEvent(t *testing.T) {
	f := newFixture(t)
	event := &db.Event{Type: "task_archived", Priority: db.PriorityLow, Data: db.EventData{Title: "x"}}

	_, err := f.engine.OnEventCreated(context.Background(), event)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGenerateForEvent_HighDispatchesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addUser(t, "alice", strPtr("+15550100"), pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelSMS))
	f.addUser(t, "bob", nil, pref(db.EventTaskCreated, db.ChannelInApp))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityHigh)

	result, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, DispatchSummary{Sent: 3}, result.Dispatched)

	for _, n := range f.notificationsFor(t, event.ID) {
		assert.Equal(t, db.StatusSent, n.Status)
		assert.NotNil(t, n.SentAt)
	}
	assert.Equal(t, 3, f.sender.total())

	// Nothing is left for the batch.
	batch, err := f.engine.OnBatchTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, batch.Eligible)
}

func TestGenerateForEvent_MissingPhoneFailsOnlySMS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.addUser(t, "alice", nil, pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelSMS))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityHigh)

	result, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Sent: 1, Failed: 1}, result.Dispatched)

	statuses := map[db.Channel]db.Status{}
	for _, n := range f.notificationsFor(t, event.ID) {
		assert.Equal(t, u.ID, n.UserID)
		statuses[n.Channel] = n.Status
	}
	assert.Equal(t, db.StatusSent, statuses[db.ChannelEmail])
	assert.Equal(t, db.StatusFailed, statuses[db.ChannelSMS])
	assert.Zero(t, f.sender.sentOn(db.ChannelSMS))
}

func TestGenerateForEvent_ConcurrentCallsCreateOneRecordPerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"u1", "u2", "u3", "u4", "u5"} {
		f.addUser(t, name, nil, pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelInApp))
	}
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityHigh)

	const callers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.OnEventCreated(ctx, event)
			assert.NoError(t, err)
			mu.Lock()
			created += result.Created
			mu.Unlock()
		}()
	}
	wg.Wait()

	records := f.notificationsFor(t, event.ID)
	assert.Len(t, records, 10)
	assert.Equal(t, 10, created)
	for _, n := range records {
		assert.Equal(t, db.StatusSent, n.Status)
	}
	// Racing passes may both send before one loses the conditional update.
	assert.GreaterOrEqual(t, f.sender.total(), 10)
}

func TestGenerateForEvent_PartialStoreFailure(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{
		MemoryStore: mem,
		failInsert:  func(n *db.Notification) bool { return n.Channel == db.ChannelSMS },
	}
	f := newFixtureWithStore(t, store, mem, nil)
	ctx := context.Background()

	f.addUser(t, "alice", strPtr("+15550100"), pref(db.EventTaskCreated, db.ChannelEmail, db.ChannelSMS))
	f.addUser(t, "bob", nil, pref(db.EventTaskCreated, db.ChannelEmail))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityLow)

	result, err := f.engine.OnEventCreated(ctx, event)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientStore)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, f.notificationsFor(t, event.ID), 2)

	// A retry once the store recovers fills the gap without duplicating.
	store.failInsert = nil
	retry, err := f.engine.OnEventCreated(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Created)
	assert.Equal(t, 2, retry.Duplicates)
	assert.Len(t, f.notificationsFor(t, event.ID), 3)
}

func TestGenerateForEvent_SubscriberLookupFails(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{MemoryStore: mem, failSubscribers: true}
	f := newFixtureWithStore(t, store, mem, nil)

	f.addUser(t, "alice", nil, pref(db.EventTaskCreated, db.ChannelEmail))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityHigh)

	result, err := f.engine.OnEventCreated(context.Background(), event)
	assert.ErrorIs(t, err, ErrTransientStore)
	assert.Nil(t, result)
	assert.Empty(t, f.notificationsFor(t, event.ID))
}

func TestGenerateForEvent_HighNeverLeftPendingWhenRecipientLookupFails(t *testing.T) {
	mem := db.NewMemoryStore()
	store := &faultyStore{MemoryStore: mem, failGetUser: true}
	f := newFixtureWithStore(t, store, mem, nil)

	f.addUser(t, "alice", nil, pref(db.EventTaskCreated, db.ChannelEmail))
	event := f.addEvent(t, db.EventTaskCreated, db.PriorityHigh)

	result, err := f.engine.OnEventCreated(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, DispatchSummary{Sent: 0, Failed: 1}, result.Dispatched)

	records := f.notificationsFor(t, event.ID)
	require.Len(t, records, 1)
	assert.Equal(t, db.StatusFailed, records[0].Status)
	assert.Zero(t, f.sender.total())
}
