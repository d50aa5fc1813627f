package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
)

var errStoreDown = errors.New("connection refused")

// fakeSender records every message and can be told to fail or block.
type fakeSender struct {
	mu       sync.Mutex
	sent     []channel.Message
	failOn   map[db.Channel]error
	blockFor time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{failOn: map[db.Channel]error{}}
}

func (f *fakeSender) Send(ctx context.Context, msg channel.Message) error {
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[msg.Channel]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) SupportsChannel(ch db.Channel) bool { return ch.Valid() }

func (f *fakeSender) sentOn(ch db.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Channel == ch {
			n++
		}
	}
	return n
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// faultyStore injects store failures on top of the in-memory store.
type faultyStore struct {
	*db.MemoryStore
	failInsert      func(n *db.Notification) bool
	failSubscribers bool
	failPending     bool
	failUpdate      bool
	failGetUser     bool
	// staleReads makes the next n GetNotification calls report PENDING,
	// whatever is stored.
	staleReads int
}

func (s *faultyStore) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	if s.failGetUser {
		return nil, errStoreDown
	}
	return s.MemoryStore.GetUser(ctx, id)
}

func (s *faultyStore) GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	n, err := s.MemoryStore.GetNotification(ctx, id)
	if err != nil || s.staleReads == 0 {
		return n, err
	}
	s.staleReads--
	stale := *n
	stale.Status = db.StatusPending
	stale.SentAt = nil
	return &stale, nil
}

func (s *faultyStore) InsertNotificationIfAbsent(ctx context.Context, n *db.Notification) (bool, error) {
	if s.failInsert != nil && s.failInsert(n) {
		return false, errStoreDown
	}
	return s.MemoryStore.InsertNotificationIfAbsent(ctx, n)
}

func (s *faultyStore) FindUsersByPreference(ctx context.Context, t db.EventType) ([]*db.User, error) {
	if s.failSubscribers {
		return nil, errStoreDown
	}
	return s.MemoryStore.FindUsersByPreference(ctx, t)
}

func (s *faultyStore) FindPendingByPriority(ctx context.Context, p db.Priority) ([]*db.Notification, error) {
	if s.failPending {
		return nil, errStoreDown
	}
	return s.MemoryStore.FindPendingByPriority(ctx, p)
}

func (s *faultyStore) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status db.Status, sentAt *time.Time) (bool, error) {
	if s.failUpdate {
		return false, errStoreDown
	}
	return s.MemoryStore.UpdateNotificationStatus(ctx, id, status, sentAt)
}

type fixture struct {
	store  db.Store
	mem    *db.MemoryStore
	sender *fakeSender
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := db.NewMemoryStore()
	return newFixtureWithStore(t, mem, mem, nil)
}

func newFixtureWithStore(t *testing.T, store db.Store, mem *db.MemoryStore, locker Locker) *fixture {
	t.Helper()
	sender := newFakeSender()
	registry := channel.NewRegistry(zap.NewNop(), sender)
	eng := New(store, registry, locker, Config{
		SendTimeout:       200 * time.Millisecond,
		FanoutConcurrency: 4,
	}, zap.NewNop())
	return &fixture{store: store, mem: mem, sender: sender, engine: eng}
}

func (f *fixture) addUser(t *testing.T, name string, phone *string, prefs ...db.Preference) *db.User {
	t.Helper()
	if prefs == nil {
		prefs = []db.Preference{}
	}
	u := &db.User{
		Name:        name,
		Email:       name + "@example.com",
		Phone:       phone,
		Preferences: prefs,
	}
	require.NoError(t, f.mem.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) addEvent(t *testing.T, eventType db.EventType, priority db.Priority) *db.Event {
	t.Helper()
	e := &db.Event{
		Type:     eventType,
		Priority: priority,
		Data:     db.EventData{Title: "Task created", Description: "Write the quarterly report"},
	}
	require.NoError(t, f.mem.CreateEvent(context.Background(), e))
	return e
}

func (f *fixture) notificationsFor(t *testing.T, eventID uuid.UUID) []*db.Notification {
	t.Helper()
	out, err := f.mem.FindNotifications(context.Background(), db.NotificationFilter{EventID: &eventID})
	require.NoError(t, err)
	return out
}

func pref(t db.EventType, channels ...db.Channel) db.Preference {
	return db.Preference{EventType: t, Channels: channels}
}

func strPtr(s string) *string { return &s }
