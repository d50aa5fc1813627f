package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type tripleKey struct {
	userID  uuid.UUID
	eventID uuid.UUID
	channel Channel
}

// MemoryStore is an in-memory implementation of Store. A single mutex makes
// InsertNotificationIfAbsent atomic in the same way a unique index does.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[uuid.UUID]*Event
	users         map[uuid.UUID]*User
	notifications map[uuid.UUID]*Notification
	byTriple      map[tripleKey]uuid.UUID
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[uuid.UUID]*Event),
		users:         make(map[uuid.UUID]*User),
		notifications: make(map[uuid.UUID]*Notification),
		byTriple:      make(map[tripleKey]uuid.UUID),
		now:           time.Now,
	}
}

func (m *MemoryStore) Health(context.Context) error { return nil }

func (m *MemoryStore) CreateEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}
	e := *event
	m.events[e.ID] = &e
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Event, 0, len(m.events))
	for _, e := range m.events {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := m.now()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) ListUsers(_ context.Context, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, limit), nil
}

func (m *MemoryStore) UpdateUserPreferences(_ context.Context, id uuid.UUID, prefs []Preference) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Preferences = clonePreferences(prefs)
	u.UpdatedAt = m.now()
	return cloneUser(u), nil
}

func (m *MemoryStore) FindUsersByPreference(_ context.Context, eventType EventType) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if _, ok := u.PreferenceFor(eventType); ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertNotificationIfAbsent(_ context.Context, n *Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tripleKey{userID: n.UserID, eventID: n.EventID, channel: n.Channel}
	if _, exists := m.byTriple[key]; exists {
		return false, nil
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := m.now()
	n.CreatedAt, n.UpdatedAt = now, now
	c := *n
	m.notifications[c.ID] = &c
	m.byTriple[key] = c.ID
	return true, nil
}

func (m *MemoryStore) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *n
	return &c, nil
}

func (m *MemoryStore) FindNotifications(_ context.Context, filter NotificationFilter) ([]*Notification, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.notifications {
		if filter.Matches(n) {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, filter.EffectiveLimit()), nil
}

func (m *MemoryStore) FindPendingByPriority(_ context.Context, priority Priority) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.Priority == priority && n.Status == StatusPending {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return !newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) UpdateNotificationStatus(_ context.Context, id uuid.UUID, status Status, sentAt *time.Time) (bool, error) {
	if !status.Terminal() {
		return false, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return false, ErrNotFound
	}
	if n.Status != StatusPending {
		return false, nil
	}
	n.Status = status
	if sentAt != nil {
		t := *sentAt
		n.SentAt = &t
	}
	n.UpdatedAt = m.now()
	return true, nil
}

func newerFirst(a, b time.Time, aID, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID.String() > bID.String()
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneUser(u *User) *User {
	c := *u
	if u.Phone != nil {
		p := *u.Phone
		c.Phone = &p
	}
	c.Preferences = clonePreferences(u.Preferences)
	return &c
}

func clonePreferences(prefs []Preference) []Preference {
	if prefs == nil {
		return nil
	}
	out := make([]Preference, len(prefs))
	for i, p := range prefs {
		out[i] = Preference{EventType: p.EventType, Channels: append([]Channel(nil), p.Channels...)}
	}
	return out
}
