package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStore persists domain events.
type EventStore interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ListEvents(ctx context.Context, limit int) ([]*Event, error)
}

// UserStore persists users and answers preference queries.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context, limit int) ([]*User, error)
	UpdateUserPreferences(ctx context.Context, id uuid.UUID, prefs []Preference) (*User, error)
	// FindUsersByPreference returns every user with at least one preference
	// for eventType.
	FindUsersByPreference(ctx context.Context, eventType EventType) ([]*User, error)
}

// NotificationStore is the notification ledger.
type NotificationStore interface {
	// InsertNotificationIfAbsent atomically creates n unless a record for the same
	// (user, event, channel) exists. It reports whether n was created; a
	// uniqueness violation is not an error.
	InsertNotificationIfAbsent(ctx context.Context, n *Notification) (bool, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	FindNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error)
	// FindPendingByPriority returns pending notifications oldest first.
	FindPendingByPriority(ctx context.Context, priority Priority) ([]*Notification, error)
	// UpdateNotificationStatus moves a pending notification to a terminal status.
	// It reports false when the record was no longer pending.
	UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status Status, sentAt *time.Time) (bool, error)
}

// Store is the full storage contract implemented by every backend.
type Store interface {
	EventStore
	UserStore
	NotificationStore
	Health(ctx context.Context) error
}
