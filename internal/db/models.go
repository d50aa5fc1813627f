package db

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of domain events users can subscribe to.
type EventType string

const (
	EventTaskCreated EventType = "task_created"
	EventTaskDeleted EventType = "task_deleted"
	EventUserSignup  EventType = "user_signup"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{EventTaskCreated, EventTaskDeleted, EventUserSignup}

func (t EventType) Valid() bool {
	switch t {
	case EventTaskCreated, EventTaskDeleted, EventUserSignup:
		return true
	}
	return false
}

// Priority decides whether notifications are dispatched immediately or batched.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityLow
}

// Channel is a delivery method a user can opt into.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Channels lists every known delivery channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// Status constants
//
// pending is the only initial state; sent and failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// EventData is the human readable payload copied onto every notification.
type EventData struct {
	Title       string `json:"title" bson:"title"`
	Description string `json:"description" bson:"description"`
}

// Event is an immutable domain event. The engine never mutates or deletes it.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	Priority  Priority  `json:"priority"`
	Data      EventData `json:"data"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// Preference binds one event type to the channels a user wants it on.
type Preference struct {
	EventType EventType `json:"event_type" bson:"event_type"`
	Channels  []Channel `json:"channels" bson:"channels"`
}

// User is owned by the user-management surface; the engine only reads it.
type User struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Phone       *string      `json:"phone,omitempty"`
	Preferences []Preference `json:"preferences"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PreferenceFor returns the first preference matching eventType.
// Later entries for the same event type are ignored.
func (u *User) PreferenceFor(eventType EventType) (Preference, bool) {
	for _, p := range u.Preferences {
		if p.EventType == eventType {
			return p, true
		}
	}
	return Preference{}, false
}

// HasPhone reports whether an SMS can be addressed to the user.
func (u *User) HasPhone() bool {
	return u.Phone != nil && *u.Phone != ""
}

// Notification represents a notification in the database
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	EventID     uuid.UUID  `json:"event_id"`
	EventType   EventType  `json:"event_type"`
	Priority    Priority   `json:"priority"`
	Channel     Channel    `json:"channel"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewPendingNotification snapshots the event's priority and content for one
// (user, channel) pair. The fingerprint is filled in by the dedup gate.
func NewPendingNotification(userID uuid.UUID, event *Event, channel Channel) *Notification {
	return &Notification{
		ID:          uuid.New(),
		UserID:      userID,
		EventID:     event.ID,
		EventType:   event.Type,
		Priority:    event.Priority,
		Channel:     channel,
		Title:       event.Data.Title,
		Description: event.Data.Description,
		Status:      StatusPending,
	}
}
