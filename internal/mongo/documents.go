package mongo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/herald/internal/db"
)

// Identifiers are stored as their canonical string form so documents stay
// readable from the mongo shell.

type eventDoc struct {
	ID        string       `bson:"_id"`
	Type      string       `bson:"type"`
	Priority  string       `bson:"priority"`
	Data      db.EventData `bson:"data"`
	Processed bool         `bson:"processed"`
	CreatedAt time.Time    `bson:"created_at"`
}

func toEventDoc(e *db.Event) eventDoc {
	return eventDoc{
		ID:        e.ID.String(),
		Type:      string(e.Type),
		Priority:  string(e.Priority),
		Data:      e.Data,
		Processed: e.Processed,
		CreatedAt: e.CreatedAt,
	}
}

func (d eventDoc) toModel() (*db.Event, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode event id: %w", err)
	}
	return &db.Event{
		ID:        id,
		Type:      db.EventType(d.Type),
		Priority:  db.Priority(d.Priority),
		Data:      d.Data,
		Processed: d.Processed,
		CreatedAt: d.CreatedAt,
	}, nil
}

type userDoc struct {
	ID          string          `bson:"_id"`
	Name        string          `bson:"name"`
	Email       string          `bson:"email"`
	Phone       *string         `bson:"phone,omitempty"`
	Preferences []db.Preference `bson:"preferences"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

func toUserDoc(u *db.User) userDoc {
	prefs := u.Preferences
	if prefs == nil {
		prefs = []db.Preference{}
	}
	return userDoc{
		ID:          u.ID.String(),
		Name:        u.Name,
		Email:       u.Email,
		Phone:       u.Phone,
		Preferences: prefs,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (d userDoc) toModel() (*db.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode user id: %w", err)
	}
	return &db.User{
		ID:          id,
		Name:        d.Name,
		Email:       d.Email,
		Phone:       d.Phone,
		Preferences: d.Preferences,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

type notificationDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	EventID     string     `bson:"event_id"`
	EventType   string     `bson:"event_type"`
	Priority    string     `bson:"priority"`
	Channel     string     `bson:"channel"`
	Title       string     `bson:"title"`
	Description string     `bson:"description"`
	Status      string     `bson:"status"`
	SentAt      *time.Time `bson:"sent_at,omitempty"`
	Fingerprint string     `bson:"fingerprint"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toNotificationDoc(n *db.Notification) notificationDoc {
	return notificationDoc{
		ID:          n.ID.String(),
		UserID:      n.UserID.String(),
		EventID:     n.EventID.String(),
		EventType:   string(n.EventType),
		Priority:    string(n.Priority),
		Channel:     string(n.Channel),
		Title:       n.Title,
		Description: n.Description,
		Status:      string(n.Status),
		SentAt:      n.SentAt,
		Fingerprint: n.Fingerprint,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func (d notificationDoc) toModel() (*db.Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode notification id: %w", err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("decode notification user id: %w", err)
	}
	eventID, err := uuid.Parse(d.EventID)
	if err != nil {
		return nil, fmt.Errorf("decode notification event id: %w", err)
	}
	return &db.Notification{
		ID:          id,
		UserID:      userID,
		EventID:     eventID,
		EventType:   db.EventType(d.EventType),
		Priority:    db.Priority(d.Priority),
		Channel:     db.Channel(d.Channel),
		Title:       d.Title,
		Description: d.Description,
		Status:      db.Status(d.Status),
		SentAt:      d.SentAt,
		Fingerprint: d.Fingerprint,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}
