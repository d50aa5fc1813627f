package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

// BulkItem is one notification requested for a single user.
type BulkItem struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	EventType   db.EventType `json:"event_type"`
	Priority    db.Priority  `json:"priority"`
}

func (i BulkItem) event() *db.Event {
	return &db.Event{
		Type:     i.EventType,
		Priority: i.Priority,
		Data:     db.EventData{Title: i.Title, Description: i.Description},
	}
}

// BulkResult aggregates the generation results of every item.
type BulkResult struct {
	UserID     uuid.UUID       `json:"user_id"`
	Items      int             `json:"items"`
	Skipped    int             `json:"skipped"`
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Events     []uuid.UUID     `json:"events"`
	Dispatched DispatchSummary `json:"dispatched"`
}

// BulkNotifier turns ad-hoc items for one user into synthetic events and
// generates notifications for that user only.
type BulkNotifier struct {
	users  db.UserStore
	events db.EventStore
	ledger *Ledger
	logger *zap.Logger
}

func NewBulkNotifier(users db.UserStore, events db.EventStore, ledger *Ledger, logger *zap.Logger) *BulkNotifier {
	return &BulkNotifier{users: users, events: events, ledger: ledger, logger: logger}
}

// Notify validates every item before writing anything. Items whose event type
// the user has no preference for are skipped.
func (b *BulkNotifier) Notify(ctx context.Context, userID uuid.UUID, items []BulkItem) (*BulkResult, error) {
	if len(items) == 0 {
		return nil, invalid(&db.ValidationError{Field: "notifications", Reason: "at least one notification is required"})
	}
	for i, item := range items {
		if err := db.ValidateEvent(item.event()); err != nil {
			return nil, invalid(fmt.Errorf("notifications[%d]: %w", i, err))
		}
	}

	user, err := b.users.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, transient("load user", err)
	}

	result := &BulkResult{UserID: userID, Items: len(items), Events: []uuid.UUID{}}
	var errs []error

	for _, item := range items {
		channels := channelsFor(user, item.EventType)
		if len(channels) == 0 {
			result.Skipped++
			continue
		}

		event := item.event()
		if err := b.events.CreateEvent(ctx, event); err != nil {
			errs = append(errs, transient("create bulk event", err))
			result.Failed += len(channels)
			continue
		}
		result.Events = append(result.Events, event.ID)

		gen, err := b.ledger.generate(ctx, event, []Subscriber{{User: user, Channels: channels}})
		result.Created += gen.Created
		result.Duplicates += gen.Duplicates
		result.Failed += gen.Failed
		result.Dispatched.add(gen.Dispatched)
		if err != nil {
			errs = append(errs, err)
		}
	}

	b.logger.Info("bulk notify processed",
		zap.String("user_id", userID.String()),
		zap.Int("items", result.Items),
		zap.Int("skipped", result.Skipped),
		zap.Int("created", result.Created),
	)

	return result, errors.Join(errs...)
}
