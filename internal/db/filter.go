package db

import (
	"time"

	"github.com/google/uuid"
)

// MaxFilterLimit caps how many notifications one query may return.
const MaxFilterLimit = 500

// NotificationFilter enumerates every optional constraint a notification query
// accepts. A nil field places no constraint. Results are always ordered by
// created_at (newest first) with id as tiebreaker.
type NotificationFilter struct {
	UserID      *uuid.UUID
	EventID     *uuid.UUID
	EventType   *EventType
	Priority    *Priority
	Status      *Status
	CreatedFrom *time.Time // inclusive
	CreatedTo   *time.Time // inclusive
	Limit       int        // 0 means MaxFilterLimit
}

// Validate rejects filters that reference unknown enum values or an inverted range.
func (f NotificationFilter) Validate() error {
	if f.EventType != nil && !f.EventType.Valid() {
		return invalid("type", "unknown event type %q", *f.EventType)
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return invalid("priority", "unknown priority %q", *f.Priority)
	}
	if f.Status != nil && !f.Status.Valid() {
		return invalid("status", "unknown status %q", *f.Status)
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return invalid("end_date", "end_date is before start_date")
	}
	if f.Limit < 0 || f.Limit > MaxFilterLimit {
		return invalid("limit", "limit must be between 0 and %d", MaxFilterLimit)
	}
	return nil
}

// EffectiveLimit returns the row cap to apply.
func (f NotificationFilter) EffectiveLimit() int {
	if f.Limit == 0 {
		return MaxFilterLimit
	}
	return f.Limit
}

// Matches reports whether n satisfies every constraint in f. Stores that cannot
// push the filter down to a query engine use it directly.
func (f NotificationFilter) Matches(n *Notification) bool {
	if f.UserID != nil && n.UserID != *f.UserID {
		return false
	}
	if f.EventID != nil && n.EventID != *f.EventID {
		return false
	}
	if f.EventType != nil && n.EventType != *f.EventType {
		return false
	}
	if f.Priority != nil && n.Priority != *f.Priority {
		return false
	}
	if f.Status != nil && n.Status != *f.Status {
		return false
	}
	if f.CreatedFrom != nil && n.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && n.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}
