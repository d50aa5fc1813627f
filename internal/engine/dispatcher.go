package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/metrics"
)

// DefaultSendTimeout bounds a single sender call when none is configured.
const DefaultSendTimeout = 10 * time.Second

// SenderLookup resolves the sender for a channel. *channel.Registry implements it.
type SenderLookup interface {
	Lookup(ch db.Channel) (channel.Sender, bool)
}

// Dispatcher delivers one PENDING notification and records the terminal status.
type Dispatcher struct {
	notifications db.NotificationStore
	users         db.UserStore
	senders       SenderLookup
	sendTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(notifications db.NotificationStore, users db.UserStore, senders SenderLookup, sendTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		notifications: notifications,
		users:         users,
		senders:       senders,
		sendTimeout:   sendTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// Dispatch delivers n and persists the outcome.
//
// Returned values:
//   - (SENT, nil) on success
//   - (FAILED, cause) when delivery failed terminally; cause matches
//     ErrMissingRecipient or ErrDelivery. A user that cannot be loaded, for
//     any reason, counts as a missing recipient.
//   - (current, nil) when the record was already terminal; nothing is sent
//   - ("", err) when the notification cannot be read or the outcome cannot be
//     written; err wraps ErrTransientStore and the record stays PENDING
func (d *Dispatcher) Dispatch(ctx context.Context, n *db.Notification) (db.Status, error) {
	current, err := d.notifications.GetNotification(ctx, n.ID)
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("dispatch %s: %w", n.ID, err)
	}
	if err != nil {
		return "", transient("load notification", err)
	}
	if current.Status.Terminal() {
		return current.Status, nil
	}

	cause := d.deliver(ctx, current)

	status, sentAt := db.StatusSent, d.now().UTC()
	if cause != nil {
		status = db.StatusFailed
	}

	// The outcome is recorded even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	var sentAtPtr *time.Time
	if status == db.StatusSent {
		sentAtPtr = &sentAt
	}

	changed, err := d.notifications.UpdateNotificationStatus(persistCtx, current.ID, status, sentAtPtr)
	if err != nil {
		d.logger.Error("failed to persist dispatch outcome",
			zap.Error(err),
			zap.String("notification_id", current.ID.String()),
			zap.String("status", string(status)),
		)
		return "", transient("persist dispatch outcome", err)
	}

	if !changed {
		// Another dispatcher recorded an outcome first; report what is stored.
		stored, err := d.notifications.GetNotification(persistCtx, current.ID)
		if err != nil {
			return "", transient("reload notification", err)
		}
		d.logger.Debug("dispatch lost race",
			zap.String("notification_id", current.ID.String()),
			zap.String("stored_status", string(stored.Status)),
		)
		return stored.Status, nil
	}

	metrics.RecordDispatch(string(status), string(current.Channel))

	if cause != nil {
		d.logger.Warn("notification failed",
			zap.String("notification_id", current.ID.String()),
			zap.String("user_id", current.UserID.String()),
			zap.String("channel", string(current.Channel)),
			zap.Error(cause),
		)
		return db.StatusFailed, cause
	}

	d.logger.Info("notification sent",
		zap.String("notification_id", current.ID.String()),
		zap.String("channel", string(current.Channel)),
	)
	return db.StatusSent, nil
}

// deliver returns nil when the sender accepted the message, otherwise the
// terminal cause.
func (d *Dispatcher) deliver(ctx context.Context, n *db.Notification) error {
	user, err := d.users.GetUser(ctx, n.UserID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			d.logger.Warn("recipient lookup failed, failing notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
				zap.String("user_id", n.UserID.String()),
			)
		}
		return fmt.Errorf("user %s: %w: %w", n.UserID, ErrMissingRecipient, err)
	}

	recipient, ok := recipientFor(user, n.Channel)
	if !ok {
		return fmt.Errorf("%s for user %s: %w", n.Channel, n.UserID, ErrMissingRecipient)
	}

	sender, ok := d.senders.Lookup(n.Channel)
	if !ok {
		return &DeliveryError{Channel: n.Channel, Err: channel.ErrNoSender}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := d.now()
	err = sender.Send(sendCtx, channel.Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Recipient:      recipient,
		Title:          n.Title,
		Description:    n.Description,
	})
	metrics.RecordDeliveryLatency(string(n.Channel), d.now().Sub(start))

	if err != nil {
		return &DeliveryError{Channel: n.Channel, Err: err}
	}
	return nil
}

// recipientFor resolves the address a channel delivers to.
func recipientFor(u *db.User, ch db.Channel) (string, bool) {
	switch ch {
	case db.ChannelEmail:
		return u.Email, u.Email != ""
	case db.ChannelSMS:
		if !u.HasPhone() {
			return "", false
		}
		return *u.Phone, true
	case db.ChannelInApp:
		return u.ID.String(), true
	}
	return "", false
}
