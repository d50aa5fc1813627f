package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/redis"
)

type inboxWriter interface {
	Push(ctx context.Context, userID string, entry redis.InboxEntry) error
}

// InboxSender delivers in-app notifications by appending them to the user's
// Redis inbox.
type InboxSender struct {
	inbox  inboxWriter
	logger *zap.Logger
	now    func() time.Time
}

func NewInboxSender(inbox *redis.Inbox, logger *zap.Logger) *InboxSender {
	return &InboxSender{inbox: inbox, logger: logger, now: time.Now}
}

func (s *InboxSender) Send(ctx context.Context, msg Message) error {
	if msg.Channel != db.ChannelInApp {
		return fmt.Errorf("inbox sender only supports in_app, got: %s", msg.Channel)
	}

	err := s.inbox.Push(ctx, msg.Recipient, redis.InboxEntry{
		NotificationID: msg.NotificationID.String(),
		Title:          msg.Title,
		Description:    msg.Description,
		DeliveredAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("inbox push failed: %w", err)
	}
	return nil
}

func (s *InboxSender) SupportsChannel(ch db.Channel) bool {
	return ch == db.ChannelInApp
}
