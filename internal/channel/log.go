package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

// LogSender writes notifications to the log instead of delivering them. It
// serves every channel and is the default when no real transport is enabled.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("notification delivered (log)",
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("user_id", msg.UserID.String()),
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("title", msg.Title),
	)
	return nil
}

func (s *LogSender) SupportsChannel(ch db.Channel) bool {
	return ch.Valid()
}
