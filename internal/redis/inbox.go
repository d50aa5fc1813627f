package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInboxSize is how many in-app entries are retained per user.
const DefaultInboxSize = 100

// InboxEntry is one in-app notification as shown to the user.
type InboxEntry struct {
	NotificationID string    `json:"notification_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// Inbox keeps a capped, newest-first list of in-app notifications per user.
type Inbox struct {
	client *Client
	logger *zap.Logger
	size   int64
}

func NewInbox(client *Client, logger *zap.Logger, size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{client: client, logger: logger, size: int64(size)}
}

func inboxKey(userID string) string {
	return fmt.Sprintf("inbox:%s", userID)
}

// Push prepends entry to the user's inbox and trims it to the configured size.
func (i *Inbox) Push(ctx context.Context, userID string, entry InboxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal inbox entry: %w", err)
	}

	key := inboxKey(userID)
	pipe := i.client.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, i.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis inbox push failed: %w", err)
	}

	i.logger.Debug("inbox entry stored",
		zap.String("user_id", userID),
		zap.String("notification_id", entry.NotificationID),
	)
	return nil
}

// List returns up to limit entries, newest first.
func (i *Inbox) List(ctx context.Context, userID string, limit int) ([]InboxEntry, error) {
	if limit <= 0 || int64(limit) > i.size {
		limit = int(i.size)
	}

	raw, err := i.client.rdb.LRange(ctx, inboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis inbox read failed: %w", err)
	}

	entries := make([]InboxEntry, 0, len(raw))
	for _, item := range raw {
		var e InboxEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			i.logger.Warn("skipping malformed inbox entry",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
