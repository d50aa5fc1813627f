// Package channel delivers notifications over concrete transports. Each
// transport implements Sender; a Registry maps every channel to the sender
// that serves it.
package channel

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

// ErrNoSender is returned when no sender is registered for a channel.
var ErrNoSender = errors.New("no sender registered for channel")

// Message is what a sender needs to deliver one notification. Recipient is
// already resolved for the channel: an email address, a phone number, or the
// user id for in-app delivery.
type Message struct {
	NotificationID uuid.UUID
	UserID         uuid.UUID
	Channel        db.Channel
	Recipient      string
	Title          string
	Description    string
}

// Sender is the unified interface for all notification transports.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	SupportsChannel(ch db.Channel) bool
}

// Registry resolves the sender for a channel. It is built once at startup and
// read-only afterwards.
type Registry struct {
	senders map[db.Channel]Sender
	logger  *zap.Logger
}

// NewRegistry assigns each known channel to the first sender supporting it,
// so more specific senders should be listed before catch-all ones.
func NewRegistry(logger *zap.Logger, senders ...Sender) *Registry {
	r := &Registry{
		senders: make(map[db.Channel]Sender, len(db.Channels)),
		logger:  logger,
	}
	for _, ch := range db.Channels {
		for _, s := range senders {
			if s.SupportsChannel(ch) {
				r.senders[ch] = s
				break
			}
		}
		if _, ok := r.senders[ch]; !ok {
			logger.Warn("no sender registered for channel", zap.String("channel", string(ch)))
		}
	}
	return r
}

// Lookup returns the sender for ch.
func (r *Registry) Lookup(ch db.Channel) (Sender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}
