package dedup

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/lalithlochan/herald/internal/db"
)

// Reservation is the outcome of TryReserve.
type Reservation int

const (
	// Created means this caller wrote the record and owns its delivery.
	Created Reservation = iota + 1
	// AlreadyExists means a record for the triple was already on file.
	AlreadyExists
)

func (r Reservation) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Fingerprint returns a 32-character hex digest identifying the
// (user, event, channel) triple.
func Fingerprint(userID, eventID uuid.UUID, channel db.Channel) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// Only fails for sizes outside 1..64 or oversized keys.
		panic(err)
	}
	h.Write([]byte(strings.Join([]string{userID.String(), eventID.String(), string(channel)}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// Gate serializes concurrent attempts to create the same triple. It never
// reads before writing; the store's atomic insert-if-absent decides.
type Gate struct {
	store db.NotificationStore
}

func NewGate(store db.NotificationStore) *Gate {
	return &Gate{store: store}
}

// TryReserve stamps the fingerprint on n and attempts to create it.
func (g *Gate) TryReserve(ctx context.Context, n *db.Notification) (Reservation, error) {
	n.Fingerprint = Fingerprint(n.UserID, n.EventID, n.Channel)

	created, err := g.store.InsertNotificationIfAbsent(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", n.Fingerprint, err)
	}
	if created {
		return Created, nil
	}
	return AlreadyExists, nil
}
