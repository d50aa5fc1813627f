// Package engine fans domain events out into per-user, per-channel
// notifications and drives them from PENDING to SENT or FAILED.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dedup"
)

// Config tunes the engine. Zero values fall back to the package defaults.
type Config struct {
	SendTimeout       time.Duration
	FanoutConcurrency int
	BatchLockTTL      time.Duration
}

// Engine is the entry point used by the HTTP surface, the queue consumer and
// the scheduler. It keeps no state of its own; the store is the only shared
// mutable resource.
type Engine struct {
	dispatcher *Dispatcher
	ledger     *Ledger
	batch      *BatchDispatcher
	bulk       *BulkNotifier
	logger     *zap.Logger
}

// New wires the engine components over store. locker may be nil.
func New(store db.Store, senders SenderLookup, locker Locker, cfg Config, logger *zap.Logger) *Engine {
	dispatcher := NewDispatcher(store, store, senders, cfg.SendTimeout, logger)
	ledger := NewLedger(
		NewPreferenceIndex(store),
		dedup.NewGate(store),
		store,
		dispatcher,
		cfg.FanoutConcurrency,
		logger,
	)

	return &Engine{
		dispatcher: dispatcher,
		ledger:     ledger,
		batch:      NewBatchDispatcher(store, dispatcher, locker, cfg.BatchLockTTL, cfg.FanoutConcurrency, logger),
		bulk:       NewBulkNotifier(store, store, ledger, logger),
		logger:     logger,
	}
}

// OnEventCreated generates notifications for a persisted event.
func (e *Engine) OnEventCreated(ctx context.Context, event *db.Event) (*GenerateResult, error) {
	return e.ledger.GenerateForEvent(ctx, event)
}

// OnBulkNotifyRequested creates notifications for a single user from ad-hoc items.
func (e *Engine) OnBulkNotifyRequested(ctx context.Context, userID uuid.UUID, items []BulkItem) (*BulkResult, error) {
	return e.bulk.Notify(ctx, userID, items)
}

// OnBatchTick runs one sweep of deferred LOW priority notifications.
func (e *Engine) OnBatchTick(ctx context.Context) (*BatchResult, error) {
	return e.batch.RunBatch(ctx)
}

// Dispatch delivers a single notification immediately.
func (e *Engine) Dispatch(ctx context.Context, n *db.Notification) (db.Status, error) {
	return e.dispatcher.Dispatch(ctx, n)
}
