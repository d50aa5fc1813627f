package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/engine"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/sqs"
)

const (
	defaultRetryDelay = 30 * time.Second
	receiveBackoff    = 5 * time.Second
)

// Queue is the consuming side of the event queue. *sqs.Consumer implements it.
type Queue interface {
	Receive(ctx context.Context) ([]sqs.Received, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// EventHandler generates notifications for a stored event. *engine.Engine implements it.
type EventHandler interface {
	OnEventCreated(ctx context.Context, event *db.Event) (*engine.GenerateResult, error)
}

// Consumer turns queued event ids into notifications. A message is deleted
// only after generation succeeded or when it can never succeed; otherwise it
// becomes visible again after RetryDelay. Redelivery is safe because
// generation is idempotent.
type Consumer struct {
	queue      Queue
	events     db.EventStore
	handler    EventHandler
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewConsumer(queue Queue, events db.EventStore, handler EventHandler, retryDelay time.Duration, logger *zap.Logger) *Consumer {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Consumer{
		queue:      queue,
		events:     events,
		handler:    handler,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("event consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("event consumer stopping")
			return
		}

		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to receive events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	messages, err := c.queue.Receive(ctx)
	if err != nil {
		return err
	}

	metrics.SetSQSMessagesInFlight(len(messages))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, m := range messages {
		c.handle(ctx, m)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, m sqs.Received) {
	// Acknowledgements outlive shutdown so finished work is not redelivered.
	ackCtx := context.WithoutCancel(ctx)

	if m.Err != nil {
		c.logger.Warn("dropping undecodable message", zap.Error(m.Err))
		c.delete(ackCtx, m.ReceiptHandle)
		return
	}

	eventID, err := m.Message.ParseEventID()
	if err != nil {
		c.logger.Warn("dropping message with invalid event id", zap.Error(err))
		c.delete(ackCtx, m.ReceiptHandle)
		return
	}

	event, err := c.events.GetEvent(ctx, eventID)
	if errors.Is(err, db.ErrNotFound) {
		c.logger.Warn("dropping message for unknown event", zap.String("event_id", eventID.String()))
		c.delete(ackCtx, m.ReceiptHandle)
		return
	}
	if err != nil {
		c.logger.Error("failed to load event", zap.Error(err), zap.String("event_id", eventID.String()))
		c.retryLater(ackCtx, m.ReceiptHandle)
		return
	}

	result, err := c.handler.OnEventCreated(ctx, event)
	if err != nil {
		c.logger.Error("notification generation failed, will retry",
			zap.Error(err),
			zap.String("event_id", eventID.String()),
		)
		c.retryLater(ackCtx, m.ReceiptHandle)
		return
	}

	c.logger.Info("queued event processed",
		zap.String("event_id", eventID.String()),
		zap.Int("created", result.Created),
		zap.Int("duplicates", result.Duplicates),
	)
	c.delete(ackCtx, m.ReceiptHandle)
}

func (c *Consumer) delete(ctx context.Context, receiptHandle string) {
	if err := c.queue.DeleteMessage(ctx, receiptHandle); err != nil {
		c.logger.Warn("failed to delete message", zap.Error(err))
	}
}

func (c *Consumer) retryLater(ctx context.Context, receiptHandle string) {
	if err := c.queue.ChangeVisibility(ctx, receiptHandle, int32(c.retryDelay/time.Second)); err != nil {
		c.logger.Warn("failed to change message visibility", zap.Error(err))
	}
}
