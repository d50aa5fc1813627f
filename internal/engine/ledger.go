package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dedup"
	"github.com/lalithlochan/herald/internal/metrics"
)

// DefaultFanoutConcurrency bounds parallel store writes and dispatches per event.
const DefaultFanoutConcurrency = 8

// DispatchSummary counts immediate dispatch outcomes of HIGH notifications.
type DispatchSummary struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

func (s *DispatchSummary) add(o DispatchSummary) {
	s.Sent += o.Sent
	s.Failed += o.Failed
}

// GenerateResult reports what one generation pass did.
type GenerateResult struct {
	EventID     uuid.UUID       `json:"event_id"`
	Subscribers int             `json:"subscribers"`
	Created     int             `json:"created"`
	Duplicates  int             `json:"duplicates"`
	Failed      int             `json:"failed"`
	Dispatched  DispatchSummary `json:"dispatched"`
}

// Ledger creates one PENDING notification per (subscriber, channel) of an
// event and routes HIGH priority records to immediate dispatch.
type Ledger struct {
	prefs         *PreferenceIndex
	gate          *dedup.Gate
	notifications db.NotificationStore
	dispatcher    *Dispatcher
	concurrency   int
	logger        *zap.Logger
}

func NewLedger(prefs *PreferenceIndex, gate *dedup.Gate, notifications db.NotificationStore, dispatcher *Dispatcher, concurrency int, logger *zap.Logger) *Ledger {
	if concurrency <= 0 {
		concurrency = DefaultFanoutConcurrency
	}
	return &Ledger{
		prefs:         prefs,
		gate:          gate,
		notifications: notifications,
		dispatcher:    dispatcher,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// GenerateForEvent is safe to call repeatedly and concurrently for the same
// event: the dedup gate guarantees one record per (user, event, channel).
//
// When some pairs fail to persist, the result still reflects the pairs that
// succeeded and the returned error wraps ErrTransientStore.
func (l *Ledger) GenerateForEvent(ctx context.Context, event *db.Event) (*GenerateResult, error) {
	if err := db.ValidateEvent(event); err != nil {
		return nil, invalid(err)
	}

	subs, err := l.prefs.ResolveSubscribers(ctx, event.Type)
	if err != nil {
		l.logger.Error("failed to resolve subscribers",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
		return nil, err
	}

	return l.generate(ctx, event, subs)
}

type pair struct {
	userID  uuid.UUID
	channel db.Channel
}

func (l *Ledger) generate(ctx context.Context, event *db.Event, subs []Subscriber) (*GenerateResult, error) {
	result := &GenerateResult{EventID: event.ID, Subscribers: len(subs)}

	var pairs []pair
	for _, s := range subs {
		for _, ch := range s.Channels {
			pairs = append(pairs, pair{userID: s.User.ID, channel: ch})
		}
	}

	reserveErr := l.reserveAll(ctx, event, pairs, result)

	var dispatchErr error
	if event.Priority == db.PriorityHigh {
		var summary DispatchSummary
		summary, dispatchErr = l.dispatchPendingHigh(ctx, event.ID)
		result.Dispatched.add(summary)
	}

	l.logger.Info("notifications generated",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("priority", string(event.Priority)),
		zap.Int("subscribers", result.Subscribers),
		zap.Int("created", result.Created),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
		zap.Int("sent", result.Dispatched.Sent),
	)

	return result, errors.Join(reserveErr, dispatchErr)
}

// reserveAll runs TryReserve for every pair in parallel. A failing pair does
// not stop the others.
func (l *Ledger) reserveAll(ctx context.Context, event *db.Event, pairs []pair, result *GenerateResult) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(l.concurrency)

	for _, p := range pairs {
		g.Go(func() error {
			n := db.NewPendingNotification(p.userID, event, p.channel)
			reservation, err := l.gate.TryReserve(ctx, n)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				l.logger.Error("failed to create notification",
					zap.Error(err),
					zap.String("event_id", event.ID.String()),
					zap.String("user_id", p.userID.String()),
					zap.String("channel", string(p.channel)),
				)
				result.Failed++
				errs = append(errs, err)
				return nil
			}

			switch reservation {
			case dedup.Created:
				result.Created++
				metrics.RecordNotificationCreated(string(p.channel), string(event.Priority))
			case dedup.AlreadyExists:
				result.Duplicates++
				metrics.RecordNotificationDuplicate(string(p.channel))
				l.logger.Debug("duplicate notification prevented",
					zap.String("user_id", p.userID.String()),
					zap.String("event_id", event.ID.String()),
					zap.String("channel", string(p.channel)),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == 0 {
		return nil
	}
	return transient("create notifications", errors.Join(errs...))
}

// dispatchPendingHigh dispatches every PENDING HIGH record of the event,
// including records left behind by an earlier interrupted pass.
func (l *Ledger) dispatchPendingHigh(ctx context.Context, eventID uuid.UUID) (DispatchSummary, error) {
	priority, status := db.PriorityHigh, db.StatusPending
	filter := db.NotificationFilter{
		EventID:  &eventID,
		Priority: &priority,
		Status:   &status,
		Limit:    db.MaxFilterLimit,
	}

	var (
		summary DispatchSummary
		errs    []error
		seen    = make(map[uuid.UUID]struct{})
	)
	for {
		page, err := l.notifications.FindNotifications(ctx, filter)
		if err != nil {
			errs = append(errs, transient("load pending high notifications", err))
			break
		}

		var todo []*db.Notification
		for _, n := range page {
			if _, done := seen[n.ID]; !done {
				seen[n.ID] = struct{}{}
				todo = append(todo, n)
			}
		}
		if len(todo) == 0 {
			break
		}

		s, err := dispatchAll(ctx, l.dispatcher, todo, l.concurrency)
		summary.add(s)
		if err != nil {
			errs = append(errs, err)
		}

		if len(page) < filter.EffectiveLimit() {
			break
		}
	}

	return summary, errors.Join(errs...)
}

// dispatchAll dispatches notifications with bounded parallelism. Terminal
// delivery failures are counted, not returned; only store errors are.
func dispatchAll(ctx context.Context, d *Dispatcher, notifications []*db.Notification, concurrency int) (DispatchSummary, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		summary DispatchSummary
		errs    []error
	)
	g.SetLimit(concurrency)

	for _, n := range notifications {
		g.Go(func() error {
			status, err := d.Dispatch(ctx, n)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case status == db.StatusSent:
				summary.Sent++
			case status == db.StatusFailed:
				summary.Failed++
			case err != nil:
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return summary, errors.Join(errs...)
}
