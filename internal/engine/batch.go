package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/metrics"
)

const (
	batchLockName       = "batch-dispatch"
	DefaultBatchLockTTL = 10 * time.Minute
)

// Locker guards the sweep against overlapping runs on other instances.
// *redis.Locker implements it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// BatchResult reports one sweep. Dispatched counts records this sweep moved
// to a terminal status; Failed is the subset that ended FAILED. Errors counts
// records left PENDING because the store could not be reached.
type BatchResult struct {
	Eligible   int  `json:"eligible"`
	Dispatched int  `json:"dispatched"`
	Failed     int  `json:"failed"`
	Errors     int  `json:"errors"`
	Skipped    bool `json:"skipped"`
}

// BatchDispatcher delivers deferred LOW priority notifications.
type BatchDispatcher struct {
	notifications db.NotificationStore
	dispatcher    *Dispatcher
	locker        Locker
	lockTTL       time.Duration
	concurrency   int
	logger        *zap.Logger
}

// NewBatchDispatcher creates a sweep runner. locker may be nil, in which case
// only the caller's scheduling prevents overlap.
func NewBatchDispatcher(notifications db.NotificationStore, dispatcher *Dispatcher, locker Locker, lockTTL time.Duration, concurrency int, logger *zap.Logger) *BatchDispatcher {
	if lockTTL <= 0 {
		lockTTL = DefaultBatchLockTTL
	}
	if concurrency <= 0 {
		concurrency = DefaultFanoutConcurrency
	}
	return &BatchDispatcher{
		notifications: notifications,
		dispatcher:    dispatcher,
		locker:        locker,
		lockTTL:       lockTTL,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// RunBatch dispatches every PENDING LOW notification, oldest first.
// Records already terminal are never touched.
func (b *BatchDispatcher) RunBatch(ctx context.Context) (*BatchResult, error) {
	if b.locker != nil {
		release, acquired, err := b.locker.Acquire(ctx, batchLockName, b.lockTTL)
		switch {
		case err != nil:
			b.logger.Warn("batch lock unavailable, sweeping without it", zap.Error(err))
		case !acquired:
			b.logger.Info("batch sweep already running elsewhere, skipping")
			metrics.RecordBatchRun("skipped", 0)
			return &BatchResult{Skipped: true}, nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					b.logger.Warn("failed to release batch lock", zap.Error(err))
				}
			}()
		}
	}

	pending, err := b.notifications.FindPendingByPriority(ctx, db.PriorityLow)
	if err != nil {
		metrics.RecordBatchRun("error", 0)
		return nil, transient("load pending low notifications", err)
	}

	result := &BatchResult{Eligible: len(pending)}
	if len(pending) == 0 {
		metrics.RecordBatchRun("completed", 0)
		return result, nil
	}

	start := time.Now()
	summary, err := dispatchAll(ctx, b.dispatcher, pending, b.concurrency)
	result.Dispatched = summary.Sent + summary.Failed
	result.Failed = summary.Failed
	result.Errors = result.Eligible - result.Dispatched

	b.logger.Info("batch sweep completed",
		zap.Int("eligible", result.Eligible),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", time.Since(start)),
	)

	if err != nil {
		metrics.RecordBatchRun("error", result.Eligible)
		return result, err
	}
	metrics.RecordBatchRun("completed", result.Eligible)
	return result, nil
}
