package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DB interface for queue depth queries
type DB interface {
	QueueDepth(ctx context.Context, maxAttempts int) (total int, parked int, err error)
}

// StartQueueDepthCollector periodically collects queue depth metrics from the
// database until ctx is cancelled
func StartQueueDepthCollector(ctx context.Context, db DB, maxAttempts int, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(ctx, db, maxAttempts, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(ctx, db, maxAttempts, logger)
		}
	}
}

func collectQueueDepths(ctx context.Context, db DB, maxAttempts int, logger *zap.Logger) {
	total, parked, err := db.QueueDepth(ctx, maxAttempts)
	if err != nil {
		logger.Error("failed to get sync queue depth", zap.Error(err))
		return
	}
	QueueDepthTotal.Set(float64(total))
	QueueDepthParked.Set(float64(parked))
}
