package moneybox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

// RetentionService deletes published events once they age past the
// retention window. PENDING and FAILED_PERMANENT events are never touched:
// pending rows still need delivery, failed rows need operator review.
type RetentionService struct {
	store           storage.Store
	logger          *zap.Logger
	metrics         MetricsCollector
	retentionWindow time.Duration
}

// NewRetentionService creates a sweep work unit for a BaseWorker.
func NewRetentionService(
	store storage.Store,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...RetentionServiceOption,
) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	s := &RetentionService{
		store:           store,
		logger:          logger,
		metrics:         metrics,
		retentionWindow: defaultRetentionWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes published events older than the retention window. Running
// it twice in a row is a no-op after the first pass. Sweep errors are
// logged rather than returned, so the worker keeps its schedule.
func (s *RetentionService) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("retention.duration", time.Since(start), nil)
	}()

	cutoff := time.Now().UTC().Add(-s.retentionWindow)

	deleted, err := s.store.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to sweep published events", zap.Error(err))
		s.metrics.IncrementCounter("retention.sweep_failed", nil)
		return nil
	}

	if deleted > 0 {
		s.logger.Info("Swept published events",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff),
		)
		s.metrics.RecordGauge("retention.deleted", float64(deleted), nil)
	}
	s.metrics.IncrementCounter("retention.executed", nil)

	return nil
}
