package moneybox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

// FailedEventReporter surfaces permanently failed events for operator
// attention. The rows stay in the outbox table; this worker only makes
// sure they are impossible to miss in logs and metrics.
type FailedEventReporter struct {
	store     storage.Store
	logger    *zap.Logger
	metrics   MetricsCollector
	batchSize int
}

// NewFailedEventReporter creates a reporting work unit for a BaseWorker.
func NewFailedEventReporter(
	store storage.Store,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...FailedEventReporterOption,
) *FailedEventReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	r := &FailedEventReporter{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		batchSize: defaultReportBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report lists parked events and logs each one with its failure reason.
func (r *FailedEventReporter) Report(ctx context.Context) error {
	start := time.Now()
	defer func() {
		r.metrics.RecordDuration("failed_report.duration", time.Since(start), nil)
	}()

	events, err := r.store.ListFailedPermanent(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list parked events: %w", err)
	}

	r.metrics.RecordGauge("failed_report.parked_events", float64(len(events)), nil)
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		r.logger.Error("Outbox event requires operator attention",
			zap.String("event_id", event.ID.String()),
			zap.String("operation_id", event.OperationID.String()),
			zap.String("event_type", event.EventType),
			zap.String("target", event.Target),
			zap.Int("attempts", event.AttemptCount),
			zap.String("last_error", event.LastError),
			zap.Time("created_at", event.CreatedAt),
		)
	}

	return nil
}
