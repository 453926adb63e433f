package moneybox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/korvan/moneybox/circuitbreaker"
	"github.com/korvan/moneybox/storage"
)

// DispatchService drains the outbox and delivers claimed events to their
// targets through circuit-breaker-guarded calls. Delivery failures never
// propagate to any caller: events are retried across cycles until the
// attempt ceiling parks them as FAILED_PERMANENT.
type DispatchService struct {
	store           storage.Store
	deliverer       Deliverer
	breakers        *circuitbreaker.Registry
	logger          *zap.Logger
	metrics         MetricsCollector
	batchSize       int
	leaseTimeout    time.Duration
	deliveryTimeout time.Duration
	maxAttempts     int
}

// NewDispatchService creates a dispatch work unit. Wrap its Dispatch method
// in a BaseWorker to run it on an interval.
func NewDispatchService(
	store storage.Store,
	deliverer Deliverer,
	breakers *circuitbreaker.Registry,
	logger *zap.Logger,
	metrics MetricsCollector,
	opts ...DispatchServiceOption,
) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	s := &DispatchService{
		store:           store,
		deliverer:       deliverer,
		breakers:        breakers,
		logger:          logger,
		metrics:         metrics,
		batchSize:       defaultBatchSize,
		leaseTimeout:    defaultLeaseTimeout,
		deliveryTimeout: defaultDeliveryTimeout,
		maxAttempts:     defaultMaxDeliveryAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch is the work unit executed each cycle: claim a batch, deliver
// event by event, transition statuses. One event's failure never aborts the
// rest of the batch.
func (s *DispatchService) Dispatch(ctx context.Context) error {
	start := time.Now()

	events, err := s.store.ClaimBatch(ctx, s.batchSize, s.leaseTimeout)
	if err != nil {
		return fmt.Errorf("failed to claim events: %w", err)
	}
	s.metrics.RecordDuration("dispatch.claim_duration", time.Since(start), nil)

	if len(events) == 0 {
		return nil
	}

	s.logger.Info("Claimed events for dispatch", zap.Int("count", len(events)))
	s.metrics.RecordGauge("dispatch.batch_size", float64(len(events)), nil)

	var published, failed, skipped int
	for _, event := range events {
		select {
		case <-ctx.Done():
			// Remaining claimed events become claimable again once their
			// lease expires; nothing is lost on shutdown.
			s.logger.Warn("Context cancelled during dispatch", zap.Error(ctx.Err()))
			return nil
		default:
		}

		switch s.dispatchOne(ctx, event) {
		case dispatchPublished:
			published++
		case dispatchSkipped:
			skipped++
		default:
			failed++
		}
	}

	s.logger.Info("Dispatch cycle completed",
		zap.Int("published", published),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
	s.metrics.RecordDuration("dispatch.duration", time.Since(start), nil)

	return nil
}

type dispatchOutcome int

const (
	dispatchPublished dispatchOutcome = iota
	dispatchFailed
	dispatchSkipped
)

func (s *DispatchService) dispatchOne(ctx context.Context, event storage.EventRecord) dispatchOutcome {
	eventFields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("target", event.Target),
	}
	tags := map[string]string{"event_type": event.EventType, "target": event.Target}

	breaker := s.breakers.GetOrCreate(event.Target)

	err := breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
		defer cancel()
		return s.deliverer.Deliver(callCtx, toEvent(event))
	})

	switch {
	case err == nil:
		if err := s.store.MarkPublished(ctx, event.ID); err != nil {
			// Delivered but not finalized. The lease expires, the event is
			// redelivered and the consumer dedupes by event id.
			s.metrics.IncrementCounter("dispatch.mark_published_failed", tags)
			s.logger.Error("Failed to mark event as published", append(eventFields, zap.Error(err))...)
			return dispatchFailed
		}
		s.metrics.IncrementCounter("dispatch.published", tags)
		s.logger.Info("Event delivered", eventFields...)
		return dispatchPublished

	case errors.Is(err, circuitbreaker.ErrOpen):
		// The call was never attempted: not a failure, no attempt bump. The
		// event becomes claimable again after its lease expires.
		s.metrics.IncrementCounter("dispatch.breaker_rejected", tags)
		s.logger.Debug("Breaker open, delivery skipped", eventFields...)
		return dispatchSkipped

	case errors.Is(err, ErrPermanentDelivery):
		s.metrics.IncrementCounter("dispatch.permanent_failure", tags)
		s.logger.Error("Event unprocessable, parking permanently", append(eventFields, zap.Error(err))...)
		if markErr := s.store.MarkFailedPermanent(ctx, event.ID, err.Error()); markErr != nil {
			s.logger.Error("Failed to park event", append(eventFields, zap.Error(markErr))...)
		}
		return dispatchFailed

	default:
		return s.handleDeliveryFailure(ctx, event, err, eventFields, tags)
	}
}

func (s *DispatchService) handleDeliveryFailure(
	ctx context.Context,
	event storage.EventRecord,
	deliveryErr error,
	eventFields []zap.Field,
	tags map[string]string,
) dispatchOutcome {
	attempt := event.AttemptCount + 1
	if attempt >= s.maxAttempts {
		s.metrics.IncrementCounter("dispatch.attempts_exhausted", tags)
		s.logger.Error("Event exceeded delivery attempts, parking permanently",
			append(eventFields, zap.Int("attempts", attempt), zap.Error(deliveryErr))...)
		if err := s.store.MarkFailedPermanent(ctx, event.ID, deliveryErr.Error()); err != nil {
			s.logger.Error("Failed to park event", append(eventFields, zap.Error(err))...)
		}
		return dispatchFailed
	}

	s.metrics.IncrementCounter("dispatch.delivery_failed", tags)
	s.logger.Warn("Delivery failed, event will be retried after lease expiry",
		append(eventFields, zap.Int("attempt", attempt), zap.Error(deliveryErr))...)
	if err := s.store.ReleaseForRetry(ctx, event.ID, deliveryErr.Error()); err != nil {
		s.logger.Error("Failed to record delivery attempt", append(eventFields, zap.Error(err))...)
	}
	return dispatchFailed
}

func toEvent(record storage.EventRecord) Event {
	return Event{
		ID:           record.ID,
		OperationID:  record.OperationID,
		EventType:    record.EventType,
		Target:       record.Target,
		Payload:      record.Payload,
		Headers:      record.Headers,
		AttemptCount: record.AttemptCount,
	}
}
