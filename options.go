package moneybox

import "time"

const (
	defaultBatchSize           = 100
	defaultMaxDeliveryAttempts = 5
	defaultLeaseTimeout        = 1 * time.Minute
	defaultDeliveryTimeout     = 10 * time.Second
	defaultRetentionWindow     = 24 * time.Hour
	defaultReportBatchSize     = 50

	// DefaultPollInterval is the recommended delay between dispatch cycles.
	DefaultPollInterval = 5 * time.Second
	// DefaultRetentionInterval is the recommended delay between sweeps.
	DefaultRetentionInterval = 1 * time.Hour

	defaultKafkaTopicPrefix = "moneybox."
)

//
// DispatchService Options
//

type DispatchServiceOption func(*DispatchService)

// WithDispatchBatchSize bounds how many events one cycle claims.
func WithDispatchBatchSize(size int) DispatchServiceOption {
	return func(s *DispatchService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithLeaseTimeout sets how long a claimed event stays invisible to other
// dispatcher replicas. It must comfortably exceed the delivery timeout.
func WithLeaseTimeout(timeout time.Duration) DispatchServiceOption {
	return func(s *DispatchService) {
		if timeout > 0 {
			s.leaseTimeout = timeout
		}
	}
}

// WithDeliveryTimeout bounds a single delivery call. A timed-out call
// counts as a failure for breaker accounting.
func WithDeliveryTimeout(timeout time.Duration) DispatchServiceOption {
	return func(s *DispatchService) {
		if timeout > 0 {
			s.deliveryTimeout = timeout
		}
	}
}

// WithMaxDeliveryAttempts sets the retry ceiling before an event is parked
// as FAILED_PERMANENT.
func WithMaxDeliveryAttempts(attempts int) DispatchServiceOption {
	return func(s *DispatchService) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

//
// RetentionService Options
//

type RetentionServiceOption func(*RetentionService)

// WithRetentionWindow sets the minimum age of published events before the
// sweeper deletes them.
func WithRetentionWindow(window time.Duration) RetentionServiceOption {
	return func(s *RetentionService) {
		if window > 0 {
			s.retentionWindow = window
		}
	}
}

//
// FailedEventReporter Options
//

type FailedEventReporterOption func(*FailedEventReporter)

// WithReportBatchSize bounds how many parked events one report cycle lists.
func WithReportBatchSize(size int) FailedEventReporterOption {
	return func(r *FailedEventReporter) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

//
// KafkaDeliverer Options
//

type KafkaDelivererOption func(*KafkaDeliverer)

// WithKafkaProducerProps merges extra producer properties over the defaults.
func WithKafkaProducerProps(props map[string]interface{}) KafkaDelivererOption {
	return func(d *KafkaDeliverer) {
		for k, v := range props {
			d.producerProps[k] = v
		}
	}
}

// WithKafkaTopicPrefix sets the prefix prepended to the event target to
// form the topic name.
func WithKafkaTopicPrefix(prefix string) KafkaDelivererOption {
	return func(d *KafkaDeliverer) {
		d.topicPrefix = prefix
	}
}

// WithKafkaHeaderBuilder replaces the default header builder.
func WithKafkaHeaderBuilder(builder KafkaHeaderBuilder) KafkaDelivererOption {
	return func(d *KafkaDeliverer) {
		d.headerBuilder = builder
	}
}
