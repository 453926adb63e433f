package moneybox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Deliverer sends a claimed outbox event to its target service. The
// concrete transport is a wiring choice; the dispatcher only requires that
// a nil error means the consumer durably accepted the event. Consumers must
// dedupe by event id, since the dispatcher guarantees at-least-once
// delivery.
type Deliverer interface {
	Deliver(ctx context.Context, event Event) error
	Close() error
}

// NopDeliverer accepts every event without sending it anywhere. Useful for
// testing.
type NopDeliverer struct{}

func NewNopDeliverer() *NopDeliverer {
	return &NopDeliverer{}
}

func (d *NopDeliverer) Deliver(_ context.Context, _ Event) error {
	return nil
}

func (d *NopDeliverer) Close() error {
	return nil
}

// KafkaHeaderBuilder builds Kafka message headers from an event.
type KafkaHeaderBuilder func(event Event) []kafka.Header

// KafkaDeliverer publishes events to per-target Kafka topics.
type KafkaDeliverer struct {
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	topicPrefix   string
	headerBuilder KafkaHeaderBuilder
}

// NewKafkaDeliverer creates a KafkaDeliverer with functional options.
func NewKafkaDeliverer(logger *zap.Logger, opts ...KafkaDelivererOption) (*KafkaDeliverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &KafkaDeliverer{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		topicPrefix:   defaultKafkaTopicPrefix,
		headerBuilder: buildKafkaHeaders,
	}

	for _, opt := range opts {
		opt(d)
	}

	producer, err := kafka.NewProducer(&d.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	d.producer = producer

	go d.handleDeliveryReports()

	return d, nil
}

// Deliver publishes the event to the topic derived from its target and
// blocks until the broker acknowledges it, so a nil return means the event
// is durably accepted rather than merely enqueued. The operation id is used
// as the message key so one operation's events keep their relative order
// within a partition.
func (d *KafkaDeliverer) Deliver(ctx context.Context, event Event) error {
	topic := d.topicPrefix + event.Target

	d.logger.Debug("Delivering event to Kafka",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("topic", topic),
	)

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.OperationID.String()),
		Value:          event.Payload,
		Headers:        d.headerBuilder(event),
		Timestamp:      time.Now(),
	}

	// Buffered so the producer never blocks on an abandoned report.
	deliveryChan := make(chan kafka.Event, 1)
	if err := d.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	return waitDeliveryReport(ctx, deliveryChan)
}

// waitDeliveryReport blocks until the broker's delivery report arrives or
// the context expires. A timed-out wait surfaces as an error, so the caller
// retries the event and the consumer dedupes any duplicate.
func waitDeliveryReport(ctx context.Context, reports <-chan kafka.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-reports:
		message, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery report type %T", e)
		}
		if message.TopicPartition.Error != nil {
			return fmt.Errorf("broker rejected message: %w", message.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes the producer and closes the Kafka connection.
func (d *KafkaDeliverer) Close() error {
	d.logger.Info("Closing kafka producer")
	d.producer.Flush(15 * 1000) // 15 sec
	d.producer.Close()
	return nil
}

// handleDeliveryReports drains the producer's events channel. Per-message
// delivery reports go to the channel passed to Produce; only producer-level
// errors land here.
func (d *KafkaDeliverer) handleDeliveryReports() {
	for e := range d.producer.Events() {
		if ev, ok := e.(kafka.Error); ok {
			d.logger.Error("Kafka error", zap.Error(ev))
		}
	}
}

// buildKafkaHeaders is the default header builder. The event_id header is
// the consumer-side dedupe key.
func buildKafkaHeaders(event Event) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(event.ID.String())},
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "operation_id", Value: []byte(event.OperationID.String())},
		{Key: "target", Value: []byte(event.Target)},
	}

	if len(event.Headers) > 0 {
		var eventHeaders map[string]string
		if err := json.Unmarshal(event.Headers, &eventHeaders); err == nil {
			for k, v := range eventHeaders {
				headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
			}
		}
	}

	return headers
}
