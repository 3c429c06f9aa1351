package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/event"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	headerAggregateType = "aggregate_type"
	headerAggregateID   = "aggregate_id"
	headerRequestID     = "request_id"
	contentTypeJSON     = "application/json"
	defaultPublishTries = 3
)

// Broker hands out the channel used to talk to the event exchange
type Broker interface {
	Channel() (Channel, error)
	Exchange() string
}

// EventForwarder is a wildcard event handler that republishes every local
// domain event to the AMQP exchange, routed by event type.
type EventForwarder struct {
	broker     Broker
	serializer *event.EventSerializer
	appID      string
	logger     *zap.Logger
	tries      uint64
	backoff    func() backoff.BackOff
}

// ForwarderOption configures an EventForwarder
type ForwarderOption func(*EventForwarder)

// WithPublishRetry sets how often a failed publish is attempted and the
// backoff between attempts.
func WithPublishRetry(tries uint64, policy func() backoff.BackOff) ForwarderOption {
	return func(f *EventForwarder) {
		f.tries = max(tries, 1)
		f.backoff = policy
	}
}

// NewEventForwarder creates a forwarder publishing on broker
func NewEventForwarder(broker Broker, serializer *event.EventSerializer, appID string, logger *zap.Logger, opts ...ForwarderOption) *EventForwarder {
	f := &EventForwarder{
		broker:     broker,
		serializer: serializer,
		appID:      appID,
		logger:     logger,
		tries:      defaultPublishTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EventTypes returns nil so the forwarder receives every event
func (f *EventForwarder) EventTypes() []string {
	return nil
}

// Handle publishes the event. A failure after all retries is returned to the
// bus, which logs it; the operation that raised the event is not affected.
func (f *EventForwarder) Handle(ctx context.Context, evt shared.DomainEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "amqp.publish",
		telemetry.WithSpanKind(trace.SpanKindProducer),
		telemetry.WithAttribute("messaging.system", "rabbitmq"),
		telemetry.WithAttribute("messaging.destination", f.broker.Exchange()),
		telemetry.WithAttribute("messaging.rabbitmq.routing_key", evt.EventType()),
	)
	defer span.End()

	body, err := f.serializer.Serialize(evt)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("serialize %s: %w", evt.EventType(), err)
	}
	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.EventID().String(),
		Type:         evt.EventType(),
		Timestamp:    evt.OccurredAt(),
		AppId:        f.appID,
		Headers: amqp.Table{
			headerAggregateType: evt.AggregateType(),
			headerAggregateID:   evt.AggregateID().String(),
		},
		Body: body,
	}
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		msg.Headers[headerRequestID] = requestID
	}

	attempts := 0
	publish := func() error {
		attempts++
		ch, err := f.broker.Channel()
		if err != nil {
			return err
		}
		return ch.Publish(f.broker.Exchange(), evt.EventType(), false, false, msg)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(f.backoff(), f.tries-1), ctx)
	if err := backoff.Retry(publish, policy); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("publish %s after %d attempts: %w", evt.EventType(), attempts, err)
	}

	logger.Enrich(ctx, f.logger).Debug("event forwarded",
		zap.String("event_type", evt.EventType()),
		zap.String("event_id", evt.EventID().String()),
		zap.Int("attempts", attempts),
	)
	return nil
}

var _ shared.EventHandler = (*EventForwarder)(nil)
