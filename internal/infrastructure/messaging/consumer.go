package messaging

import (
	"context"
	"fmt"
	"slices"
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

// EventConsumer binds a private queue to the event exchange and hands every
// decoded event to a local handler. The queue is exclusive and auto-deleted,
// so each running instance receives its own copy.
type EventConsumer struct {
	broker     Broker
	serializer *event.EventSerializer
	handler    shared.EventHandler
	tag        string
	logger     *zap.Logger
	backoff    func() backoff.BackOff
}

// NewEventConsumer creates a consumer that feeds handler
func NewEventConsumer(broker Broker, serializer *event.EventSerializer, handler shared.EventHandler, tag string, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{
		broker:     broker,
		serializer: serializer,
		handler:    handler,
		tag:        tag,
		logger:     logger,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run consumes until ctx is cancelled, re-subscribing whenever the delivery
// channel closes.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		var deliveries <-chan amqp.Delivery
		subscribe := func() error {
			d, err := c.subscribe()
			if err != nil {
				return err
			}
			deliveries = d
			return nil
		}
		err := backoff.RetryNotify(subscribe, backoff.WithContext(c.backoff(), ctx), func(err error, wait time.Duration) {
			c.logger.Warn("event consumer subscribe failed", zap.Error(err), zap.Duration("retry_in", wait))
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if done := c.drain(ctx, deliveries); done {
			return nil
		}
		c.logger.Warn("event consumer delivery channel closed, resubscribing")
	}
}

func (c *EventConsumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.broker.Channel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	keys := c.handler.EventTypes()
	if len(keys) == 0 {
		keys = []string{"#"}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, c.broker.Exchange(), false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, c.tag, false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	c.logger.Info("event consumer subscribed",
		zap.String("queue", q.Name),
		zap.Strings("routing_keys", keys),
	)
	return deliveries, nil
}

// drain returns true when ctx ends and false when the broker closes the channel
func (c *EventConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			c.process(ctx, d)
		}
	}
}

func (c *EventConsumer) process(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With(zap.String("event_type", d.Type), zap.String("message_id", d.MessageId))
	if requestID, ok := d.Headers[headerRequestID].(string); ok && requestID != "" {
		ctx = logger.WithRequestID(ctx, requestID)
	}

	ctx, span := telemetry.StartSpan(ctx, "amqp.consume",
		telemetry.WithSpanKind(trace.SpanKindConsumer),
		telemetry.WithAttribute("messaging.system", "rabbitmq"),
		telemetry.WithAttribute("messaging.rabbitmq.routing_key", d.RoutingKey),
	)
	defer span.End()

	if !c.wants(d.Type) {
		_ = d.Ack(false)
		return
	}

	evt, err := c.serializer.Deserialize(d.Type, d.Body)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("dropping undecodable event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler.Handle(ctx, evt); err != nil {
		telemetry.RecordError(span, err)
		logger.Enrich(ctx, log).Error("event handler failed for broker delivery", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *EventConsumer) wants(eventType string) bool {
	if !c.serializer.IsRegistered(eventType) {
		return false
	}
	types := c.handler.EventTypes()
	return len(types) == 0 || slices.Contains(types, eventType)
}
