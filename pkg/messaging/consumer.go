package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Handlers routes events to their handler by event type
type Handlers map[string]MessageHandler

// On registers fn for eventType. The event data is decoded into T first; a
// payload that does not decode is a permanent failure.
func On[T any](h Handlers, eventType string, fn func(ctx context.Context, event *Event, data T) error) {
	h[eventType] = func(ctx context.Context, event *Event) error {
		var data T
		if err := event.UnmarshalData(&data); err != nil {
			return Permanent(fmt.Errorf("decode %s: %w", eventType, err))
		}
		return fn(ctx, event, data)
	}
}

// Dispatch runs the handler registered for the event's type. Events nobody
// handles are ignored.
func (h Handlers) Dispatch(ctx context.Context, event *Event) error {
	handler, ok := h[event.Type]
	if !ok {
		return nil
	}
	return handler(ctx, event)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as one redelivery cannot fix. The message goes
// straight to the dead letter exchange.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  Handlers
	logger    *logger.Logger
}

// NewInstanceConsumer creates a consumer on a private queue for this
// instance. Every instance bound to an exchange receives every event.
func NewInstanceConsumer(rmq *RabbitMQ, handlers Handlers, log *logger.Logger) (*Consumer, error) {
	q, err := rmq.DeclareInstanceQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to declare instance queue: %w", err)
	}

	return &Consumer{
		rmq:       rmq,
		queueName: q.Name,
		handlers:  handlers,
		logger:    log,
	}, nil
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// Start starts consuming messages from the queue
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// handleMessage acks handled events. A failed event is requeued once; when
// it fails again, or the failure is permanent, it is dead-lettered.
// Requeues on a private queue never add x-death headers, so the redelivered
// flag is what bounds the retries.
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		_ = msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	err := c.handlers.Dispatch(ctx, &event)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	log := c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Bool("redelivered", msg.Redelivered)

	if IsPermanent(err) || msg.Redelivered {
		log.Msg("failed to process event, sending to DLQ")
		_ = msg.Reject(false)
		return
	}

	log.Msg("failed to process event, requeueing")
	_ = msg.Nack(false, true)
}
