package consumers

import (
	"context"
	"encoding/json"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

// Broadcaster delivers a saved month to local listeners
type Broadcaster interface {
	Broadcast(pharmacyID string, month ledger.MonthKey, items []ledger.InventoryItem) int
}

// MonthEventConsumer relays month saved events from the broker to the
// in-process hub. Every instance reads its own queue so each one sees
// every save.
type MonthEventConsumer struct {
	consumer *messaging.Consumer
	handlers messaging.Handlers
	hub      Broadcaster
	logger   *logger.Logger
}

// NewMonthEventConsumer creates a consumer bound to the inventory exchange
func NewMonthEventConsumer(rmq *messaging.RabbitMQ, hub Broadcaster, log *logger.Logger) (*MonthEventConsumer, error) {
	c := NewMonthEventHandler(hub, log)

	consumer, err := messaging.NewInstanceConsumer(rmq, c.handlers, log)
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangeInventoryEvents, "inventory.month.*"); err != nil {
		return nil, err
	}

	c.consumer = consumer
	return c, nil
}

// NewMonthEventHandler builds the handlers without a broker connection.
// Used by tests and by callers that feed events themselves.
func NewMonthEventHandler(hub Broadcaster, log *logger.Logger) *MonthEventConsumer {
	c := &MonthEventConsumer{
		handlers: make(messaging.Handlers),
		hub:      hub,
		logger:   log,
	}
	messaging.On(c.handlers, messaging.EventMonthSaved, c.handleMonthSaved)
	messaging.On(c.handlers, messaging.EventMonthRolledOver, c.handleMonthRolledOver)
	return c
}

// Start starts consuming messages
func (c *MonthEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Handle dispatches one event by type
func (c *MonthEventConsumer) Handle(ctx context.Context, event *messaging.Event) error {
	return c.handlers.Dispatch(ctx, event)
}

func (c *MonthEventConsumer) handleMonthSaved(ctx context.Context, event *messaging.Event, data messaging.MonthSavedEvent) error {
	key, err := ledger.ParseMonthKey(data.MonthKey)
	if err != nil {
		// Redelivery cannot fix a bad key; drop it.
		c.logger.Warn().Str("month", data.MonthKey).Msg("ignoring month saved event with invalid key")
		return nil
	}

	var items []ledger.InventoryItem
	if len(data.Items) > 0 {
		if err := json.Unmarshal(data.Items, &items); err != nil {
			return messaging.Permanent(err)
		}
	}
	if items == nil {
		items = []ledger.InventoryItem{}
	}

	n := c.hub.Broadcast(data.PharmacyID, key, items)

	c.logger.Debug().
		Str("pharmacy_id", data.PharmacyID).
		Str("month", data.MonthKey).
		Str("saved_by", data.SavedBy).
		Str("event_id", event.ID).
		Int("listeners", n).
		Msg("received month saved event")

	return nil
}

// handleMonthRolledOver only logs; the saved event for the new month
// carries the data.
func (c *MonthEventConsumer) handleMonthRolledOver(ctx context.Context, event *messaging.Event, data messaging.MonthRolledOverEvent) error {
	c.logger.Info().
		Str("pharmacy_id", data.PharmacyID).
		Str("from_month", data.FromMonth).
		Str("to_month", data.ToMonth).
		Int("item_count", data.ItemCount).
		Msg("received month rolled over event")

	return nil
}
