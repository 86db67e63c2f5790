package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

// Publisher is the subset of messaging.Publisher used here
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes ledger events. A nil publisher is valid
// and drops every event, which is how the service runs without RabbitMQ.
type InventoryEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "ledger-service", log)
	if err != nil {
		return nil, err
	}

	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher
func NewWithPublisher(p Publisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: p,
		logger:    log,
	}
}

// Enabled reports whether events actually leave the process
func (p *InventoryEventPublisher) Enabled() bool {
	return p != nil && p.publisher != nil
}

// PublishMonthSaved publishes the full item list of a saved month.
// Returns the publish error so callers can fall back to local delivery.
func (p *InventoryEventPublisher) PublishMonthSaved(ctx context.Context, pharmacyID string, key ledger.MonthKey, items []ledger.InventoryItem, savedAt time.Time, savedBy string) error {
	if !p.Enabled() {
		return nil
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}

	data := messaging.MonthSavedEvent{
		PharmacyID:  pharmacyID,
		MonthKey:    key.String(),
		Items:       raw,
		LastUpdated: savedAt,
		SavedBy:     savedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMonthSaved, data); err != nil {
		p.logger.Error().Err(err).
			Str("pharmacy_id", pharmacyID).
			Str("month", key.String()).
			Msg("failed to publish month saved event")
		return err
	}
	return nil
}

// PublishRolledOver publishes a rollover notification
func (p *InventoryEventPublisher) PublishRolledOver(ctx context.Context, pharmacyID string, from, to ledger.MonthKey, itemCount int, savedBy string) {
	if !p.Enabled() {
		return
	}

	data := messaging.MonthRolledOverEvent{
		PharmacyID: pharmacyID,
		FromMonth:  from.String(),
		ToMonth:    to.String(),
		ItemCount:  itemCount,
		SavedBy:    savedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMonthRolledOver, data); err != nil {
		p.logger.Error().Err(err).
			Str("pharmacy_id", pharmacyID).
			Str("to_month", to.String()).
			Msg("failed to publish rollover event")
	}
}
