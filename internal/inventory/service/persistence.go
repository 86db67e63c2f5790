package service

import (
	"context"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/inventory/events"
	"github.com/medflow/pharmacy-ledger/internal/inventory/realtime"
	"github.com/medflow/pharmacy-ledger/internal/inventory/repository"
	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// SnapshotPersistence connects inventory stores to a snapshot repository.
// Saves are announced on the broker when a publisher is configured; the
// broker consumer feeds them back into the hub on every instance, this one
// included. Without a publisher the hub is fed directly.
type SnapshotPersistence struct {
	repo      repository.SnapshotRepository
	publisher *events.InventoryEventPublisher
	hub       *realtime.Hub
	logger    *logger.Logger
}

// NewSnapshotPersistence creates the adapter. publisher may be nil.
func NewSnapshotPersistence(
	repo repository.SnapshotRepository,
	publisher *events.InventoryEventPublisher,
	hub *realtime.Hub,
	log *logger.Logger,
) *SnapshotPersistence {
	return &SnapshotPersistence{
		repo:      repo,
		publisher: publisher,
		hub:       hub,
		logger:    log.WithComponent("snapshot_persistence"),
	}
}

// LoadMonth returns the month's items; found is false when it was never saved.
func (p *SnapshotPersistence) LoadMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey) ([]ledger.InventoryItem, bool, error) {
	snap, err := p.repo.Get(ctx, pharmacyID, key)
	if errors.Is(err, errors.ErrNotFound) {
		return []ledger.InventoryItem{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snap.Items, true, nil
}

// LoadAllMonths returns every saved month of the pharmacy
func (p *SnapshotPersistence) LoadAllMonths(ctx context.Context, pharmacyID string) (ledger.Snapshots, error) {
	snaps, err := p.repo.ListByPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}

	out := make(ledger.Snapshots, len(snaps))
	for _, snap := range snaps {
		out[snap.MonthKey] = snap.Items
	}
	return out, nil
}

// SaveMonth replaces the month and notifies subscribers
func (p *SnapshotPersistence) SaveMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey, items []ledger.InventoryItem) error {
	if items == nil {
		items = []ledger.InventoryItem{}
	}

	snap := &repository.Snapshot{
		PharmacyID:  pharmacyID,
		MonthKey:    key,
		Items:       items,
		LastUpdated: time.Now().UTC(),
		UpdatedBy:   actor.OrSystem(ctx).ID,
	}
	if err := p.repo.Save(ctx, snap); err != nil {
		return err
	}

	if p.publisher.Enabled() {
		err := p.publisher.PublishMonthSaved(ctx, pharmacyID, key, items, snap.LastUpdated, snap.UpdatedBy)
		if err == nil {
			return nil
		}
		p.logger.Warn().Err(err).
			Str("pharmacy_id", pharmacyID).
			Str("month", key.String()).
			Msg("broker unavailable, notifying local subscribers only")
	}

	if p.hub != nil {
		p.hub.Broadcast(pharmacyID, key, items)
	}
	return nil
}

// SubscribeMonth registers onChange with the hub
func (p *SnapshotPersistence) SubscribeMonth(ctx context.Context, pharmacyID string, key ledger.MonthKey, onChange func([]ledger.InventoryItem)) (func(), error) {
	if p.hub == nil {
		return func() {}, nil
	}
	return p.hub.Subscribe(pharmacyID, key, onChange), nil
}

// NotifyRollover publishes a rollover event
func (p *SnapshotPersistence) NotifyRollover(ctx context.Context, pharmacyID string, from, to ledger.MonthKey, itemCount int) {
	p.publisher.PublishRolledOver(ctx, pharmacyID, from, to, itemCount, actor.OrSystem(ctx).ID)
}
