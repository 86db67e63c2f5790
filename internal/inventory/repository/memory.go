package repository

import (
	"context"
	"sync"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// MemorySnapshots keeps snapshots in process memory. Used for local
// development and tests; everything is lost on restart.
type MemorySnapshots struct {
	mu    sync.RWMutex
	snaps map[string]map[ledger.MonthKey]Snapshot
}

// NewMemorySnapshots creates an empty in-memory repository
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{snaps: make(map[string]map[ledger.MonthKey]Snapshot)}
}

// Get loads one month
func (r *MemorySnapshots) Get(ctx context.Context, pharmacyID string, key ledger.MonthKey) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snaps[pharmacyID][key]
	if !ok {
		return nil, errors.NotFound("snapshot")
	}
	out := copySnapshot(snap)
	return &out, nil
}

// Save replaces the whole month
func (r *MemorySnapshots) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp(snap)

	r.mu.Lock()
	defer r.mu.Unlock()

	months, ok := r.snaps[snap.PharmacyID]
	if !ok {
		months = make(map[ledger.MonthKey]Snapshot)
		r.snaps[snap.PharmacyID] = months
	}
	months[snap.MonthKey] = copySnapshot(*snap)
	return nil
}

// ListByPharmacy loads every month of a pharmacy, oldest first
func (r *MemorySnapshots) ListByPharmacy(ctx context.Context, pharmacyID string) ([]Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.snaps[pharmacyID]))
	for _, snap := range r.snaps[pharmacyID] {
		snaps = append(snaps, copySnapshot(snap))
	}
	sortSnapshots(snaps)
	return snaps, nil
}

func copySnapshot(s Snapshot) Snapshot {
	s.Items = ledger.CloneItems(s.Items)
	if s.Items == nil {
		s.Items = []ledger.InventoryItem{}
	}
	return s
}
