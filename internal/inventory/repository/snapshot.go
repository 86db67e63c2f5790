package repository

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
)

// Snapshot is the persisted item list of one pharmacy for one month.
// Every save replaces the whole list.
type Snapshot struct {
	PharmacyID  string
	MonthKey    ledger.MonthKey
	Items       []ledger.InventoryItem
	LastUpdated time.Time
	UpdatedBy   string
}

// SnapshotRepository stores monthly snapshots. Get returns an
// errors.NotFound AppError when the month was never written.
type SnapshotRepository interface {
	Get(ctx context.Context, pharmacyID string, key ledger.MonthKey) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	ListByPharmacy(ctx context.Context, pharmacyID string) ([]Snapshot, error)
}

func stamp(snap *Snapshot) {
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}
	if snap.Items == nil {
		snap.Items = []ledger.InventoryItem{}
	}
}

// sortSnapshots orders snapshots by month key
func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return monthLess(snaps[i].MonthKey, snaps[j].MonthKey) })
}

func monthLess(a, b ledger.MonthKey) bool {
	if a.Year() != b.Year() {
		return a.Year() < b.Year()
	}
	return a.Month() < b.Month()
}
