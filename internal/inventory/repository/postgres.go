package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/database"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// Migrations returns the statements that create the snapshot table.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS monthly_stock_snapshots (
			pharmacy_id  TEXT        NOT NULL,
			month_key    TEXT        NOT NULL
				CONSTRAINT monthly_stock_snapshots_month_key_format CHECK (month_key ~ '^[0-9]{4,}-(0[1-9]|1[0-2])$'),
			items        JSONB       NOT NULL DEFAULT '[]'
				CONSTRAINT monthly_stock_snapshots_items_is_array CHECK (jsonb_typeof(items) = 'array'),
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_by   TEXT        NOT NULL DEFAULT '',
			PRIMARY KEY (pharmacy_id, month_key)
		)`,
		`ALTER TABLE monthly_stock_snapshots ENABLE ROW LEVEL SECURITY`,
		`DROP POLICY IF EXISTS monthly_stock_snapshots_pharmacy ON monthly_stock_snapshots`,
		`CREATE POLICY monthly_stock_snapshots_pharmacy ON monthly_stock_snapshots
			USING (pharmacy_id = current_setting('app.current_pharmacy', true))
			WITH CHECK (pharmacy_id = current_setting('app.current_pharmacy', true))`,
	}
}

// Migrate applies Migrations in one transaction.
func Migrate(ctx context.Context, db *database.DB) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range Migrations() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply snapshot migration: %w", err)
			}
		}
		return nil
	})
}

type snapshotRow struct {
	PharmacyID  string         `db:"pharmacy_id"`
	MonthKey    string         `db:"month_key"`
	Items       types.JSONText `db:"items"`
	LastUpdated time.Time      `db:"last_updated"`
	UpdatedBy   string         `db:"updated_by"`
}

func (row snapshotRow) toSnapshot() (*Snapshot, error) {
	var items []ledger.InventoryItem
	if err := json.Unmarshal(row.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to decode items of %s/%s: %w", row.PharmacyID, row.MonthKey, err)
	}
	if items == nil {
		items = []ledger.InventoryItem{}
	}
	return &Snapshot{
		PharmacyID:  row.PharmacyID,
		MonthKey:    ledger.MonthKey(row.MonthKey),
		Items:       items,
		LastUpdated: row.LastUpdated,
		UpdatedBy:   row.UpdatedBy,
	}, nil
}

// PostgresSnapshots stores each month as a JSONB document row.
type PostgresSnapshots struct {
	db *database.DB
}

// NewPostgresSnapshots creates a new PostgreSQL snapshot repository
func NewPostgresSnapshots(db *database.DB) *PostgresSnapshots {
	return &PostgresSnapshots{db: db}
}

const selectSnapshot = `SELECT pharmacy_id, month_key, items, last_updated, updated_by FROM monthly_stock_snapshots`

// Get loads one month
func (r *PostgresSnapshots) Get(ctx context.Context, pharmacyID string, key ledger.MonthKey) (*Snapshot, error) {
	var row snapshotRow
	err := r.db.WithPharmacyRLS(ctx, pharmacyID, func(ctx context.Context) error {
		return r.db.Querier(ctx).GetContext(ctx, &row,
			selectSnapshot+` WHERE pharmacy_id = $1 AND month_key = $2`, pharmacyID, string(key))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("snapshot")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return row.toSnapshot()
}

// Save upserts the whole month
func (r *PostgresSnapshots) Save(ctx context.Context, snap *Snapshot) error {
	stamp(snap)

	items, err := json.Marshal(snap.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	query := `
		INSERT INTO monthly_stock_snapshots (pharmacy_id, month_key, items, last_updated, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pharmacy_id, month_key) DO UPDATE
		SET items = EXCLUDED.items, last_updated = EXCLUDED.last_updated, updated_by = EXCLUDED.updated_by
	`

	err = r.db.WithPharmacyRLS(ctx, snap.PharmacyID, func(ctx context.Context) error {
		_, err := r.db.Querier(ctx).ExecContext(ctx, query,
			snap.PharmacyID, string(snap.MonthKey), types.JSONText(items), snap.LastUpdated, snap.UpdatedBy)
		return err
	})
	return mapError(err)
}

// ListByPharmacy loads every month of a pharmacy, oldest first
func (r *PostgresSnapshots) ListByPharmacy(ctx context.Context, pharmacyID string) ([]Snapshot, error) {
	var rows []snapshotRow
	err := r.db.WithPharmacyRLS(ctx, pharmacyID, func(ctx context.Context) error {
		return r.db.Querier(ctx).SelectContext(ctx, &rows,
			selectSnapshot+` WHERE pharmacy_id = $1 ORDER BY month_key`, pharmacyID)
	})
	if err != nil {
		return nil, mapError(err)
	}

	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
