package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Querier is implemented by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// WithPharmacyRLS runs fn inside a transaction scoped to one pharmacy.
//
// The transaction sets search_path (from WithSearchPath) and the
// app.current_pharmacy setting that the row level security policy on
// monthly_stock_snapshots checks:
//
//	USING (pharmacy_id = current_setting('app.current_pharmacy'))
//
// Both settings are transaction-local, so pooled connections come back clean.
func (db *DB) WithPharmacyRLS(ctx context.Context, pharmacyID string, fn func(context.Context) error) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		searchPath := db.searchPath
		if searchPath == "" {
			searchPath = "public"
		}
		// search_path cannot be bound as a parameter; it comes from configuration only.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", searchPath)); err != nil {
			return fmt.Errorf("failed to set search_path to %s: %w", searchPath, err)
		}

		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_pharmacy', $1, true)", pharmacyID); err != nil {
			return fmt.Errorf("failed to set app.current_pharmacy to %s: %w", pharmacyID, err)
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Querier returns the pharmacy-scoped transaction carried by ctx, or the
// pool when called outside WithPharmacyRLS.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}
