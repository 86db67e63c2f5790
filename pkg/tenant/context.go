// Package tenant carries the pharmacy scope of a request. A pharmacy is the
// tenant of the ledger: every snapshot, subscription and store is keyed by it.
package tenant

import (
	"context"
	"errors"
)

type contextKey string

const (
	pharmacyIDKey contextKey = "pharmacy_id"
	userIDKey     contextKey = "user_id"
)

var (
	// ErrNoPharmacyInContext is returned when the pharmacy scope is missing
	ErrNoPharmacyInContext = errors.New("no pharmacy in context")
)

// WithPharmacy adds the pharmacy scope and the acting user to the context.
// Called by the session middleware once the session has been checked.
func WithPharmacy(ctx context.Context, pharmacyID, userID string) context.Context {
	ctx = context.WithValue(ctx, pharmacyIDKey, pharmacyID)
	ctx = context.WithValue(ctx, userIDKey, userID)
	return ctx
}

// PharmacyID extracts the pharmacy ID from context
func PharmacyID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(pharmacyIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoPharmacyInContext
	}
	return id, nil
}

// UserID returns the acting user, or "" for system operations.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// MustPharmacyID panics when the scope is missing.
// Use only behind the session middleware.
func MustPharmacyID(ctx context.Context) string {
	id, err := PharmacyID(ctx)
	if err != nil {
		panic("pharmacy ID not found in context")
	}
	return id
}
