// Package actor identifies who performed a ledger write: a signed-in user
// or the service itself (flushes on shutdown, rollover jobs).
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor ID used for service-initiated writes.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor is the entity performing an action.
type Actor struct {
	ID         string `json:"id"`
	PharmacyID string `json:"pharmacy_id"`
	RoleName   string `json:"role_name,omitempty"`
}

// String returns a representation for logging
func (a *Actor) String() string {
	if a == nil || a.IsSystem() {
		return "system"
	}
	if a.RoleName == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.ID, a.RoleName)
}

// IsSystem returns true if the actor represents the service itself.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == SystemID
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// OrSystem returns the context actor, falling back to SystemActor.
func OrSystem(ctx context.Context) *Actor {
	if a := FromContext(ctx); a != nil {
		return a
	}
	return SystemActor()
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns an Actor representing the service.
func SystemActor() *Actor {
	return &Actor{ID: SystemID, RoleName: "system"}
}
