// Package session answers who is calling and for which pharmacy.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// SessionState is the outcome of a session check
type SessionState struct {
	Valid       bool      `json:"valid"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	PharmacyID  string    `json:"pharmacy_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Checker turns an Authorization header into a SessionState
type Checker struct {
	tokens *Manager
}

// NewChecker creates a new session checker
func NewChecker(tokens *Manager) *Checker {
	return &Checker{tokens: tokens}
}

// CheckSession validates a bearer Authorization header. A session without a
// pharmacy is rejected since every ledger operation is pharmacy scoped.
func (c *Checker) CheckSession(authorization string) (SessionState, error) {
	if authorization == "" {
		return SessionState{}, errors.Unauthorized("missing authorization header")
	}

	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return SessionState{}, errors.Unauthorized("invalid authorization header format")
	}

	claims, err := c.tokens.Validate(strings.TrimSpace(token))
	if err != nil {
		return SessionState{}, err
	}

	if claims.PharmacyID == "" {
		return SessionState{}, errors.NoPharmacySelected()
	}

	state := SessionState{
		Valid:       true,
		UserID:      claims.UserID,
		Name:        claims.Name,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		PharmacyID:  claims.PharmacyID,
	}
	if claims.ExpiresAt != nil {
		state.ExpiresAt = claims.ExpiresAt.Time
	}
	return state, nil
}

type contextKey struct{}

// WithState stores the session in the context
func WithState(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, contextKey{}, state)
}

// FromContext returns the session checked for this request
func FromContext(ctx context.Context) (SessionState, bool) {
	state, ok := ctx.Value(contextKey{}).(SessionState)
	return state, ok && state.Valid
}
