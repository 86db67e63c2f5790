package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return errors.Conflict("a snapshot for this pharmacy and month already exists")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// Invalid JSON in the items column
	case "22P02":
		return errors.BadRequest("snapshot items are not valid JSON")

	// Row level security rejected the write
	case "42501":
		return errors.Forbidden("pharmacy scope does not match the snapshot")

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "month_key_format"):
		return errors.Validation(map[string]string{
			"month_key": "must be formatted as YYYY-MM",
		})

	case strings.Contains(constraint, "items_is_array"):
		return errors.Validation(map[string]string{
			"items": "must be a JSON array",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}
