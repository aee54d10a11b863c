package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a unique-constraint violation: a taken username or
	// a calling-number collision. The service retries number collisions.
	ErrConflict = errors.New("conflict")
)

// Repository is the durable user store. Implemented on Postgres; tests use
// the in-memory implementation.
type Repository interface {
	Create(ctx context.Context, u User) error
	ByID(ctx context.Context, id string) (User, error)
	ByUsername(ctx context.Context, username string) (User, error)
	ByCallingNumber(ctx context.Context, number string) (User, error)
}
