package history

import (
	"context"
	"errors"
)

var ErrInvalidRequest = errors.New("history: invalid request")

// Repository abstracts data access for the call-history projection.
type Repository interface {
	// ListByUser returns the calls the user participated in, newest first,
	// capped at limit rows.
	ListByUser(ctx context.Context, userID string, limit int) ([]CallWithParticipants, error)
}
