package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PGRepo persists users in Postgres.
//
// Assumed table:
//   - users(id PK, username UNIQUE, display_name, calling_number UNIQUE,
//     password_hash, created_at, updated_at)
type PGRepo struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPGRepo(db *sql.DB) *PGRepo {
	return &PGRepo{db: db, clock: time.Now}
}

func (r *PGRepo) Create(ctx context.Context, u User) error {
	const q = `
INSERT INTO users (
  id, username, display_name, calling_number, password_hash, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	now := r.clock().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, q,
		u.ID,
		u.Username,
		u.DisplayName,
		u.CallingNumber,
		u.PasswordHash,
		u.CreatedAt,
		u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func (r *PGRepo) ByID(ctx context.Context, id string) (User, error) {
	return r.one(ctx, `WHERE id = $1`, id)
}

func (r *PGRepo) ByUsername(ctx context.Context, username string) (User, error) {
	return r.one(ctx, `WHERE username = $1`, username)
}

func (r *PGRepo) ByCallingNumber(ctx context.Context, number string) (User, error) {
	return r.one(ctx, `WHERE calling_number = $1`, number)
}

func (r *PGRepo) one(ctx context.Context, where string, arg any) (User, error) {
	q := `
SELECT id, username, display_name, calling_number, password_hash, created_at, updated_at
FROM users
` + where + `
LIMIT 1
`
	var u User
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.CallingNumber,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}
