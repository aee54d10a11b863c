package calls

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PGStore persists calls and participants in Postgres.
//
// Assumed tables (mirroring the legacy schema):
//   - calls(call_id PK, created_by, is_group_call, channel_name, status,
//     scheduled_at, end_time, created_at, updated_at)
//   - call_participants(call_id, user_id, role, status, join_time,
//     leave_time, created_at, updated_at, UNIQUE (call_id, user_id))
type PGStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, clock: time.Now}
}

func (s *PGStore) CreateCall(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  call_id, created_by, is_group_call, channel_name, status, scheduled_at, end_time, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (call_id) DO NOTHING
`
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, q,
		c.CallID,
		c.CreatedBy,
		c.IsGroupCall,
		c.ChannelName,
		c.Status,
		c.ScheduledAt,
		c.EndTime,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (s *PGStore) UpdateCall(ctx context.Context, callID string, upd CallUpdate) error {
	sets := []string{"updated_at = $2"}
	args := []any{callID, s.clock().UTC()}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.EndTime != nil {
		args = append(args, upd.EndTime.UTC())
		sets = append(sets, fmt.Sprintf("end_time = $%d", len(args)))
	}

	q := fmt.Sprintf(`UPDATE calls SET %s WHERE call_id = $1`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateParticipants(ctx context.Context, ps []CallParticipant) error {
	if len(ps) == 0 {
		return nil
	}
	const q = `
INSERT INTO call_participants (
  call_id, user_id, role, status, join_time, leave_time, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (call_id, user_id) DO UPDATE
SET role = EXCLUDED.role,
    status = EXCLUDED.status,
    join_time = EXCLUDED.join_time,
    leave_time = EXCLUDED.leave_time,
    updated_at = EXCLUDED.updated_at
`
	now := s.clock().UTC()
	for _, p := range ps {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		if _, err := s.db.ExecContext(ctx, q,
			p.CallID,
			p.UserID,
			p.Role,
			p.Status,
			p.JoinTime,
			p.LeaveTime,
			p.CreatedAt,
			p.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) UpdateParticipant(ctx context.Context, callID, userID string, upd ParticipantUpdate) error {
	sets, args := participantSets(upd, s.clock().UTC(), []any{callID, userID})
	q := fmt.Sprintf(`UPDATE call_participants SET %s WHERE call_id = $1 AND user_id = $2`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpdateParticipantsByCall(ctx context.Context, callID string, upd ParticipantUpdate) error {
	sets, args := participantSets(upd, s.clock().UTC(), []any{callID})
	q := fmt.Sprintf(`UPDATE call_participants SET %s WHERE call_id = $1`, strings.Join(sets, ", "))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func participantSets(upd ParticipantUpdate, now time.Time, args []any) ([]string, []any) {
	args = append(args, now)
	sets := []string{fmt.Sprintf("updated_at = $%d", len(args))}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.JoinTime != nil {
		args = append(args, upd.JoinTime.UTC())
		sets = append(sets, fmt.Sprintf("join_time = $%d", len(args)))
	}
	if upd.LeaveTime != nil {
		args = append(args, upd.LeaveTime.UTC())
		sets = append(sets, fmt.Sprintf("leave_time = $%d", len(args)))
	}
	return sets, args
}
