package history

import (
	"context"
	"database/sql"

	"calling-platform/internal/calls"
)

// PGRepo reads the call-history projection from the same tables the call
// store writes.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo {
	return &PGRepo{db: db}
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit int) ([]CallWithParticipants, error) {
	const callsQ = `
SELECT c.call_id, c.created_by, c.is_group_call, c.channel_name, c.status, c.scheduled_at, c.end_time, c.created_at, c.updated_at
FROM calls c
JOIN call_participants me ON me.call_id = c.call_id AND me.user_id = $1
ORDER BY c.created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, callsQ, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallWithParticipants
	var ids []string
	index := make(map[string]int)
	for rows.Next() {
		var c calls.Call
		if err := rows.Scan(
			&c.CallID,
			&c.CreatedBy,
			&c.IsGroupCall,
			&c.ChannelName,
			&c.Status,
			&c.ScheduledAt,
			&c.EndTime,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		index[c.CallID] = len(out)
		out = append(out, CallWithParticipants{Call: c})
		ids = append(ids, c.CallID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	const partsQ = `
SELECT call_id, user_id, role, status, join_time, leave_time, created_at, updated_at
FROM call_participants
WHERE call_id = ANY($1)
`
	prows, err := r.db.QueryContext(ctx, partsQ, ids)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var p calls.CallParticipant
		if err := prows.Scan(
			&p.CallID,
			&p.UserID,
			&p.Role,
			&p.Status,
			&p.JoinTime,
			&p.LeaveTime,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if i, ok := index[p.CallID]; ok {
			out[i].Participants = append(out[i].Participants, p)
		}
	}
	return out, prows.Err()
}
