// Package history projects the durable call and participant rows into the
// flattened per-user shape clients render as a recents list.
package history

import (
	"context"

	"calling-platform/internal/calls"
)

const defaultLimit = 50
const maxLimit = 200

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// ListForUser returns the user's call history, newest first. Calls the user
// never touched are invisible to them.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, flatten(row, userID))
	}
	return out, nil
}

func flatten(row CallWithParticipants, userID string) Entry {
	e := Entry{
		CallID:      row.Call.CallID,
		ChannelName: row.Call.ChannelName,
		Status:      row.Call.Status,
		Direction:   DirectionIncoming,
		StartedAt:   row.Call.CreatedAt,
		EndedAt:     row.Call.EndTime,
	}
	if row.Call.EndTime != nil {
		if d := row.Call.EndTime.Sub(row.Call.CreatedAt); d > 0 {
			e.DurationSeconds = int(d.Seconds())
		}
	}

	for _, p := range row.Participants {
		if p.UserID == userID {
			e.MyStatus = p.Status
			if p.Role == calls.RoleHost {
				e.Direction = DirectionOutgoing
			}
			continue
		}
		e.Peers = append(e.Peers, Peer{
			UserID:    p.UserID,
			Role:      p.Role,
			Status:    p.Status,
			JoinTime:  p.JoinTime,
			LeaveTime: p.LeaveTime,
		})
	}
	return e
}
