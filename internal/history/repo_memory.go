package history

import (
	"context"
	"sort"
	"sync"

	"calling-platform/internal/calls"
)

// MemoryRepo is an in-memory history repository for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	Rows []CallWithParticipants
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// Add stores one call with its participants.
func (r *MemoryRepo) Add(c calls.Call, ps ...calls.CallParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rows = append(r.Rows, CallWithParticipants{Call: c, Participants: ps})
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]CallWithParticipants, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []CallWithParticipants
	for _, row := range r.Rows {
		for _, p := range row.Participants {
			if p.UserID == userID {
				out = append(out, row)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Call.CreatedAt.After(out[j].Call.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
