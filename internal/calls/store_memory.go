package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu sync.Mutex

	Calls        map[string]Call
	Participants map[string][]CallParticipant // keyed by call id

	// FailNext, when set, makes the next write return the given error once.
	FailNext error

	// FailNextParticipants, when set, makes the next CreateParticipants call
	// return the given error once, leaving other writes untouched.
	FailNextParticipants error

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Calls:        map[string]Call{},
		Participants: map[string][]CallParticipant{},
		clock:        time.Now,
	}
}

func (s *MemoryStore) failNext() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

func (s *MemoryStore) CreateCall(ctx context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	if _, ok := s.Calls[c.CallID]; ok {
		return nil
	}
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.Calls[c.CallID] = c
	return nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, callID string, upd CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	c, ok := s.Calls[callID]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.EndTime != nil {
		t := upd.EndTime.UTC()
		c.EndTime = &t
	}
	c.UpdatedAt = s.clock().UTC()
	s.Calls[callID] = c
	return nil
}

func (s *MemoryStore) CreateParticipants(ctx context.Context, ps []CallParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	if err := s.FailNextParticipants; err != nil {
		s.FailNextParticipants = nil
		return err
	}
	now := s.clock().UTC()
	for _, p := range ps {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		rows := s.Participants[p.CallID]
		replaced := false
		for i, existing := range rows {
			if existing.UserID == p.UserID {
				rows[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			rows = append(rows, p)
		}
		s.Participants[p.CallID] = rows
	}
	return nil
}

func (s *MemoryStore) UpdateParticipant(ctx context.Context, callID, userID string, upd ParticipantUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	rows := s.Participants[callID]
	for i := range rows {
		if rows[i].UserID == userID {
			applyParticipantUpdate(&rows[i], upd, s.clock().UTC())
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) UpdateParticipantsByCall(ctx context.Context, callID string, upd ParticipantUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	rows := s.Participants[callID]
	for i := range rows {
		applyParticipantUpdate(&rows[i], upd, s.clock().UTC())
	}
	return nil
}

func applyParticipantUpdate(p *CallParticipant, upd ParticipantUpdate, now time.Time) {
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.JoinTime != nil {
		t := upd.JoinTime.UTC()
		p.JoinTime = &t
	}
	if upd.LeaveTime != nil {
		t := upd.LeaveTime.UTC()
		p.LeaveTime = &t
	}
	p.UpdatedAt = now
}

// Call returns a copy of the stored call row.
func (s *MemoryStore) Call(callID string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Calls[callID]
	return c, ok
}

// Participant returns a copy of the stored participant row.
func (s *MemoryStore) Participant(callID, userID string) (CallParticipant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Participants[callID] {
		if p.UserID == userID {
			return p, true
		}
	}
	return CallParticipant{}, false
}
