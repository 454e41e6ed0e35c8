// Package hold tracks advisory, self-expiring seat holds.  Holds are hints
// for other viewers and never decide whether a commit succeeds.
package hold

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// Store is a keyed (show, seat) table with set-with-TTL and delete.  The
// in-process MemoryStore and the shared RedisStore are interchangeable.
type Store interface {
	// Put inserts or replaces the hold for (h.ShowID, h.Seat).
	Put(ctx context.Context, h model.SeatHold, ttl time.Duration) error
	// Get returns the live hold for the seat, if any.
	Get(ctx context.Context, showID uint64, seat string) (model.SeatHold, bool, error)
	// Delete removes the hold for the seat regardless of owner and reports
	// whether one existed.
	Delete(ctx context.Context, showID uint64, seat string) (bool, error)
	// DeleteIf removes the hold only while it still carries token.
	DeleteIf(ctx context.Context, showID uint64, seat, token string) (bool, error)
	// List returns the live holds of a show.
	List(ctx context.Context, showID uint64) ([]model.SeatHold, error)
}

type seatKey struct {
	show uint64
	seat string
}

// MemoryStore keeps holds in a process-local map.  Expired entries are
// invisible to readers but stay in the map for expiryGrace, so the
// registry's timer can still compare-and-delete them and announce the
// release.  Readers sweep entries past the grace.
type MemoryStore struct {
	mu    sync.Mutex
	holds map[seatKey]model.SeatHold
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[seatKey]model.SeatHold), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, h model.SeatHold, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ExpiresAt = s.now().Add(ttl)
	s.holds[seatKey{h.ShowID, h.Seat}] = h
	return nil
}

func (s *MemoryStore) Get(_ context.Context, showID uint64, seat string) (model.SeatHold, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.liveLocked(seatKey{showID, seat})
	return h, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, showID uint64, seat string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seatKey{showID, seat}
	_, ok := s.holds[k]
	delete(s.holds, k)
	return ok, nil
}

func (s *MemoryStore) DeleteIf(_ context.Context, showID uint64, seat, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seatKey{showID, seat}
	h, ok := s.holds[k]
	if !ok || h.Token != token {
		return false, nil
	}
	delete(s.holds, k)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, showID uint64) ([]model.SeatHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SeatHold
	for k := range s.holds {
		if k.show != showID {
			continue
		}
		if h, ok := s.liveLocked(k); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) liveLocked(k seatKey) (model.SeatHold, bool) {
	h, ok := s.holds[k]
	if !ok {
		return model.SeatHold{}, false
	}
	now := s.now()
	if !now.Before(h.ExpiresAt) {
		if !now.Before(h.ExpiresAt.Add(expiryGrace)) {
			delete(s.holds, k)
		}
		return model.SeatHold{}, false
	}
	return h, true
}
