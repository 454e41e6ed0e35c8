package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// MemoryShowRepo is an in-process show table for local runs and tests.
type MemoryShowRepo struct {
	mu     sync.RWMutex
	nextID uint64
	shows  map[uint64]model.Show
}

func NewMemoryShowRepo() *MemoryShowRepo {
	return &MemoryShowRepo{shows: make(map[uint64]model.Show)}
}

// Create stores s, assigning an ID when s.ID is zero.
func (r *MemoryShowRepo) Create(_ context.Context, s *model.Show) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == 0 {
		r.nextID++
		s.ID = r.nextID
	} else if s.ID > r.nextID {
		r.nextID = s.ID
	}
	r.shows[s.ID] = *s
	return nil
}

func (r *MemoryShowRepo) GetByID(_ context.Context, id uint64) (*model.Show, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shows[id]
	if !ok {
		return nil, ErrShowNotFound
	}
	return &s, nil
}

type claimKey struct {
	show uint64
	seat string
}

// MemoryReservationRepo keeps reservations and seat claims in maps.  The
// claim map plays the role of the unique key in MySQL: a seat can be
// claimed by at most one confirmed reservation.
type MemoryReservationRepo struct {
	mu           sync.Mutex
	nextID       uint64
	reservations map[uint64]*model.Reservation
	claims       map[claimKey]uint64
	now          func() time.Time
}

func NewMemoryReservationRepo() *MemoryReservationRepo {
	return &MemoryReservationRepo{
		reservations: make(map[uint64]*model.Reservation),
		claims:       make(map[claimKey]uint64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryReservationRepo) BookedSeats(_ context.Context, showID uint64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seats []string
	for k := range r.claims {
		if k.show == showID {
			seats = append(seats, k.seat)
		}
	}
	return seats, nil
}

func (r *MemoryReservationRepo) CreateConfirmed(ctx context.Context, res *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := make(map[string]struct{})
	for _, seat := range res.Seats {
		if _, ok := r.claims[claimKey{res.ShowID, seat}]; ok {
			taken[seat] = struct{}{}
		}
	}
	if len(taken) > 0 {
		return &SeatsTakenError{Seats: overlap(res.Seats, taken)}
	}

	r.nextID++
	now := r.now()
	res.ID = r.nextID
	res.Status = model.ReservationConfirmed
	res.Seats = append([]string(nil), res.Seats...)
	res.CreatedAt = now
	res.UpdatedAt = now
	for _, seat := range res.Seats {
		r.claims[claimKey{res.ShowID, seat}] = res.ID
	}
	stored := *res
	r.reservations[res.ID] = &stored
	return nil
}

func (r *MemoryReservationRepo) Cancel(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok || !res.IsConfirmed() {
		return ErrReservationNotFound
	}
	res.Status = model.ReservationCancelled
	res.UpdatedAt = r.now()
	for _, seat := range res.Seats {
		k := claimKey{res.ShowID, seat}
		if r.claims[k] == id {
			delete(r.claims, k)
		}
	}
	return nil
}

func (r *MemoryReservationRepo) GetByID(_ context.Context, id uint64) (*model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return cloneReservation(res), nil
}

func (r *MemoryReservationRepo) ListByUser(_ context.Context, userID uint64) ([]model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Reservation{}
	for _, res := range r.reservations {
		if res.UserID == userID {
			out = append(out, *cloneReservation(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func cloneReservation(res *model.Reservation) *model.Reservation {
	cp := *res
	cp.Seats = append([]string(nil), res.Seats...)
	return &cp
}
