package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-live-seats/internal/hold"
	"github.com/iliyamo/cinema-live-seats/internal/lock"
	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/queue"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
)

type sentEvent struct {
	show    uint64
	ev      model.SeatEvent
	exclude string
}

type busRecorder struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (b *busRecorder) Publish(showID uint64, ev model.SeatEvent, exclude string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{showID, ev, exclude})
}

func (b *busRecorder) events() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.sent...)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockEventPublisher) BookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type fixture struct {
	committer    *ReservationCommitter
	grid         *SeatGrid
	shows        *repository.MemoryShowRepo
	reservations *repository.MemoryReservationRepo
	holds        *hold.Registry
	bus          *busRecorder
	metrics      *metrics.Metrics
	show         *model.Show
}

func newFixture(t *testing.T, events BookingEventPublisher) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{
		shows:        repository.NewMemoryShowRepo(),
		reservations: repository.NewMemoryReservationRepo(),
		bus:          &busRecorder{},
		metrics:      metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	f.holds = hold.NewRegistry(hold.NewMemoryStore(), f.bus, time.Minute, log, f.metrics)
	t.Cleanup(f.holds.Close)

	f.show = &model.Show{ScreenID: 1, Title: "Arrival", StartsAt: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC), PriceCents: 300}
	require.NoError(t, f.shows.Create(context.Background(), f.show))

	f.committer = NewReservationCommitter(CommitterDeps{
		Shows:        f.shows,
		Reservations: f.reservations,
		Holds:        f.holds,
		Bus:          f.bus,
		Locker:       lock.NewLocal(),
		Events:       events,
		Metrics:      f.metrics,
		Log:          log,
	})
	f.grid = NewSeatGrid(f.shows, f.reservations, f.holds, log)
	return f
}

func stateOf(t *testing.T, statuses []model.SeatStatus, seat string) model.SeatState {
	t.Helper()
	for _, s := range statuses {
		if s.Seat == seat {
			return s.State
		}
	}
	t.Fatalf("seat %s missing from grid", seat)
	return ""
}

func TestCommitter_Scenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R5-S5", "R5-S6"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(600), a.TotalAmountCents)
	assert.Equal(t, model.ReservationConfirmed, a.Status)

	_, err = f.committer.Commit(ctx, CommitInput{UserID: 2, ShowID: f.show.ID, Seats: []string{"R5-S5", "R5-S7"}})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"R5-S5"}, conflict.Seats)

	_, statuses, err := f.grid.Status(ctx, f.show.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, stateOf(t, statuses, "R5-S5"))
	assert.Equal(t, model.SeatAvailable, stateOf(t, statuses, "R5-S7"))

	require.NoError(t, f.committer.Cancel(ctx, a.ID, 1))

	_, statuses, err = f.grid.Status(ctx, f.show.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, stateOf(t, statuses, "R5-S5"))
	assert.Equal(t, model.SeatAvailable, stateOf(t, statuses, "R5-S6"))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationsTotal.WithLabelValues("commit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationsTotal.WithLabelValues("commit", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationsTotal.WithLabelValues("cancel", "success")))
}

func TestCommitter_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	seven := []string{"R1-S1", "R1-S2", "R1-S3", "R1-S4", "R1-S5", "R1-S6", "R1-S7"}
	cases := []struct {
		name  string
		seats []string
	}{
		{"no seats", nil},
		{"seven seats", seven},
		{"duplicate", []string{"R1-S1", "R1-S1"}},
		{"off grid", []string{"R0-S1"}},
		{"malformed", []string{"A1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: tc.seats})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	res, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: seven[:6]})
	require.NoError(t, err)
	assert.Equal(t, uint32(1800), res.TotalAmountCents)

	// validation runs before the show lookup
	_, err = f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: 999, Seats: nil})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCommitter_UnknownShow(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.committer.Commit(context.Background(), CommitInput{UserID: 1, ShowID: 999, Seats: []string{"R1-S1"}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.grid.Status(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitter_Race(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	seats := [][]string{{"R3-S1", "R3-S2", "R3-S3"}, {"R3-S3", "R3-S4", "R3-S2"}}
	for i := range seats {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.committer.Commit(ctx, CommitInput{UserID: uint64(i + 1), ShowID: f.show.ID, Seats: seats[i]})
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, conflicts int
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		conflicts++
		if i == 0 {
			assert.Equal(t, []string{"R3-S2", "R3-S3"}, conflict.Seats)
		} else {
			assert.Equal(t, []string{"R3-S3", "R3-S2"}, conflict.Seats)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestCommitter_ConfirmedSetsStayDisjoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row := i%3 + 1
			seats := []string{model.SeatLabel(row, i%5+1), model.SeatLabel(row, i%5+2)}
			res, err := f.committer.Commit(ctx, CommitInput{UserID: uint64(i + 1), ShowID: f.show.ID, Seats: seats})
			if err == nil && i%2 == 0 {
				_ = f.committer.Cancel(ctx, res.ID, uint64(i+1))
			}
		}(i)
	}
	wg.Wait()

	owner := map[string]uint64{}
	for user := uint64(1); user <= 40; user++ {
		list, err := f.committer.ListForUser(ctx, user)
		require.NoError(t, err)
		for _, res := range list {
			if !res.IsConfirmed() {
				continue
			}
			for _, seat := range res.Seats {
				prev, taken := owner[seat]
				assert.False(t, taken, "seat %s confirmed for reservations %d and %d", seat, prev, res.ID)
				owner[seat] = res.ID
			}
		}
	}
}

func TestCommitter_PublishesAndReleasesHolds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.holds.Block(ctx, f.show.ID, "R5-S5", "buyer"))
	require.NoError(t, f.holds.Block(ctx, f.show.ID, "R5-S6", "other"))

	_, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R5-S5", "R5-S6"}, SessionID: "buyer"})
	require.NoError(t, err)

	active, err := f.holds.Active(ctx, f.show.ID)
	require.NoError(t, err)
	assert.NotContains(t, active, "R5-S5")
	assert.Contains(t, active, "R5-S6")

	sent := f.bus.events()
	last := sent[len(sent)-1]
	assert.Equal(t, model.EventSeatsBooked, last.ev.Type)
	assert.Equal(t, []string{"R5-S5", "R5-S6"}, last.ev.Seats)
	assert.Equal(t, "", last.exclude)

	// the held-by-other seat shows as booked, not blocked
	_, statuses, err := f.grid.Status(ctx, f.show.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, stateOf(t, statuses, "R5-S6"))
}

func TestCommitter_Cancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R2-S2", "R2-S3"}})
	require.NoError(t, err)

	assert.ErrorIs(t, f.committer.Cancel(ctx, res.ID, 2), ErrUnauthorized)
	assert.ErrorIs(t, f.committer.Cancel(ctx, 999, 1), ErrNotFound)

	before := len(f.bus.events())
	require.NoError(t, f.committer.Cancel(ctx, res.ID, 1))
	sent := f.bus.events()[before:]
	require.Len(t, sent, 2)
	for i, seat := range []string{"R2-S2", "R2-S3"} {
		assert.Equal(t, model.EventSeatReleased, sent[i].ev.Type)
		assert.Equal(t, seat, sent[i].ev.Seat)
		assert.Equal(t, "", sent[i].exclude)
	}

	assert.ErrorIs(t, f.committer.Cancel(ctx, res.ID, 1), ErrNotFound)

	got, err := f.committer.GetForUser(ctx, res.ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, got.Status)
}

func TestCommitter_GetForUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R7-S7"}})
	require.NoError(t, err)

	_, err = f.committer.GetForUser(ctx, res.ID, 2, false)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.committer.GetForUser(ctx, res.ID, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"R7-S7"}, got.Seats)
}

func TestCommitter_EmitsBookingEvents(t *testing.T) {
	pub := new(MockEventPublisher)
	confirmed := make(chan queue.BookingConfirmedEvent, 1)
	cancelled := make(chan queue.BookingCancelledEvent, 1)
	pub.On("BookingConfirmed", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { confirmed <- args.Get(1).(queue.BookingConfirmedEvent) }).
		Return(nil)
	pub.On("BookingCancelled", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cancelled <- args.Get(1).(queue.BookingCancelledEvent) }).
		Return(errors.New("broker down"))

	f := newFixture(t, pub)
	ctx := context.Background()

	res, err := f.committer.Commit(ctx, CommitInput{UserID: 4, ShowID: f.show.ID, Seats: []string{"R1-S1", "R1-S2"}})
	require.NoError(t, err)

	select {
	case ev := <-confirmed:
		assert.Equal(t, res.ID, ev.ReservationID)
		assert.Equal(t, "Arrival", ev.MovieTitle)
		assert.Equal(t, uint32(600), ev.TotalAmountCents)
		assert.Equal(t, "2026-05-01T20:00:00Z", ev.StartsAt)
	case <-time.After(time.Second):
		t.Fatal("booking.confirmed not published")
	}

	// a broker failure does not fail the cancel
	require.NoError(t, f.committer.Cancel(ctx, res.ID, 4))
	select {
	case ev := <-cancelled:
		assert.Equal(t, []string{"R1-S1", "R1-S2"}, ev.SeatLabels)
	case <-time.After(time.Second):
		t.Fatal("booking.cancelled not published")
	}
}

type failingStore struct {
	*repository.MemoryReservationRepo
	err error
}

func (s failingStore) CreateConfirmed(context.Context, *model.Reservation) error { return s.err }

func TestCommitter_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, nil)
	c := NewReservationCommitter(CommitterDeps{
		Shows:        f.shows,
		Reservations: failingStore{f.reservations, fmt.Errorf("connection reset")},
		Holds:        f.holds,
		Bus:          f.bus,
		Locker:       lock.NewLocal(),
	})

	_, err := c.Commit(context.Background(), CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R1-S1"}})
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "connection reset")

	// a store-level lost race still surfaces as a conflict
	c = NewReservationCommitter(CommitterDeps{
		Shows:        f.shows,
		Reservations: failingStore{f.reservations, &repository.SeatsTakenError{Seats: []string{"R1-S1"}}},
		Holds:        f.holds,
		Bus:          f.bus,
		Locker:       lock.NewLocal(),
	})
	_, err = c.Commit(context.Background(), CommitInput{UserID: 1, ShowID: f.show.ID, Seats: []string{"R1-S1"}})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"R1-S1"}, conflict.Seats)
}

func TestValidateSeats(t *testing.T) {
	assert.NoError(t, ValidateSeats([]string{"R10-S10"}))
	assert.ErrorIs(t, ValidateSeats([]string{"R10-S11"}), ErrValidation)
}

func TestReservationTotal(t *testing.T) {
	total, err := reservationTotal(3, 300)
	require.NoError(t, err)
	assert.Equal(t, uint32(900), total)

	total, err = reservationTotal(1, math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), total)

	_, err = reservationTotal(2, math.MaxUint32/2+1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCommitter_RejectsOverflowingTotal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pricey := &model.Show{ScreenID: 1, Title: "Gala", StartsAt: f.show.StartsAt, PriceCents: math.MaxUint32}
	require.NoError(t, f.shows.Create(ctx, pricey))

	_, err := f.committer.Commit(ctx, CommitInput{UserID: 1, ShowID: pricey.ID, Seats: []string{"R1-S1", "R1-S2"}})
	assert.ErrorIs(t, err, ErrValidation)

	booked, err := f.reservations.BookedSeats(ctx, pricey.ID)
	require.NoError(t, err)
	assert.Empty(t, booked)
}
