// Package service holds the booking rules: the seat projection and the
// committer that turns a seat selection into a confirmed reservation.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/queue"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
)

// ReservationStore is the durable side of a reservation.  CreateConfirmed
// must re-check the seats atomically and report a lost race as
// *repository.SeatsTakenError.
type ReservationStore interface {
	BookedSeatReader
	CreateConfirmed(ctx context.Context, res *model.Reservation) error
	Cancel(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
}

// HoldReleaser drops the holds a session placed on seats it just bought.
type HoldReleaser interface {
	ReleaseOwned(ctx context.Context, showID uint64, seats []string, sessionID string) error
}

// Broadcaster fans a seat event out to the viewers of a show.
type Broadcaster interface {
	Publish(showID uint64, ev model.SeatEvent, exclude string)
}

// ShowLocker serializes commits and cancels of one show.
type ShowLocker interface {
	Lock(ctx context.Context, showID uint64) (unlock func(), err error)
}

// BookingEventPublisher forwards booking outcomes to the message broker.
type BookingEventPublisher interface {
	BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	BookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
}

// CommitInput is one request to buy seats.  SessionID is the realtime
// session of the buyer, if any; its holds on the seats are dropped.
type CommitInput struct {
	UserID    uint64
	ShowID    uint64
	Seats     []string
	SessionID string
}

// CommitterDeps wires a ReservationCommitter.  Events and Metrics are
// optional.
type CommitterDeps struct {
	Shows        ShowReader
	Reservations ReservationStore
	Holds        HoldReleaser
	Bus          Broadcaster
	Locker       ShowLocker
	Events       BookingEventPublisher
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// brokerTimeout bounds the background publish of a booking event.
const brokerTimeout = 5 * time.Second

// ReservationCommitter is the only writer of reservations.  Commits and
// cancels of a show run one at a time; the store's unique seat claim is
// the last line of defence behind that.
type ReservationCommitter struct {
	shows   ShowReader
	store   ReservationStore
	holds   HoldReleaser
	bus     Broadcaster
	locker  ShowLocker
	events  BookingEventPublisher
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewReservationCommitter(d CommitterDeps) *ReservationCommitter {
	if d.Shows == nil || d.Reservations == nil || d.Holds == nil || d.Bus == nil || d.Locker == nil {
		panic("nil dependency passed to service.NewReservationCommitter")
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationCommitter{
		shows:   d.Shows,
		store:   d.Reservations,
		holds:   d.Holds,
		bus:     d.Bus,
		locker:  d.Locker,
		events:  d.Events,
		metrics: d.Metrics,
		log:     log,
	}
}

// ValidateSeats checks the shape of a seat selection: 1 to 6 seats, each
// on the grid, none repeated.
func ValidateSeats(seats []string) error {
	if len(seats) == 0 {
		return fmt.Errorf("%w: select at least one seat", ErrValidation)
	}
	if len(seats) > model.MaxSeatsPerReservation {
		return fmt.Errorf("%w: at most %d seats per reservation", ErrValidation, model.MaxSeatsPerReservation)
	}
	seen := make(map[string]struct{}, len(seats))
	for _, s := range seats {
		if !model.ValidSeat(s) {
			return fmt.Errorf("%w: invalid seat %q", ErrValidation, s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate seat %q", ErrValidation, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// Commit books in.Seats for in.UserID.  It fails with ErrValidation,
// ErrNotFound, *ConflictError naming exactly the seats already booked, or
// ErrInternal.  On success every viewer of the show receives seatsBooked.
func (c *ReservationCommitter) Commit(ctx context.Context, in CommitInput) (*model.Reservation, error) {
	res, err := c.commit(ctx, in)
	c.metrics.ObserveReservation("commit", resultLabel(err))
	return res, err
}

func (c *ReservationCommitter) commit(ctx context.Context, in CommitInput) (*model.Reservation, error) {
	if err := ValidateSeats(in.Seats); err != nil {
		return nil, err
	}
	show, err := c.loadShow(ctx, in.ShowID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, in.ShowID)
	if err != nil {
		c.log.Error("commit: show lock failed", zap.Uint64("show_id", in.ShowID), zap.Error(err))
		return nil, fmt.Errorf("%w: show lock", ErrInternal)
	}
	defer unlock()

	booked, err := c.store.BookedSeats(ctx, in.ShowID)
	if err != nil {
		c.log.Error("commit: load booked seats failed", zap.Uint64("show_id", in.ShowID), zap.Error(err))
		return nil, fmt.Errorf("%w: load booked seats", ErrInternal)
	}
	if conflicts := intersect(in.Seats, booked); len(conflicts) > 0 {
		return nil, &ConflictError{Seats: conflicts}
	}

	total, err := reservationTotal(len(in.Seats), show.PriceCents)
	if err != nil {
		return nil, err
	}
	res := &model.Reservation{
		UserID:           in.UserID,
		ShowID:           in.ShowID,
		Seats:            append([]string(nil), in.Seats...),
		TotalAmountCents: total,
		Status:           model.ReservationConfirmed,
	}
	if err := c.store.CreateConfirmed(ctx, res); err != nil {
		var taken *repository.SeatsTakenError
		if errors.As(err, &taken) {
			return nil, &ConflictError{Seats: taken.Seats}
		}
		c.log.Error("commit: create reservation failed",
			zap.Uint64("show_id", in.ShowID), zap.Uint64("user_id", in.UserID),
			zap.Strings("seats", in.Seats), zap.Error(err))
		return nil, fmt.Errorf("%w: create reservation", ErrInternal)
	}

	if in.SessionID != "" {
		if err := c.holds.ReleaseOwned(ctx, in.ShowID, res.Seats, in.SessionID); err != nil {
			c.log.Warn("commit: releasing buyer holds failed", zap.Uint64("reservation_id", res.ID), zap.Error(err))
		}
	}
	c.bus.Publish(in.ShowID, model.SeatsBookedEvent(in.ShowID, res.Seats), "")

	c.log.Info("reservation confirmed",
		zap.Uint64("reservation_id", res.ID), zap.Uint64("show_id", res.ShowID),
		zap.Uint64("user_id", res.UserID), zap.Strings("seats", res.Seats))
	c.emitConfirmed(show, res)
	return res, nil
}

// Cancel cancels a confirmed reservation owned by userID.  It fails with
// ErrNotFound when the reservation is missing or already cancelled and
// ErrUnauthorized when userID is not the owner.  Every viewer of the show
// receives seatReleased for each seat.
func (c *ReservationCommitter) Cancel(ctx context.Context, reservationID, userID uint64) error {
	err := c.cancel(ctx, reservationID, userID)
	c.metrics.ObserveReservation("cancel", resultLabel(err))
	return err
}

func (c *ReservationCommitter) cancel(ctx context.Context, reservationID, userID uint64) error {
	res, err := c.loadReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.UserID != userID {
		return ErrUnauthorized
	}
	if !res.IsConfirmed() {
		return fmt.Errorf("%w: reservation already cancelled", ErrNotFound)
	}

	unlock, err := c.locker.Lock(ctx, res.ShowID)
	if err != nil {
		c.log.Error("cancel: show lock failed", zap.Uint64("show_id", res.ShowID), zap.Error(err))
		return fmt.Errorf("%w: show lock", ErrInternal)
	}
	defer unlock()

	if err := c.store.Cancel(ctx, reservationID); err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return fmt.Errorf("%w: reservation already cancelled", ErrNotFound)
		}
		c.log.Error("cancel: update failed", zap.Uint64("reservation_id", reservationID), zap.Error(err))
		return fmt.Errorf("%w: cancel reservation", ErrInternal)
	}
	for _, seat := range res.Seats {
		c.bus.Publish(res.ShowID, model.SeatReleasedEvent(res.ShowID, seat), "")
	}

	c.log.Info("reservation cancelled",
		zap.Uint64("reservation_id", res.ID), zap.Uint64("show_id", res.ShowID), zap.Uint64("user_id", userID))
	c.emitCancelled(res)
	return nil
}

// ListForUser returns the user's reservations, newest first.
func (c *ReservationCommitter) ListForUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	list, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		c.log.Error("list reservations failed", zap.Uint64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: list reservations", ErrInternal)
	}
	return list, nil
}

// GetForUser returns one reservation.  Reservations of other users are
// reported as ErrNotFound unless asAdmin is set.
func (c *ReservationCommitter) GetForUser(ctx context.Context, reservationID, userID uint64, asAdmin bool) (*model.Reservation, error) {
	res, err := c.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID && !asAdmin {
		return nil, ErrNotFound
	}
	return res, nil
}

func (c *ReservationCommitter) loadShow(ctx context.Context, showID uint64) (*model.Show, error) {
	show, err := c.shows.GetByID(ctx, showID)
	if err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return nil, fmt.Errorf("%w: show %d", ErrNotFound, showID)
		}
		c.log.Error("load show failed", zap.Uint64("show_id", showID), zap.Error(err))
		return nil, fmt.Errorf("%w: load show", ErrInternal)
	}
	return show, nil
}

func (c *ReservationCommitter) loadReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := c.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return nil, fmt.Errorf("%w: reservation %d", ErrNotFound, id)
		}
		c.log.Error("load reservation failed", zap.Uint64("reservation_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: load reservation", ErrInternal)
	}
	return res, nil
}

func (c *ReservationCommitter) emitConfirmed(show *model.Show, res *model.Reservation) {
	if c.events == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		ReservationID:    res.ID,
		UserID:           res.UserID,
		ShowID:           res.ShowID,
		ScreenID:         show.ScreenID,
		MovieTitle:       show.Title,
		StartsAt:         show.StartsAt.UTC().Format(time.RFC3339),
		SeatLabels:       append([]string(nil), res.Seats...),
		TotalAmountCents: res.TotalAmountCents,
		ConfirmedAt:      res.CreatedAt.UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), brokerTimeout)
		defer cancel()
		if err := c.events.BookingConfirmed(ctx, ev); err != nil {
			c.log.Warn("booking.confirmed publish failed", zap.Uint64("reservation_id", ev.ReservationID), zap.Error(err))
		}
	}()
}

func (c *ReservationCommitter) emitCancelled(res *model.Reservation) {
	if c.events == nil {
		return
	}
	ev := queue.BookingCancelledEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		ShowID:        res.ShowID,
		SeatLabels:    append([]string(nil), res.Seats...),
		CancelledAt:   time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), brokerTimeout)
		defer cancel()
		if err := c.events.BookingCancelled(ctx, ev); err != nil {
			c.log.Warn("booking.cancelled publish failed", zap.Uint64("reservation_id", ev.ReservationID), zap.Error(err))
		}
	}()
}

// intersect returns the members of requested present in booked, in the
// order of requested.
func intersect(requested, booked []string) []string {
	if len(booked) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(booked))
	for _, s := range booked {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range requested {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func resultLabel(err error) string {
	var conflict *ConflictError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}

// reservationTotal prices seats at priceCents each.  Totals that do not fit
// the stored uint32 column are rejected.
func reservationTotal(seats int, priceCents uint32) (uint32, error) {
	total := uint64(seats) * uint64(priceCents)
	if total > math.MaxUint32 {
		return 0, fmt.Errorf("%w: total of %d seats at %d cents overflows", ErrValidation, seats, priceCents)
	}
	return uint32(total), nil
}
