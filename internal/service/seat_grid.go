package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
)

// ShowReader loads shows from the catalog.
type ShowReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Show, error)
}

// BookedSeatReader lists the seats claimed by confirmed reservations.
type BookedSeatReader interface {
	BookedSeats(ctx context.Context, showID uint64) ([]string, error)
}

// HoldLister lists the live holds of a show keyed by seat.
type HoldLister interface {
	Active(ctx context.Context, showID uint64) (map[string]model.SeatHold, error)
}

// SeatGrid projects the state of every seat of a show from confirmed
// reservations and live holds.  Booked wins over blocked.
type SeatGrid struct {
	shows  ShowReader
	booked BookedSeatReader
	holds  HoldLister
	log    *zap.Logger
}

func NewSeatGrid(shows ShowReader, booked BookedSeatReader, holds HoldLister, log *zap.Logger) *SeatGrid {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatGrid{shows: shows, booked: booked, holds: holds, log: log}
}

// Status returns the show and all of its seats in row-major order.
// Holds are advisory: if they cannot be read the grid is served without
// them.
func (g *SeatGrid) Status(ctx context.Context, showID uint64) (*model.Show, []model.SeatStatus, error) {
	show, err := g.shows.GetByID(ctx, showID)
	if err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return nil, nil, ErrNotFound
		}
		g.log.Error("seat grid: load show failed", zap.Uint64("show_id", showID), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: load show", ErrInternal)
	}

	booked, err := g.booked.BookedSeats(ctx, showID)
	if err != nil {
		g.log.Error("seat grid: load booked seats failed", zap.Uint64("show_id", showID), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: load booked seats", ErrInternal)
	}
	bookedSet := make(map[string]struct{}, len(booked))
	for _, s := range booked {
		bookedSet[s] = struct{}{}
	}

	held, err := g.holds.Active(ctx, showID)
	if err != nil {
		g.log.Warn("seat grid: load holds failed, serving without holds", zap.Uint64("show_id", showID), zap.Error(err))
		held = nil
	}

	seats := model.AllSeats()
	out := make([]model.SeatStatus, len(seats))
	for i, seat := range seats {
		state := model.SeatAvailable
		if _, ok := bookedSet[seat]; ok {
			state = model.SeatBooked
		} else if _, ok := held[seat]; ok {
			state = model.SeatBlocked
		}
		out[i] = model.SeatStatus{Seat: seat, State: state}
	}
	return show, out, nil
}
