package handler

import (
	"context"

	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/notify"
	"github.com/iliyamo/cinema-live-seats/internal/service"
)

// SeatGridService projects the seat grid of a show.
type SeatGridService interface {
	Status(ctx context.Context, showID uint64) (*model.Show, []model.SeatStatus, error)
}

// ReservationService commits, cancels and reads reservations.
type ReservationService interface {
	Commit(ctx context.Context, in service.CommitInput) (*model.Reservation, error)
	Cancel(ctx context.Context, reservationID, userID uint64) error
	ListForUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
	GetForUser(ctx context.Context, reservationID, userID uint64, asAdmin bool) (*model.Reservation, error)
}

// HoldService places and drops advisory seat holds for realtime sessions.
type HoldService interface {
	Block(ctx context.Context, showID uint64, seat, sessionID string) error
	Release(ctx context.Context, showID uint64, seat, sessionID string) error
	ReleaseSession(ctx context.Context, sessionID string) int
}

// SessionBus is the subset of notify.Bus the realtime channel drives.
type SessionBus interface {
	NewSession(id string) *notify.Session
	Join(showID uint64, s *notify.Session) error
	Leave(showID uint64, s *notify.Session)
	Disconnect(s *notify.Session)
}
