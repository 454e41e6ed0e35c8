package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.  The only
// transition is CONFIRMED -> CANCELLED and it is terminal.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation records a user's committed seats for a show.  Cancelled
// reservations are kept; only their seat claims are released.
//
// Fields:
//  ID               – primary key identifier.
//  UserID           – user who made the reservation.
//  ShowID           – show being reserved.
//  Seats            – seat labels in the order they were requested.
//  TotalAmountCents – seat count multiplied by the show price.
//  Status           – CONFIRMED or CANCELLED.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Reservation struct {
	ID               uint64            `json:"id"`                 // reservations.id
	UserID           uint64            `json:"user_id"`            // reservations.user_id
	ShowID           uint64            `json:"show_id"`            // reservations.show_id
	Seats            []string          `json:"seats"`              // reservation_seats.seat_label
	TotalAmountCents uint32            `json:"total_amount_cents"` // reservations.total_amount_cents
	Status           ReservationStatus `json:"status"`             // reservations.status
	CreatedAt        time.Time         `json:"created_at"`         // reservations.created_at
	UpdatedAt        time.Time         `json:"updated_at"`         // reservations.updated_at
}

// IsConfirmed reports whether the reservation still claims its seats.
func (r *Reservation) IsConfirmed() bool {
	return r.Status == ReservationConfirmed
}
