// Package repository holds the durable side of the service: shows are read
// from the catalog tables and reservations are written with their seat
// claims.  The sentinel values below let the service layer distinguish
// missing rows from store failures without depending on driver errors.
package repository

import (
	"errors"
	"strings"
)

// ErrShowNotFound is returned when no show has the requested ID.
var ErrShowNotFound = errors.New("show not found")

// ErrReservationNotFound is returned when a reservation does not exist or,
// for Cancel, is no longer confirmed.
var ErrReservationNotFound = errors.New("reservation not found")

// SeatsTakenError reports the requested seats that are already claimed by
// a confirmed reservation, in request order.
type SeatsTakenError struct {
	Seats []string
}

func (e *SeatsTakenError) Error() string {
	return "seats already booked: " + strings.Join(e.Seats, ", ")
}

// overlap returns the members of requested found in taken, keeping the
// order of requested.
func overlap(requested []string, taken map[string]struct{}) []string {
	var out []string
	for _, s := range requested {
		if _, ok := taken[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
