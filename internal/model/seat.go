package model

import (
	"strconv"
	"strings"
)

// Grid dimensions and reservation limits.  The seat space is the same
// 10x10 grid for every show.
const (
	GridRows               = 10
	GridCols               = 10
	MaxSeatsPerReservation = 6
)

// SeatState is the projected state of a single seat for one show.
type SeatState string

const (
	SeatAvailable SeatState = "available"
	SeatBlocked   SeatState = "blocked"
	SeatBooked    SeatState = "booked"
)

// SeatStatus pairs a seat label with its projected state.
type SeatStatus struct {
	Seat  string    `json:"seat"`
	State SeatState `json:"state"`
}

// SeatLabel renders a grid coordinate as its stable key, e.g. "R5-S6".
func SeatLabel(row, col int) string {
	return "R" + strconv.Itoa(row) + "-S" + strconv.Itoa(col)
}

// ParseSeat parses a label produced by SeatLabel.  Only canonical labels
// inside the grid are accepted ("R05-S6" and "R11-S1" are rejected).
func ParseSeat(label string) (row, col int, ok bool) {
	rest, found := strings.CutPrefix(label, "R")
	if !found {
		return 0, 0, false
	}
	rs, cs, found := strings.Cut(rest, "-S")
	if !found {
		return 0, 0, false
	}
	row, err := strconv.Atoi(rs)
	if err != nil || row < 1 || row > GridRows {
		return 0, 0, false
	}
	col, err = strconv.Atoi(cs)
	if err != nil || col < 1 || col > GridCols {
		return 0, 0, false
	}
	if SeatLabel(row, col) != label {
		return 0, 0, false
	}
	return row, col, true
}

// ValidSeat reports whether label addresses a seat on the grid.
func ValidSeat(label string) bool {
	_, _, ok := ParseSeat(label)
	return ok
}

// AllSeats returns every seat label of the grid in row-major order.
func AllSeats() []string {
	seats := make([]string, 0, GridRows*GridCols)
	for r := 1; r <= GridRows; r++ {
		for c := 1; c <= GridCols; c++ {
			seats = append(seats, SeatLabel(r, c))
		}
	}
	return seats
}
