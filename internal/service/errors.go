package service

import (
	"errors"
	"strings"
)

// Error taxonomy of the service layer.  Handlers map these to HTTP status
// codes; anything else is an internal failure.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not the owner of this reservation")
	ErrInternal     = errors.New("internal error")
)

// ConflictError names the requested seats that are already booked, in the
// order they were requested.
type ConflictError struct {
	Seats []string
}

func (e *ConflictError) Error() string {
	return "seats already booked: " + strings.Join(e.Seats, ", ")
}
