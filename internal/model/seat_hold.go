package model

import "time"

// SeatHold represents a temporary, advisory hold on a seat while a viewer
// is deciding.  Holds never block a commit; they only tell other viewers
// that somebody is looking at the seat.  They live in memory or Redis and
// disappear at ExpiresAt unless released first.
//
// Fields:
//  ShowID    – show for which the seat is held.
//  Seat      – seat label being held.
//  SessionID – realtime session that placed the hold.
//  Token     – random token identifying this particular hold instance.
//  ExpiresAt – when the hold expires.
type SeatHold struct {
	ShowID    uint64    `json:"show_id"`
	Seat      string    `json:"seat"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
