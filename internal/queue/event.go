// Package queue defines the booking messages exchanged over RabbitMQ and
// the publisher and consumer that move them.
package queue

// Queue names.  Each queue is durable and fed through the default exchange.
const (
	BookingConfirmedQueue = "booking.confirmed"
	BookingCancelledQueue = "booking.cancelled"
)

// BookingConfirmedEvent is published when a reservation is committed.
// It carries enough for downstream consumers to log or notify without
// querying the primary database.
type BookingConfirmedEvent struct {
	ReservationID    uint64   `json:"reservation_id"`
	UserID           uint64   `json:"user_id"`
	ShowID           uint64   `json:"show_id"`
	ScreenID         uint64   `json:"screen_id"`
	MovieTitle       string   `json:"movie_title"`
	StartsAt         string   `json:"starts_at"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a reservation is cancelled and
// its seats return to sale.
type BookingCancelledEvent struct {
	ReservationID uint64   `json:"reservation_id"`
	UserID        uint64   `json:"user_id"`
	ShowID        uint64   `json:"show_id"`
	SeatLabels    []string `json:"seats"`
	CancelledAt   string   `json:"cancelled_at"`
}
