package model

// EventType names a realtime notification sent to the viewers of a show.
type EventType string

const (
	EventSeatBlocked  EventType = "seatBlocked"
	EventSeatReleased EventType = "seatReleased"
	EventSeatsBooked  EventType = "seatsBooked"
)

// SeatEvent is the payload fanned out to every session that joined a show.
type SeatEvent struct {
	Type   EventType `json:"type"`
	ShowID uint64    `json:"show_id"`
	Seat   string    `json:"seat,omitempty"`
	Seats  []string  `json:"seats,omitempty"`
}

// SeatBlockedEvent reports that another viewer placed a hold on seat.
func SeatBlockedEvent(showID uint64, seat string) SeatEvent {
	return SeatEvent{Type: EventSeatBlocked, ShowID: showID, Seat: seat}
}

// SeatReleasedEvent reports that seat is available again.
func SeatReleasedEvent(showID uint64, seat string) SeatEvent {
	return SeatEvent{Type: EventSeatReleased, ShowID: showID, Seat: seat}
}

// SeatsBookedEvent reports that seats were committed to a reservation.
func SeatsBookedEvent(showID uint64, seats []string) SeatEvent {
	cp := make([]string, len(seats))
	copy(cp, seats)
	return SeatEvent{Type: EventSeatsBooked, ShowID: showID, Seats: cp}
}
