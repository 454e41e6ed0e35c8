package model

import "time"

// Show represents a scheduled screening that viewers can pick seats for.
// Shows are owned by the catalog; this service only reads them.  Every
// show exposes the same fixed seat grid regardless of the physical
// screen size.
//
// Fields:
//  ID         – primary key identifier.
//  ScreenID   – screen (hall) the show is projected on.
//  Title      – movie title.
//  StartsAt   – when the show begins (UTC).
//  PriceCents – fixed price per seat in cents.
type Show struct {
	ID         uint64    `db:"id" json:"id"`                   // shows.id
	ScreenID   uint64    `db:"screen_id" json:"screen_id"`     // shows.screen_id
	Title      string    `db:"title" json:"title"`             // shows.title
	StartsAt   time.Time `db:"starts_at" json:"starts_at"`     // shows.starts_at
	PriceCents uint32    `db:"price_cents" json:"price_cents"` // shows.price_cents
}
