package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// MySQL error numbers the repository reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// defaultCommitAttempts bounds retries of a commit transaction that lost a
// deadlock or lock wait.
const defaultCommitAttempts = 5

var errDuplicateClaim = errors.New("duplicate seat claim")

// ReservationRepo persists reservations and their seat claims.  Each seat
// of a confirmed reservation is one reservation_seats row with claimed = 1;
// the unique key on (show_id, seat_label, claimed) makes a double sale
// impossible even if two commits race past the application lock.
// Cancelling sets claimed to NULL, which frees the seat while keeping the
// history.  All timestamps are UTC.
type ReservationRepo struct {
	db       *sqlx.DB
	attempts int
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sqlx.DB) *ReservationRepo {
	return &ReservationRepo{db: db, attempts: defaultCommitAttempts}
}

// reservationRow mirrors the reservations table.
type reservationRow struct {
	ID               uint64    `db:"id"`
	UserID           uint64    `db:"user_id"`
	ShowID           uint64    `db:"show_id"`
	Status           string    `db:"status"`
	TotalAmountCents uint32    `db:"total_amount_cents"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// seatRow mirrors the reservation_seats columns written on commit.
type seatRow struct {
	ReservationID uint64 `db:"reservation_id"`
	ShowID        uint64 `db:"show_id"`
	SeatLabel     string `db:"seat_label"`
	Position      int    `db:"position"`
}

const selectReservation = `SELECT id, user_id, show_id, status, total_amount_cents, created_at, updated_at FROM reservations`

// BookedSeats returns every seat claimed by a confirmed reservation of the show.
func (r *ReservationRepo) BookedSeats(ctx context.Context, showID uint64) ([]string, error) {
	var seats []string
	const q = `SELECT seat_label FROM reservation_seats WHERE show_id = ? AND claimed = 1`
	if err := r.db.SelectContext(ctx, &seats, q, showID); err != nil {
		return nil, fmt.Errorf("load booked seats: %w", err)
	}
	return seats, nil
}

// CreateConfirmed stores res as a CONFIRMED reservation if none of its seats
// is claimed yet.  The check and the insert share one transaction; a lost
// race is reported as *SeatsTakenError, never as a double sale.  On success
// ID, Status and the timestamps of res are filled in.
func (r *ReservationRepo) CreateConfirmed(ctx context.Context, res *model.Reservation) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.createConfirmedOnce(ctx, res)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errDuplicateClaim):
			// Another transaction committed between our check and insert.
			booked, berr := r.BookedSeats(ctx, res.ShowID)
			if berr != nil {
				return berr
			}
			if seats := overlap(res.Seats, toSet(booked)); len(seats) > 0 {
				return &SeatsTakenError{Seats: seats}
			}
		case !isRetryable(err):
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (r *ReservationRepo) createConfirmedOnce(ctx context.Context, res *model.Reservation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the claim rows of the requested seats so concurrent commits on
	// the same seats queue behind this one.
	q, args, err := sqlx.In(
		`SELECT seat_label FROM reservation_seats WHERE show_id = ? AND claimed = 1 AND seat_label IN (?) FOR UPDATE`,
		res.ShowID, res.Seats,
	)
	if err != nil {
		return err
	}
	var taken []string
	if err := tx.SelectContext(ctx, &taken, tx.Rebind(q), args...); err != nil {
		return fmt.Errorf("check seat claims: %w", err)
	}
	if len(taken) > 0 {
		return &SeatsTakenError{Seats: overlap(res.Seats, toSet(taken))}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (user_id, show_id, status, total_amount_cents) VALUES (?, ?, ?, ?)`,
		res.UserID, res.ShowID, string(model.ReservationConfirmed), res.TotalAmountCents,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	rows := make([]seatRow, len(res.Seats))
	for i, seat := range res.Seats {
		rows[i] = seatRow{ReservationID: uint64(id), ShowID: res.ShowID, SeatLabel: seat, Position: i}
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO reservation_seats (reservation_id, show_id, seat_label, position) VALUES (:reservation_id, :show_id, :seat_label, :position)`,
		rows,
	); err != nil {
		if mysqlErrorNumber(err) == mysqlDuplicateEntry {
			return errDuplicateClaim
		}
		return fmt.Errorf("insert reservation seats: %w", err)
	}

	var row reservationRow
	if err := tx.GetContext(ctx, &row, selectReservation+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("reload reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	seats := append([]string(nil), res.Seats...)
	*res = *row.toModel(seats)
	return nil
}

// Cancel moves a CONFIRMED reservation to CANCELLED and releases its seat
// claims in the same transaction.  ErrReservationNotFound is returned when
// the reservation is missing or already cancelled.
func (r *ReservationRepo) Cancel(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		string(model.ReservationCancelled), id, string(model.ReservationConfirmed),
	)
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reservation_seats SET claimed = NULL WHERE reservation_id = ?`, id); err != nil {
		return fmt.Errorf("release seat claims: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}

// GetByID loads a reservation with its seats in request order.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	var row reservationRow
	if err := r.db.GetContext(ctx, &row, selectReservation+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("load reservation %d: %w", id, err)
	}
	var seats []string
	const q = `SELECT seat_label FROM reservation_seats WHERE reservation_id = ? ORDER BY position`
	if err := r.db.SelectContext(ctx, &seats, q, id); err != nil {
		return nil, fmt.Errorf("load reservation seats: %w", err)
	}
	return row.toModel(seats), nil
}

// ListByUser returns the user's reservations, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows, selectReservation+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	if len(rows) == 0 {
		return []model.Reservation{}, nil
	}

	ids := make([]uint64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	q, args, err := sqlx.In(
		`SELECT reservation_id, show_id, seat_label, position FROM reservation_seats WHERE reservation_id IN (?) ORDER BY reservation_id, position`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	var seatRows []seatRow
	if err := r.db.SelectContext(ctx, &seatRows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list reservation seats: %w", err)
	}
	seatsByID := make(map[uint64][]string, len(rows))
	for _, s := range seatRows {
		seatsByID[s.ReservationID] = append(seatsByID[s.ReservationID], s.SeatLabel)
	}

	out := make([]model.Reservation, len(rows))
	for i, row := range rows {
		out[i] = *row.toModel(seatsByID[row.ID])
	}
	return out, nil
}

func (row *reservationRow) toModel(seats []string) *model.Reservation {
	if seats == nil {
		seats = []string{}
	}
	return &model.Reservation{
		ID:               row.ID,
		UserID:           row.UserID,
		ShowID:           row.ShowID,
		Seats:            seats,
		TotalAmountCents: row.TotalAmountCents,
		Status:           model.ReservationStatus(row.Status),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func mysqlErrorNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func isRetryable(err error) bool {
	switch mysqlErrorNumber(err) {
	case mysqlDeadlock, mysqlLockWaitTimeout:
		return true
	}
	return false
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}
