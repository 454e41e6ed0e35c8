package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// ShowRepo reads shows.  The catalog owns the table; this service never
// writes to it outside of local seeding.
type ShowRepo struct {
	db *sqlx.DB
}

// NewShowRepo returns a ShowRepo bound to db.
func NewShowRepo(db *sqlx.DB) *ShowRepo { return &ShowRepo{db: db} }

// GetByID loads a show.  ErrShowNotFound is returned for unknown IDs.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	const q = `SELECT id, screen_id, title, starts_at, price_cents FROM shows WHERE id = ?`
	var s model.Show
	if err := r.db.GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowNotFound
		}
		return nil, fmt.Errorf("load show %d: %w", id, err)
	}
	return &s, nil
}

// Create inserts a show and fills in its generated ID.  Used for seeding
// local environments and by integration tests.
func (r *ShowRepo) Create(ctx context.Context, s *model.Show) error {
	const q = `INSERT INTO shows (screen_id, title, starts_at, price_cents) VALUES (:screen_id, :title, :starts_at, :price_cents)`
	res, err := r.db.NamedExecContext(ctx, q, s)
	if err != nil {
		return fmt.Errorf("insert show: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}
