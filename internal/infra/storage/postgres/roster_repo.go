package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/storage"
)

// RosterRepo implements storage.RosterRepo using PostgreSQL.
type RosterRepo struct {
	db *sqlx.DB
}

// NewRosterRepo creates a new PostgreSQL roster repository.
func NewRosterRepo(db *sqlx.DB) *RosterRepo {
	return &RosterRepo{db: db}
}

// UpsertPassenger inserts or updates a saved passenger.
func (r *RosterRepo) UpsertPassenger(ctx context.Context, p domain.Passenger) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO passengers (id_number, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id_number)
		DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, p.IDNumber, p.Name); err != nil {
		return fmt.Errorf("failed to upsert passenger: %w", err)
	}
	return nil
}

// GetPassenger fetches one passenger by ID number.
func (r *RosterRepo) GetPassenger(ctx context.Context, idNumber string) (domain.Passenger, error) {
	query := `
		SELECT id_number, name
		FROM passengers
		WHERE id_number = $1
	`
	var dest struct {
		IDNumber string `db:"id_number"`
		Name     string `db:"name"`
	}
	err := r.db.GetContext(ctx, &dest, query, idNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Passenger{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Passenger{}, fmt.Errorf("failed to get passenger: %w", err)
	}
	return domain.Passenger{Name: dest.Name, IDNumber: dest.IDNumber}, nil
}

// ListPassengers returns the roster ordered by name.
func (r *RosterRepo) ListPassengers(ctx context.Context) ([]domain.Passenger, error) {
	query := `
		SELECT id_number, name
		FROM passengers
		ORDER BY name ASC
	`
	var rows []struct {
		IDNumber string `db:"id_number"`
		Name     string `db:"name"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list passengers: %w", err)
	}

	passengers := make([]domain.Passenger, 0, len(rows))
	for _, row := range rows {
		passengers = append(passengers, domain.Passenger{Name: row.Name, IDNumber: row.IDNumber})
	}
	return passengers, nil
}

// DeletePassenger removes a passenger from the roster.
func (r *RosterRepo) DeletePassenger(ctx context.Context, idNumber string) error {
	query := `
		DELETE FROM passengers
		WHERE id_number = $1
	`
	res, err := r.db.ExecContext(ctx, query, idNumber)
	if err != nil {
		return fmt.Errorf("failed to delete passenger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
