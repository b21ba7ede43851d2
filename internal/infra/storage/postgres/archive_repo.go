package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/storage"
)

// ArchiveRepo implements storage.TaskArchive using PostgreSQL.
type ArchiveRepo struct {
	db *sqlx.DB
}

// NewArchiveRepo creates a new PostgreSQL task archive repository.
func NewArchiveRepo(db *sqlx.DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

type taskRow struct {
	ID               string    `db:"id"`
	TrainNumber      string    `db:"train_number"`
	DepartureStation string    `db:"departure_station"`
	ArrivalStation   string    `db:"arrival_station"`
	TravelDate       string    `db:"travel_date"`
	Assignments      []byte    `db:"assignments"`
	ReleaseAt        time.Time `db:"release_at"`
	LeadTimeSec      int64     `db:"lead_time_sec"`
	MaxAttempts      int       `db:"max_attempts"`
	Priority         int       `db:"priority"`
	State            string    `db:"state"`
	AttemptCount     int       `db:"attempt_count"`
	LastError        string    `db:"last_error"`
	ErrorCategory    string    `db:"error_category"`
	Result           string    `db:"result"`
	CreatedAt        time.Time `db:"created_at"`
}

func (row *taskRow) toRecord() (domain.Record, error) {
	var assignments []domain.Assignment
	if len(row.Assignments) > 0 {
		if err := json.Unmarshal(row.Assignments, &assignments); err != nil {
			return domain.Record{}, fmt.Errorf("failed to decode assignments: %w", err)
		}
	}
	return domain.Record{
		ID:               row.ID,
		TrainNumber:      row.TrainNumber,
		DepartureStation: row.DepartureStation,
		ArrivalStation:   row.ArrivalStation,
		TravelDate:       row.TravelDate,
		Assignments:      assignments,
		ReleaseAt:        row.ReleaseAt,
		LeadTimeSec:      row.LeadTimeSec,
		MaxAttempts:      row.MaxAttempts,
		Priority:         row.Priority,
		State:            domain.TaskState(row.State),
		AttemptCount:     row.AttemptCount,
		LastError:        row.LastError,
		ErrorCategory:    row.ErrorCategory,
		Result:           row.Result,
		CreatedAt:        row.CreatedAt,
	}, nil
}

// SaveTask upserts one task record.
func (a *ArchiveRepo) SaveTask(ctx context.Context, rec domain.Record) error {
	assignments, err := json.Marshal(rec.Assignments)
	if err != nil {
		return fmt.Errorf("failed to encode assignments: %w", err)
	}
	query := `
		INSERT INTO task_records (
			id, train_number, departure_station, arrival_station, travel_date,
			assignments, release_at, lead_time_sec, max_attempts, priority,
			state, attempt_count, last_error, error_category, result,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (id)
		DO UPDATE SET
			state = EXCLUDED.state,
			attempt_count = EXCLUDED.attempt_count,
			last_error = EXCLUDED.last_error,
			error_category = EXCLUDED.error_category,
			result = EXCLUDED.result,
			updated_at = NOW()
	`
	_, err = a.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.TrainNumber,
		rec.DepartureStation,
		rec.ArrivalStation,
		rec.TravelDate,
		assignments,
		rec.ReleaseAt,
		rec.LeadTimeSec,
		rec.MaxAttempts,
		rec.Priority,
		string(rec.State),
		rec.AttemptCount,
		rec.LastError,
		rec.ErrorCategory,
		rec.Result,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task record: %w", err)
	}
	return nil
}

// GetTask fetches one task record by ID.
func (a *ArchiveRepo) GetTask(ctx context.Context, id string) (domain.Record, error) {
	query := `
		SELECT id, train_number, departure_station, arrival_station, travel_date,
			assignments, release_at, lead_time_sec, max_attempts, priority,
			state, attempt_count, last_error, error_category, result, created_at
		FROM task_records
		WHERE id = $1
	`
	var row taskRow
	err := a.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to get task record: %w", err)
	}
	return row.toRecord()
}

// ListTasks returns the newest task records first.
func (a *ArchiveRepo) ListTasks(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, train_number, departure_station, arrival_station, travel_date,
			assignments, release_at, lead_time_sec, max_attempts, priority,
			state, attempt_count, last_error, error_category, result, created_at
		FROM task_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	var rows []taskRow
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list task records: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
