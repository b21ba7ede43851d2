package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/storage"
)

// RequestRepo implements storage.RequestRepo using PostgreSQL.
type RequestRepo struct {
	db *sqlx.DB
}

// NewRequestRepo creates a new PostgreSQL saved-request repository.
func NewRequestRepo(db *sqlx.DB) *RequestRepo {
	return &RequestRepo{db: db}
}

type requestRow struct {
	ID          string    `db:"id"`
	Request     []byte    `db:"request"`
	ReleaseAt   time.Time `db:"release_at"`
	LeadTimeSec int64     `db:"lead_time_sec"`
	MaxAttempts int       `db:"max_attempts"`
	Priority    int       `db:"priority"`
	CreatedAt   time.Time `db:"created_at"`
}

// SaveRequest upserts one saved request.
func (r *RequestRepo) SaveRequest(ctx context.Context, req domain.SavedRequest) error {
	if err := req.Request.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	query := `
		INSERT INTO saved_requests (id, request, release_at, lead_time_sec, max_attempts, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			request = EXCLUDED.request,
			release_at = EXCLUDED.release_at,
			lead_time_sec = EXCLUDED.lead_time_sec,
			max_attempts = EXCLUDED.max_attempts,
			priority = EXCLUDED.priority
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		req.ID,
		payload,
		req.ReleaseAt,
		req.LeadTimeSec,
		req.MaxAttempts,
		req.Priority,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// ListRequests returns all saved requests, earliest release first.
func (r *RequestRepo) ListRequests(ctx context.Context) ([]domain.SavedRequest, error) {
	query := `
		SELECT id, request, release_at, lead_time_sec, max_attempts, priority, created_at
		FROM saved_requests
		ORDER BY release_at ASC
	`
	var rows []requestRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	requests := make([]domain.SavedRequest, 0, len(rows))
	for _, row := range rows {
		var req domain.ReservationRequest
		if err := json.Unmarshal(row.Request, &req); err != nil {
			return nil, fmt.Errorf("failed to decode request %s: %w", row.ID, err)
		}
		requests = append(requests, domain.SavedRequest{
			ID:          row.ID,
			Request:     req,
			ReleaseAt:   row.ReleaseAt,
			LeadTimeSec: row.LeadTimeSec,
			MaxAttempts: row.MaxAttempts,
			Priority:    row.Priority,
			CreatedAt:   row.CreatedAt,
		})
	}
	return requests, nil
}

// DeleteRequest removes a saved request.
func (r *RequestRepo) DeleteRequest(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
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
