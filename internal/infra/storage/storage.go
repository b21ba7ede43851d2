package storage

import (
	"context"
	"errors"

	"github.com/gearay/dingpiao/internal/core/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// RosterRepo persists the saved-passenger roster used to build
// reservation requests without re-entering identity details.
type RosterRepo interface {
	UpsertPassenger(ctx context.Context, p domain.Passenger) error
	GetPassenger(ctx context.Context, idNumber string) (domain.Passenger, error)
	ListPassengers(ctx context.Context) ([]domain.Passenger, error)
	DeletePassenger(ctx context.Context, idNumber string) error
}

// RequestRepo persists reservation request templates scheduled
// automatically at startup.
type RequestRepo interface {
	SaveRequest(ctx context.Context, req domain.SavedRequest) error
	ListRequests(ctx context.Context) ([]domain.SavedRequest, error)
	DeleteRequest(ctx context.Context, id string) error
}

// TaskArchive keeps flat task records beyond the scheduler's in-memory
// retention, for audit and reporting.
type TaskArchive interface {
	SaveTask(ctx context.Context, rec domain.Record) error
	GetTask(ctx context.Context, id string) (domain.Record, error)
	ListTasks(ctx context.Context, limit int) ([]domain.Record, error)
}

// Store bundles the repositories behind one backend.
type Store interface {
	Roster() RosterRepo
	Requests() RequestRepo
	Archive() TaskArchive
	Health(ctx context.Context) error
	Close() error
}
