package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/storage"
)

// Store is an in-memory storage backend for dry runs and tests.
type Store struct {
	roster   *rosterRepo
	requests *requestRepo
	archive  *archiveRepo
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		roster:   &rosterRepo{passengers: make(map[string]domain.Passenger)},
		requests: &requestRepo{requests: make(map[string]domain.SavedRequest)},
		archive:  &archiveRepo{records: make(map[string]domain.Record)},
	}
}

func (s *Store) Roster() storage.RosterRepo    { return s.roster }
func (s *Store) Requests() storage.RequestRepo { return s.requests }
func (s *Store) Archive() storage.TaskArchive  { return s.archive }

func (s *Store) Health(ctx context.Context) error { return nil }
func (s *Store) Close() error                     { return nil }

type rosterRepo struct {
	mu         sync.RWMutex
	passengers map[string]domain.Passenger // keyed by ID number
}

func (r *rosterRepo) UpsertPassenger(ctx context.Context, p domain.Passenger) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.passengers[p.IDNumber] = p
	r.mu.Unlock()
	return nil
}

func (r *rosterRepo) GetPassenger(ctx context.Context, idNumber string) (domain.Passenger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.passengers[idNumber]
	if !ok {
		return domain.Passenger{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *rosterRepo) ListPassengers(ctx context.Context) ([]domain.Passenger, error) {
	r.mu.RLock()
	out := make([]domain.Passenger, 0, len(r.passengers))
	for _, p := range r.passengers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *rosterRepo) DeletePassenger(ctx context.Context, idNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.passengers[idNumber]; !ok {
		return storage.ErrNotFound
	}
	delete(r.passengers, idNumber)
	return nil
}

type requestRepo struct {
	mu       sync.RWMutex
	requests map[string]domain.SavedRequest
}

func (r *requestRepo) SaveRequest(ctx context.Context, req domain.SavedRequest) error {
	if err := req.Request.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.requests[req.ID] = req
	r.mu.Unlock()
	return nil
}

func (r *requestRepo) ListRequests(ctx context.Context) ([]domain.SavedRequest, error) {
	r.mu.RLock()
	out := make([]domain.SavedRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseAt.Before(out[j].ReleaseAt) })
	return out, nil
}

func (r *requestRepo) DeleteRequest(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.requests, id)
	return nil
}

type archiveRepo struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	order   []string // insertion order, newest last
}

func (a *archiveRepo) SaveTask(ctx context.Context, rec domain.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.records[rec.ID]; !ok {
		a.order = append(a.order, rec.ID)
	}
	a.records[rec.ID] = rec
	return nil
}

func (a *archiveRepo) GetTask(ctx context.Context, id string) (domain.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[id]
	if !ok {
		return domain.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (a *archiveRepo) ListTasks(ctx context.Context, limit int) ([]domain.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Record, 0, len(a.order))
	for i := len(a.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, a.records[a.order[i]])
	}
	return out, nil
}
