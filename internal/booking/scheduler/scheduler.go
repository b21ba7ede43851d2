package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gearay/dingpiao/internal/booking/agent"
	"github.com/gearay/dingpiao/internal/booking/classify"
	"github.com/gearay/dingpiao/internal/booking/executor"
	"github.com/gearay/dingpiao/internal/booking/timing"
	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/metrics"
)

// ErrNotFound is returned when no task has the requested ID.
var ErrNotFound = errors.New("task not found")

// ErrShutdownTimeout is returned by Stop when running tasks did not unwind
// within the shutdown timeout.
var ErrShutdownTimeout = errors.New("scheduler shutdown timed out")

// InvalidScheduleError rejects a task whose timing cannot be honored. It
// carries the offending release time.
type InvalidScheduleError struct {
	ReleaseAt time.Time
	Reason    string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for %s: %s", e.ReleaseAt.Format(time.RFC3339), e.Reason)
}

// TaskSpec is the caller-facing description of a new acquisition task.
type TaskSpec struct {
	Request     domain.ReservationRequest
	ReleaseAt   time.Time
	LeadTime    time.Duration // pre-warm lead, default 5m
	MaxAttempts int           // default 3
	Priority    int
}

// Stats is a point-in-time view of the task population.
type Stats struct {
	Total    int                       `json:"total"`
	ByState  map[domain.TaskState]int  `json:"by_state"`
	Failures map[classify.Category]int `json:"failures"`
	Paused   bool                      `json:"paused"`
}

// Config wires a Scheduler.
type Config struct {
	Agent       agent.Agent
	Clock       timing.Clock
	Timing      timing.Config
	Decision    classify.DecisionFunc
	AuthTimeout time.Duration

	// ScanInterval bounds how stale a due promotion can be. Default 10ms.
	ScanInterval time.Duration

	// Horizon is the furthest future release accepted. Default 30 days.
	Horizon time.Duration

	// RetainTerminal is how long finished tasks stay listable. Default 24h.
	RetainTerminal time.Duration

	// ShutdownTimeout bounds Stop's wait for running tasks. Default 30s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger

	// OnStatus and OnTerminalFailure receive task snapshots; the scheduler
	// forwards the executor's notifications to the host.
	OnStatus          func(*domain.Task)
	OnTerminalFailure func(*domain.Task)
}

const (
	defaultScanInterval    = 10 * time.Millisecond
	defaultHorizon         = 30 * 24 * time.Hour
	defaultRetainTerminal  = 24 * time.Hour
	defaultShutdownTimeout = 30 * time.Second
	defaultLeadTime        = 5 * time.Minute
	defaultMaxAttempts     = 3
	defaultAuthTimeout     = 2 * time.Minute
)

// entry pairs a task with its promotion bookkeeping. A task is promoted at
// most once; after promotion its executor goroutine is the sole writer of
// the task's progress fields, always under the scheduler's lock.
type entry struct {
	task     *domain.Task
	promoted bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns the task table and promotes tasks into executors when
// their pre-warm window opens.
type Scheduler struct {
	cfg   Config
	tally *classify.Tally

	mu      sync.Mutex
	entries map[string]*entry

	runCancel context.CancelFunc
	loopDone  chan struct{}
	wg        sync.WaitGroup
	started   bool
	stopped   bool
	paused    bool
}

// New creates a Scheduler. Start must be called before tasks are promoted;
// AddTask works either way.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = timing.RealClock()
	}
	if cfg.Timing.Tiers == nil {
		cfg.Timing = timing.DefaultConfig()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if cfg.RetainTerminal <= 0 {
		cfg.RetainTerminal = defaultRetainTerminal
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		tally:   classify.NewTally(),
		entries: make(map[string]*entry),
	}
}

// AddTask validates and registers a new task in PENDING state, returning a
// snapshot of it.
func (s *Scheduler) AddTask(spec TaskSpec) (*domain.Task, error) {
	if err := spec.Request.Validate(); err != nil {
		return nil, fmt.Errorf("reservation request: %w", err)
	}

	now := s.cfg.Clock.Now()
	if !spec.ReleaseAt.After(now) {
		return nil, &InvalidScheduleError{ReleaseAt: spec.ReleaseAt, Reason: "release time must be in the future"}
	}
	if spec.ReleaseAt.Sub(now) > s.cfg.Horizon {
		return nil, &InvalidScheduleError{
			ReleaseAt: spec.ReleaseAt,
			Reason:    fmt.Sprintf("release time exceeds the %s scheduling horizon", s.cfg.Horizon),
		}
	}

	lead := spec.LeadTime
	if lead <= 0 {
		lead = defaultLeadTime
	}
	attempts := spec.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	task := &domain.Task{
		ID:          uuid.New().String(),
		Request:     spec.Request,
		ReleaseAt:   spec.ReleaseAt,
		LeadTime:    lead,
		MaxAttempts: attempts,
		Priority:    spec.Priority,
		State:       domain.TaskPending,
		CreatedAt:   now,
	}

	s.mu.Lock()
	s.entries[task.ID] = &entry{task: task}
	s.updateGaugesLocked()
	snap := *task
	s.mu.Unlock()

	s.cfg.Logger.Info("task added",
		"task", task.ID,
		"train", task.Request.Itinerary.TrainNumber,
		"release_at", task.ReleaseAt,
		"priority", task.Priority)
	s.notify(s.cfg.OnStatus, &snap)
	return &snap, nil
}

// CancelTask requests cancellation. It is idempotent: cancelling a task
// that is already cancelled reports true. A task that finished in any other
// terminal state reports false.
func (s *Scheduler) CancelTask(id string) (bool, error) {
	s.mu.Lock()
	ent, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	switch {
	case ent.task.State == domain.TaskCancelled:
		s.mu.Unlock()
		return true, nil
	case ent.task.State.Terminal():
		s.mu.Unlock()
		return false, nil
	}
	ent.task.State = domain.TaskCancelled
	ent.task.FinishedAt = s.cfg.Clock.Now()
	cancel := ent.cancel
	snap := *ent.task
	s.updateGaugesLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.cfg.Logger.Info("task cancelled", "task", id)
	s.notify(s.cfg.OnStatus, &snap)
	return true, nil
}

// GetTask returns a snapshot of the task.
func (s *Scheduler) GetTask(id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	snap := *ent.task
	return &snap, nil
}

// ListTasks returns snapshots of all tracked tasks, highest priority first,
// earliest release breaking ties.
func (s *Scheduler) ListTasks() []*domain.Task {
	s.mu.Lock()
	out := make([]*domain.Task, 0, len(s.entries))
	for _, ent := range s.entries {
		snap := *ent.task
		out = append(out, &snap)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ReleaseAt.Before(out[j].ReleaseAt)
	})
	return out
}

// Statistics returns per-state task counts and the failure tally.
func (s *Scheduler) Statistics() Stats {
	s.mu.Lock()
	byState := make(map[domain.TaskState]int)
	total := 0
	for _, ent := range s.entries {
		byState[ent.task.State]++
		total++
	}
	paused := s.paused
	s.mu.Unlock()

	return Stats{
		Total:    total,
		ByState:  byState,
		Failures: s.tally.Snapshot(),
		Paused:   paused,
	}
}

// NextReleaseAt returns the earliest release time among unfinished tasks.
func (s *Scheduler) NextReleaseAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, ent := range s.entries {
		if ent.task.State.Terminal() {
			continue
		}
		if !found || ent.task.ReleaseAt.Before(next) {
			next = ent.task.ReleaseAt
			found = true
		}
	}
	return next, found
}

// Tally exposes the shared failure tally.
func (s *Scheduler) Tally() *classify.Tally {
	return s.tally
}

// Start launches the scan loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
	s.cfg.Logger.Info("scheduler started", "scan_interval", s.cfg.ScanInterval)
	return nil
}

// Stop cancels every non-terminal task, pending or running, and waits for
// executors to unwind, bounded by the shutdown timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.runCancel
	loopDone := s.loopDone

	// Mark the whole table cancelled before tearing down contexts so woken
	// executors observe the cancellation instead of failing on a dead
	// context.
	now := s.cfg.Clock.Now()
	var snaps []*domain.Task
	for _, ent := range s.entries {
		if ent.task.State.Terminal() {
			continue
		}
		ent.task.State = domain.TaskCancelled
		ent.task.FinishedAt = now
		snap := *ent.task
		snaps = append(snaps, &snap)
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	cancel()
	<-loopDone
	for _, snap := range snaps {
		s.notify(s.cfg.OnStatus, snap)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cfg.Logger.Info("scheduler stopped", "cancelled", len(snaps))
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, s.cfg.ShutdownTimeout)
	}
}

// Pause suspends promotion of due tasks. Tasks already running keep going;
// AddTask and CancelTask stay available.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	was := s.paused
	s.paused = true
	s.mu.Unlock()
	if !was {
		s.cfg.Logger.Info("scheduler paused")
	}
}

// Resume re-enables promotion after a Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	was := s.paused
	s.paused = false
	s.mu.Unlock()
	if was {
		s.cfg.Logger.Info("scheduler resumed")
	}
}

// Paused reports whether promotion is suspended.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// loop scans the task table at the configured cadence.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan promotes due tasks and reaps expired terminal ones.
func (s *Scheduler) scan(ctx context.Context) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	var due []*entry
	if !s.paused {
		due = s.dueLocked(now)
	}
	for _, ent := range due {
		s.promoteLocked(ctx, ent)
	}
	reaped := s.reapLocked(now)
	if len(due) > 0 || reaped > 0 {
		s.updateGaugesLocked()
	}
	s.mu.Unlock()
}

// dueLocked collects unpromoted PENDING tasks whose pre-warm window is
// open, highest priority first, earliest release breaking ties.
func (s *Scheduler) dueLocked(now time.Time) []*entry {
	var due []*entry
	for _, ent := range s.entries {
		if ent.promoted || ent.task.State != domain.TaskPending {
			continue
		}
		if !now.Before(ent.task.PreWarmAt()) {
			due = append(due, ent)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].task.Priority != due[j].task.Priority {
			return due[i].task.Priority > due[j].task.Priority
		}
		return due[i].task.ReleaseAt.Before(due[j].task.ReleaseAt)
	})
	return due
}

// promoteLocked hands a task to its own executor goroutine. Promotion
// happens exactly once per task.
func (s *Scheduler) promoteLocked(ctx context.Context, ent *entry) {
	ent.promoted = true
	ent.task.State = domain.TaskPreWarming
	taskCtx, cancel := context.WithCancel(ctx)
	ent.cancel = cancel
	ent.done = make(chan struct{})

	snap := *ent.task
	s.wg.Add(1)
	go s.runTask(taskCtx, ent, &snap)
}

// runTask drives one executor and force-finalizes the task if the executor
// returns without reaching a terminal state.
func (s *Scheduler) runTask(ctx context.Context, ent *entry, snap *domain.Task) {
	defer s.wg.Done()
	defer close(ent.done)

	s.cfg.Logger.Info("task promoted", "task", snap.ID, "release_at", snap.ReleaseAt)
	s.notify(s.cfg.OnStatus, snap)

	exec := executor.New(executor.Config{
		Agent:       s.cfg.Agent,
		Clock:       s.cfg.Clock,
		Timing:      s.cfg.Timing,
		Decision:    s.cfg.Decision,
		Tally:       s.tally,
		AuthTimeout: s.cfg.AuthTimeout,
		Logger:      s.cfg.Logger,
		Mutate:      s.locked,
		Callbacks: executor.Callbacks{
			OnStatus:          s.onStatus,
			OnTerminalFailure: s.cfg.OnTerminalFailure,
		},
	})
	exec.Run(ctx, ent.task)

	s.mu.Lock()
	if !ent.task.State.Terminal() {
		// The executor returned without a terminal mark on the task, which
		// means its context died with no cancellation recorded.
		ent.task.State = domain.TaskFailed
		ent.task.LastError = "execution interrupted"
		ent.task.ErrorCategory = string(classify.CategorySystem)
		ent.task.FinishedAt = s.cfg.Clock.Now()
		final := *ent.task
		s.updateGaugesLocked()
		s.mu.Unlock()
		s.notify(s.cfg.OnStatus, &final)
		s.notify(s.cfg.OnTerminalFailure, &final)
		return
	}
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// onStatus forwards executor transitions and keeps the state gauge fresh.
func (s *Scheduler) onStatus(t *domain.Task) {
	s.mu.Lock()
	s.updateGaugesLocked()
	s.mu.Unlock()
	s.notify(s.cfg.OnStatus, t)
}

// reapLocked drops terminal tasks finished longer ago than the retention.
func (s *Scheduler) reapLocked(now time.Time) int {
	reaped := 0
	for id, ent := range s.entries {
		if !ent.task.State.Terminal() || ent.task.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(ent.task.FinishedAt) > s.cfg.RetainTerminal {
			delete(s.entries, id)
			reaped++
			s.cfg.Logger.Debug("task reaped", "task", id, "state", ent.task.State)
		}
	}
	return reaped
}

func (s *Scheduler) updateGaugesLocked() {
	counts := make(map[domain.TaskState]int)
	for _, ent := range s.entries {
		counts[ent.task.State]++
	}
	for _, st := range []domain.TaskState{
		domain.TaskPending, domain.TaskPreWarming, domain.TaskFiring,
		domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled,
	} {
		metrics.TasksByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// locked is the executor's Mutate hook; all task field writes after
// promotion happen under the scheduler's lock.
func (s *Scheduler) locked(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

func (s *Scheduler) notify(fn func(*domain.Task), snap *domain.Task) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("status callback panic", "task", snap.ID, "panic", r)
		}
	}()
	fn(snap)
}
