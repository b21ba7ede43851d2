package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gearay/dingpiao/internal/booking/agent"
	"github.com/gearay/dingpiao/internal/booking/classify"
	"github.com/gearay/dingpiao/internal/booking/retry"
	"github.com/gearay/dingpiao/internal/booking/timing"
	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/metrics"
)

// Callbacks are invoked synchronously from the owning execution context.
type Callbacks struct {
	// OnStatus fires on every state transition.
	OnStatus func(*domain.Task)

	// OnTerminalFailure fires exactly once when a task reaches FAILED.
	OnTerminalFailure func(*domain.Task)
}

// Config wires one Executor. An Executor is shared across tasks; all
// per-task state lives on the Task and in Run's locals.
type Config struct {
	Agent       agent.Agent
	Clock       timing.Clock
	Timing      timing.Config
	Decision    classify.DecisionFunc
	Tally       *classify.Tally
	AuthTimeout time.Duration
	Callbacks   Callbacks
	Logger      *slog.Logger

	// Mutate runs fn while holding the lock guarding task snapshots. The
	// scheduler supplies its own; the zero value calls fn directly.
	Mutate func(fn func())
}

// Executor drives one promoted task from PRE_WARMING to a terminal state.
// It is the single writer of the task's mutable fields after promotion.
type Executor struct {
	cfg Config
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = timing.RealClock()
	}
	if cfg.Tally == nil {
		cfg.Tally = classify.NewTally()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mutate == nil {
		cfg.Mutate = func(fn func()) { fn() }
	}
	return &Executor{cfg: cfg}
}

// Run executes the task. It never panics outward: an execution-context
// fault is recorded on the task as FAILED.
func (e *Executor) Run(ctx context.Context, task *domain.Task) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("execution context fault", "task", task.ID, "panic", r)
			e.fail(task, fmt.Errorf("execution context fault: %v", r))
		}
	}()

	log := e.cfg.Logger.With("task", task.ID, "train", task.Request.Itinerary.TrainNumber)

	session, err := e.preWarm(ctx, task, log)
	if err != nil {
		if e.observeCancel(task, nil, log) {
			return
		}
		e.fail(task, err)
		return
	}
	defer session.Close()

	e.fire(ctx, task, session, log)
}

// preWarm authenticates and keeps the session and inventory warm at the
// tiered cadence, then counts down to release. Late-scheduled tasks fall
// through immediately: every wait is keyed to the remaining time.
func (e *Executor) preWarm(ctx context.Context, task *domain.Task, log *slog.Logger) (agent.Session, error) {
	if err := e.checkpoint(ctx, task); err != nil {
		return nil, err
	}

	session, err := e.cfg.Agent.Authenticate(ctx, e.cfg.AuthTimeout)
	if err != nil {
		if errors.Is(err, agent.ErrAuthenticationTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	log.Info("session established", "session", session.ID())

	for {
		if err := e.checkpoint(ctx, task); err != nil {
			e.cfg.Agent.Cancel(session)
			session.Close()
			return nil, err
		}

		remaining := task.ReleaseAt.Sub(e.cfg.Clock.Now())
		interval, countdown := e.cfg.Timing.RefreshInterval(remaining)
		if countdown {
			break
		}
		if interval > remaining {
			interval = remaining
		}
		if err := e.cfg.Clock.Sleep(ctx, interval); err != nil {
			e.cfg.Agent.Cancel(session)
			session.Close()
			return nil, err
		}
		if err := e.checkpoint(ctx, task); err != nil {
			e.cfg.Agent.Cancel(session)
			session.Close()
			return nil, err
		}
		if _, err := e.refresh(ctx, session, task); err != nil {
			log.Warn("pre-warm refresh failed", "error", err)
		}
	}

	if err := timing.WaitUntil(ctx, e.cfg.Clock, e.cfg.Timing, task.ReleaseAt); err != nil {
		e.cfg.Agent.Cancel(session)
		session.Close()
		return nil, err
	}
	return session, nil
}

// fire runs the acquisition pipeline up to MaxAttempts times.
func (e *Executor) fire(ctx context.Context, task *domain.Task, session agent.Session, log *slog.Logger) {
	overshoot := e.cfg.Clock.Now().Sub(task.ReleaseAt)
	metrics.FireOvershoot.Observe(overshoot.Seconds())
	e.transition(task, domain.TaskFiring)
	log.Info("firing", "overshoot", overshoot)

	policy := retry.NewPolicy(task.MaxAttempts)

	if e.observeCancel(task, session, log) {
		return
	}
	if _, err := e.refresh(ctx, session, task); err != nil {
		log.Warn("final refresh failed", "error", err)
	}

	for attempt := 1; attempt <= task.MaxAttempts; attempt++ {
		if e.observeCancel(task, session, log) {
			return
		}
		e.cfg.Mutate(func() { task.AttemptCount = attempt })

		err := e.attempt(ctx, task, session)
		if err == nil {
			metrics.AttemptsTotal.WithLabelValues("success").Inc()
			e.cfg.Mutate(func() {
				task.Result = "success"
				task.FinishedAt = e.cfg.Clock.Now()
			})
			e.transition(task, domain.TaskCompleted)
			log.Info("booking completed", "attempts", attempt)
			return
		}
		if e.observeCancel(task, session, log) {
			return
		}

		metrics.AttemptsTotal.WithLabelValues("failure").Inc()
		cat := classify.Classify(err.Error())
		action := classify.Decide(cat, err.Error(), e.cfg.Decision)
		e.cfg.Tally.Record(cat)
		metrics.FailuresTotal.WithLabelValues(string(cat)).Inc()
		e.cfg.Mutate(func() {
			task.LastError = err.Error()
			task.ErrorCategory = string(cat)
		})
		log.Warn("attempt failed",
			"attempt", attempt, "category", cat, "action", action, "error", err)

		if !policy.ShouldRetry(cat, attempt) {
			e.fail(task, err)
			return
		}

		delay := policy.Backoff(attempt, cat, action)
		if err := e.cfg.Clock.Sleep(ctx, delay); err != nil {
			e.observeCancel(task, session, log)
			return
		}
		if e.observeCancel(task, session, log) {
			return
		}
		// Re-validate before the next attempt.
		if _, err := e.refresh(ctx, session, task); err != nil {
			log.Warn("re-validation refresh failed", "error", err)
		}
	}
}

// attempt runs one pass of select → assign → submit → confirm. A failure at
// any stage, including a single passenger assignment, fails the whole
// attempt; nothing is submitted with incomplete assignments.
func (e *Executor) attempt(ctx context.Context, task *domain.Task, session agent.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.timed("select_item", func() error {
		return e.cfg.Agent.SelectItem(ctx, session, task.Request.Itinerary)
	}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, asg := range task.Request.Assignments {
		a := asg
		if err := e.timed("assign_attributes", func() error {
			return e.cfg.Agent.AssignAttributes(ctx, session, a)
		}); err != nil {
			return fmt.Errorf("assign %s: %w", a.Passenger.Name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.timed("submit", func() error {
		return e.cfg.Agent.Submit(ctx, session)
	}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return e.timed("confirm", func() error {
		return e.cfg.Agent.Confirm(ctx, session)
	})
}

// refresh re-issues the lightweight inventory check.
func (e *Executor) refresh(ctx context.Context, session agent.Session, task *domain.Task) (*agent.InventorySnapshot, error) {
	var snap *agent.InventorySnapshot
	err := e.timed("refresh_inventory", func() error {
		var err error
		snap, err = e.cfg.Agent.RefreshInventory(ctx, session, task.Request.Itinerary)
		return err
	})
	return snap, err
}

func (e *Executor) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.AgentCallDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

// checkpoint is the cooperative cancellation check made at stage starts and
// wait boundaries.
func (e *Executor) checkpoint(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cancelled bool
	e.cfg.Mutate(func() { cancelled = task.State == domain.TaskCancelled })
	if cancelled {
		return context.Canceled
	}
	return nil
}

// observeCancel finalizes a cancellation: no further agent calls except the
// best-effort abort. Returns true when the task is (now) cancelled.
func (e *Executor) observeCancel(task *domain.Task, session agent.Session, log *slog.Logger) bool {
	var state domain.TaskState
	e.cfg.Mutate(func() { state = task.State })
	if state == domain.TaskCancelled {
		if session != nil {
			e.cfg.Agent.Cancel(session)
		}
		log.Info("cancellation observed")
		return true
	}
	return false
}

// transition moves the task to a new state and reports a snapshot, so
// callbacks never see later mutations.
func (e *Executor) transition(task *domain.Task, state domain.TaskState) {
	var snap domain.Task
	e.cfg.Mutate(func() {
		// A concurrent cancellation won the race; leave it in place.
		if !task.State.Terminal() {
			task.State = state
		}
		snap = *task
	})
	e.notify(e.cfg.Callbacks.OnStatus, &snap)
}

// notify invokes a host callback, containing any panic it raises.
func (e *Executor) notify(fn func(*domain.Task), snap *domain.Task) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("status callback panic", "task", snap.ID, "panic", r)
		}
	}()
	fn(snap)
}

// fail marks the task FAILED, unless it was cancelled first.
func (e *Executor) fail(task *domain.Task, err error) {
	cat := classify.Classify(err.Error())
	if errors.Is(err, agent.ErrAuthenticationTimeout) {
		// The message's "timeout" keyword would misfile this as a
		// network failure.
		cat = classify.CategoryAuthentication
	}

	var cancelled, fresh bool
	var snap domain.Task
	e.cfg.Mutate(func() {
		if task.State == domain.TaskCancelled {
			cancelled = true
			return
		}
		task.LastError = err.Error()
		if task.ErrorCategory == "" {
			task.ErrorCategory = string(cat)
			fresh = true
		}
		task.FinishedAt = e.cfg.Clock.Now()
		task.State = domain.TaskFailed
		snap = *task
	})
	if cancelled {
		return
	}
	if fresh {
		// Failures outside the firing loop (authentication, faults) are
		// tallied here; the loop records its own.
		e.cfg.Tally.Record(cat)
		metrics.FailuresTotal.WithLabelValues(string(cat)).Inc()
	}
	e.notify(e.cfg.Callbacks.OnStatus, &snap)
	e.notify(e.cfg.Callbacks.OnTerminalFailure, &snap)
}
