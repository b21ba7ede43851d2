package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gearay/dingpiao/internal/booking/agent"
	"github.com/gearay/dingpiao/internal/booking/timing"
	"github.com/gearay/dingpiao/internal/core/domain"
)

func testRequest() domain.ReservationRequest {
	return domain.ReservationRequest{
		Itinerary: domain.Itinerary{
			TrainNumber:      "G101",
			DepartureStation: "Beijing South",
			ArrivalStation:   "Shanghai Hongqiao",
			TravelDate:       "2026-10-01",
		},
		Assignments: []domain.Assignment{
			{Passenger: domain.Passenger{Name: "Zhang Wei", IDNumber: "110101199001011234"}, SeatClass: domain.SeatSecondClass, Fare: domain.FareAdult},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddTaskValidation(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock})

	var invalid *InvalidScheduleError

	_, err := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(-time.Minute)})
	if !errors.As(err, &invalid) {
		t.Errorf("past release: err = %v, want InvalidScheduleError", err)
	}

	_, err = s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now()})
	if !errors.As(err, &invalid) {
		t.Errorf("release at now: err = %v, want InvalidScheduleError", err)
	}

	_, err = s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(31 * 24 * time.Hour)})
	if !errors.As(err, &invalid) {
		t.Errorf("beyond horizon: err = %v, want InvalidScheduleError", err)
	}

	_, err = s.AddTask(TaskSpec{
		Request:   domain.ReservationRequest{Itinerary: testRequest().Itinerary},
		ReleaseAt: clock.Now().Add(time.Hour),
	})
	if err == nil {
		t.Error("request without assignments accepted")
	}

	task, err := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if task.State != domain.TaskPending {
		t.Errorf("state = %s, want pending", task.State)
	}
	if task.LeadTime != 5*time.Minute {
		t.Errorf("lead time = %s, want default 5m", task.LeadTime)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want default 3", task.MaxAttempts)
	}
	if task.ID == "" {
		t.Error("task ID not assigned")
	}
}

func TestDueOrdering(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock})

	// All three become due immediately: release within the lead window.
	low, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Minute), Priority: 1})
	highLate, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(2 * time.Minute), Priority: 5})
	highEarly, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Minute), Priority: 5})
	// Not yet in its pre-warm window.
	far, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Hour), Priority: 9})

	s.mu.Lock()
	due := s.dueLocked(clock.Now())
	s.mu.Unlock()

	if len(due) != 3 {
		t.Fatalf("due = %d tasks, want 3", len(due))
	}
	gotIDs := []string{due[0].task.ID, due[1].task.ID, due[2].task.ID}
	wantIDs := []string{highEarly.ID, highLate.ID, low.ID}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("due[%d] = %s, want %s", i, gotIDs[i], wantIDs[i])
		}
	}
	for _, ent := range due {
		if ent.task.ID == far.ID {
			t.Error("task outside its pre-warm window promoted")
		}
	}
}

func TestPromotionRunsTaskToCompletion(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	sim := agent.NewSimAgent(agent.SimConfig{})
	s := New(Config{Agent: sim, Clock: clock, AuthTimeout: time.Second})

	task, err := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.State == domain.TaskCompleted
	})

	got, _ := s.GetTask(task.ID)
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
	if got.Result != "success" {
		t.Errorf("result = %q", got.Result)
	}

	// Promotion is one-shot: later scans must not re-run the pipeline.
	time.Sleep(50 * time.Millisecond)
	auths := 0
	for _, c := range sim.Calls() {
		if c == "authenticate" {
			auths++
		}
	}
	if auths != 1 {
		t.Errorf("authenticate calls = %d, want 1", auths)
	}
}

func TestCancelTask(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock})

	if _, err := s.CancelTask("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task: err = %v, want ErrNotFound", err)
	}

	task, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Hour)})

	ok, err := s.CancelTask(task.ID)
	if err != nil || !ok {
		t.Fatalf("cancel pending = (%v, %v), want (true, nil)", ok, err)
	}
	got, _ := s.GetTask(task.ID)
	if got.State != domain.TaskCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}

	// Idempotent.
	ok, err = s.CancelTask(task.ID)
	if err != nil || !ok {
		t.Errorf("repeat cancel = (%v, %v), want (true, nil)", ok, err)
	}

	// Other terminal states refuse.
	s.mu.Lock()
	s.entries["finished"] = &entry{task: &domain.Task{ID: "finished", State: domain.TaskCompleted}}
	s.mu.Unlock()
	ok, err = s.CancelTask("finished")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cancelling a completed task reported success")
	}
}

func TestReapRetainsRecentTerminals(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock})

	s.mu.Lock()
	s.entries["old"] = &entry{task: &domain.Task{
		ID: "old", State: domain.TaskFailed, FinishedAt: clock.Now().Add(-25 * time.Hour),
	}}
	s.entries["recent"] = &entry{task: &domain.Task{
		ID: "recent", State: domain.TaskCompleted, FinishedAt: clock.Now().Add(-time.Hour),
	}}
	s.mu.Unlock()

	s.scan(context.Background())

	if _, err := s.GetTask("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old terminal task not reaped: err = %v", err)
	}
	if _, err := s.GetTask("recent"); err != nil {
		t.Errorf("recent terminal task reaped early: %v", err)
	}
}

func TestListStatisticsNextRelease(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock})

	a, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(2 * time.Hour), Priority: 1})
	b, _ := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Hour), Priority: 3})
	s.CancelTask(a.ID)

	list := s.ListTasks()
	if len(list) != 2 {
		t.Fatalf("list = %d tasks, want 2", len(list))
	}
	if list[0].ID != b.ID {
		t.Errorf("list[0] = %s, want higher-priority %s", list[0].ID, b.ID)
	}

	stats := s.Statistics()
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.ByState[domain.TaskPending] != 1 || stats.ByState[domain.TaskCancelled] != 1 {
		t.Errorf("by_state = %v", stats.ByState)
	}

	next, ok := s.NextReleaseAt()
	if !ok {
		t.Fatal("no next release reported")
	}
	if !next.Equal(b.ReleaseAt) {
		t.Errorf("next release = %v, want %v (cancelled task must not count)", next, b.ReleaseAt)
	}

	// Mutating a snapshot must not touch the scheduler's copy.
	list[0].State = domain.TaskFailed
	got, _ := s.GetTask(b.ID)
	if got.State != domain.TaskPending {
		t.Error("ListTasks leaked an aliased task")
	}
}

func TestStopCancelsAllNonTerminalTasks(t *testing.T) {
	sim := agent.NewSimAgent(agent.SimConfig{})
	var terminals atomic.Int32
	s := New(Config{
		Agent:             sim,
		AuthTimeout:       time.Second,
		ShutdownTimeout:   2 * time.Second,
		OnTerminalFailure: func(*domain.Task) { terminals.Add(1) },
	})

	// Real clock: the first task pre-warms for an hour and is mid-wait when
	// the scheduler shuts down; the second is weeks from its window and
	// never promoted.
	running, err := s.AddTask(TaskSpec{
		Request:   testRequest(),
		ReleaseAt: time.Now().Add(time.Hour),
		LeadTime:  2 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	pending, err := s.AddTask(TaskSpec{
		Request:   testRequest(),
		ReleaseAt: time.Now().Add(20 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(running.ID)
		return err == nil && got.State == domain.TaskPreWarming
	})

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	for _, id := range []string{running.ID, pending.ID} {
		got, err := s.GetTask(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != domain.TaskCancelled {
			t.Errorf("task %s state = %s, want cancelled", id, got.State)
		}
		if got.LastError != "" {
			t.Errorf("task %s last error = %q, want none", id, got.LastError)
		}
		if got.FinishedAt.IsZero() {
			t.Errorf("task %s has no finish time", id)
		}
	}
	if n := terminals.Load(); n != 0 {
		t.Errorf("terminal failure callbacks = %d, want 0 for a shutdown", n)
	}
}

// stuckAgent ignores its context during login, standing in for a wedged
// upstream service.
type stuckAgent struct {
	*agent.SimAgent
	entered chan struct{}
	release chan struct{}
}

func (a *stuckAgent) Authenticate(context.Context, time.Duration) (agent.Session, error) {
	close(a.entered)
	<-a.release
	return nil, errors.New("connection closed")
}

func TestStopTimeoutReportsSentinel(t *testing.T) {
	sim := &stuckAgent{
		SimAgent: agent.NewSimAgent(agent.SimConfig{}),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	defer close(sim.release)
	s := New(Config{Agent: sim, AuthTimeout: time.Second, ShutdownTimeout: 30 * time.Millisecond})

	_, err := s.AddTask(TaskSpec{
		Request:   testRequest(),
		ReleaseAt: time.Now().Add(time.Hour),
		LeadTime:  2 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sim.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached authentication")
	}

	if err := s.Stop(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("stop err = %v, want ErrShutdownTimeout", err)
	}
}

func TestPauseSuspendsPromotion(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	s := New(Config{Agent: agent.NewSimAgent(agent.SimConfig{}), Clock: clock, AuthTimeout: time.Second})

	task, err := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	s.Pause()
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	got, _ := s.GetTask(task.ID)
	if got.State != domain.TaskPending {
		t.Fatalf("task promoted while paused: %s", got.State)
	}
	if !s.Statistics().Paused {
		t.Error("statistics do not report the pause")
	}

	s.Resume()
	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.State == domain.TaskCompleted
	})
}

func TestZeroTimingDefaultsToTieredRefreshes(t *testing.T) {
	clock := timing.NewFakeClock(time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC))
	sim := agent.NewSimAgent(agent.SimConfig{})
	s := New(Config{Agent: sim, Clock: clock, AuthTimeout: time.Second})

	if s.cfg.Timing.Tiers == nil {
		t.Fatal("refresh tiers not defaulted")
	}

	task, err := s.AddTask(TaskSpec{Request: testRequest(), ReleaseAt: clock.Now().Add(40 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.State == domain.TaskCompleted
	})

	refreshes := 0
	for _, c := range sim.Calls() {
		if c == "refresh_inventory" {
			refreshes++
		}
	}
	if refreshes < 2 {
		t.Errorf("refresh calls = %d, want tiered pre-warm refreshes", refreshes)
	}
}
