package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gearay/dingpiao/internal/core/domain"
)

// SimConfig scripts the behavior of a SimAgent.
type SimConfig struct {
	// AuthDelay is how long Authenticate blocks before succeeding. When it
	// exceeds the caller's timeout the authentication times out instead.
	AuthDelay time.Duration

	// SelectFailures is how many SelectItem calls fail with
	// ErrItemUnavailable before one succeeds.
	SelectFailures int

	// FailAssign names a passenger whose attribute assignment fails.
	FailAssign string

	// SubmitError and ConfirmError, when non-empty, fail the respective
	// stage with that message.
	SubmitError  string
	ConfirmError string

	// Remaining is the seat count reported by inventory refreshes.
	Remaining int
}

// SimAgent is a deterministic in-process Agent for dry runs and tests. It
// stands in for the browser-driving agent, which is out of scope here.
type SimAgent struct {
	cfg SimConfig

	mu          sync.Mutex
	selectFails int
	calls       []string
}

// NewSimAgent creates a scripted agent.
func NewSimAgent(cfg SimConfig) *SimAgent {
	return &SimAgent{cfg: cfg}
}

// Calls returns the ordered stage calls made so far.
func (a *SimAgent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *SimAgent) record(stage string) {
	a.mu.Lock()
	a.calls = append(a.calls, stage)
	a.mu.Unlock()
}

type simSession struct {
	id string
}

func (s *simSession) ID() string   { return s.id }
func (s *simSession) Close() error { return nil }

// Authenticate waits for the scripted delay, bounded by timeout.
func (a *SimAgent) Authenticate(ctx context.Context, timeout time.Duration) (Session, error) {
	a.record("authenticate")
	if a.cfg.AuthDelay > timeout {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, ErrAuthenticationTimeout
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.cfg.AuthDelay):
	}
	return &simSession{id: uuid.New().String()}, nil
}

// RefreshInventory reports the scripted inventory state.
func (a *SimAgent) RefreshInventory(ctx context.Context, s Session, it domain.Itinerary) (*InventorySnapshot, error) {
	a.record("refresh_inventory")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &InventorySnapshot{
		TakenAt:   time.Now(),
		Listed:    true,
		Remaining: a.cfg.Remaining,
	}, nil
}

// SelectItem fails the scripted number of times, then succeeds.
func (a *SimAgent) SelectItem(ctx context.Context, s Session, it domain.Itinerary) error {
	a.record("select_item")
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selectFails < a.cfg.SelectFailures {
		a.selectFails++
		return ErrItemUnavailable
	}
	return nil
}

// AssignAttributes fails for the scripted passenger, succeeds otherwise.
func (a *SimAgent) AssignAttributes(ctx context.Context, s Session, asg domain.Assignment) error {
	a.record("assign:" + asg.Passenger.Name)
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.cfg.FailAssign != "" && asg.Passenger.Name == a.cfg.FailAssign {
		return fmt.Errorf("%w: %s", ErrAttributeAssignment, asg.Passenger.Name)
	}
	return nil
}

// Submit fails with the scripted error, if any.
func (a *SimAgent) Submit(ctx context.Context, s Session) error {
	a.record("submit")
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.cfg.SubmitError != "" {
		return errors.New(a.cfg.SubmitError)
	}
	return nil
}

// Confirm fails with the scripted error, if any.
func (a *SimAgent) Confirm(ctx context.Context, s Session) error {
	a.record("confirm")
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.cfg.ConfirmError != "" {
		return errors.New(a.cfg.ConfirmError)
	}
	return nil
}

// Cancel is a no-op for the simulated agent.
func (a *SimAgent) Cancel(s Session) {
	a.record("cancel")
}
