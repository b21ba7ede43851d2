package agent

import (
	"context"
	"errors"
	"time"

	"github.com/gearay/dingpiao/internal/core/domain"
)

// Sentinel errors the core inspects. Everything else an agent returns is
// opaque text fed to the failure classifier.
var (
	// ErrItemUnavailable means the specific slot the task wants is not listed.
	ErrItemUnavailable = errors.New("item unavailable: ticket not available")

	// ErrAuthenticationTimeout means the credential step did not complete
	// within the configured bound.
	ErrAuthenticationTimeout = errors.New("authentication timeout: login not completed")

	// ErrAttributeAssignment means the remote service rejected one
	// passenger's attribute assignment.
	ErrAttributeAssignment = errors.New("passenger attribute assignment rejected")
)

// Session is an authenticated conversation with the remote booking service.
// A session is owned exclusively by the execution context of one task.
type Session interface {
	// ID identifies the session for logs.
	ID() string

	// Close releases the session. Best effort.
	Close() error
}

// InventorySnapshot is the result of a lightweight inventory check.
type InventorySnapshot struct {
	TakenAt   time.Time `json:"taken_at"`
	Listed    bool      `json:"listed"`    // the wanted train appears in results
	Remaining int       `json:"remaining"` // seats left, -1 if unknown
}

// Agent performs the interactive acquisition stages against the remote
// service. How controls are located and driven is the agent's internal
// concern; the core only sequences the stages and interprets errors.
//
// All calls are synchronous. Implementations must honor ctx cancellation
// on network waits but may let an in-flight interaction finish.
type Agent interface {
	// Authenticate blocks until a credential step completes or the timeout
	// elapses, in which case it returns ErrAuthenticationTimeout.
	Authenticate(ctx context.Context, timeout time.Duration) (Session, error)

	// RefreshInventory re-issues the inventory query for the itinerary.
	RefreshInventory(ctx context.Context, s Session, it domain.Itinerary) (*InventorySnapshot, error)

	// SelectItem picks the wanted slot out of the listed inventory. Returns
	// ErrItemUnavailable when the slot is not listed.
	SelectItem(ctx context.Context, s Session, it domain.Itinerary) error

	// AssignAttributes applies one passenger's class of service, berth and
	// fare. Each passenger is assigned independently.
	AssignAttributes(ctx context.Context, s Session, a domain.Assignment) error

	// Submit places the order.
	Submit(ctx context.Context, s Session) error

	// Confirm finalizes the order.
	Confirm(ctx context.Context, s Session) error

	// Cancel aborts any in-progress interaction. Best effort.
	Cancel(s Session)
}
