package classify

import (
	"strings"
	"sync"
	"time"
)

// Category buckets a pipeline error by its probable cause.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryVerification   Category = "verification_challenge"
	CategoryNoInventory    Category = "no_inventory"
	CategorySeatConflict   Category = "attribute_conflict"
	CategoryPassengerData  Category = "beneficiary_data"
	CategorySubmission     Category = "submission"
	CategoryPayment        Category = "payment"
	CategorySystem         Category = "system"
	CategoryUnknown        Category = "unknown"
)

// Action is the default recovery for a category.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionManualFallback Action = "fall_back_to_manual"
	ActionSkipTask       Action = "skip_task"
	ActionAbortAll       Action = "abort_all"
	ActionWaitThenRetry  Action = "wait_then_retry"
	ActionChangeStrategy Action = "change_strategy"
)

// DecisionFunc lets a caller override the default action table. A nil func
// or a panicking func falls back to the table.
type DecisionFunc func(cat Category, message string) Action

// rule is one ordered keyword predicate. First match wins.
type rule struct {
	cat      Category
	keywords []string
}

// rules are checked in order; CategoryUnknown is the fallback.
var rules = []rule{
	{CategoryNetwork, []string{"network", "connection", "unreachable", "dns", "timeout"}},
	{CategoryAuthentication, []string{"login", "authentication", "username", "password", "session"}},
	{CategoryVerification, []string{"captcha", "verification", "challenge"}},
	{CategoryNoInventory, []string{"no ticket", "sold out", "not available", "unavailable"}},
	{CategorySeatConflict, []string{"seat", "berth", "class of service"}},
	{CategoryPassengerData, []string{"passenger", "id card", "id number", "identity"}},
	{CategorySubmission, []string{"submit", "order"}},
	{CategoryPayment, []string{"payment", "billing", "pay"}},
	{CategorySystem, []string{"system", "server", "internal"}},
}

// defaultActions is the recovery table; overridable per call via DecisionFunc.
var defaultActions = map[Category]Action{
	CategoryNetwork:        ActionRetry,
	CategoryAuthentication: ActionManualFallback,
	CategoryVerification:   ActionManualFallback,
	CategoryNoInventory:    ActionWaitThenRetry,
	CategorySeatConflict:   ActionChangeStrategy,
	CategoryPassengerData:  ActionManualFallback,
	CategorySubmission:     ActionRetry,
	CategoryPayment:        ActionManualFallback,
	CategorySystem:         ActionAbortAll,
	CategoryUnknown:        ActionRetry,
}

// categoryWaits is the wait applied before retrying under ActionWaitThenRetry.
var categoryWaits = map[Category]time.Duration{
	CategoryNetwork:      10 * time.Second,
	CategoryNoInventory:  30 * time.Second,
	CategorySeatConflict: 5 * time.Second,
	CategorySubmission:   15 * time.Second,
	CategoryUnknown:      10 * time.Second,
}

const defaultWait = 5 * time.Second

// nonRetryable categories terminate the firing loop even with attempts left.
var nonRetryable = map[Category]bool{
	CategoryAuthentication: true,
	CategoryVerification:   true,
	CategoryPassengerData:  true,
	CategorySystem:         true,
}

// Classify assigns an error message to exactly one category.
func Classify(message string) Category {
	m := strings.ToLower(message)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(m, kw) {
				return r.cat
			}
		}
	}
	return CategoryUnknown
}

// DefaultAction returns the table action for a category.
func DefaultAction(cat Category) Action {
	if a, ok := defaultActions[cat]; ok {
		return a
	}
	return ActionRetry
}

// Decide returns the recovery action, consulting the override first.
func Decide(cat Category, message string, override DecisionFunc) (action Action) {
	action = DefaultAction(cat)
	if override == nil {
		return action
	}
	defer func() {
		// A broken override must not take the task down with it.
		if recover() != nil {
			action = DefaultAction(cat)
		}
	}()
	return override(cat, message)
}

// WaitFor returns the category-specific wait for wait-then-retry recovery.
func WaitFor(cat Category) time.Duration {
	if d, ok := categoryWaits[cat]; ok {
		return d
	}
	return defaultWait
}

// Retryable reports whether the firing loop may retry this category.
func Retryable(cat Category) bool {
	return !nonRetryable[cat]
}

// Suggestions returns short remediation hints surfaced with failed tasks.
func Suggestions(cat Category) []string {
	switch cat {
	case CategoryNetwork:
		return []string{"check the network connection", "retry shortly"}
	case CategoryAuthentication:
		return []string{"log in again manually", "verify account credentials"}
	case CategoryVerification:
		return []string{"complete the verification challenge manually"}
	case CategoryNoInventory:
		return []string{"try another train or date", "try another seat class"}
	case CategorySeatConflict:
		return []string{"pick a different seat class or berth"}
	case CategoryPassengerData:
		return []string{"check passenger name and ID number", "register the passenger on the account"}
	case CategorySubmission:
		return []string{"review the order details", "retry shortly"}
	case CategoryPayment:
		return []string{"check the payment method and balance"}
	case CategorySystem:
		return []string{"wait for the remote service to recover"}
	default:
		return []string{"inspect the recorded error"}
	}
}

// Tally counts classified failures per category.
type Tally struct {
	mu     sync.Mutex
	counts map[Category]int
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[Category]int)}
}

// Record increments the count for a category.
func (t *Tally) Record(cat Category) {
	t.mu.Lock()
	t.counts[cat]++
	t.mu.Unlock()
}

// Snapshot returns a copy of the per-category counts.
func (t *Tally) Snapshot() map[Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Category]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
