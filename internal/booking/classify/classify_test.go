package classify

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    Category
	}{
		{"connection refused by remote host", CategoryNetwork},
		{"request timeout after 30s", CategoryNetwork},
		{"session expired, please login", CategoryAuthentication},
		{"invalid password", CategoryAuthentication},
		{"captcha required", CategoryVerification},
		{"verification challenge shown", CategoryVerification},
		{"no ticket: sold out", CategoryNoInventory},
		{"item unavailable: ticket not available", CategoryNoInventory},
		{"seat class rejected", CategorySeatConflict},
		{"lower berth not offered", CategorySeatConflict},
		{"passenger assignment rejected: Li Lei", CategoryPassengerData},
		{"id number mismatch", CategoryPassengerData},
		{"order submit rejected", CategorySubmission},
		{"payment declined", CategoryPayment},
		{"internal server error", CategorySystem},
		{"something odd happened", CategoryUnknown},
		{"", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := Classify(tt.message); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	// Contains both network and authentication keywords; network is checked
	// first in rule order.
	if got := Classify("connection lost during login"); got != CategoryNetwork {
		t.Errorf("got %s, want %s", got, CategoryNetwork)
	}
}

func TestDefaultActions(t *testing.T) {
	tests := []struct {
		cat  Category
		want Action
	}{
		{CategoryNetwork, ActionRetry},
		{CategoryAuthentication, ActionManualFallback},
		{CategoryVerification, ActionManualFallback},
		{CategoryNoInventory, ActionWaitThenRetry},
		{CategorySeatConflict, ActionChangeStrategy},
		{CategoryPassengerData, ActionManualFallback},
		{CategorySubmission, ActionRetry},
		{CategoryPayment, ActionManualFallback},
		{CategorySystem, ActionAbortAll},
		{CategoryUnknown, ActionRetry},
	}
	for _, tt := range tests {
		if got := DefaultAction(tt.cat); got != tt.want {
			t.Errorf("DefaultAction(%s) = %s, want %s", tt.cat, got, tt.want)
		}
	}
}

func TestDecideOverride(t *testing.T) {
	override := func(cat Category, message string) Action {
		return ActionSkipTask
	}
	if got := Decide(CategoryNetwork, "connection reset", override); got != ActionSkipTask {
		t.Errorf("override ignored: got %s", got)
	}
	if got := Decide(CategoryNetwork, "connection reset", nil); got != ActionRetry {
		t.Errorf("nil override: got %s, want %s", got, ActionRetry)
	}
}

func TestDecidePanickingOverrideFallsBack(t *testing.T) {
	override := func(cat Category, message string) Action {
		panic("broken decision function")
	}
	if got := Decide(CategorySystem, "internal error", override); got != ActionAbortAll {
		t.Errorf("panicking override: got %s, want table default %s", got, ActionAbortAll)
	}
}

func TestRetryable(t *testing.T) {
	for _, cat := range []Category{CategoryAuthentication, CategoryVerification, CategoryPassengerData, CategorySystem} {
		if Retryable(cat) {
			t.Errorf("%s must not be retryable", cat)
		}
	}
	for _, cat := range []Category{CategoryNetwork, CategoryNoInventory, CategorySeatConflict, CategorySubmission, CategoryPayment, CategoryUnknown} {
		if !Retryable(cat) {
			t.Errorf("%s should be retryable", cat)
		}
	}
}

func TestWaitFor(t *testing.T) {
	if got := WaitFor(CategoryNoInventory); got != 30*time.Second {
		t.Errorf("WaitFor(no_inventory) = %v", got)
	}
	if got := WaitFor(CategoryPayment); got != defaultWait {
		t.Errorf("WaitFor(payment) = %v, want default %v", got, defaultWait)
	}
}

func TestTally(t *testing.T) {
	tally := NewTally()
	tally.Record(CategoryNetwork)
	tally.Record(CategoryNetwork)
	tally.Record(CategoryUnknown)

	snap := tally.Snapshot()
	if snap[CategoryNetwork] != 2 || snap[CategoryUnknown] != 1 {
		t.Errorf("snapshot = %v", snap)
	}

	// Snapshot must be a copy.
	snap[CategoryNetwork] = 99
	if tally.Snapshot()[CategoryNetwork] != 2 {
		t.Error("snapshot aliases internal state")
	}
}
