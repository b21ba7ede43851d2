package domain

import "time"

// SavedRequest is a reservation request template kept in the roster store.
// The control layer schedules still-future templates at startup.
type SavedRequest struct {
	ID          string             `json:"id"`
	Request     ReservationRequest `json:"request"`
	ReleaseAt   time.Time          `json:"release_at"`
	LeadTimeSec int64              `json:"lead_time_sec"`
	MaxAttempts int                `json:"max_attempts"`
	Priority    int                `json:"priority"`
	CreatedAt   time.Time          `json:"created_at"`
}
