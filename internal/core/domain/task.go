package domain

import "time"

// TaskState is the lifecycle state of a booking task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskPreWarming TaskState = "pre_warming"
	TaskFiring     TaskState = "firing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskCancelled  TaskState = "cancelled"
)

// Terminal reports whether no further transitions or agent calls may occur.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is one reservation attempt for one itinerary and its passengers.
// The scheduler owns the collection; after promotion exactly one execution
// context mutates the bookkeeping fields.
type Task struct {
	ID          string             `json:"id"`
	Request     ReservationRequest `json:"request"`
	ReleaseAt   time.Time          `json:"release_at"`
	LeadTime    time.Duration      `json:"lead_time"`
	MaxAttempts int                `json:"max_attempts"`
	Priority    int                `json:"priority"`

	State         TaskState `json:"state"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
	Result        string    `json:"result,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// PreWarmAt returns the instant pre-warming should begin.
func (t *Task) PreWarmAt() time.Time {
	return t.ReleaseAt.Add(-t.LeadTime)
}

// Record is the flat serializable form of a Task, for host applications
// that persist or restore tasks.
type Record struct {
	ID               string       `json:"id"`
	TrainNumber      string       `json:"train_number"`
	DepartureStation string       `json:"departure_station"`
	ArrivalStation   string       `json:"arrival_station"`
	TravelDate       string       `json:"travel_date"`
	Assignments      []Assignment `json:"assignments"`
	ReleaseAt        time.Time    `json:"release_at"`
	LeadTimeSec      int64        `json:"lead_time_sec"`
	MaxAttempts      int          `json:"max_attempts"`
	Priority         int          `json:"priority"`
	State            TaskState    `json:"state"`
	AttemptCount     int          `json:"attempt_count"`
	LastError        string       `json:"last_error,omitempty"`
	ErrorCategory    string       `json:"error_category,omitempty"`
	Result           string       `json:"result,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ToRecord flattens the task.
func (t *Task) ToRecord() Record {
	return Record{
		ID:               t.ID,
		TrainNumber:      t.Request.Itinerary.TrainNumber,
		DepartureStation: t.Request.Itinerary.DepartureStation,
		ArrivalStation:   t.Request.Itinerary.ArrivalStation,
		TravelDate:       t.Request.Itinerary.TravelDate,
		Assignments:      t.Request.Assignments,
		ReleaseAt:        t.ReleaseAt,
		LeadTimeSec:      int64(t.LeadTime / time.Second),
		MaxAttempts:      t.MaxAttempts,
		Priority:         t.Priority,
		State:            t.State,
		AttemptCount:     t.AttemptCount,
		LastError:        t.LastError,
		ErrorCategory:    t.ErrorCategory,
		Result:           t.Result,
		CreatedAt:        t.CreatedAt,
	}
}

// TaskFromRecord rebuilds a Task from its flat form.
func TaskFromRecord(r Record) *Task {
	return &Task{
		ID: r.ID,
		Request: ReservationRequest{
			Itinerary: Itinerary{
				TrainNumber:      r.TrainNumber,
				DepartureStation: r.DepartureStation,
				ArrivalStation:   r.ArrivalStation,
				TravelDate:       r.TravelDate,
			},
			Assignments: r.Assignments,
		},
		ReleaseAt:     r.ReleaseAt,
		LeadTime:      time.Duration(r.LeadTimeSec) * time.Second,
		MaxAttempts:   r.MaxAttempts,
		Priority:      r.Priority,
		State:         r.State,
		AttemptCount:  r.AttemptCount,
		LastError:     r.LastError,
		ErrorCategory: r.ErrorCategory,
		Result:        r.Result,
		CreatedAt:     r.CreatedAt,
	}
}
