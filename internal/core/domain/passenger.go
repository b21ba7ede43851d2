package domain

import "fmt"

// SeatClass is the class of service requested for one passenger.
type SeatClass string

const (
	SeatSecondClass SeatClass = "second_class"
	SeatFirstClass  SeatClass = "first_class"
	SeatBusiness    SeatClass = "business"
	SeatHardSeat    SeatClass = "hard_seat"
	SeatSoftSeat    SeatClass = "soft_seat"
	SeatNoSeat      SeatClass = "no_seat"
	SeatHardSleeper SeatClass = "hard_sleeper"
	SeatSoftSleeper SeatClass = "soft_sleeper"
)

// knownSeatClasses is the resolvable set; assignments outside it are rejected
// before scheduling.
var knownSeatClasses = map[SeatClass]bool{
	SeatSecondClass: true,
	SeatFirstClass:  true,
	SeatBusiness:    true,
	SeatHardSeat:    true,
	SeatSoftSeat:    true,
	SeatNoSeat:      true,
	SeatHardSleeper: true,
	SeatSoftSleeper: true,
}

// Sleeper reports whether the class has berth positions to pick.
func (s SeatClass) Sleeper() bool {
	return s == SeatHardSleeper || s == SeatSoftSleeper
}

// BerthPref is the preferred berth position for sleeper classes.
type BerthPref string

const (
	BerthUpper  BerthPref = "upper"
	BerthMiddle BerthPref = "middle"
	BerthLower  BerthPref = "lower"
	BerthNone   BerthPref = ""
)

// FareKind is the fare category of a ticket.
type FareKind string

const (
	FareAdult   FareKind = "adult"
	FareChild   FareKind = "child"
	FareStudent FareKind = "student"
)

// Passenger identifies one beneficiary of a reservation.
type Passenger struct {
	Name     string `json:"name"`
	IDNumber string `json:"id_number"`
}

// Validate checks the identity fields needed to ticket this passenger.
func (p Passenger) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("passenger: name is required")
	}
	if p.IDNumber == "" {
		return fmt.Errorf("passenger: ID number is required for %s", p.Name)
	}
	return nil
}

// Assignment binds a passenger to the attributes required for one itinerary.
type Assignment struct {
	Passenger Passenger `json:"passenger"`
	SeatClass SeatClass `json:"seat_class"`
	Berth     BerthPref `json:"berth,omitempty"`
	Fare      FareKind  `json:"fare"`
}

// Validate checks the assignment references a real passenger and a
// resolvable class of service.
func (a Assignment) Validate() error {
	if a.Passenger.Name == "" {
		return fmt.Errorf("assignment: passenger name is required")
	}
	if !knownSeatClasses[a.SeatClass] {
		return fmt.Errorf("assignment: unknown seat class %q for %s", a.SeatClass, a.Passenger.Name)
	}
	return nil
}

// ReservationRequest is one itinerary plus the passengers to book on it.
// It is the immutable payload of a Task.
type ReservationRequest struct {
	Itinerary   Itinerary    `json:"itinerary"`
	Assignments []Assignment `json:"assignments"`
}

// Validate rejects requests that cannot possibly be booked: an invalid
// itinerary, zero assignments, or any unresolvable assignment.
func (r ReservationRequest) Validate() error {
	if err := r.Itinerary.Validate(); err != nil {
		return err
	}
	if len(r.Assignments) == 0 {
		return fmt.Errorf("request: at least one passenger assignment is required")
	}
	for _, a := range r.Assignments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}
