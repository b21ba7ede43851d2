package domain

import "fmt"

// Itinerary describes the slot a task is after: one train on one route
// and travel date. It is built once by the caller and never mutated.
type Itinerary struct {
	TrainNumber      string `json:"train_number"`
	DepartureStation string `json:"departure_station"`
	ArrivalStation   string `json:"arrival_station"`
	TravelDate       string `json:"travel_date"` // YYYY-MM-DD
}

// Validate checks that all fields required to locate the slot are present.
func (i Itinerary) Validate() error {
	if i.TrainNumber == "" {
		return fmt.Errorf("itinerary: train number is required")
	}
	if i.DepartureStation == "" || i.ArrivalStation == "" {
		return fmt.Errorf("itinerary: both endpoint stations are required")
	}
	if i.TravelDate == "" {
		return fmt.Errorf("itinerary: travel date is required")
	}
	return nil
}

// String renders the itinerary for logs.
func (i Itinerary) String() string {
	return fmt.Sprintf("%s %s→%s %s", i.TrainNumber, i.DepartureStation, i.ArrivalStation, i.TravelDate)
}
