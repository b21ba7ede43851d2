package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/storage"
)

func TestRosterRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	roster := store.Roster()

	p := domain.Passenger{Name: "Zhang Wei", IDNumber: "110101199001011234"}
	if err := roster.UpsertPassenger(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := roster.GetPassenger(ctx, p.IDNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}

	// Upsert replaces by ID number.
	renamed := domain.Passenger{Name: "Zhang W.", IDNumber: p.IDNumber}
	if err := roster.UpsertPassenger(ctx, renamed); err != nil {
		t.Fatal(err)
	}
	list, err := roster.ListPassengers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Zhang W." {
		t.Errorf("list = %+v", list)
	}

	if err := roster.DeletePassenger(ctx, p.IDNumber); err != nil {
		t.Fatal(err)
	}
	if err := roster.DeletePassenger(ctx, p.IDNumber); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	if _, err := roster.GetPassenger(ctx, p.IDNumber); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRosterRejectsInvalidPassenger(t *testing.T) {
	store := NewStore()
	if err := store.Roster().UpsertPassenger(context.Background(), domain.Passenger{Name: "No ID"}); err == nil {
		t.Error("passenger without ID number accepted")
	}
}

func TestSavedRequestsOrderedByRelease(t *testing.T) {
	ctx := context.Background()
	requests := NewStore().Requests()

	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	request := domain.ReservationRequest{
		Itinerary: domain.Itinerary{
			TrainNumber:      "G101",
			DepartureStation: "Beijing South",
			ArrivalStation:   "Shanghai Hongqiao",
			TravelDate:       "2026-10-15",
		},
		Assignments: []domain.Assignment{
			{Passenger: domain.Passenger{Name: "Zhang Wei", IDNumber: "110101199001011234"}, SeatClass: domain.SeatSecondClass, Fare: domain.FareAdult},
		},
	}

	for _, s := range []struct {
		id      string
		release time.Time
	}{
		{"late", base.Add(2 * time.Hour)},
		{"early", base},
	} {
		err := requests.SaveRequest(ctx, domain.SavedRequest{ID: s.id, Request: request, ReleaseAt: s.release})
		if err != nil {
			t.Fatal(err)
		}
	}

	list, err := requests.ListRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "early" || list[1].ID != "late" {
		t.Errorf("list = %+v", list)
	}

	if err := requests.SaveRequest(ctx, domain.SavedRequest{ID: "bad"}); err == nil {
		t.Error("template with empty request accepted")
	}

	if err := requests.DeleteRequest(ctx, "late"); err != nil {
		t.Fatal(err)
	}
	if err := requests.DeleteRequest(ctx, "late"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestArchiveListNewestFirst(t *testing.T) {
	ctx := context.Background()
	archive := NewStore().Archive()

	base := time.Date(2026, 9, 17, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rec := domain.Record{
			ID:          id,
			TrainNumber: "G101",
			State:       domain.TaskCompleted,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := archive.SaveTask(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	list, err := archive.ListTasks(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("list = %+v", list)
	}

	// Re-saving updates in place without duplicating.
	if err := archive.SaveTask(ctx, domain.Record{ID: "a", State: domain.TaskFailed}); err != nil {
		t.Fatal(err)
	}
	all, _ := archive.ListTasks(ctx, 0)
	if len(all) != 3 {
		t.Errorf("len = %d after re-save, want 3", len(all))
	}
	got, err := archive.GetTask(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.TaskFailed {
		t.Errorf("state = %s after re-save", got.State)
	}

	if _, err := archive.GetTask(ctx, "zzz"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing task: err = %v, want ErrNotFound", err)
	}
}
