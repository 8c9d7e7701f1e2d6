package calendar

import (
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

func newTestReservation(t *testing.T) *reservation.Reservation {
	t.Helper()
	now := time.Unix(0, 0).UTC()
	term, err := reservation.NewInitialTerm(now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewInitialTerm() error: %v", err)
	}
	r, err := reservation.NewReservation(reservation.NewID(), reservation.CategoryAuthority, reservation.NewResourceSet("vm", 1), term)
	if err != nil {
		t.Fatalf("NewReservation() error: %v", err)
	}
	return r
}

// TestHoldingsIntersection inserts six reservations with end cycles
// {5..10}, each spanning 5 cycles, and queries at points {0..12}.
func TestHoldingsIntersection(t *testing.T) {
	h := NewReservationHoldings()
	ends := []int64{5, 6, 7, 8, 9, 10}
	for _, end := range ends {
		r := newTestReservation(t)
		if err := h.Add(r, end-5, end); err != nil {
			t.Fatalf("Add(end=%d) error: %v", end, err)
		}
	}

	want := []int{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 0, 0}
	for point := int64(0); point <= 12; point++ {
		got := len(h.Get(point, ""))
		if got != want[point] {
			t.Errorf("Get(%d) size = %d, want %d", point, got, want[point])
		}
	}
}

// TestHoldingsTick checks that ticking the same population forward keeps
// list/map sizes and Size() in agreement.
func TestHoldingsTick(t *testing.T) {
	h := NewReservationHoldings()
	ends := []int64{5, 6, 7, 8, 9, 10}
	for _, end := range ends {
		r := newTestReservation(t)
		if err := h.Add(r, end-5, end); err != nil {
			t.Fatalf("Add(end=%d) error: %v", end, err)
		}
	}

	wantSize := map[int64]int{5: 5, 6: 4, 7: 3, 8: 2, 9: 1}
	for tickAt := int64(5); tickAt <= 9; tickAt++ {
		h.Tick(tickAt)
		if h.Size() != wantSize[tickAt] {
			t.Errorf("after Tick(%d): Size() = %d, want %d", tickAt, h.Size(), wantSize[tickAt])
		}
		if len(h.list) != h.Size() || len(h.byID) != h.Size() {
			t.Fatalf("after Tick(%d): list/map/size disagree: list=%d map=%d size=%d",
				tickAt, len(h.list), len(h.byID), h.Size())
		}
		for _, e := range h.list {
			if e.end <= tickAt {
				t.Errorf("Tick(%d) left an entry with end=%d", tickAt, e.end)
			}
		}
	}
}

func TestHoldingsAddRemoveAgreement(t *testing.T) {
	h := NewReservationHoldings()
	r := newTestReservation(t)
	if err := h.Add(r, 0, 10); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	h.Remove(r)
	if h.Size() != 0 || len(h.list) != 0 || len(h.byID) != 0 {
		t.Fatalf("after Add-then-Remove: list=%d map=%d size=%d, want all zero", len(h.list), len(h.byID), h.Size())
	}
	if len(h.Get(5, "")) != 0 {
		t.Error("Get() after removal should be empty")
	}
}

func TestHoldingsExtension(t *testing.T) {
	h := NewReservationHoldings()
	r := newTestReservation(t)
	if err := h.Add(r, 0, 10); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	// new_start = old_end + 1 succeeds and retains the original start.
	if err := h.Add(r, 11, 20); err != nil {
		t.Fatalf("extension with 1ms gap should succeed: %v", err)
	}
	if e := h.byID[r.ID()]; e.start != 0 || e.end != 20 {
		t.Errorf("after extension: start=%d end=%d, want start=0 end=20", e.start, e.end)
	}
}

func TestHoldingsExtensionGapRejected(t *testing.T) {
	h := NewReservationHoldings()
	r := newTestReservation(t)
	if err := h.Add(r, 0, 10); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := h.Add(r, 12, 20); err == nil {
		t.Fatal("extension with a >1ms gap should be rejected")
	}
}

func TestHoldingsBoundaryClosedInterval(t *testing.T) {
	h := NewReservationHoldings()
	r := newTestReservation(t)
	if err := h.Add(r, 5, 10); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if len(h.Get(5, "")) != 1 {
		t.Error("Get() at exact start should include the entry")
	}
	if len(h.Get(10, "")) != 1 {
		t.Error("Get() at exact end should include the entry")
	}
}

func TestHoldingsZeroReservationsEmptyQueries(t *testing.T) {
	h := NewReservationHoldings()
	if len(h.Get(0, "")) != 0 || len(h.GetAll()) != 0 || h.Size() != 0 {
		t.Error("queries against empty holdings should all return empty")
	}
}
