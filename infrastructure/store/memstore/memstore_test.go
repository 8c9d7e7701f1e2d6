package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

func TestPutGetReservationRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Unix(1_000, 0).UTC()
	term, err := reservation.NewInitialTerm(now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewInitialTerm() error: %v", err)
	}
	r, err := reservation.NewReservation(reservation.NewID(), reservation.CategoryClient,
		reservation.NewResourceSet("vm", 2), term)
	if err != nil {
		t.Fatalf("NewReservation() error: %v", err)
	}
	if err := r.Demand(); err != nil {
		t.Fatalf("Demand() error: %v", err)
	}

	if err := s.PutReservation(ctx, r); err != nil {
		t.Fatalf("PutReservation() error: %v", err)
	}

	got, err := s.GetReservation(ctx, r.ID())
	if err != nil {
		t.Fatalf("GetReservation() error: %v", err)
	}
	if got.ID() != r.ID() {
		t.Fatalf("ID = %v, want %v", got.ID(), r.ID())
	}
	if got.Pending() != reservation.PendingTicketing {
		t.Fatalf("Pending() = %v, want Ticketing", got.Pending())
	}

	all, err := s.ListReservations(ctx)
	if err != nil {
		t.Fatalf("ListReservations() error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListReservations() size = %d, want 1", len(all))
	}
}

func TestGetReservationMissingReturnsNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetReservation(context.Background(), reservation.NewID()); err == nil {
		t.Fatal("GetReservation() on an unknown id should error")
	}
}

func TestPutGetSliceRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	sl := reservation.NewSlice("slice-1", "alice")
	sl.Transition(reservation.SliceConfiguring)

	if err := s.PutSlice(ctx, sl); err != nil {
		t.Fatalf("PutSlice() error: %v", err)
	}
	got, err := s.GetSlice(ctx, sl.ID())
	if err != nil {
		t.Fatalf("GetSlice() error: %v", err)
	}
	if got.State() != reservation.SliceConfiguring {
		t.Fatalf("State() = %v, want Configuring", got.State())
	}
}

func TestPutGetBrokersRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	handle := registry.ProxyHandle{GUID: reservation.NewID(), Name: "broker-1", Endpoint: "http://broker:8080"}
	if err := s.PutBroker(ctx, handle); err != nil {
		t.Fatalf("PutBroker() error: %v", err)
	}

	brokers, err := s.GetBrokers(ctx)
	if err != nil {
		t.Fatalf("GetBrokers() error: %v", err)
	}
	if len(brokers) != 1 || brokers[0].Name != "broker-1" {
		t.Fatalf("GetBrokers() = %+v, want one handle named broker-1", brokers)
	}
}

func TestResetClearsAllData(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutBroker(ctx, registry.ProxyHandle{GUID: reservation.NewID(), Name: "broker-1"})
	s.Reset()

	brokers, err := s.GetBrokers(ctx)
	if err != nil {
		t.Fatalf("GetBrokers() error: %v", err)
	}
	if len(brokers) != 0 {
		t.Fatalf("GetBrokers() after Reset() = %+v, want empty", brokers)
	}
}
