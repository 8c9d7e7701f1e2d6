package actor

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/store/memstore"
)

func captureRedeemReplies(auth *Authority) chan kernel.RedeemReply {
	replies := make(chan kernel.RedeemReply, 4)
	auth.SetNotifier(kernel.RedeemNotifierFunc(func(ctx context.Context, reply kernel.RedeemReply) error {
		replies <- reply
		return nil
	}))
	return replies
}

func TestAuthorityRedeemSettlesOnTick(t *testing.T) {
	deps := newTestDeps(t)
	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", 10, deps)
	replies := captureRedeemReplies(auth)
	if err := auth.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer auth.Stop()

	now := time.Unix(10_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))
	resID := reservation.NewID()

	reply, err := auth.HandleRedeem(context.Background(), kernel.RedeemRequest{
		Key:           kernel.IdempotencyKey{ReservationID: resID, Generation: 1},
		ReservationID: resID,
		SliceID:       reservation.NewID(),
		ResourceType:  "vm",
		Units:         4,
		Term:          term,
	})
	if err != nil {
		t.Fatalf("HandleRedeem() error: %v", err)
	}
	if !reply.Term.End.IsZero() {
		t.Fatalf("HandleRedeem() reply.Term = %+v, want an ack-only reply; the lease settles on the tick", reply.Term)
	}

	r, ok := auth.GetReservation(resID)
	if !ok {
		t.Fatal("authority should track the reservation once the redeem is scheduled")
	}
	if r.State() == reservation.StateActive {
		t.Fatal("reservation should not activate before the authority's tick drains the request")
	}

	auth.ExternalTick(context.Background(), deps.Clock.CycleOfDate(now))

	waitUntil(t, time.Second, func() bool {
		r, ok := auth.GetReservation(resID)
		return ok && r.State() == reservation.StateActive
	})
	if len(auth.Calendar().AllOutlays()) != 1 {
		t.Fatalf("AllOutlays() size = %d, want 1", len(auth.Calendar().AllOutlays()))
	}

	select {
	case settled := <-replies:
		if settled.Err != nil {
			t.Fatalf("settled.Err = %v, want nil on a granted lease", settled.Err)
		}
		if settled.Term.End.IsZero() {
			t.Fatalf("settled.Term = %+v, want the bound lease term", settled.Term)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for redeem reply notification")
	}
}

func TestAuthorityRedeemDeniedOverCapacity(t *testing.T) {
	deps := newTestDeps(t)
	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", 2, deps)
	replies := captureRedeemReplies(auth)
	if err := auth.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer auth.Stop()

	now := time.Unix(10_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))
	resID := reservation.NewID()

	if _, err := auth.HandleRedeem(context.Background(), kernel.RedeemRequest{
		Key:           kernel.IdempotencyKey{ReservationID: resID, Generation: 1},
		ReservationID: resID,
		ResourceType:  "vm",
		Units:         5,
		Term:          term,
	}); err != nil {
		t.Fatalf("HandleRedeem() error: %v", err)
	}

	auth.ExternalTick(context.Background(), deps.Clock.CycleOfDate(now))

	waitUntil(t, time.Second, func() bool {
		r, ok := auth.GetReservation(resID)
		return ok && r.State() == reservation.StateFailed
	})

	select {
	case settled := <-replies:
		if settled.Err == nil {
			t.Fatal("settled.Err should carry the denial for a request exceeding total capacity")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the denial notification")
	}
}

func TestAuthorityActorTickClosesExpiredLeases(t *testing.T) {
	deps := newTestDeps(t)
	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", 10, deps)
	if err := auth.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer auth.Stop()

	start := time.Unix(10_000, 0).UTC()
	term := mustTerm(t, start, start.Add(time.Second))
	resID := reservation.NewID()

	if _, err := auth.HandleRedeem(context.Background(), kernel.RedeemRequest{
		Key:           kernel.IdempotencyKey{ReservationID: resID, Generation: 1},
		ReservationID: resID,
		ResourceType:  "vm",
		Units:         1,
		Term:          term,
	}); err != nil {
		t.Fatalf("HandleRedeem() error: %v", err)
	}

	auth.ExternalTick(context.Background(), deps.Clock.CycleOfDate(start))
	waitUntil(t, time.Second, func() bool {
		r, ok := auth.GetReservation(resID)
		return ok && r.State() == reservation.StateActive
	})

	expiredCycle := deps.Clock.CycleOfDate(start.Add(2 * time.Hour))
	auth.ExternalTick(context.Background(), expiredCycle)

	waitUntil(t, time.Second, func() bool {
		r, ok := auth.GetReservation(resID)
		return ok && r.State() == reservation.StateClosed
	})
}

// A crash while a redeem is in flight leaves the persisted reservation
// parked in (Ticketed, Redeeming); recovery must put it back on the requests
// list so the next tick picks the redeem up from that stage rather than
// stranding it.
func TestAuthorityRecoverResumesInFlightRedeem(t *testing.T) {
	deps := newTestDeps(t)
	store := memstore.New()
	deps.Store = store

	now := time.Unix(10_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))
	requested := reservation.NewResourceSet("vm", 2)
	r, err := reservation.NewReservationWithID(reservation.NewID(), reservation.NewID(),
		reservation.CategoryAuthority, requested, term)
	if err != nil {
		t.Fatalf("NewReservationWithID() error: %v", err)
	}
	if err := r.Demand(); err != nil {
		t.Fatalf("Demand() error: %v", err)
	}
	if err := r.TicketOK(term, requested, now); err != nil {
		t.Fatalf("TicketOK() error: %v", err)
	}
	if err := r.Redeem(now, true); err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if err := store.PutReservation(context.Background(), r); err != nil {
		t.Fatalf("PutReservation() error: %v", err)
	}

	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", 10, deps)
	replies := captureRedeemReplies(auth)
	if err := auth.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if err := auth.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer auth.Stop()

	recovered, ok := auth.GetReservation(r.ID())
	if !ok {
		t.Fatal("authority should track the persisted reservation after Recover")
	}
	if recovered.Pending() != reservation.PendingRedeeming {
		t.Fatalf("recovered pending = %v, want Redeeming", recovered.Pending())
	}

	auth.ExternalTick(context.Background(), deps.Clock.CycleOfDate(now))

	waitUntil(t, time.Second, func() bool {
		got, ok := auth.GetReservation(r.ID())
		return ok && got.State() == reservation.StateActive
	})
	if len(auth.Calendar().AllOutlays()) != 1 {
		t.Fatalf("AllOutlays() size = %d, want 1 after the resumed redeem settles", len(auth.Calendar().AllOutlays()))
	}

	select {
	case settled := <-replies:
		if settled.Err != nil {
			t.Fatalf("settled.Err = %v, want nil for the resumed redeem", settled.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the resumed redeem's notification")
	}
}
