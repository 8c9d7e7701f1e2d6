package actor

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// wireBrokerProxy builds the kernel.PeerProxy a controller uses to reach
// broker, binding ticket/extend-ticket calls to the one source registered
// against sourceID and letting redeem/extend-lease/close calls fall through
// to whatever HandleRedeem/HandleExtendLease/HandleClose forward to.
func wireBrokerProxy(broker *Broker, sourceID reservation.ID) *kernel.InProcessProxy {
	return &kernel.InProcessProxy{
		TicketFn: func(ctx context.Context, req kernel.TicketRequest) (kernel.TicketReply, error) {
			return broker.HandleTicket(ctx, sourceID, req)
		},
		ExtendTicketFn: broker.HandleExtendTicket,
		RedeemFn:       broker.HandleRedeem,
		ExtendLeaseFn:  broker.HandleExtendLease,
		CloseFn:        broker.HandleClose,
	}
}

func wireAuthorityProxy(auth *Authority) *kernel.InProcessProxy {
	return &kernel.InProcessProxy{
		RedeemFn:      auth.HandleRedeem,
		ExtendLeaseFn: auth.HandleExtendLease,
		CloseFn:       auth.HandleClose,
	}
}

// controllerChain stands up a controller -> broker -> authority chain with
// the reply notifiers wired back to the controller, the same topology the
// three daemons form over HTTP.
func controllerChain(t *testing.T, deps Deps, capacity int64) (*Controller, *Broker, *Authority, reservation.ID, reservation.ID) {
	t.Helper()

	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", capacity, deps)
	if err := auth.Start(); err != nil {
		t.Fatalf("authority Start() error: %v", err)
	}
	t.Cleanup(auth.Stop)

	brokerID := reservation.NewID()
	sourceID := reservation.NewID()
	broker := NewBroker(brokerID, "broker-1", "vm", wireAuthorityProxy(auth), deps)
	if err := broker.Start(); err != nil {
		t.Fatalf("broker Start() error: %v", err)
	}
	t.Cleanup(broker.Stop)
	broker.AddSource(sourceID, capacity)

	controller := NewController(reservation.NewID(), "controller-1", deps)
	if err := controller.Start(); err != nil {
		t.Fatalf("controller Start() error: %v", err)
	}
	t.Cleanup(controller.Stop)
	controller.RegisterBroker(brokerID, wireBrokerProxy(broker, sourceID))

	broker.SetNotifier(kernel.TicketNotifierFunc(controller.HandleTicketReply))
	auth.SetNotifier(kernel.RedeemNotifierFunc(controller.HandleRedeemReply))

	return controller, broker, auth, brokerID, sourceID
}

func TestControllerDemandRedeemAndCloseAcrossThreeActors(t *testing.T) {
	deps := newTestDeps(t)
	controller, broker, auth, brokerID, sourceID := controllerChain(t, deps, 10)

	now := time.Unix(50_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))
	sliceID := reservation.NewID()

	resID, err := controller.Demand(context.Background(), brokerID, sourceID, sliceID, "vm", 3, term)
	if err != nil {
		t.Fatalf("Demand() error: %v", err)
	}

	cycle := deps.Clock.CycleOfDate(now)

	// The broker's tick settles the ticket request and reports the grant
	// back through the controller's HandleTicketReply notifier.
	broker.ExternalTick(context.Background(), cycle)
	waitUntil(t, time.Second, func() bool {
		r, ok := controller.GetReservation(resID)
		return ok && r.State() == reservation.StateTicketed
	})

	ctrlRes, _ := controller.GetReservation(resID)
	redeemCycle := deps.Clock.CycleOfDate(ctrlRes.ApprovedTerm().NewStart)
	controller.ExternalTick(context.Background(), redeemCycle)

	// The controller's tick sends the redeem; the authority acks it and its
	// own tick primes the lease, reported back through HandleRedeemReply.
	// Waiting for the authority to track the reservation guarantees the tick
	// enqueued next runs after the ack scheduled the request.
	waitUntil(t, time.Second, func() bool {
		_, ok := auth.GetReservation(resID)
		return ok
	})
	auth.ExternalTick(context.Background(), redeemCycle)

	waitUntil(t, 2*time.Second, func() bool {
		r, ok := controller.GetReservation(resID)
		return ok && r.State() == reservation.StateActive
	})

	ctrlRes, _ = controller.GetReservation(resID)
	if ctrlRes.Approved().Units != 3 {
		t.Fatalf("approved units = %d, want 3", ctrlRes.Approved().Units)
	}

	authRes, ok := auth.GetReservation(resID)
	if !ok {
		t.Fatal("authority should track the reservation redeemed through the broker")
	}
	if authRes.State() != reservation.StateActive {
		t.Fatalf("authority reservation state = %v, want Active", authRes.State())
	}

	if err := controller.Close(context.Background(), resID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	ctrlRes, _ = controller.GetReservation(resID)
	if ctrlRes.State() != reservation.StateClosed {
		t.Fatalf("controller reservation state after close = %v, want Closed", ctrlRes.State())
	}
}

// A reservation demanded with a predecessor must sit out redeem — staying
// Ticketed with nothing pending — until the predecessor is Active, and be
// picked up again on a later tick once it is.
func TestControllerPredecessorGatesRedeem(t *testing.T) {
	deps := newTestDeps(t)
	controller, broker, auth, brokerID, sourceID := controllerChain(t, deps, 10)

	now := time.Unix(50_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))
	sliceID := reservation.NewID()

	r1ID, err := controller.Demand(context.Background(), brokerID, sourceID, sliceID, "vm", 2, term)
	if err != nil {
		t.Fatalf("Demand(r1) error: %v", err)
	}
	r2ID, err := controller.Demand(context.Background(), brokerID, sourceID, sliceID, "vm", 1, term, r1ID)
	if err != nil {
		t.Fatalf("Demand(r2) error: %v", err)
	}

	cycle := deps.Clock.CycleOfDate(now)
	broker.ExternalTick(context.Background(), cycle)
	waitUntil(t, time.Second, func() bool {
		r1, ok1 := controller.GetReservation(r1ID)
		r2, ok2 := controller.GetReservation(r2ID)
		return ok1 && ok2 &&
			r1.State() == reservation.StateTicketed &&
			r2.State() == reservation.StateTicketed
	})

	// Both start cycles have arrived, but only r1 may redeem: r2's
	// predecessor is not Active yet, so it stays (Ticketed, None).
	redeemCycle := deps.Clock.CycleOfDate(now)
	controller.ExternalTick(context.Background(), redeemCycle)
	waitUntil(t, time.Second, func() bool {
		_, ok := auth.GetReservation(r1ID)
		return ok
	})
	r2, _ := controller.GetReservation(r2ID)
	if r2.State() != reservation.StateTicketed || r2.Pending() != reservation.PendingNone {
		t.Fatalf("gated r2 = (%v, %v), want (Ticketed, None)", r2.State(), r2.Pending())
	}

	// The authority settles r1; its Active state releases the gate on the
	// controller's next tick.
	auth.ExternalTick(context.Background(), redeemCycle)
	waitUntil(t, 2*time.Second, func() bool {
		r1, ok := controller.GetReservation(r1ID)
		return ok && r1.State() == reservation.StateActive
	})

	controller.ExternalTick(context.Background(), redeemCycle+1)
	waitUntil(t, time.Second, func() bool {
		_, ok := auth.GetReservation(r2ID)
		return ok
	})
	auth.ExternalTick(context.Background(), redeemCycle+1)
	waitUntil(t, 2*time.Second, func() bool {
		r2, ok := controller.GetReservation(r2ID)
		return ok && r2.State() == reservation.StateActive
	})
}

func TestControllerDemandFailsForUnregisteredBroker(t *testing.T) {
	deps := newTestDeps(t)
	controller := NewController(reservation.NewID(), "controller-1", deps)
	if err := controller.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer controller.Stop()

	now := time.Unix(50_000, 0).UTC()
	term := mustTerm(t, now, now.Add(time.Hour))

	_, err := controller.Demand(context.Background(), reservation.NewID(), reservation.NewID(), reservation.NewID(), "vm", 1, term)
	if err == nil {
		t.Fatal("Demand() against an unregistered broker should fail")
	}
}
