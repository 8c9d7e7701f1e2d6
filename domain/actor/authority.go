package actor

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/policy"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/internal/calendar"
)

// Authority owns the physical inventory of a resource type. Inbound redeem
// requests are ack'd and scheduled onto its AuthorityCalendar.requests list
// for the cycle they arrived in; its own actor_tick drains that list
// (admission, redeem, prime), then runs closing teardown and prunes outlays.
// The settled lease is reported back through the redeem-reply notifier.
type Authority struct {
	Base

	calendar      *calendar.AuthorityCalendar
	totalCapacity int64
	resourceType  string
	notify        kernel.RedeemNotifier

	keysMu    sync.Mutex
	redeemKey map[reservation.ID]kernel.IdempotencyKey
}

// NewAuthority constructs an Authority with totalCapacity units of
// resourceType to allocate.
func NewAuthority(id reservation.ID, name, resourceType string, totalCapacity int64, deps Deps) *Authority {
	a := &Authority{
		Base:          newBase(id, name, deps),
		calendar:      calendar.NewAuthorityCalendar(deps.Clock),
		totalCapacity: totalCapacity,
		resourceType:  resourceType,
		redeemKey:     make(map[reservation.ID]kernel.IdempotencyKey),
	}
	a.self = a
	return a
}

// Calendar exposes the authority's calendar façade, e.g. for api/http
// read-only queries.
func (a *Authority) Calendar() *calendar.AuthorityCalendar { return a.calendar }

// SetNotifier wires the callback a settled redeem (primed lease or failure)
// is reported through once the authority's own tick has processed the
// request. In a single-process deployment this is typically the demanding
// Controller itself; across processes it's a kernel.HTTPRedeemNotifier
// pointed at that controller's own HTTP surface. Leaving it nil is valid —
// callers must then poll reservation state.
func (a *Authority) SetNotifier(n kernel.RedeemNotifier) {
	a.notify = n
}

func (a *Authority) setRedeemKey(reservationID reservation.ID, key kernel.IdempotencyKey) {
	a.keysMu.Lock()
	defer a.keysMu.Unlock()
	a.redeemKey[reservationID] = key
}

func (a *Authority) redeemKeyOf(reservationID reservation.ID) kernel.IdempotencyKey {
	a.keysMu.Lock()
	defer a.keysMu.Unlock()
	return a.redeemKey[reservationID]
}

func (a *Authority) clearRedeemKey(reservationID reservation.ID) {
	a.keysMu.Lock()
	defer a.keysMu.Unlock()
	delete(a.redeemKey, reservationID)
}

// HandleRedeem is the inbound half of kernel.PeerProxy.Redeem: a broker (or
// controller, for an unbrokered authority) asking to turn a ticket into an
// active lease. The request is scheduled onto the authority's requests list
// and settled by the next actor_tick, so ordering against other same-cycle
// work stays deterministic; the reply here is an ack only, and the primed
// lease (or failure) is reported through the redeem-reply notifier.
func (a *Authority) HandleRedeem(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error) {
	result, err := a.Execute(ctx, func() (interface{}, error) {
		r, ok := a.GetReservation(req.ReservationID)
		if !ok {
			var cerr error
			r, cerr = reservation.NewReservationWithID(req.ReservationID, req.SliceID, reservation.CategoryAuthority,
				reservation.NewResourceSet(req.ResourceType, req.Units), req.Term)
			if cerr != nil {
				return kernel.RedeemReply{Key: req.Key}, cerr
			}
			a.trackReservation(r)
		}
		if r.State() == reservation.StateNascent && r.Pending() == reservation.PendingNone {
			if err := r.Demand(); err != nil {
				return kernel.RedeemReply{Key: req.Key}, err
			}
		}
		a.setRedeemKey(r.ID(), req.Key)
		a.calendar.AddRequest(r, a.currentCycle())
		_ = a.persistReservation(ctx, r)
		return kernel.RedeemReply{Key: req.Key}, nil
	})
	if err != nil {
		return kernel.RedeemReply{Key: req.Key, Err: err}, err
	}
	return result.(kernel.RedeemReply), nil
}

// processRequest settles one drained redeem request: policy admission for a
// fresh demand, the redeem/prime advance, and outlay placement. A recovered
// reservation re-enters here at whatever pending stage it crashed in
// (Ticketing, Redeeming, or Priming) and picks up from that stage.
func (a *Authority) processRequest(ctx context.Context, r *reservation.Reservation, cycle int64, now time.Time) {
	if r.Pending() == reservation.PendingTicketing {
		ticket, err := a.policy.Allocate(ctx, policy.AllocationRequest{
			ResourceType:  r.Requested().ResourceType,
			Units:         r.Requested().Units,
			Term:          r.RequestedTerm(),
			TotalCapacity: a.totalCapacity,
		}, a.calendar, now)
		if err != nil {
			_ = r.TicketFailed(err.Error(), now)
			_ = a.persistReservation(ctx, r)
			a.notifyRedeemReply(ctx, r.ID(), reservation.Term{}, err)
			return
		}
		if err := r.TicketOK(ticket.Term, ticket.Resources, now); err != nil {
			a.logError(ctx, "ticket_ok rejected", err, map[string]interface{}{"reservation_id": r.ID().String()})
			return
		}
	}

	if r.State() == reservation.StateTicketed && r.Pending() == reservation.PendingNone {
		if err := r.Redeem(now, true); err != nil {
			_ = a.persistReservation(ctx, r)
			a.notifyRedeemReply(ctx, r.ID(), reservation.Term{}, err)
			return
		}
	}
	if r.Pending() == reservation.PendingRedeeming {
		if err := r.RedeemOK(); err != nil {
			a.logError(ctx, "redeem_ok rejected", err, map[string]interface{}{"reservation_id": r.ID().String()})
			return
		}
	}
	if r.Pending() != reservation.PendingPriming {
		return
	}

	if err := a.prime(ctx, r, now); err != nil {
		_ = a.persistReservation(ctx, r)
		a.notifyRedeemReply(ctx, r.ID(), reservation.Term{}, err)
		return
	}
	if r.Pending() == reservation.PendingPriming {
		// Concrete probe not ready yet; try again next cycle.
		a.calendar.AddRequest(r, cycle+1)
		_ = a.persistReservation(ctx, r)
		return
	}

	if err := a.calendar.AddOutlay(r, r.Term().Start.UnixMilli(), r.Term().End.UnixMilli()); err != nil {
		_ = r.FailWithException("outlay placement failed", err, now)
		_ = a.persistReservation(ctx, r)
		a.notifyRedeemReply(ctx, r.ID(), reservation.Term{}, err)
		return
	}
	_ = a.persistReservation(ctx, r)
	a.notifyRedeemReply(ctx, r.ID(), r.Term(), nil)
}

// notifyRedeemReply reports a settled redeem to whichever actor is awaiting
// it, if a notifier has been wired at all — see SetNotifier.
func (a *Authority) notifyRedeemReply(ctx context.Context, reservationID reservation.ID, term reservation.Term, redeemErr error) {
	key := a.redeemKeyOf(reservationID)
	a.clearRedeemKey(reservationID)
	if a.notify == nil {
		return
	}
	reply := kernel.RedeemReply{Key: key, Term: term, Err: redeemErr}
	if err := a.notify.RedeemReply(ctx, reply); err != nil {
		a.logError(ctx, "redeem reply notification failed", err, map[string]interface{}{"reservation_id": reservationID.String()})
	}
}

// prime drives a redeeming reservation through Setup -> Probe -> Done
// against the bound concrete set.
func (a *Authority) prime(ctx context.Context, r *reservation.Reservation, now time.Time) error {
	if err := a.concrete.Setup(ctx, r); err != nil {
		_ = r.PrimeFailed(err.Error(), now)
		return err
	}
	if err := r.AdvanceJoinState(reservation.JoinProbe); err != nil {
		return err
	}
	ready, err := a.concrete.Probe(ctx, r)
	if err != nil {
		_ = r.PrimeFailed(err.Error(), now)
		return err
	}
	if !ready {
		return nil
	}
	if err := r.AdvanceJoinState(reservation.JoinDone); err != nil {
		return err
	}
	return r.PrimeDone(r.ApprovedTerm(), r.Approved(), now)
}

// HandleExtendLease is the inbound half of kernel.PeerProxy.ExtendLease.
func (a *Authority) HandleExtendLease(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error) {
	result, err := a.Execute(ctx, func() (interface{}, error) {
		now := a.clock.Date(a.currentCycle())
		r, ok := a.GetReservation(req.ReservationID)
		if !ok {
			return kernel.RedeemReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
		}
		if err := r.ExtendLease(); err != nil {
			return kernel.RedeemReply{Key: req.Key}, err
		}
		ticket, err := a.policy.Extend(ctx, r, policy.AllocationRequest{
			ResourceType:  a.resourceType,
			Units:         req.Units,
			Term:          req.Term,
			TotalCapacity: a.totalCapacity,
		}, a.calendar, now)
		if err != nil {
			_ = r.ExtendLeaseFailed(err.Error(), now)
			_ = a.persistReservation(ctx, r)
			return kernel.RedeemReply{Key: req.Key}, err
		}
		a.calendar.RemoveOutlay(r)
		if err := r.ExtendLeaseOK(ticket.Term, now); err != nil {
			return kernel.RedeemReply{Key: req.Key}, err
		}
		if err := a.calendar.AddOutlay(r, ticket.Term.Start.UnixMilli(), ticket.Term.End.UnixMilli()); err != nil {
			_ = r.FailWithException("outlay placement failed", err, now)
			_ = a.persistReservation(ctx, r)
			return kernel.RedeemReply{Key: req.Key}, err
		}
		if err := a.persistReservation(ctx, r); err != nil {
			return kernel.RedeemReply{Key: req.Key}, err
		}
		return kernel.RedeemReply{Key: req.Key, Term: r.Term()}, nil
	})
	if err != nil {
		return kernel.RedeemReply{Key: req.Key, Err: err}, err
	}
	return result.(kernel.RedeemReply), nil
}

// HandleClose is the inbound half of kernel.PeerProxy.Close: schedules the
// reservation for teardown on the authority's own closing list, processed
// by the next actor_tick rather than inline, matching the calendar's
// cycle-indexed closing semantics.
func (a *Authority) HandleClose(ctx context.Context, req kernel.CloseRequest) (kernel.CloseReply, error) {
	result, err := a.Execute(ctx, func() (interface{}, error) {
		r, ok := a.GetReservation(req.ReservationID)
		if !ok {
			return kernel.CloseReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
		}
		now := a.clock.Date(a.currentCycle())
		if err := r.Close(now); err != nil {
			return kernel.CloseReply{Key: req.Key}, err
		}
		a.calendar.AddClosing(r, a.currentCycle())
		_ = a.persistReservation(ctx, r)
		return kernel.CloseReply{Key: req.Key}, nil
	})
	if err != nil {
		return kernel.CloseReply{Key: req.Key, Err: err}, err
	}
	return result.(kernel.CloseReply), nil
}

// ActorTick implements events.Tickable: the authority's per-cycle pass over
// its calendar. Inbound redeem requests due this cycle are settled first,
// then expired leases are queued for teardown, then closings run, then
// outlays are pruned to the cycle's end.
func (a *Authority) ActorTick(ctx context.Context, cycle int64) {
	now := a.clock.Date(cycle)

	for _, r := range a.calendar.Requests(cycle) {
		a.calendar.RemoveRequest(r)
		a.processRequest(ctx, r, cycle, now)
	}

	for _, r := range a.ListReservations() {
		if r.AutoCloseIfExpired(now) {
			a.calendar.AddClosing(r, cycle)
			_ = a.persistReservation(ctx, r)
		}
	}

	for _, r := range a.calendar.Closing(cycle) {
		if err := a.concrete.Close(ctx, r); err != nil {
			_ = r.CloseFailed(err.Error(), now)
			a.logError(ctx, "concrete teardown failed", err, map[string]interface{}{"reservation_id": r.ID().String()})
		} else {
			_ = r.CloseOK(now)
		}
		a.calendar.Remove(r)
		_ = a.persistReservation(ctx, r)
	}

	a.calendar.Tick(cycle)
}

// Recover runs the authority's startup recovery sequence: replay persisted
// reservations and rebuild calendar placement from each one's
// (state, pending) alone. Call once at startup, before the actor registers
// with the tick service.
func (a *Authority) Recover(ctx context.Context) error {
	if err := a.Revisit(ctx, a.placeInCalendar); err != nil {
		return err
	}
	for _, err := range a.RestartConfigurationActions(ctx, a.resumePending) {
		a.logError(ctx, "restart configuration action failed", err, nil)
	}
	return nil
}

func (a *Authority) placeInCalendar(r *reservation.Reservation) {
	switch {
	case r.State() == reservation.StateActive:
		_ = a.calendar.AddOutlay(r, r.Term().Start.UnixMilli(), r.Term().End.UnixMilli())
	case r.State() == reservation.StateClosing:
		a.calendar.AddClosing(r, a.currentCycle())
	case r.Pending() == reservation.PendingTicketing,
		r.Pending() == reservation.PendingRedeeming,
		r.Pending() == reservation.PendingPriming:
		a.calendar.AddRequest(r, a.currentCycle())
	}
}

// resumePending at an authority has nothing to actively resume: a request
// that crashed mid-flight — whatever its pending stage — already sits back
// on the requests list from placeInCalendar, and the next actor_tick's
// processRequest picks it up from that stage.
func (a *Authority) resumePending(ctx context.Context, r *reservation.Reservation) error {
	return nil
}
