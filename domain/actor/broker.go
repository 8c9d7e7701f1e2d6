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

// Broker intermediates between controllers and an authority: it admits or
// denies ticket requests against the outlays it has itself been granted by
// its upstream source (one SourceCalendar per source reservation), and
// forwards redeem/extend-lease/close calls through to that source once a
// ticket has matured into a redeem attempt.
type Broker struct {
	Base

	calendar     *calendar.BrokerCalendar
	upstream     kernel.PeerProxy
	resourceType string
	notify       kernel.TicketNotifier

	sourcesMu      sync.Mutex
	sourceCapacity map[reservation.ID]int64
	reservationSrc map[reservation.ID]reservation.ID
	reservationKey map[reservation.ID]kernel.IdempotencyKey
}

// NewBroker constructs a Broker that forwards redeem/lease traffic to
// upstream (its authority or parent broker proxy).
func NewBroker(id reservation.ID, name, resourceType string, upstream kernel.PeerProxy, deps Deps) *Broker {
	b := &Broker{
		Base:           newBase(id, name, deps),
		calendar:       calendar.NewBrokerCalendar(deps.Clock),
		upstream:       upstream,
		resourceType:   resourceType,
		sourceCapacity: make(map[reservation.ID]int64),
		reservationSrc: make(map[reservation.ID]reservation.ID),
		reservationKey: make(map[reservation.ID]kernel.IdempotencyKey),
	}
	b.self = b
	return b
}

// SetNotifier wires the callback a ticket grant (or denial) is reported
// through once the broker's own tick has settled it. In a single-process
// deployment this is typically the demanding Controller itself; across
// processes it's a kernel.HTTPTicketNotifier pointed at that controller's
// own HTTP surface. Leaving it nil is valid — HandleTicketReply is simply
// never invoked, and callers must otherwise poll reservation state.
func (b *Broker) SetNotifier(n kernel.TicketNotifier) {
	b.notify = n
}

func (b *Broker) setKeyOf(reservationID reservation.ID, key kernel.IdempotencyKey) {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	b.reservationKey[reservationID] = key
}

func (b *Broker) keyOf(reservationID reservation.ID) kernel.IdempotencyKey {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	return b.reservationKey[reservationID]
}

func (b *Broker) setSourceOf(reservationID, sourceID reservation.ID) {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	b.reservationSrc[reservationID] = sourceID
}

func (b *Broker) sourceOf(reservationID reservation.ID) reservation.ID {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	return b.reservationSrc[reservationID]
}

func (b *Broker) clearSourceOf(reservationID reservation.ID) {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	delete(b.reservationSrc, reservationID)
	delete(b.reservationKey, reservationID)
}

// Calendar exposes the broker's calendar façade.
func (b *Broker) Calendar() *calendar.BrokerCalendar { return b.calendar }

// AddSource registers an upstream source reservation this broker has been
// granted, establishing the SourceCalendar that subsequent ticket requests
// against sourceID draw outlays from. totalUnits is the ticket quantity the
// broker itself holds from its own upstream.
func (b *Broker) AddSource(sourceID reservation.ID, totalUnits int64) {
	b.calendar.Source(sourceID)
	b.sourcesMu.Lock()
	b.sourceCapacity[sourceID] = totalUnits
	b.sourcesMu.Unlock()
}

func (b *Broker) capacityOf(sourceID reservation.ID) int64 {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	return b.sourceCapacity[sourceID]
}

// HandleTicket is the inbound half of kernel.PeerProxy.Ticket: a controller
// asking the broker to admit a new reservation request against a named
// source. It's scheduled onto the broker's requests list for the current
// cycle rather than processed inline, so ordering against other same-cycle
// work (extensions, closes) stays deterministic through actor_tick.
func (b *Broker) HandleTicket(ctx context.Context, sourceID reservation.ID, req kernel.TicketRequest) (kernel.TicketReply, error) {
	result, err := b.Execute(ctx, func() (interface{}, error) {
		r, ok := b.GetReservation(req.ReservationID)
		if !ok {
			var cerr error
			r, cerr = reservation.NewReservationWithID(req.ReservationID, req.SliceID, reservation.CategoryBroker,
				reservation.NewResourceSet(req.ResourceType, req.Units), req.Term)
			if cerr != nil {
				return kernel.TicketReply{Key: req.Key}, cerr
			}
			b.setSourceOf(r.ID(), sourceID)
			b.trackReservation(r)
		}
		if err := r.Demand(); err != nil {
			return kernel.TicketReply{Key: req.Key}, err
		}
		b.setKeyOf(r.ID(), req.Key)
		b.calendar.AddRequest(r, b.currentCycle())
		_ = b.persistReservation(ctx, r)
		return kernel.TicketReply{Key: req.Key}, nil
	})
	if err != nil {
		return kernel.TicketReply{Key: req.Key, Err: err}, err
	}
	return result.(kernel.TicketReply), nil
}

// HandleExtendTicket is the inbound half of kernel.PeerProxy.ExtendTicket,
// scheduled onto the matching SourceCalendar's extending list.
func (b *Broker) HandleExtendTicket(ctx context.Context, req kernel.TicketRequest) (kernel.TicketReply, error) {
	result, err := b.Execute(ctx, func() (interface{}, error) {
		r, ok := b.GetReservation(req.ReservationID)
		if !ok {
			return kernel.TicketReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
		}
		if err := r.ExtendTicket(); err != nil {
			return kernel.TicketReply{Key: req.Key}, err
		}
		b.setKeyOf(r.ID(), req.Key)
		sourceID := b.sourceOf(r.ID())
		b.calendar.Source(sourceID).AddExtending(r, b.currentCycle())
		_ = b.persistReservation(ctx, r)
		return kernel.TicketReply{Key: req.Key}, nil
	})
	if err != nil {
		return kernel.TicketReply{Key: req.Key, Err: err}, err
	}
	return result.(kernel.TicketReply), nil
}

// HandleClose is the inbound half of kernel.PeerProxy.Close.
func (b *Broker) HandleClose(ctx context.Context, req kernel.CloseRequest) (kernel.CloseReply, error) {
	result, err := b.Execute(ctx, func() (interface{}, error) {
		r, ok := b.GetReservation(req.ReservationID)
		if !ok {
			return kernel.CloseReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
		}
		now := b.clock.Date(b.currentCycle())
		if err := r.Close(now); err != nil {
			return kernel.CloseReply{Key: req.Key}, err
		}
		b.calendar.AddClosing(r, b.currentCycle())
		_ = b.persistReservation(ctx, r)
		return kernel.CloseReply{Key: req.Key}, nil
	})
	if err != nil {
		return kernel.CloseReply{Key: req.Key, Err: err}, err
	}
	if b.upstream != nil {
		if _, uerr := b.upstream.Close(ctx, req); uerr != nil {
			b.logError(ctx, "upstream close forward failed", uerr, map[string]interface{}{"reservation_id": req.ReservationID.String()})
		}
	}
	return result.(kernel.CloseReply), nil
}

// HandleRedeem forwards a redeem request straight through to the broker's
// upstream authority. A broker only mediates the ticket protocol itself —
// once a ticket has matured into a redeem/lease exchange, it is a pure
// pass-through: ticketing is the broker's business, leasing the
// authority's.
func (b *Broker) HandleRedeem(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error) {
	if b.upstream == nil {
		return kernel.RedeemReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
	}
	return b.upstream.Redeem(ctx, req)
}

// HandleExtendLease forwards a lease-extension request to the broker's
// upstream authority, mirroring HandleRedeem.
func (b *Broker) HandleExtendLease(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error) {
	if b.upstream == nil {
		return kernel.RedeemReply{Key: req.Key}, unknownReservationErr(req.ReservationID)
	}
	return b.upstream.ExtendLease(ctx, req)
}

// ActorTick implements events.Tickable: inbound requests due this cycle,
// then per-source extension requests, then closings.
func (b *Broker) ActorTick(ctx context.Context, cycle int64) {
	now := b.clock.Date(cycle)

	for _, r := range b.calendar.Requests(cycle) {
		b.processRequest(ctx, r, now)
		b.calendar.RemoveRequest(r)
	}

	for _, r := range b.ListReservations() {
		if r.Pending() != reservation.PendingExtendingTicket {
			continue
		}
		src := b.sourceOf(r.ID())
		if !containsAtCycle(b.calendar.Source(src).Extending(cycle), r) {
			continue
		}
		b.processExtend(ctx, r, src, now)
		b.calendar.Source(src).RemoveExtending(r)
	}

	for _, r := range b.ListReservations() {
		if r.AutoCloseIfExpired(now) {
			b.calendar.AddClosing(r, cycle)
			_ = b.persistReservation(ctx, r)
		}
	}
	for _, r := range b.calendar.Closing(cycle) {
		_ = r.CloseOK(now)
		b.calendar.Remove(r)
		b.clearSourceOf(r.ID())
		_ = b.persistReservation(ctx, r)
	}

	b.calendar.Tick(cycle)
}

func containsAtCycle(rs []*reservation.Reservation, target *reservation.Reservation) bool {
	for _, r := range rs {
		if r.ID().Equal(target.ID()) {
			return true
		}
	}
	return false
}

func (b *Broker) processRequest(ctx context.Context, r *reservation.Reservation, now time.Time) {
	src := b.sourceOf(r.ID())
	view := b.calendar.Source(src)
	ticket, err := b.policy.Allocate(ctx, policy.AllocationRequest{
		ResourceType:  r.Requested().ResourceType,
		Units:         r.Requested().Units,
		Term:          r.RequestedTerm(),
		TotalCapacity: b.capacityOf(src),
	}, view, now)
	if err != nil {
		_ = r.TicketFailed(err.Error(), now)
		_ = b.persistReservation(ctx, r)
		b.notifyTicketReply(ctx, r.ID(), reservation.Term{}, err)
		return
	}
	if err := r.TicketOK(ticket.Term, ticket.Resources, now); err != nil {
		b.logError(ctx, "ticket_ok rejected", err, map[string]interface{}{"reservation_id": r.ID().String()})
		return
	}
	if err := view.AddOutlay(r, ticket.Term.Start.UnixMilli(), ticket.Term.End.UnixMilli()); err != nil {
		_ = r.FailWithException("outlay placement failed", err, now)
	}
	_ = b.persistReservation(ctx, r)
	b.notifyTicketReply(ctx, r.ID(), ticket.Term, nil)
}

// notifyTicketReply reports a settled ticket grant or denial to whichever
// actor is awaiting it, if a notifier has been wired at all — see
// SetNotifier.
func (b *Broker) notifyTicketReply(ctx context.Context, reservationID reservation.ID, term reservation.Term, ticketErr error) {
	if b.notify == nil {
		return
	}
	reply := kernel.TicketReply{Key: b.keyOf(reservationID), Term: term, Err: ticketErr}
	if err := b.notify.TicketReply(ctx, reply); err != nil {
		b.logError(ctx, "ticket reply notification failed", err, map[string]interface{}{"reservation_id": reservationID.String()})
	}
}

func (b *Broker) processExtend(ctx context.Context, r *reservation.Reservation, src reservation.ID, now time.Time) {
	view := b.calendar.Source(src)
	ticket, err := b.policy.Extend(ctx, r, policy.AllocationRequest{
		ResourceType:  r.Requested().ResourceType,
		Units:         r.Requested().Units,
		Term:          r.RequestedTerm(),
		TotalCapacity: b.capacityOf(src),
	}, view, now)
	if err != nil {
		_ = r.ExtendTicketFailed(err.Error(), now)
		_ = b.persistReservation(ctx, r)
		b.notifyTicketReply(ctx, r.ID(), reservation.Term{}, err)
		return
	}
	view.RemoveOutlay(r)
	if err := r.ExtendTicketOK(ticket.Term, ticket.Resources, now); err != nil {
		return
	}
	if err := view.AddOutlay(r, ticket.Term.Start.UnixMilli(), ticket.Term.End.UnixMilli()); err != nil {
		_ = r.FailWithException("outlay placement failed", err, now)
	}
	_ = b.persistReservation(ctx, r)
	b.notifyTicketReply(ctx, r.ID(), ticket.Term, nil)
}

// Recover runs the broker's startup recovery sequence:
// replay persisted reservations, rebuild each one's placement in the
// broker/client calendar from its (state, pending) alone, then re-submit
// any protocol call still outstanding against the upstream source.
func (b *Broker) Recover(ctx context.Context) error {
	if err := b.Revisit(ctx, b.placeInCalendar); err != nil {
		return err
	}
	for _, err := range b.RestartConfigurationActions(ctx, b.resumePending) {
		b.logError(ctx, "restart configuration action failed", err, nil)
	}
	return nil
}

func (b *Broker) placeInCalendar(r *reservation.Reservation) {
	src := b.sourceOf(r.ID())
	switch {
	case r.State() == reservation.StateActive || r.State() == reservation.StateActiveTicketed:
		_ = b.calendar.Source(src).AddOutlay(r, r.ApprovedTerm().Start.UnixMilli(), r.ApprovedTerm().End.UnixMilli())
	case r.State() == reservation.StateClosing:
		b.calendar.AddClosing(r, b.currentCycle())
	case r.Pending() == reservation.PendingTicketing:
		b.calendar.AddRequest(r, b.currentCycle())
	case r.Pending() == reservation.PendingExtendingTicket:
		b.calendar.Source(src).AddExtending(r, b.currentCycle())
	}
}

// resumePending at a broker has nothing to actively resume: a ticket or
// extension request already sits on the requests/extending list from
// placeInCalendar and settles on the next actor_tick.
func (b *Broker) resumePending(ctx context.Context, r *reservation.Reservation) error {
	return nil
}
