package actor

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/internal/calendar"
)

// Controller is the experimenter-facing actor: it issues demand (ticket),
// extend, and close requests against brokers (and, for unbrokered
// resources, directly against authorities) reached through its
// PeerRegistry, and tracks each reservation's redeem-eligible start cycle
// in its ClientCalendar.pending list so it knows when to follow a granted
// ticket with a redeem.
type Controller struct {
	Base

	calendar *calendar.ClientCalendar

	brokerMu sync.Mutex
	brokers  map[reservation.ID]kernel.PeerProxy

	gen      sync.Mutex
	nextGen  map[reservation.ID]int64
	targetOf map[reservation.ID]reservation.ID
}

// NewController constructs a Controller.
func NewController(id reservation.ID, name string, deps Deps) *Controller {
	c := &Controller{
		Base:     newBase(id, name, deps),
		calendar: calendar.NewClientCalendar(deps.Clock),
		brokers:  make(map[reservation.ID]kernel.PeerProxy),
		nextGen:  make(map[reservation.ID]int64),
		targetOf: make(map[reservation.ID]reservation.ID),
	}
	c.self = c
	return c
}

// Calendar exposes the controller's calendar façade.
func (c *Controller) Calendar() *calendar.ClientCalendar { return c.calendar }

// RegisterBroker binds a broker guid (as known to c.registry) to the
// PeerProxy used to reach it.
func (c *Controller) RegisterBroker(brokerID reservation.ID, proxy kernel.PeerProxy) {
	c.brokerMu.Lock()
	c.brokers[brokerID] = proxy
	c.brokerMu.Unlock()
}

func (c *Controller) proxyFor(brokerID reservation.ID) (kernel.PeerProxy, bool) {
	c.brokerMu.Lock()
	defer c.brokerMu.Unlock()
	p, ok := c.brokers[brokerID]
	return p, ok
}

func (c *Controller) nextGeneration(id reservation.ID) int64 {
	c.gen.Lock()
	defer c.gen.Unlock()
	g := c.nextGen[id] + 1
	c.nextGen[id] = g
	return g
}

// Demand creates a new reservation and submits it to brokerID. It is executed
// synchronously on the controller's own goroutine and returns once the
// ticket request has been sent — not once it has been granted, since
// granting happens asynchronously via the broker's own tick and the
// resulting callback into HandleTicketReply. Any predecessors given gate the
// eventual redeem: the reservation is not redeemed until every one of them
// is Active, re-evaluated on each tick.
func (c *Controller) Demand(ctx context.Context, brokerID, sourceID, sliceID reservation.ID, resourceType string, units int64, term reservation.Term, predecessors ...reservation.ID) (reservation.ID, error) {
	proxy, ok := c.proxyFor(brokerID)
	if !ok {
		return reservation.ID{}, unknownReservationErr(brokerID)
	}

	result, err := c.Execute(ctx, func() (interface{}, error) {
		r, err := reservation.NewReservation(sliceID, reservation.CategoryClient,
			reservation.NewResourceSet(resourceType, units), term)
		if err != nil {
			return reservation.ID{}, err
		}
		for _, pred := range predecessors {
			if err := r.AddPredecessor(pred); err != nil {
				return reservation.ID{}, err
			}
		}
		if err := r.Demand(); err != nil {
			return reservation.ID{}, err
		}
		c.trackReservation(r)
		c.targetOf[r.ID()] = brokerID
		_ = c.persistReservation(ctx, r)

		key := kernel.IdempotencyKey{ReservationID: r.ID(), Generation: c.nextGeneration(r.ID())}
		reply, err := proxy.Ticket(ctx, kernel.TicketRequest{
			Key:           key,
			ReservationID: r.ID(),
			SliceID:       sliceID,
			ResourceType:  resourceType,
			Units:         units,
			Term:          term,
		})
		if err != nil {
			_ = r.TicketFailed(err.Error(), time.Now())
			_ = c.persistReservation(ctx, r)
			return r.ID(), err
		}
		_ = reply
		return r.ID(), nil
	})
	if err != nil {
		id, _ := result.(reservation.ID)
		return id, err
	}
	return result.(reservation.ID), nil
}

// HandleTicketReply completes a demand once the broker's tick has processed
// the request and granted (or denied) a ticket, scheduling the reservation
// onto the pending list for its redeem-eligible start cycle.
func (c *Controller) HandleTicketReply(ctx context.Context, reply kernel.TicketReply) error {
	_, err := c.Execute(ctx, func() (interface{}, error) {
		r, ok := c.GetReservation(reply.Key.ReservationID)
		if !ok {
			return nil, unknownReservationErr(reply.Key.ReservationID)
		}
		now := time.Now()
		if reply.Err != nil {
			return nil, r.TicketFailed(reply.Err.Error(), now)
		}
		if err := r.TicketOK(reply.Term, r.Requested(), now); err != nil {
			return nil, err
		}
		c.calendar.AddPending(r, c.clock.CycleOfDate(reply.Term.NewStart))
		return nil, c.persistReservation(ctx, r)
	})
	return err
}

// ExtendEndTime submits a ticket-extension request for r to its broker.
func (c *Controller) ExtendEndTime(ctx context.Context, reservationID reservation.ID, newEnd time.Time) error {
	_, err := c.Execute(ctx, func() (interface{}, error) {
		r, ok := c.GetReservation(reservationID)
		if !ok {
			return nil, unknownReservationErr(reservationID)
		}
		brokerID := c.targetOf[r.ID()]
		proxy, ok := c.proxyFor(brokerID)
		if !ok {
			return nil, unknownReservationErr(brokerID)
		}
		extended, err := r.ApprovedTerm().ExtendTo(newEnd)
		if err != nil {
			return nil, err
		}
		if err := r.ExtendTicket(); err != nil {
			return nil, err
		}
		key := kernel.IdempotencyKey{ReservationID: r.ID(), Generation: c.nextGeneration(r.ID())}
		reply, err := proxy.ExtendTicket(ctx, kernel.TicketRequest{
			Key:           key,
			ReservationID: r.ID(),
			Term:          extended,
			ResourceType:  r.Requested().ResourceType,
			Units:         r.Requested().Units,
		})
		if err != nil {
			_ = r.ExtendTicketFailed(err.Error(), time.Now())
			return nil, err
		}
		_ = reply
		return nil, c.persistReservation(ctx, r)
	})
	return err
}

// Close submits a close request for r to its broker.
func (c *Controller) Close(ctx context.Context, reservationID reservation.ID) error {
	_, err := c.Execute(ctx, func() (interface{}, error) {
		r, ok := c.GetReservation(reservationID)
		if !ok {
			return nil, unknownReservationErr(reservationID)
		}
		brokerID := c.targetOf[r.ID()]
		proxy, ok := c.proxyFor(brokerID)
		if !ok {
			return nil, unknownReservationErr(brokerID)
		}
		now := time.Now()
		if err := r.Close(now); err != nil {
			return nil, err
		}
		key := kernel.IdempotencyKey{ReservationID: r.ID(), Generation: c.nextGeneration(r.ID())}
		if _, err := proxy.Close(ctx, kernel.CloseRequest{Key: key, ReservationID: r.ID()}); err != nil {
			return nil, err
		}
		_ = r.CloseOK(now)
		c.calendar.Remove(r)
		return nil, c.persistReservation(ctx, r)
	})
	return err
}

// ActorTick implements events.Tickable: at each cycle, every reservation
// scheduled on the pending list whose start cycle has arrived is redeemed
// against its broker — unless a predecessor gate holds it back, in which
// case it stays on the pending list and satisfaction is re-evaluated on the
// next tick.
func (c *Controller) ActorTick(ctx context.Context, cycle int64) {
	now := c.clock.Date(cycle)

	for _, r := range c.calendar.Pending(cycle) {
		c.calendar.RemovePending(r)
		if !c.redeem(ctx, r, now) {
			c.calendar.AddPending(r, cycle+1)
		}
	}

	for _, r := range c.ListReservations() {
		if r.AutoCloseIfExpired(now) {
			_ = c.persistReservation(ctx, r)
		}
	}

	c.calendar.Tick(cycle)
}

// predecessorsSatisfied reports whether every predecessor of r is Active in
// this controller's own records.
func (c *Controller) predecessorsSatisfied(r *reservation.Reservation) bool {
	return r.PredecessorsSatisfied(func(id reservation.ID) bool {
		pred, ok := c.GetReservation(id)
		return ok && pred.State() == reservation.StateActive
	})
}

// redeem issues (or re-issues, for a recovered in-flight redeem) the redeem
// call for r. It reports false when a predecessor gate held the redeem back,
// so the caller keeps r scheduled; any other outcome — sent, failed, or
// rejected — is final for this tick and reports true. The primed lease
// arrives later through HandleRedeemReply; the reservation parks in
// Redeeming until then.
func (c *Controller) redeem(ctx context.Context, r *reservation.Reservation, now time.Time) bool {
	brokerID := c.targetOf[r.ID()]
	proxy, ok := c.proxyFor(brokerID)
	if !ok {
		c.logError(ctx, "no proxy for reservation's broker", unknownReservationErr(brokerID),
			map[string]interface{}{"reservation_id": r.ID().String()})
		return true
	}
	switch r.Pending() {
	case reservation.PendingNone:
		if !c.predecessorsSatisfied(r) {
			return false
		}
		if err := r.Redeem(now, true); err != nil {
			c.logError(ctx, "redeem rejected locally", err, map[string]interface{}{"reservation_id": r.ID().String()})
			return true
		}
	case reservation.PendingRedeeming:
		// Crash-recovered mid-redeem: re-send without re-entering the state
		// machine; the idempotency key collapses the retry at the peer.
	default:
		return true
	}
	key := kernel.IdempotencyKey{ReservationID: r.ID(), Generation: c.nextGeneration(r.ID())}
	if _, err := proxy.Redeem(ctx, kernel.RedeemRequest{
		Key:           key,
		ReservationID: r.ID(),
		SliceID:       r.SliceID(),
		ResourceType:  r.Approved().ResourceType,
		Units:         r.Approved().Units,
		Term:          r.ApprovedTerm(),
	}); err != nil {
		_ = r.RedeemFailed(err.Error(), now)
		_ = c.persistReservation(ctx, r)
		return true
	}
	_ = c.persistReservation(ctx, r)
	return true
}

// HandleRedeemReply completes a redeem once the authority's own tick has
// primed (or failed) the lease, mirroring HandleTicketReply on the ticket
// leg: the reservation leaves Redeeming, runs its local join/prime advance,
// and lands in holdings as Active.
func (c *Controller) HandleRedeemReply(ctx context.Context, reply kernel.RedeemReply) error {
	_, err := c.Execute(ctx, func() (interface{}, error) {
		r, ok := c.GetReservation(reply.Key.ReservationID)
		if !ok {
			return nil, unknownReservationErr(reply.Key.ReservationID)
		}
		now := time.Now()
		if reply.Err != nil {
			if err := r.RedeemFailed(reply.Err.Error(), now); err != nil {
				return nil, err
			}
			return nil, c.persistReservation(ctx, r)
		}
		if err := r.RedeemOK(); err != nil {
			return nil, err
		}
		if err := r.AdvanceJoinState(reservation.JoinDone); err != nil {
			return nil, err
		}
		if err := r.PrimeDone(reply.Term, r.Approved(), now); err != nil {
			return nil, err
		}
		if err := c.calendar.AddHolding(r, reply.Term.Start.UnixMilli(), reply.Term.End.UnixMilli()); err != nil {
			_ = r.FailWithException("holding placement failed", err, now)
		}
		return nil, c.persistReservation(ctx, r)
	})
	return err
}

// Recover runs the controller's startup recovery sequence:
// replay persisted reservations, rebuild holdings/pending
// placement from each one's (state, pending), then re-submit any protocol
// call still outstanding.
func (c *Controller) Recover(ctx context.Context) error {
	if err := c.Revisit(ctx, c.placeInCalendar); err != nil {
		return err
	}
	for _, err := range c.RestartConfigurationActions(ctx, c.resumePending) {
		c.logError(ctx, "restart configuration action failed", err, nil)
	}
	return nil
}

func (c *Controller) placeInCalendar(r *reservation.Reservation) {
	switch {
	case r.State() == reservation.StateActive:
		_ = c.calendar.AddHolding(r, r.Term().Start.UnixMilli(), r.Term().End.UnixMilli())
	case r.State() == reservation.StateTicketed:
		c.calendar.AddPending(r, c.clock.CycleOfDate(r.ApprovedTerm().NewStart))
	}
}

// resumePending re-drives a redeem that was in flight at crash time; a
// still-pending ticket request naturally resolves once the broker replies,
// since the controller never owned that half of the exchange.
func (c *Controller) resumePending(ctx context.Context, r *reservation.Reservation) error {
	if r.Pending() != reservation.PendingRedeeming {
		return nil
	}
	c.redeem(ctx, r, time.Now())
	return nil
}
