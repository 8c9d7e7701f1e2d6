// Package actor implements the three control-plane roles — Authority,
// Broker, Controller — as event-processor-driven state machines: each owns
// one calendar façade, one kernel.Store, one events.Processor goroutine, and
// is advanced exclusively by ticks (domain/policy decisions inside) and
// inbound protocol calls serialized onto that same goroutine.
package actor

import (
	"context"
	"sync"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/policy"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/internal/clock"
	"github.com/R3E-Network/testbed-control-plane/internal/events"
)

// Base is the common machinery every actor role embeds: identity, clock,
// event processor, store, and the in-memory reservation/slice index kept in
// sync with it. Role types (Authority, Broker, Controller) add their own
// calendar façade and tick logic on top.
type Base struct {
	id     reservation.ID
	name   string
	clock  *clock.ActorClock
	logger *logging.Logger

	processor *events.Processor
	store     kernel.Store
	registry  *registry.PeerRegistry
	policy    policy.Policy
	concrete  kernel.ConcreteSetPort

	// self is the role-specific value (Authority/Broker/Controller) that
	// satisfies events.Tickable with this actor's own actor_tick. Go has no
	// virtual dispatch from an embedded base back to the embedding type, so
	// the concrete constructor sets it explicitly once at construction.
	self events.Tickable

	mu           sync.Mutex
	reservations map[reservation.ID]*reservation.Reservation
	slices       map[reservation.ID]*reservation.Slice

	cycleMu   sync.Mutex
	lastCycle int64
}

// Deps bundles the collaborators every actor role is constructed with.
type Deps struct {
	Clock    *clock.ActorClock
	Logger   *logging.Logger
	Store    kernel.Store
	Registry *registry.PeerRegistry
	Policy   policy.Policy
	Concrete kernel.ConcreteSetPort
}

func newBase(id reservation.ID, name string, deps Deps) Base {
	concrete := deps.Concrete
	if concrete == nil {
		concrete = kernel.DefaultConcreteSetPort{}
	}
	return Base{
		id:           id,
		name:         name,
		clock:        deps.Clock,
		logger:       deps.Logger,
		processor:    events.NewProcessor(name, deps.Logger),
		store:        deps.Store,
		registry:     deps.Registry,
		policy:       deps.Policy,
		concrete:     concrete,
		reservations: make(map[reservation.ID]*reservation.Reservation),
		slices:       make(map[reservation.ID]*reservation.Slice),
	}
}

// ID returns the actor's own identity (its GUID as a peer).
func (b *Base) ID() reservation.ID { return b.id }

// Name returns the actor's configured name, used for logging and tick-
// service registration.
func (b *Base) Name() string { return b.name }

// Start launches the actor's event-processor goroutine. Call once, after
// Recover.
func (b *Base) Start() error { return b.processor.Start() }

// Stop halts the actor's event-processor goroutine: the in-flight event
// completes and every event still queued is discarded.
func (b *Base) Stop() { b.processor.Stop() }

// ExternalTick satisfies tick.Tickable: the tick service calls this from its
// own fan-out goroutine, and it does nothing but hand the cycle to the
// actor's own single-goroutine processor, which runs the role's actor_tick
// in order with every other event already queued.
func (b *Base) ExternalTick(ctx context.Context, cycle int64) {
	b.noteCycle(cycle)
	b.processor.EnqueueTick(b.self, cycle)
}

func (b *Base) noteCycle(cycle int64) {
	b.cycleMu.Lock()
	if cycle > b.lastCycle {
		b.lastCycle = cycle
	}
	b.cycleMu.Unlock()
}

// currentCycle is the most recent cycle delivered to this actor (zero before
// the first tick). Inbound handlers schedule calendar work at this cycle so
// the next actor_tick — whatever its number — picks it up as due.
func (b *Base) currentCycle() int64 {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()
	return b.lastCycle
}

// Execute runs fn synchronously on the actor's own goroutine, used by
// inbound protocol handlers and management calls so every mutation of actor
// state is serialized through the same processor a tick would use.
func (b *Base) Execute(ctx context.Context, fn events.Runnable) (interface{}, error) {
	return b.processor.ExecuteSync(ctx, fn)
}

func (b *Base) trackReservation(r *reservation.Reservation) {
	b.mu.Lock()
	b.reservations[r.ID()] = r
	b.mu.Unlock()
}

func (b *Base) untrackReservation(id reservation.ID) {
	b.mu.Lock()
	delete(b.reservations, id)
	b.mu.Unlock()
}

// GetReservation returns the actor's local record of a reservation by id.
func (b *Base) GetReservation(id reservation.ID) (*reservation.Reservation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reservations[id]
	return r, ok
}

// ListReservations returns a snapshot of every reservation this actor
// currently tracks.
func (b *Base) ListReservations() []*reservation.Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*reservation.Reservation, 0, len(b.reservations))
	for _, r := range b.reservations {
		out = append(out, r)
	}
	return out
}

func (b *Base) trackSlice(s *reservation.Slice) {
	b.mu.Lock()
	b.slices[s.ID()] = s
	b.mu.Unlock()
}

// GetSlice returns the actor's local record of a slice by id.
func (b *Base) GetSlice(id reservation.ID) (*reservation.Slice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slices[id]
	return s, ok
}

// ListSlices returns a snapshot of every slice this actor currently tracks.
func (b *Base) ListSlices() []*reservation.Slice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*reservation.Slice, 0, len(b.slices))
	for _, s := range b.slices {
		out = append(out, s)
	}
	return out
}

// persistReservation writes r through to the store, wrapping a failure as a
// fatal ServiceError per the error taxonomy's store-failure kind.
func (b *Base) persistReservation(ctx context.Context, r *reservation.Reservation) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.PutReservation(ctx, r); err != nil {
		return cperrors.StoreFailure("put_reservation", err)
	}
	return nil
}

func (b *Base) persistSlice(ctx context.Context, s *reservation.Slice) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.PutSlice(ctx, s); err != nil {
		return cperrors.StoreFailure("put_slice", err)
	}
	return nil
}

func (b *Base) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if b.logger != nil {
		b.logger.Info(ctx, msg, fields)
	}
}

func (b *Base) logError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if b.logger != nil {
		b.logger.Error(ctx, msg, err, fields)
	}
}
