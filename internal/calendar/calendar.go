package calendar

import (
	"sync"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/internal/clock"
)

// BaseCalendar holds the clock every façade ticks against. Subtypes embed it
// and extend Tick with their own indices.
type BaseCalendar struct {
	mu    sync.Mutex
	clock *clock.ActorClock
}

// NewBaseCalendar constructs a BaseCalendar bound to clk.
func NewBaseCalendar(clk *clock.ActorClock) BaseCalendar {
	return BaseCalendar{clock: clk}
}

// Tick is a no-op at the base level; façades call it first, then prune their
// own indices inside the same locked section.
func (b *BaseCalendar) Tick(cycle int64) {}

// ClientCalendar is the superclass of the broker- and controller-side
// calendars: the reservations I hold (Holdings) plus reservations pending an
// operation scheduled for a future start cycle (Pending).
type ClientCalendar struct {
	BaseCalendar
	holdings *ReservationHoldings
	pending  *ReservationList
}

// NewClientCalendar constructs a ClientCalendar bound to clk.
func NewClientCalendar(clk *clock.ActorClock) *ClientCalendar {
	return &ClientCalendar{
		BaseCalendar: NewBaseCalendar(clk),
		holdings:     NewReservationHoldings(),
		pending:      NewReservationList(),
	}
}

// AddHolding inserts r into the active-holdings interval index.
func (c *ClientCalendar) AddHolding(r *reservation.Reservation, startMs, endMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.Add(r, startMs, endMs)
}

// RemoveHolding removes r from the active-holdings index.
func (c *ClientCalendar) RemoveHolding(r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdings.Remove(r)
}

// Holdings returns reservations active at timeMs, optionally filtered by
// resource type.
func (c *ClientCalendar) Holdings(timeMs int64, resourceType string) []*reservation.Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.Get(timeMs, resourceType)
}

// AddPending schedules r for attention at cycle c (e.g. a redeem or extend
// attempt to retry once its start cycle arrives).
func (c *ClientCalendar) AddPending(r *reservation.Reservation, cycle int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Add(r, cycle)
}

// RemovePending removes r from the pending list.
func (c *ClientCalendar) RemovePending(r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Remove(r)
}

// Pending returns reservations whose scheduled cycle has arrived: everything
// at or before cycle c. A tick skipped by duplicate-collapse must not strand
// the work scheduled for it.
func (c *ClientCalendar) Pending(cycle int64) []*reservation.Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.GetAllUpTo(cycle)
}

// Remove drops r from every index this calendar maintains, in one critical
// section.
func (c *ClientCalendar) Remove(r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Remove(r)
	c.holdings.Remove(r)
}

// Tick advances the calendar to cycle c, pruning holdings and pending lists.
func (c *ClientCalendar) Tick(cycle int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Tick(cycle)
	c.holdings.Tick(c.clock.CycleEndMs(cycle))
}

// SourceCalendar tracks, per upstream source reservation held by a broker,
// the child allocations drawn from it (Outlays) and incoming extension
// requests against it (Extending). Not used standalone — owned by a
// BrokerCalendar entry in its Sources map.
type SourceCalendar struct {
	BaseCalendar
	outlays   *ReservationHoldings
	extending *ReservationList
}

// NewSourceCalendar constructs a SourceCalendar bound to clk.
func NewSourceCalendar(clk *clock.ActorClock) *SourceCalendar {
	return &SourceCalendar{
		BaseCalendar: NewBaseCalendar(clk),
		outlays:      NewReservationHoldings(),
		extending:    NewReservationList(),
	}
}

func (s *SourceCalendar) AddOutlay(r *reservation.Reservation, startMs, endMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outlays.Add(r, startMs, endMs)
}

func (s *SourceCalendar) RemoveOutlay(r *reservation.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlays.Remove(r)
}

func (s *SourceCalendar) Outlays(timeMs int64, resourceType string) []*reservation.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outlays.Get(timeMs, resourceType)
}

func (s *SourceCalendar) AddExtending(r *reservation.Reservation, cycle int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extending.Add(r, cycle)
}

func (s *SourceCalendar) RemoveExtending(r *reservation.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extending.Remove(r)
}

// Extending returns extension requests due at or before cycle c.
func (s *SourceCalendar) Extending(cycle int64) []*reservation.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extending.GetAllUpTo(cycle)
}

func (s *SourceCalendar) Tick(cycle int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extending.Tick(cycle)
	s.outlays.Tick(s.clock.CycleEndMs(cycle))
}

// BrokerCalendar is a ClientCalendar plus the broker-specific collections:
// reservations scheduled to close (Closing), incoming client requests
// (Requests), and one SourceCalendar per upstream source reservation.
type BrokerCalendar struct {
	*ClientCalendar
	closing  *ReservationList
	requests *ReservationList

	sourcesMu sync.Mutex
	sources   map[reservation.ID]*SourceCalendar
}

// NewBrokerCalendar constructs a BrokerCalendar bound to clk.
func NewBrokerCalendar(clk *clock.ActorClock) *BrokerCalendar {
	return &BrokerCalendar{
		ClientCalendar: NewClientCalendar(clk),
		closing:        NewReservationList(),
		requests:       NewReservationList(),
		sources:        make(map[reservation.ID]*SourceCalendar),
	}
}

func (b *BrokerCalendar) AddClosing(r *reservation.Reservation, cycle int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing.Add(r, cycle)
}

func (b *BrokerCalendar) RemoveClosing(r *reservation.Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing.Remove(r)
}

// Closing returns reservations due for teardown at or before cycle c.
func (b *BrokerCalendar) Closing(cycle int64) []*reservation.Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closing.GetAllUpTo(cycle)
}

func (b *BrokerCalendar) AddRequest(r *reservation.Reservation, cycle int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests.Add(r, cycle)
}

func (b *BrokerCalendar) RemoveRequest(r *reservation.Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests.Remove(r)
}

// Requests returns inbound requests due at or before cycle c.
func (b *BrokerCalendar) Requests(cycle int64) []*reservation.Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests.GetAllUpTo(cycle)
}

// Source returns (creating if absent) the SourceCalendar for an upstream
// source reservation.
func (b *BrokerCalendar) Source(sourceID reservation.ID) *SourceCalendar {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	sc, ok := b.sources[sourceID]
	if !ok {
		sc = NewSourceCalendar(b.clock)
		b.sources[sourceID] = sc
	}
	return sc
}

// RemoveSource drops an upstream source's entire SourceCalendar, e.g. once
// the source reservation itself closes.
func (b *BrokerCalendar) RemoveSource(sourceID reservation.ID) {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	delete(b.sources, sourceID)
}

// Remove drops r from every broker-level index, including the per-source
// calendars.
func (b *BrokerCalendar) Remove(r *reservation.Reservation) {
	b.mu.Lock()
	b.closing.Remove(r)
	b.requests.Remove(r)
	b.mu.Unlock()
	b.ClientCalendar.Remove(r)
}

// Tick advances the broker calendar and every per-source calendar it owns.
func (b *BrokerCalendar) Tick(cycle int64) {
	b.mu.Lock()
	b.closing.Tick(cycle)
	b.requests.Tick(cycle)
	b.mu.Unlock()
	b.ClientCalendar.Tick(cycle)

	b.sourcesMu.Lock()
	sources := make([]*SourceCalendar, 0, len(b.sources))
	for _, sc := range b.sources {
		sources = append(sources, sc)
	}
	b.sourcesMu.Unlock()
	for _, sc := range sources {
		sc.Tick(cycle)
	}
}

// AuthorityCalendar organizes reservation information for an authority:
// incoming client requests scheduled by the cycle to be serviced (Requests),
// reservations scheduled for closing (Closing), and all active leases
// (Outlays).
type AuthorityCalendar struct {
	BaseCalendar
	requests *ReservationList
	closing  *ReservationList
	outlays  *ReservationHoldings
}

// NewAuthorityCalendar constructs an AuthorityCalendar bound to clk.
func NewAuthorityCalendar(clk *clock.ActorClock) *AuthorityCalendar {
	return &AuthorityCalendar{
		BaseCalendar: NewBaseCalendar(clk),
		requests:     NewReservationList(),
		closing:      NewReservationList(),
		outlays:      NewReservationHoldings(),
	}
}

func (a *AuthorityCalendar) AddRequest(r *reservation.Reservation, cycle int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests.Add(r, cycle)
}

func (a *AuthorityCalendar) RemoveRequest(r *reservation.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests.Remove(r)
}

// Requests returns inbound redeem requests due at or before cycle c.
func (a *AuthorityCalendar) Requests(cycle int64) []*reservation.Reservation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests.GetAllUpTo(cycle)
}

func (a *AuthorityCalendar) AddClosing(r *reservation.Reservation, cycle int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closing.Add(r, cycle)
}

func (a *AuthorityCalendar) RemoveClosing(r *reservation.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closing.Remove(r)
}

// Closing returns reservations due for teardown at or before cycle c.
func (a *AuthorityCalendar) Closing(cycle int64) []*reservation.Reservation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing.GetAllUpTo(cycle)
}

func (a *AuthorityCalendar) AddOutlay(r *reservation.Reservation, startMs, endMs int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outlays.Add(r, startMs, endMs)
}

func (a *AuthorityCalendar) RemoveOutlay(r *reservation.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outlays.Remove(r)
}

// Outlays returns the active leases at timeMs, optionally filtered by type.
// Use AllOutlays for every outlay regardless of time.
func (a *AuthorityCalendar) Outlays(timeMs int64, resourceType string) []*reservation.Reservation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outlays.Get(timeMs, resourceType)
}

// AllOutlays returns every active lease regardless of time.
func (a *AuthorityCalendar) AllOutlays() []*reservation.Reservation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outlays.GetAll()
}

// Remove drops r from every authority-level index in one critical section.
func (a *AuthorityCalendar) Remove(r *reservation.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests.Remove(r)
	a.closing.Remove(r)
	a.outlays.Remove(r)
}

// Tick advances requests, closing, and outlays together.
func (a *AuthorityCalendar) Tick(cycle int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests.Tick(cycle)
	a.closing.Tick(cycle)
	a.outlays.Tick(a.clock.CycleEndMs(cycle))
}
