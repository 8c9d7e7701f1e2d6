// Package policy defines the pluggable decision seam the reservation engine
// calls into for admission control: what to allocate, whether to extend,
// and when a reservation is eligible to close. The engine never embeds
// policy logic itself — every Policy implementation plugs in here.
package policy

import (
	"context"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// CalendarView is the read-only slice of a calendar façade a Policy needs to
// inspect current commitments before deciding. Both
// internal/calendar.AuthorityCalendar and internal/calendar.SourceCalendar
// satisfy it as-is.
type CalendarView interface {
	Outlays(timeMs int64, resourceType string) []*reservation.Reservation
}

// AllocationRequest describes what a reservation is asking for: how much of
// which resource type, over what term, against a pool of known total
// capacity.
type AllocationRequest struct {
	ResourceType  string
	Units         int64
	Term          reservation.Term
	TotalCapacity int64
}

// Ticket is the outcome of a successful Allocate or Extend call: the term
// and resource set the policy is willing to grant.
type Ticket struct {
	Term      reservation.Term
	Resources reservation.ResourceSet
}

// Policy is the pluggable admission-control seam. Implementations must not
// mutate the calendar directly — all mutation goes through the engine so
// its invariants keep holding.
type Policy interface {
	// Allocate decides whether to grant a new request, returning the
	// ticket to issue or an error if the request cannot be satisfied.
	Allocate(ctx context.Context, req AllocationRequest, view CalendarView, now time.Time) (Ticket, error)

	// Extend decides whether to grant an extension of an existing
	// reservation.
	Extend(ctx context.Context, r *reservation.Reservation, req AllocationRequest, view CalendarView, now time.Time) (Ticket, error)

	// CloseEligible reports whether r should be closed now.
	CloseEligible(r *reservation.Reservation, now time.Time) bool
}
