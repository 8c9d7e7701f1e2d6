package policy

import (
	"context"
	"time"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// DefaultPolicy is the engine's built-in reference policy: first-fit
// admission against total capacity, unconditional extension as long as
// capacity holds, and close-on-expiry. Real deployments are expected to
// supply their own Policy; DefaultPolicy exists so the engine is usable
// out of the box and so tests have a deterministic policy to exercise.
type DefaultPolicy struct{}

// NewDefaultPolicy constructs a DefaultPolicy.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{}
}

// committedUnits sums the units already held of the given resource type at
// the busiest instant of the request's term: its start and end. This is a
// first-fit approximation, not an exhaustive scan of every instant in the
// interval — adequate for a reference policy, not for admission-critical
// production capacity planning.
func committedUnits(view CalendarView, resourceType string, req reservation.Term) int64 {
	var peak int64
	for _, sampleMs := range []int64{req.Start.UnixMilli(), req.End.UnixMilli()} {
		var sum int64
		for _, r := range view.Outlays(sampleMs, resourceType) {
			// Units live in the active set once primed, in the approved set
			// once ticketed (a broker's outlays), else in the request.
			units := r.Resources().Units
			if units == 0 {
				units = r.Approved().Units
			}
			if units == 0 {
				units = r.Requested().Units
			}
			sum += units
		}
		if sum > peak {
			peak = sum
		}
	}
	return peak
}

// Allocate grants req if the requested units fit within TotalCapacity
// alongside whatever is already committed over the requested term.
func (p *DefaultPolicy) Allocate(ctx context.Context, req AllocationRequest, view CalendarView, now time.Time) (Ticket, error) {
	if req.Units <= 0 {
		return Ticket{}, cperrors.InvalidInput("units", "must be positive")
	}
	committed := committedUnits(view, req.ResourceType, req.Term)
	if committed+req.Units > req.TotalCapacity {
		return Ticket{}, cperrors.ProtocolRejected("allocate", req.ResourceType, "insufficient capacity")
	}
	resources := reservation.NewResourceSet(req.ResourceType, req.Units)
	return Ticket{Term: req.Term, Resources: resources}, nil
}

// Extend grants an extension under the same capacity rule as Allocate,
// always honoring the requested term if there's room.
func (p *DefaultPolicy) Extend(ctx context.Context, r *reservation.Reservation, req AllocationRequest, view CalendarView, now time.Time) (Ticket, error) {
	return p.Allocate(ctx, req, view, now)
}

// CloseEligible reports true once the reservation's effective term has
// ended — its active term if primed, else its approved or requested term.
func (p *DefaultPolicy) CloseEligible(r *reservation.Reservation, now time.Time) bool {
	term := r.Term()
	if term.End.IsZero() {
		term = r.ApprovedTerm()
	}
	if term.End.IsZero() {
		term = r.RequestedTerm()
	}
	return term.IsExpiredAt(now)
}
