package kernel

import (
	"context"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// ConcreteSetPort is the seam an Authority calls through to provision and
// tear down the physical resources backing a reservation's ResourceSet. It
// wraps reservation.ConcreteSet with a context-aware, reservation-scoped
// entry point so the authority's closing(c) pass can bind teardown to the
// reservation it belongs to without the resource set needing to know its
// own reservation id.
type ConcreteSetPort interface {
	Setup(ctx context.Context, r *reservation.Reservation) error
	Probe(ctx context.Context, r *reservation.Reservation) (bool, error)
	Close(ctx context.Context, r *reservation.Reservation) error
}

// DefaultConcreteSetPort drives a reservation's bound reservation.ConcreteSet
// directly, ignoring ctx (setup, probe, and close on a local concrete set
// are synchronous in-process calls). Reservations with no bound ConcreteSet are
// treated as no-ops at every stage, for policies/resources that don't model
// a physical side.
type DefaultConcreteSetPort struct{}

// boundConcrete returns the ConcreteSet bound to r: from its active
// resources once primed, else from its approved or requested set, since
// Setup and Probe run while the reservation is still priming.
func boundConcrete(r *reservation.Reservation) reservation.ConcreteSet {
	if cs := r.Resources().Concrete; cs != nil {
		return cs
	}
	if cs := r.Approved().Concrete; cs != nil {
		return cs
	}
	return r.Requested().Concrete
}

func (DefaultConcreteSetPort) Setup(ctx context.Context, r *reservation.Reservation) error {
	cs := boundConcrete(r)
	if cs == nil {
		return nil
	}
	return cs.Setup()
}

func (DefaultConcreteSetPort) Probe(ctx context.Context, r *reservation.Reservation) (bool, error) {
	cs := boundConcrete(r)
	if cs == nil {
		return true, nil
	}
	return cs.Probe()
}

func (DefaultConcreteSetPort) Close(ctx context.Context, r *reservation.Reservation) error {
	cs := boundConcrete(r)
	if cs == nil {
		return nil
	}
	return cs.Close()
}
