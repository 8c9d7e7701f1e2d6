// Package kernel defines the plugin seam every actor is built against:
// persistence (Store), outbound peer communication (PeerProxy), and the
// concrete-resource lifecycle (ConcreteSetPort).
package kernel

import (
	"context"

	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// Store is the persistence port an actor's kernel writes its reservations,
// slices, and known brokers through. It has two implementations:
// infrastructure/store/memstore (tests, and the daemons when no database is
// configured) and infrastructure/store/postgres (the daemons).
type Store interface {
	PutReservation(ctx context.Context, r *reservation.Reservation) error
	GetReservation(ctx context.Context, id reservation.ID) (*reservation.Reservation, error)
	ListReservations(ctx context.Context) ([]*reservation.Reservation, error)

	PutSlice(ctx context.Context, s *reservation.Slice) error
	GetSlice(ctx context.Context, id reservation.ID) (*reservation.Slice, error)
	ListSlices(ctx context.Context) ([]*reservation.Slice, error)

	PutBroker(ctx context.Context, handle registry.ProxyHandle) error
	GetBrokers(ctx context.Context) ([]registry.ProxyHandle, error)
}
