// Package memstore is an in-memory domain/kernel.Store, used by the daemons
// when no database is configured and by tests that want a real Store without
// standing up Postgres. Map-backed and mutex-guarded, with no error
// injection: the in-memory path can't fail short of a programmer error.
package memstore

import (
	"context"
	"sync"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

var _ kernel.Store = (*Store)(nil)

// Store is an in-memory implementation of domain/kernel.Store.
type Store struct {
	mu           sync.RWMutex
	reservations map[reservation.ID]reservation.ReservationSnapshot
	slices       map[reservation.ID]reservation.SliceSnapshot
	brokers      map[reservation.ID]registry.ProxyHandle
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		reservations: make(map[reservation.ID]reservation.ReservationSnapshot),
		slices:       make(map[reservation.ID]reservation.SliceSnapshot),
		brokers:      make(map[reservation.ID]registry.ProxyHandle),
	}
}

func (s *Store) PutReservation(ctx context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID()] = r.Snapshot()
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id reservation.ID) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.reservations[id]
	if !ok {
		return nil, cperrors.NotFound("reservation", id.String())
	}
	return reservation.RestoreReservation(snap), nil
}

func (s *Store) ListReservations(ctx context.Context) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reservation.Reservation, 0, len(s.reservations))
	for _, snap := range s.reservations {
		out = append(out, reservation.RestoreReservation(snap))
	}
	return out, nil
}

func (s *Store) PutSlice(ctx context.Context, sl *reservation.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[sl.ID()] = sl.Snapshot()
	return nil
}

func (s *Store) GetSlice(ctx context.Context, id reservation.ID) (*reservation.Slice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.slices[id]
	if !ok {
		return nil, cperrors.NotFound("slice", id.String())
	}
	return reservation.RestoreSlice(snap), nil
}

func (s *Store) ListSlices(ctx context.Context) ([]*reservation.Slice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reservation.Slice, 0, len(s.slices))
	for _, snap := range s.slices {
		out = append(out, reservation.RestoreSlice(snap))
	}
	return out, nil
}

func (s *Store) PutBroker(ctx context.Context, handle registry.ProxyHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[handle.GUID] = handle
	return nil
}

func (s *Store) GetBrokers(ctx context.Context) ([]registry.ProxyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.ProxyHandle, 0, len(s.brokers))
	for _, h := range s.brokers {
		out = append(out, h)
	}
	return out, nil
}

// Reset clears all data so one Store instance can be reused across
// table-driven test cases.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations = make(map[reservation.ID]reservation.ReservationSnapshot)
	s.slices = make(map[reservation.ID]reservation.SliceSnapshot)
	s.brokers = make(map[reservation.ID]registry.ProxyHandle)
}
