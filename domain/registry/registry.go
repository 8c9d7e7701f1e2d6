// Package registry implements the in-memory directory of broker proxies an
// actor uses to reach peers, with a default-broker election and
// persist-through writes to the actor's store.
package registry

import (
	"context"
	"sync"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// ProxyHandle describes one broker proxy the registry tracks: enough to
// route an outbound protocol call without the registry itself knowing the
// transport.
type ProxyHandle struct {
	GUID     reservation.ID
	Name     string
	Endpoint string
}

// BrokerStore is the persistence port the registry writes through on every
// add — satisfied structurally by domain/kernel.Store, which exposes
// PutBroker/GetBrokers with this exact shape.
type BrokerStore interface {
	PutBroker(ctx context.Context, handle ProxyHandle) error
	GetBrokers(ctx context.Context) ([]ProxyHandle, error)
}

// PeerRegistry is the actor-local directory of known broker proxies. The
// first broker ever added (whether at startup from the store, or live)
// becomes the default broker used when a caller doesn't name one.
type PeerRegistry struct {
	mu            sync.Mutex
	brokers       map[reservation.ID]ProxyHandle
	defaultBroker *reservation.ID
	store         BrokerStore
}

// New constructs an empty PeerRegistry. store may be nil, in which case
// AddBroker only updates the in-memory directory.
func New(store BrokerStore) *PeerRegistry {
	return &PeerRegistry{
		brokers: make(map[reservation.ID]ProxyHandle),
		store:   store,
	}
}

// LoadFromStore populates the registry from the backing store, electing the
// first broker returned as the default. Call once at actor startup, before
// the actor registers with the tick service.
func (r *PeerRegistry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	handles, err := r.store.GetBrokers(ctx)
	if err != nil {
		return cperrors.StoreFailure("get_brokers", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		r.brokers[h.GUID] = h
		if r.defaultBroker == nil {
			guid := h.GUID
			r.defaultBroker = &guid
		}
	}
	return nil
}

// AddBroker registers a broker proxy, persisting it through the store if
// one is configured. The first broker ever added becomes the default.
func (r *PeerRegistry) AddBroker(ctx context.Context, handle ProxyHandle) error {
	r.mu.Lock()
	r.brokers[handle.GUID] = handle
	if r.defaultBroker == nil {
		guid := handle.GUID
		r.defaultBroker = &guid
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.PutBroker(ctx, handle); err != nil {
			return cperrors.StoreFailure("put_broker", err)
		}
	}
	return nil
}

// RemoveBroker drops a broker from the directory. If it was the default,
// a new default is elected arbitrarily from whatever remains (or cleared,
// if the registry is now empty).
func (r *PeerRegistry) RemoveBroker(guid reservation.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.brokers, guid)
	if r.defaultBroker != nil && r.defaultBroker.Equal(guid) {
		r.defaultBroker = nil
		for id := range r.brokers {
			elected := id
			r.defaultBroker = &elected
			break
		}
	}
}

// GetBroker returns the proxy handle for guid, if known.
func (r *PeerRegistry) GetBroker(guid reservation.ID) (ProxyHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.brokers[guid]
	return h, ok
}

// GetBrokers returns a snapshot of every known broker.
func (r *PeerRegistry) GetBrokers() []ProxyHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProxyHandle, 0, len(r.brokers))
	for _, h := range r.brokers {
		out = append(out, h)
	}
	return out
}

// DefaultBroker returns the elected default broker, if any.
func (r *PeerRegistry) DefaultBroker() (ProxyHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultBroker == nil {
		return ProxyHandle{}, false
	}
	h, ok := r.brokers[*r.defaultBroker]
	return h, ok
}
