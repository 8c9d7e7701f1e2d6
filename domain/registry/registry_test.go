package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

type fakeStore struct {
	putErr  error
	puts    []ProxyHandle
	loaded  []ProxyHandle
	loadErr error
}

func (s *fakeStore) PutBroker(ctx context.Context, handle ProxyHandle) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, handle)
	return nil
}

func (s *fakeStore) GetBrokers(ctx context.Context) ([]ProxyHandle, error) {
	return s.loaded, s.loadErr
}

func TestAddBrokerElectsFirstAsDefault(t *testing.T) {
	r := New(nil)
	h1 := ProxyHandle{GUID: reservation.NewID(), Name: "b1"}
	h2 := ProxyHandle{GUID: reservation.NewID(), Name: "b2"}

	require.NoError(t, r.AddBroker(context.Background(), h1))
	require.NoError(t, r.AddBroker(context.Background(), h2))

	def, ok := r.DefaultBroker()
	require.True(t, ok)
	assert.True(t, def.GUID.Equal(h1.GUID), "first-added broker should be default")
	assert.Len(t, r.GetBrokers(), 2)
}

func TestAddBrokerPersistsThrough(t *testing.T) {
	store := &fakeStore{}
	r := New(store)
	h := ProxyHandle{GUID: reservation.NewID(), Name: "b1"}

	require.NoError(t, r.AddBroker(context.Background(), h))
	require.Len(t, store.puts, 1)
	assert.True(t, store.puts[0].GUID.Equal(h.GUID))
}

func TestAddBrokerStoreFailurePropagates(t *testing.T) {
	store := &fakeStore{putErr: errors.New("db down")}
	r := New(store)
	h := ProxyHandle{GUID: reservation.NewID(), Name: "b1"}

	require.Error(t, r.AddBroker(context.Background(), h))
	// The in-memory directory is still updated even though the persist failed.
	_, ok := r.GetBroker(h.GUID)
	assert.True(t, ok, "broker should be registered even if the persist-through failed")
}

func TestLoadFromStoreElectsDefault(t *testing.T) {
	h1 := ProxyHandle{GUID: reservation.NewID(), Name: "b1"}
	h2 := ProxyHandle{GUID: reservation.NewID(), Name: "b2"}
	store := &fakeStore{loaded: []ProxyHandle{h1, h2}}
	r := New(store)

	require.NoError(t, r.LoadFromStore(context.Background()))
	def, ok := r.DefaultBroker()
	require.True(t, ok)
	assert.True(t, def.GUID.Equal(h1.GUID))
}

func TestRemoveBrokerReElectsDefault(t *testing.T) {
	r := New(nil)
	h1 := ProxyHandle{GUID: reservation.NewID(), Name: "b1"}
	h2 := ProxyHandle{GUID: reservation.NewID(), Name: "b2"}
	_ = r.AddBroker(context.Background(), h1)
	_ = r.AddBroker(context.Background(), h2)

	r.RemoveBroker(h1.GUID)

	def, ok := r.DefaultBroker()
	require.True(t, ok)
	assert.True(t, def.GUID.Equal(h2.GUID), "surviving broker should be re-elected default")
	_, ok = r.GetBroker(h1.GUID)
	assert.False(t, ok, "removed broker should not be found")
}

func TestRemoveLastBrokerClearsDefault(t *testing.T) {
	r := New(nil)
	h := ProxyHandle{GUID: reservation.NewID(), Name: "only"}
	_ = r.AddBroker(context.Background(), h)
	r.RemoveBroker(h.GUID)

	_, ok := r.DefaultBroker()
	assert.False(t, ok, "default should be absent once the registry is empty")
}
