package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

type fakeConcrete struct {
	setupErr error
	probeOK  bool
	closeErr error
	closed   bool
}

func (c *fakeConcrete) Kind() string { return "fake" }
func (c *fakeConcrete) Setup() error { return c.setupErr }
func (c *fakeConcrete) Probe() (bool, error) { return c.probeOK, nil }
func (c *fakeConcrete) Close() error {
	c.closed = true
	return c.closeErr
}

func newBoundReservation(t *testing.T, cs reservation.ConcreteSet) *reservation.Reservation {
	t.Helper()
	now := time.Unix(1000, 0).UTC()
	term, err := reservation.NewInitialTerm(now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewInitialTerm() error: %v", err)
	}
	resources := reservation.NewResourceSet("vm", 1).WithConcrete(cs)
	r, err := reservation.NewReservation(reservation.NewID(), reservation.CategoryAuthority, resources, term)
	if err != nil {
		t.Fatalf("NewReservation() error: %v", err)
	}
	return r
}

func TestDefaultConcreteSetPortDelegatesToBoundConcrete(t *testing.T) {
	fc := &fakeConcrete{probeOK: true}
	r := newBoundReservation(t, fc)
	port := DefaultConcreteSetPort{}

	if err := port.Setup(context.Background(), r); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	ready, err := port.Probe(context.Background(), r)
	if err != nil || !ready {
		t.Fatalf("Probe() = (%v, %v), want (true, nil)", ready, err)
	}
	if err := port.Close(context.Background(), r); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fc.closed {
		t.Fatal("Close() should have delegated to the bound ConcreteSet")
	}
}

func TestDefaultConcreteSetPortNoOpsWithoutConcrete(t *testing.T) {
	r := newBoundReservation(t, nil)
	port := DefaultConcreteSetPort{}

	if err := port.Setup(context.Background(), r); err != nil {
		t.Fatalf("Setup() with no bound concrete should no-op, got error: %v", err)
	}
	ready, err := port.Probe(context.Background(), r)
	if err != nil || !ready {
		t.Fatalf("Probe() with no bound concrete should report (true, nil), got (%v, %v)", ready, err)
	}
}

func TestDefaultConcreteSetPortPropagatesSetupError(t *testing.T) {
	fc := &fakeConcrete{setupErr: errors.New("provisioning failed")}
	r := newBoundReservation(t, fc)
	port := DefaultConcreteSetPort{}

	if err := port.Setup(context.Background(), r); err == nil {
		t.Fatal("Setup() should propagate the concrete set's error")
	}
}
