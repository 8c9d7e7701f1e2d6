package actor

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/policy"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/internal/clock"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	clk, err := clock.New(0, 1000)
	if err != nil {
		t.Fatalf("clock.New() error: %v", err)
	}
	return Deps{
		Clock:    clk,
		Logger:   logging.New("test", "error", "text"),
		Registry: registry.New(nil),
		Policy:   policy.NewDefaultPolicy(),
	}
}

func mustTerm(t *testing.T, start, end time.Time) reservation.Term {
	t.Helper()
	term, err := reservation.NewInitialTerm(start, end)
	if err != nil {
		t.Fatalf("NewInitialTerm() error: %v", err)
	}
	return term
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatal("condition not met before timeout")
		}
	}
}

func TestEmptyRecoverWithNilStoreIsNoOp(t *testing.T) {
	deps := newTestDeps(t)
	auth := NewAuthority(reservation.NewID(), "authority-1", "vm", 100, deps)
	if err := auth.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() with nil store error: %v", err)
	}
	if len(auth.ListReservations()) != 0 {
		t.Fatal("Recover() with nil store should track nothing")
	}
}
