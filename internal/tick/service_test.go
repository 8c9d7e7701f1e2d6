package tick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-control-plane/internal/clock"
)

type recordingTickable struct {
	mu     sync.Mutex
	cycles []int64
}

func (r *recordingTickable) ExternalTick(ctx context.Context, cycle int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, cycle)
}

func (r *recordingTickable) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.cycles))
	copy(out, r.cycles)
	return out
}

func newTestClockService(t *testing.T) (*clock.ActorClock, *Service) {
	t.Helper()
	clk, err := clock.New(0, 1000)
	if err != nil {
		t.Fatalf("clock.New() error: %v", err)
	}
	return clk, NewService(clk, nil)
}

func TestServiceFansOutToAllSubscribers(t *testing.T) {
	_, s := newTestClockService(t)
	a := &recordingTickable{}
	b := &recordingTickable{}
	s.Register("a", a)
	s.Register("b", b)

	s.Tick(context.Background(), time.Unix(5, 0))

	if len(a.seen()) != 1 || len(b.seen()) != 1 {
		t.Fatalf("expected both subscribers to see exactly one tick: a=%v b=%v", a.seen(), b.seen())
	}
}

func TestServiceCollapsesDuplicateCycle(t *testing.T) {
	clk, s := newTestClockService(t)
	a := &recordingTickable{}
	s.Register("a", a)

	base := clk.Date(3)
	s.Tick(context.Background(), base)
	s.Tick(context.Background(), base.Add(500*time.Millisecond)) // same cycle

	if len(a.seen()) != 1 {
		t.Fatalf("seen = %v, want exactly one delivery for the duplicate cycle", a.seen())
	}
}

func TestServiceMonotonicOrder(t *testing.T) {
	clk, s := newTestClockService(t)
	a := &recordingTickable{}
	s.Register("a", a)

	s.Tick(context.Background(), clk.Date(5))
	s.Tick(context.Background(), clk.Date(3)) // earlier cycle, must not be delivered
	s.Tick(context.Background(), clk.Date(6))

	seen := a.seen()
	if len(seen) != 2 || seen[0] != 5 || seen[1] != 6 {
		t.Fatalf("seen = %v, want [5 6] (monotonic, out-of-order cycle dropped)", seen)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	clk, s := newTestClockService(t)
	a := &recordingTickable{}
	s.Register("a", a)
	s.Unregister("a")

	s.Tick(context.Background(), clk.Date(1))
	if len(a.seen()) != 0 {
		t.Fatalf("unregistered subscriber should not receive ticks, saw %v", a.seen())
	}
}

func TestStartAutomaticDeliversTicks(t *testing.T) {
	clk, s := newTestClockService(t)
	_ = clk
	a := &recordingTickable{}
	s.Register("a", a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.StartAutomatic(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("StartAutomatic() error: %v", err)
	}
	defer s.StopAutomatic()

	deadline := time.After(2 * time.Second)
	for {
		if len(a.seen()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for an automatic tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartAutomaticTwiceErrors(t *testing.T) {
	_, s := newTestClockService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.StartAutomatic(ctx, time.Hour); err != nil {
		t.Fatalf("StartAutomatic() error: %v", err)
	}
	defer s.StopAutomatic()

	if err := s.StartAutomatic(ctx, time.Hour); err == nil {
		t.Fatal("StartAutomatic() on an already-started service should error")
	}
}
