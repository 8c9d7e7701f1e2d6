// Package tick implements the clock-driving service that advances every
// registered actor through discrete cycles, either on a wall-clock ticker or
// under manual control for deterministic testing.
package tick

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/internal/clock"
)

// Tickable is anything that wants to hear about cycle advances — typically
// an actor's event processor, reached through EnqueueTick.
type Tickable interface {
	ExternalTick(ctx context.Context, cycle int64)
}

// Service drives the actor clock forward and fans out cycle advances to
// every registered Tickable. It collapses duplicate cycles (calling Tick
// twice within the same cycle is a no-op) and never delivers cycles out of
// order.
type Service struct {
	clock  *clock.ActorClock
	logger *logging.Logger

	mu        sync.Mutex
	tickables map[string]Tickable
	lastCycle int64
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewService constructs a Service bound to clk. No cycle has been delivered
// yet: CurrentCycle returns -1 until the first tick.
func NewService(clk *clock.ActorClock, logger *logging.Logger) *Service {
	return &Service{
		clock:     clk,
		logger:    logger,
		tickables: make(map[string]Tickable),
		lastCycle: -1,
	}
}

// Register adds (or replaces) a named subscriber. Registering under a name
// already in use replaces the previous subscriber.
func (s *Service) Register(name string, t Tickable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickables[name] = t
}

// Unregister removes a named subscriber. Silent if absent.
func (s *Service) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickables, name)
}

// StartAutomatic launches a background goroutine that calls Tick(time.Now())
// on every interval. Starting an already-started service is an error.
func (s *Service) StartAutomatic(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("tick: service already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(doneCh)
		tickerLoop(ctx, stopCh, interval, func(ctx context.Context) {
			s.Tick(ctx, time.Now())
		})
	}()
	return nil
}

// tickerLoop runs fn on every interval until ctx is canceled or stopCh is
// closed, whichever comes first.
func tickerLoop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// StopAutomatic halts the background ticker started by StartAutomatic and
// waits for it to exit. No-op if not running in automatic mode.
func (s *Service) StopAutomatic() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// Tick computes the cycle containing now and, if it advances the clock
// beyond the last delivered cycle, fans it out to every registered
// Tickable. Calling Tick twice within the same cycle delivers nothing the
// second time. Returns the resulting current cycle.
func (s *Service) Tick(ctx context.Context, now time.Time) int64 {
	cycle := s.clock.CycleOfDate(now)

	s.mu.Lock()
	if cycle <= s.lastCycle {
		current := s.lastCycle
		s.mu.Unlock()
		return current
	}
	s.lastCycle = cycle
	subscribers := make([]Tickable, 0, len(s.tickables))
	for _, t := range s.tickables {
		subscribers = append(subscribers, t)
	}
	s.mu.Unlock()

	for _, t := range subscribers {
		s.deliver(ctx, t, cycle)
	}
	if s.logger != nil {
		s.logger.LogTick(ctx, cycle, 0, nil)
	}
	return cycle
}

func (s *Service) deliver(ctx context.Context, t Tickable, cycle int64) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error(ctx, "tick delivery panicked", fmt.Errorf("%v", r), map[string]interface{}{"cycle": cycle})
		}
	}()
	t.ExternalTick(ctx, cycle)
}

// CurrentCycle returns the most recently delivered cycle, or -1 if none has
// been delivered yet.
func (s *Service) CurrentCycle() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}
