// Package events implements the per-actor event processor: a single
// goroutine that serializes every tick, inter-actor protocol callback, and
// synchronous management call for one actor, so the reservation state
// machine never needs its own locking.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
)

// Kind classifies an event for logging, mirroring the three event families
// the actor kernel produces.
type Kind string

const (
	KindTick        Kind = "tick"
	KindInterActor  Kind = "inter_actor"
	KindSync        Kind = "sync"
)

// Event is a unit of work the Processor's single goroutine executes.
type Event interface {
	Kind() Kind
	Process(ctx context.Context)
}

type processorMarkerKey struct{}

// Processor is a FIFO, single-goroutine event queue. Every event enqueued on
// it is observed, in order, by exactly one worker goroutine — the same
// invariant the reservation state machine depends on to stay lock-free.
type Processor struct {
	name   string
	logger *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	running  bool
	shutdown bool
	doneCh   chan struct{}
}

// NewProcessor constructs a stopped Processor. Call Start to begin draining
// its queue.
func NewProcessor(name string, logger *logging.Logger) *Processor {
	p := &Processor{name: name, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutine. Starting an already-running
// Processor is an error.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("events: processor %s already started", p.name)
	}
	p.running = true
	p.shutdown = false
	p.doneCh = make(chan struct{})
	go p.run()
	return nil
}

// Stop shuts the worker down and waits for it to exit. The in-flight event
// (if any) completes; everything still queued is discarded, and any sync
// caller waiting on a discarded event receives an error instead of its
// result. Stopping a non-running Processor is a no-op.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	done := p.doneCh
	p.cond.Broadcast()
	p.mu.Unlock()

	<-done
}

// Enqueue appends e to the tail of the queue and wakes the worker. An event
// enqueued after shutdown has begun is discarded immediately, failing any
// sync caller attached to it, so nothing blocks forever on a dead worker.
func (p *Processor) Enqueue(e Event) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.abandonEvent(e)
		return
	}
	p.queue = append(p.queue, e)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Processor) run() {
	ctx := context.WithValue(context.Background(), processorMarkerKey{}, p)
	defer func() {
		p.mu.Lock()
		p.running = false
		close(p.doneCh)
		p.mu.Unlock()
	}()

	// One event per iteration so shutdown is observed between events: the
	// in-flight event completes, everything still queued is discarded.
	for {
		p.mu.Lock()
		for !p.shutdown && len(p.queue) == 0 {
			p.cond.Wait()
		}
		if p.shutdown {
			discarded := p.queue
			p.queue = nil
			p.mu.Unlock()
			p.discard(ctx, discarded)
			return
		}
		e := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.processOne(ctx, e)
	}
}

// discard drops events that were still queued when shutdown was observed,
// failing the latch of any sync caller waiting on one of them.
func (p *Processor) discard(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	for _, e := range events {
		p.abandonEvent(e)
	}
	if p.logger != nil {
		p.logger.Warn(ctx, "discarded queued events on shutdown", map[string]interface{}{
			"processor": p.name,
			"count":     len(events),
		})
	}
}

func (p *Processor) abandonEvent(e Event) {
	if re, ok := e.(*runnableEvent); ok {
		re.abandon(fmt.Errorf("events: processor %s stopped before event ran", p.name))
	}
}

func (p *Processor) processOne(ctx context.Context, e Event) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Error(ctx, "event processor recovered from panic", fmt.Errorf("%v", r),
					map[string]interface{}{"processor": p.name, "kind": string(e.Kind())})
			}
		}
	}()
	begin := time.Now()
	e.Process(ctx)
	if p.logger != nil {
		p.logger.Debug(ctx, "processed event", map[string]interface{}{
			"processor": p.name,
			"kind":      string(e.Kind()),
			"elapsed":   time.Since(begin).String(),
		})
	}
}

// onThisProcessor reports whether ctx was produced by this Processor's own
// run loop — the same-goroutine fast path that lets a reservation operation
// already running on the actor's worker call back into the processor
// without deadlocking on itself.
func (p *Processor) onThisProcessor(ctx context.Context) bool {
	marker, ok := ctx.Value(processorMarkerKey{}).(*Processor)
	return ok && marker == p
}

// Runnable is a unit of synchronous work a caller wants executed on the
// actor's own goroutine.
type Runnable func() (interface{}, error)

type execStatus struct {
	result interface{}
	err    error
	doneCh chan struct{}
}

type runnableEvent struct {
	kind   Kind
	fn     Runnable
	status *execStatus
}

func (e *runnableEvent) Kind() Kind { return e.kind }

// abandon completes the event's latch with err without running fn, used when
// the event is discarded on shutdown.
func (e *runnableEvent) abandon(err error) {
	e.status.err = err
	close(e.status.doneCh)
}

func (e *runnableEvent) Process(ctx context.Context) {
	defer close(e.status.doneCh)
	result, err := func() (res interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("runnable panicked: %v", r)
			}
		}()
		return e.fn()
	}()
	e.status.result = result
	e.status.err = err
}

// ExecuteSync runs fn on the actor's goroutine and blocks until it
// completes, returning its result. If the caller is already running on this
// Processor's goroutine (a nested call from within event handling), fn runs
// inline — the same-thread fast path.
func (p *Processor) ExecuteSync(ctx context.Context, fn Runnable) (interface{}, error) {
	if p.onThisProcessor(ctx) {
		return fn()
	}
	status := &execStatus{doneCh: make(chan struct{})}
	p.Enqueue(&runnableEvent{kind: KindSync, fn: fn, status: status})
	<-status.doneCh
	return status.result, status.err
}

// ExecuteAsync schedules fn to run on the actor's goroutine without
// blocking the caller. If already on this Processor's goroutine, fn runs
// inline immediately.
func (p *Processor) ExecuteAsync(ctx context.Context, fn Runnable) {
	if p.onThisProcessor(ctx) {
		_, _ = fn()
		return
	}
	status := &execStatus{doneCh: make(chan struct{})}
	p.Enqueue(&runnableEvent{kind: KindInterActor, fn: fn, status: status})
}

// Tickable is an actor (or any component) that accepts clock ticks.
type Tickable interface {
	ActorTick(ctx context.Context, cycle int64)
}

type tickEvent struct {
	tickable Tickable
	cycle    int64
}

func (e *tickEvent) Kind() Kind { return KindTick }

func (e *tickEvent) Process(ctx context.Context) {
	e.tickable.ActorTick(ctx, e.cycle)
}

// EnqueueTick schedules a tick event for cycle against t.
func (p *Processor) EnqueueTick(t Tickable, cycle int64) {
	p.Enqueue(&tickEvent{tickable: t, cycle: cycle})
}

// IsRunning reports whether the worker goroutine is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// QueueDepth returns the number of events currently queued, for metrics.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
