package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFIFOOrder checks that events from a single producer are
// observed by the worker in enqueue order.
func TestFIFOOrder(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	const n = 200
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		p.Enqueue(&testEvent{fn: func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("observed %d events, want %d", len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d — FIFO order violated", i, v, i)
		}
	}
}

type testEvent struct {
	fn func()
}

func (e *testEvent) Kind() Kind { return KindSync }
func (e *testEvent) Process(ctx context.Context) {
	e.fn()
}

// TestExecuteSyncCrossThreadBlocks checks that from another
// goroutine, ExecuteSync enqueues and blocks until the result is ready.
func TestExecuteSyncCrossThreadBlocks(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	result, err := p.ExecuteSync(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteSync() error: %v", err)
	}
	if result != 42 {
		t.Fatalf("ExecuteSync() result = %v, want 42", result)
	}
}

// TestExecuteSyncPropagatesError checks that if the runnable
// fails, the caller receives the same error.
func TestExecuteSyncPropagatesError(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	wantErr := errors.New("boom")
	_, err := p.ExecuteSync(context.Background(), func() (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("ExecuteSync() error = %v, want %v", err, wantErr)
	}
}

// TestExecuteSyncSameGoroutineFastPath checks that from the
// worker goroutine itself, ExecuteSync returns inline without re-enqueuing.
func TestExecuteSyncSameGoroutineFastPath(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	done := make(chan struct{})
	var inlineResult interface{}
	var inlineErr error
	p.Enqueue(&testEvent{fn: func() {
		// Nothing to assert here directly; the nested ExecuteSync call
		// below happens inside Process, where ctx carries this
		// Processor's marker.
	}})

	outerEvent := &ctxCapturingEvent{
		p: p,
		after: func(ctx context.Context) {
			inlineResult, inlineErr = p.ExecuteSync(ctx, func() (interface{}, error) {
				return "inline", nil
			})
			close(done)
		},
	}
	p.Enqueue(outerEvent)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nested ExecuteSync to run inline")
	}
	if inlineErr != nil {
		t.Fatalf("inline ExecuteSync() error: %v", inlineErr)
	}
	if inlineResult != "inline" {
		t.Fatalf("inline ExecuteSync() result = %v, want \"inline\"", inlineResult)
	}
}

type ctxCapturingEvent struct {
	p     *Processor
	after func(ctx context.Context)
}

func (e *ctxCapturingEvent) Kind() Kind { return KindSync }
func (e *ctxCapturingEvent) Process(ctx context.Context) {
	e.after(ctx)
}

func TestTickEventDispatch(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	received := make(chan int64, 1)
	tickable := tickableFunc(func(ctx context.Context, cycle int64) {
		received <- cycle
	})
	p.EnqueueTick(tickable, 7)

	select {
	case cycle := <-received:
		if cycle != 7 {
			t.Fatalf("ActorTick() cycle = %d, want 7", cycle)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick dispatch")
	}
}

type tickableFunc func(ctx context.Context, cycle int64)

func (f tickableFunc) ActorTick(ctx context.Context, cycle int64) { f(ctx, cycle) }

func TestStopDiscardsQueuedEvents(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	ran := 0
	p.Enqueue(&testEvent{fn: func() {
		close(started)
		<-release
		mu.Lock()
		ran++
		mu.Unlock()
	}})
	for i := 0; i < 10; i++ {
		p.Enqueue(&testEvent{fn: func() {
			mu.Lock()
			ran++
			mu.Unlock()
		}})
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	// Let Stop observe the in-flight event before releasing it, so the
	// remaining 10 are still queued when shutdown lands.
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	if ran != 1 {
		t.Fatalf("ran = %d, want 1 — the in-flight event completes, queued events are discarded", ran)
	}
	if p.IsRunning() {
		t.Error("IsRunning() should be false after Stop()")
	}
}

func TestStopFailsAbandonedSyncCallers(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	p.Enqueue(&testEvent{fn: func() {
		close(started)
		<-release
	}})
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := p.ExecuteSync(context.Background(), func() (interface{}, error) {
			return 1, nil
		})
		errCh <- err
	}()
	waitFor(t, time.Second, func() bool { return p.QueueDepth() == 1 })

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-stopped

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("ExecuteSync() on a discarded event should return an error, not a result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteSync() caller still blocked after Stop() — abandoned latch never completed")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartTwiceErrors(t *testing.T) {
	p := NewProcessor("test", nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()
	if err := p.Start(); err == nil {
		t.Fatal("Start() on an already-running processor should error")
	}
}
