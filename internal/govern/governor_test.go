package govern

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the governor's time without real sleeping. Each sleep
// advances the clock and is recorded.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGovernor(opts Options, clock *fakeClock) *Governor {
	g := New(opts)
	g.now = clock.now
	g.sleep = clock.sleep
	return g
}

func noFeedback(_ context.Context) (*Feedback, error) { return nil, nil }

func TestDo_EnforcesMinimumDelay(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{MinDelay: time.Second, Timeout: -1}, clock)

	var starts []time.Time
	call := func(_ context.Context) (*Feedback, error) {
		starts = append(starts, clock.now())
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		if err := g.Do(context.Background(), call); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	if len(starts) != 3 {
		t.Fatalf("got %d calls, want 3", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < time.Second {
			t.Errorf("gap between call %d and %d = %v, want >= 1s", i-1, i, gap)
		}
	}
}

func TestDo_NoDelayWhenSpacedOut(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{MinDelay: time.Second, Timeout: -1}, clock)

	if err := g.Do(context.Background(), noFeedback); err != nil {
		t.Fatalf("Do: %v", err)
	}
	clock.advance(2 * time.Second)
	if err := g.Do(context.Background(), noFeedback); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(clock.sleeps) != 0 {
		t.Errorf("slept %v, want no sleeps when calls are naturally spaced", clock.sleeps)
	}
}

func TestDo_LowQuotaWaitsForReset(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{
		MinDelay:    time.Millisecond,
		LowWater:    2,
		ResetBuffer: 500 * time.Millisecond,
		Timeout:     -1,
	}, clock)

	// First call reports the quota nearly exhausted.
	err := g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		return &Feedback{Remaining: 2, HasRemaining: true, ResetAfter: 5 * time.Second, HasReset: true}, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	resetAt := clock.now().Add(5 * time.Second)

	var startedAt time.Time
	err = g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		startedAt = clock.now()
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	want := resetAt.Add(500 * time.Millisecond)
	if startedAt.Before(want) {
		t.Errorf("second call started at %v, want not before reset+buffer %v", startedAt, want)
	}
}

func TestDo_HealthyQuotaDoesNotBackOff(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{
		MinDelay: time.Millisecond,
		LowWater: 2,
		Timeout:  -1,
	}, clock)

	err := g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		return &Feedback{Remaining: 50, HasRemaining: true, ResetAfter: time.Hour, HasReset: true}, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	clock.advance(time.Second)

	if err := g.Do(context.Background(), noFeedback); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for _, d := range clock.sleeps {
		if d > time.Second {
			t.Errorf("unexpected long sleep %v with healthy quota", d)
		}
	}
}

func TestDo_AbsentFeedbackKeepsPriorState(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{MinDelay: time.Millisecond, Timeout: -1}, clock)

	err := g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		return &Feedback{Remaining: 7, HasRemaining: true}, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	// A response without headers must not zero the known remaining count.
	err = g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		return &Feedback{}, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	st := g.Snapshot()
	if !st.KnownRemaining || st.Remaining != 7 {
		t.Errorf("state = %+v, want remaining 7 still known", st)
	}
}

func TestDo_FIFOOrder(t *testing.T) {
	g := New(Options{MinDelay: time.Millisecond, Timeout: -1})

	const n = 5
	release := make(chan struct{})
	firstRunning := make(chan struct{})

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
			close(firstRunning)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil, nil
		})
	}()
	<-firstRunning

	// Queue the rest one at a time so arrival order is deterministic.
	for i := 1; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		waitForWaiters(t, g, i)
	}

	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v, want submission order", order)
		}
	}
}

func TestDo_SingleInFlight(t *testing.T) {
	g := New(Options{MinDelay: time.Microsecond, Timeout: -1})

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max in-flight = %d, want 1", maxInFlight)
	}
}

func TestDo_CancelledWaiterLeavesQueue(t *testing.T) {
	g := New(Options{MinDelay: time.Millisecond, Timeout: -1})

	release := make(chan struct{})
	firstRunning := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
			close(firstRunning)
			<-release
			return nil, nil
		})
	}()
	<-firstRunning

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Do(ctx, noFeedback)
	}()
	waitForWaiters(t, g, 1)

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter returned %v, want context.Canceled", err)
	}
	waitForWaiters(t, g, 0)

	// The slot still works for later callers.
	close(release)
	wg.Wait()
	if err := g.Do(context.Background(), noFeedback); err != nil {
		t.Fatalf("Do after cancellation: %v", err)
	}
}

func TestDo_TimeoutFailsCallAndReleasesQueue(t *testing.T) {
	g := New(Options{MinDelay: time.Microsecond, Timeout: 20 * time.Millisecond})

	err := g.Do(context.Background(), func(ctx context.Context) (*Feedback, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("hung call returned %v, want context.DeadlineExceeded", err)
	}

	// The queue is free again.
	done := make(chan error, 1)
	go func() {
		done <- g.Do(context.Background(), noFeedback)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow-up call: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queue not released after timed-out call")
	}
}

func TestDo_ErrorFeedbackStillObserved(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(Options{MinDelay: time.Millisecond, Timeout: -1}, clock)

	wantErr := errors.New("upstream rejected")
	err := g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
		return &Feedback{Remaining: 0, HasRemaining: true, ResetAfter: time.Minute, HasReset: true}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want the call's error", err)
	}

	st := g.Snapshot()
	if !st.KnownRemaining || st.Remaining != 0 {
		t.Errorf("state = %+v, want rejection headers recorded", st)
	}
}

func TestDo_QueueDisabledRunsConcurrently(t *testing.T) {
	g := New(Options{QueueDisabled: true, MinDelay: time.Microsecond, Timeout: -1})

	barrier := make(chan struct{})
	both := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Do(context.Background(), func(_ context.Context) (*Feedback, error) {
				both <- struct{}{}
				<-barrier
				return nil, nil
			})
		}()
	}

	// With the queue off, both calls can be in flight at once.
	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-both:
		case <-timeout:
			t.Fatal("calls serialized despite queueing disabled")
		}
	}
	close(barrier)
	wg.Wait()
}

func waitForWaiters(t *testing.T, g *Governor, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for g.Snapshot().Waiting != want {
		if time.Now().After(deadline) {
			t.Fatalf("waiters never reached %d", want)
		}
		time.Sleep(time.Millisecond)
	}
}
