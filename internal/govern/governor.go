package govern

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMinDelay is the minimum gap between upstream call starts.
	DefaultMinDelay = time.Second

	// DefaultLowWater is the remaining-quota level at or below which the
	// governor waits for the quota window to reset before calling again.
	DefaultLowWater = 2

	// DefaultResetBuffer pads the reported reset time so the next call lands
	// after the window actually rolled over.
	DefaultResetBuffer = 500 * time.Millisecond

	// DefaultTimeout bounds a single upstream call so a hung request cannot
	// block the queue forever.
	DefaultTimeout = 30 * time.Second
)

// Feedback carries rate-limit information observed on an upstream response.
// The Has* flags distinguish "absent header" from a zero value; absent
// feedback leaves the governor's prior knowledge unchanged.
type Feedback struct {
	Remaining    int
	HasRemaining bool
	ResetAfter   time.Duration
	HasReset     bool
}

// State is a read-only snapshot of the governor's rate-limit knowledge.
type State struct {
	Remaining      int
	KnownRemaining bool
	ResetAt        time.Time
	LastRequestAt  time.Time
	Waiting        int
}

// Options configures a Governor. Zero values select the defaults above.
type Options struct {
	// QueueDisabled turns off FIFO serialization: calls run concurrently and
	// only the pacing state is shared.
	QueueDisabled bool

	MinDelay    time.Duration
	LowWater    int
	ResetBuffer time.Duration

	// Timeout applies per upstream call. Negative disables the deadline.
	Timeout time.Duration
}

// Governor serializes and paces outbound calls: at most one call in flight,
// queued callers released strictly in arrival order, a minimum delay between
// call starts, and a backoff when the known remaining quota is critically low.
// It never retries; upstream errors propagate to the caller.
type Governor struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}

	queueing    bool
	minDelay    time.Duration
	lowWater    int
	resetBuffer time.Duration
	timeout     time.Duration

	remaining      int
	knownRemaining bool
	resetAt        time.Time
	lastRequest    time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Governor with the given options.
func New(opts Options) *Governor {
	g := &Governor{
		queueing:    !opts.QueueDisabled,
		minDelay:    opts.MinDelay,
		lowWater:    opts.LowWater,
		resetBuffer: opts.ResetBuffer,
		timeout:     opts.Timeout,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	if g.minDelay <= 0 {
		g.minDelay = DefaultMinDelay
	}
	if g.lowWater <= 0 {
		g.lowWater = DefaultLowWater
	}
	if g.resetBuffer <= 0 {
		g.resetBuffer = DefaultResetBuffer
	}
	if g.timeout == 0 {
		g.timeout = DefaultTimeout
	}
	return g
}

// Do admits the call into the FIFO queue, waits out any pacing delay, and
// runs it. Feedback returned by the call updates the rate-limit state even
// when the call itself failed (a rejected response still reports headers).
func (g *Governor) Do(ctx context.Context, call func(ctx context.Context) (*Feedback, error)) error {
	if g.queueing {
		if err := g.acquire(ctx); err != nil {
			return err
		}
		defer g.release()
	}

	if err := g.pace(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.lastRequest = g.now()
	g.mu.Unlock()

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	fb, err := call(callCtx)
	if fb != nil {
		g.observe(fb)
	}
	return err
}

// acquire takes the single in-flight slot, parking behind earlier callers.
func (g *Governor) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	g.waiters = append(g.waiters, ticket)
	g.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ticket {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was handed over concurrently with cancellation; take it
		// and pass it straight to the next waiter.
		<-ticket
		g.release()
		return ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it.
func (g *Governor) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

// pace blocks until both the minimum inter-request delay has elapsed and,
// when the known quota is at or below the low-water mark, the quota window
// has reset (plus buffer).
func (g *Governor) pace(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()

		// A reset that has passed clears stale low-quota knowledge.
		if g.knownRemaining && !g.resetAt.IsZero() && !now.Before(g.resetAt.Add(g.resetBuffer)) {
			g.knownRemaining = false
		}

		var wait time.Duration
		if !g.lastRequest.IsZero() {
			if elapsed := now.Sub(g.lastRequest); elapsed < g.minDelay {
				wait = g.minDelay - elapsed
			}
		}
		if g.knownRemaining && g.remaining <= g.lowWater && !g.resetAt.IsZero() {
			if until := g.resetAt.Add(g.resetBuffer).Sub(now); until > wait {
				wait = until
			}
		}
		g.mu.Unlock()

		if wait <= 0 {
			return nil
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// observe folds response feedback into the rate-limit state. Fields the
// response did not report keep their previous value.
func (g *Governor) observe(fb *Feedback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fb.HasRemaining {
		g.remaining = fb.Remaining
		g.knownRemaining = true
	}
	if fb.HasReset {
		g.resetAt = g.now().Add(fb.ResetAfter)
	}
}

// Snapshot returns the current rate-limit state for status display.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Remaining:      g.remaining,
		KnownRemaining: g.knownRemaining,
		ResetAt:        g.resetAt,
		LastRequestAt:  g.lastRequest,
		Waiting:        len(g.waiters),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
