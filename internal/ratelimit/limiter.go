package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultMaxMessages = 30
	DefaultWindow      = 60 * time.Second
)

// Result is the outcome of a single Consume call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// bucket tracks one identity's fixed window.
type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter implements per-identity fixed-window throttling
// ARCHITECTURAL DISCOVERY: Per-identity state tracking with a periodic sweep
// keeps memory bounded for a large, mostly idle user base.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	maxMessages int
	window      time.Duration
	clock       clock.Clock

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLimiter creates a limiter allowing maxMessages per window.
// Non-positive arguments fall back to the defaults; a nil clock uses wall time.
func NewLimiter(maxMessages int, window time.Duration, clk clock.Clock) *Limiter {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		buckets:     make(map[string]*bucket),
		maxMessages: maxMessages,
		window:      window,
		clock:       clk,
	}
}

// Consume counts one message for identity.
// FUNCTIONAL DISCOVERY: Over-limit calls still increment the counter, so rapid
// retries keep failing until the window resets.
func (l *Limiter) Consume(identity string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, exists := l.buckets[identity]
	if !exists || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[identity] = b
	}

	b.count++

	if b.count > l.maxMessages {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.resetAt.Sub(now),
		}
	}

	return Result{
		Allowed:   true,
		Remaining: l.maxMessages - b.count,
	}
}

// Cleanup removes buckets whose window has already expired
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for identity, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, identity)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// SweepInterval is how often the background sweep runs (twice the window).
func (l *Limiter) SweepInterval() time.Duration {
	return 2 * l.window
}

// Start launches the background sweep. Calling Start on a running limiter is a no-op.
func (l *Limiter) Start(ctx context.Context) {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	ticker := l.clock.Ticker(l.SweepInterval())
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}(l.done)
}

// Stop halts the background sweep and waits for it to exit. Safe to call repeatedly.
func (l *Limiter) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}
