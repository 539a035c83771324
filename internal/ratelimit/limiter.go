package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Class identifies one external endpoint budget. The pricing lookup and
// the feeds submission have separately published rates.
type Class string

const (
	ClassPricing Class = "pricing"
	ClassFeeds   Class = "feeds"
)

// ErrMaxWait is returned when a slot cannot be obtained within the
// configured max wait.
var ErrMaxWait = errors.New("rate budget exhausted within max wait")

// MaxWaitError wraps ErrMaxWait with the time until the next slot would
// open at the current effective rate, so surfaces can tell clients when
// to retry.
type MaxWaitError struct {
	Class Class
	Wait  time.Duration
}

func (e *MaxWaitError) Error() string {
	return fmt.Sprintf("%v: class %s, next slot in %s", ErrMaxWait, e.Class, e.Wait)
}

func (e *MaxWaitError) Unwrap() error {
	return ErrMaxWait
}

// Config is the budget for one endpoint class.
type Config struct {
	PerMinute float64       // sustained request budget
	Burst     float64       // bucket capacity; defaults to max(1, 2s worth)
	MaxWait   time.Duration // how long Acquire may block
}

// tighten parameters: each throttle signal halves the refill rate for the
// cooloff window, down to a floor of 1/8 the base rate.
const (
	tightenFactor = 0.5
	tightenFloor  = 0.125
	cooloffWindow = 2 * time.Minute
)

type bucket struct {
	mu             sync.Mutex
	capacity       float64
	tokens         float64
	baseRefill     float64 // tokens per second, configured budget
	refillPerSec   float64 // effective rate, reduced while tightened
	last           time.Time
	maxWait        time.Duration
	tightenedUntil time.Time
}

// Limiter throttles outbound calls per endpoint class. One instance is
// shared process-wide; all counter state lives behind each bucket's mutex.
type Limiter struct {
	buckets map[Class]*bucket
	nowFunc func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option adjusts limiter internals, used by tests to control time.
type Option func(*Limiter)

// WithClock swaps the wall clock and sleeper.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		l.nowFunc = now
		l.sleep = sleep
	}
}

// New builds a limiter from per-class budgets.
func New(configs map[Class]Config, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: map[Class]*bucket{},
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	for class, cfg := range configs {
		rate := cfg.PerMinute / 60
		burst := cfg.Burst
		if burst <= 0 {
			burst = math.Max(1, rate*2)
		}
		l.buckets[class] = &bucket{
			capacity:     burst,
			tokens:       burst,
			baseRefill:   rate,
			refillPerSec: rate,
			last:         l.nowFunc(),
			maxWait:      cfg.MaxWait,
		}
	}
	return l
}

// Acquire blocks until a slot for the class is available, the context is
// done, or the class's max wait is exceeded.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	b, ok := l.buckets[class]
	if !ok {
		return fmt.Errorf("unknown endpoint class %q", class)
	}

	deadline := l.nowFunc().Add(b.maxWait)
	for {
		ok, toNext := b.take(l.nowFunc())
		if ok {
			return nil
		}
		wakeAt := l.nowFunc().Add(toNext)
		if wakeAt.After(deadline) {
			return &MaxWaitError{Class: class, Wait: toNext}
		}
		if err := l.sleep(ctx, toNext+jitter(toNext)); err != nil {
			return err
		}
	}
}

// ReportThrottle tells the limiter the external API answered with a
// throttling response. The effective rate is cut for a cooloff window so
// the next acquisitions wait longer than they would have pre-throttle.
func (l *Limiter) ReportThrottle(class Class) {
	b, ok := l.buckets[class]
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.nowFunc()
	reduced := b.refillPerSec * tightenFactor
	floor := b.baseRefill * tightenFloor
	if reduced < floor {
		reduced = floor
	}
	b.refillPerSec = reduced
	b.tightenedUntil = now.Add(cooloffWindow)
	// the remote side said no: whatever we thought we had saved up is gone
	b.tokens = 0
	b.last = now
}

// take refills and consumes one token. When empty it returns the time
// until the next token at the current effective rate.
func (b *bucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tightenedUntil.IsZero() && now.After(b.tightenedUntil) {
		b.refillPerSec = b.baseRefill
		b.tightenedUntil = time.Time{}
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillPerSec)
		b.last = now
	}
	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	need := 1.0 - b.tokens
	return false, time.Duration(need / b.refillPerSec * float64(time.Second))
}

func jitter(d time.Duration) time.Duration {
	return time.Duration(rand.Float64() * 0.1 * float64(d))
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
