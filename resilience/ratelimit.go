package resilience

import (
	"context"
	"sync"
	"time"
)

// Limiter admits or delays calls ahead of bulkhead admission. Wait blocks
// until the caller may proceed, the limiter's own deadline passes, or ctx
// is cancelled.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Wait returns ErrRateLimitExceeded on denial, or ctx.Err().
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiterConfig configures the token bucket rate limiter.
type RateLimiterConfig struct {
	// Key identifies the protected resource in emitted events.
	Key string

	// Rate is the refill rate in tokens per second.
	// Default: 100
	Rate float64

	// Burst is the bucket capacity (maximum burst size).
	// Default: 10
	Burst int

	// MaxWait is the overall deadline for a blocking acquisition.
	// Default: 1 second
	MaxWait time.Duration

	// Sink receives rate_limited events. Default: NopSink.
	Sink Sink
}

// RateLimiter implements a token bucket. Refill is computed lazily from
// elapsed time on each acquisition attempt; there is no background timer.
type RateLimiter struct {
	config RateLimiterConfig

	mu          sync.Mutex
	tokens      float64
	lastRefresh time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	if config.Sink == nil {
		config.Sink = NopSink{}
	}

	rl := &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		sleep:  sleepCtx,
	}
	rl.now = time.Now
	rl.lastRefresh = rl.now()
	return rl
}

// Allow reports whether a single acquisition is admitted right now. It
// never sleeps.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether an acquisition of cost n is admitted right now.
func (rl *RateLimiter) AllowN(n float64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()

	if rl.tokens >= n {
		rl.tokens -= n
		return true
	}

	rl.config.Sink.RateLimited(rl.config.Key, 0)
	return false
}

// Wait blocks until a single token is available, MaxWait elapses, or ctx
// is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available. The wait for the deficit is
// computed from the refill rate; after sleeping the acquisition is
// re-attempted, so a concurrent taker cannot cause over-issuance.
func (rl *RateLimiter) WaitN(ctx context.Context, n float64) error {
	deadline := rl.now().Add(rl.config.MaxWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rl.mu.Lock()
		rl.refillLocked()
		if rl.tokens >= n {
			rl.tokens -= n
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((n - rl.tokens) / rl.config.Rate * float64(time.Second))
		rl.mu.Unlock()

		if remaining := deadline.Sub(rl.now()); wait > remaining {
			rl.config.Sink.RateLimited(rl.config.Key, wait)
			return ErrRateLimitExceeded
		}

		rl.config.Sink.RateLimited(rl.config.Key, wait)
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Execute runs the operation once a token has been acquired.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return op(ctx)
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefresh)
	rl.lastRefresh = now

	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// Tokens returns the current number of available tokens after refill.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// Reset restores the bucket to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.config.Burst)
	rl.lastRefresh = rl.now()
}

// MultiLimiter requires acquisition from several limiters in sequence,
// failing fast if any denies. It composes a shared provider-level bucket
// with a per-operation bucket.
type MultiLimiter struct {
	limiters []Limiter
}

// NewMultiLimiter creates a limiter that acquires from each of the given
// limiters in order.
func NewMultiLimiter(limiters ...Limiter) *MultiLimiter {
	return &MultiLimiter{limiters: limiters}
}

// Wait acquires from every limiter in sequence.
func (ml *MultiLimiter) Wait(ctx context.Context) error {
	for _, l := range ml.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ Limiter = (*RateLimiter)(nil)
	_ Limiter = (*MultiLimiter)(nil)
)
