package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// JitterStrategy defines how retry delays are randomized to avoid
// synchronized retry storms.
type JitterStrategy int

const (
	// JitterNone uses the computed backoff delay unmodified.
	JitterNone JitterStrategy = iota
	// JitterSimple perturbs the delay by up to ±25%.
	JitterSimple
	// JitterFull picks a uniform random delay in [0, computed].
	JitterFull
	// JitterDecorrelated picks uniform(base, previous*3), capped at the
	// max delay.
	JitterDecorrelated
)

// String returns the string representation of the strategy.
func (j JitterStrategy) String() string {
	switch j {
	case JitterNone:
		return "none"
	case JitterSimple:
		return "simple"
	case JitterFull:
		return "full"
	case JitterDecorrelated:
		return "decorrelated"
	default:
		return "unknown"
	}
}

// RetryPolicy configures the retry executor.
type RetryPolicy struct {
	// Key identifies the protected resource in emitted events.
	Key string

	// MaxAttempts is the maximum number of attempts (including the
	// initial one) for retryable failures.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the computed delay between retries. A server-stated
	// Retry-After may still exceed it.
	// Default: 30s
	MaxDelay time.Duration

	// Jitter is the jitter strategy applied to computed delays.
	// Default: JitterNone (the computed delay is used unmodified)
	Jitter JitterStrategy

	// OverloadBudget is the number of extra attempts granted when the
	// upstream signals overload: transient overload deserves more
	// patience than generic errors.
	// Default: 0
	OverloadBudget int

	// Classify maps a failure to its retry classification.
	// Default: Classify.
	Classify func(err error) Classification

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand is a uniform [0, 1) source for jitter, injectable for
	// deterministic tests. Default: math/rand/v2.
	Rand func() float64

	// Sink receives retry_attempted and retry_exhausted events.
	// Default: NopSink.
	Sink Sink
}

// Retry orchestrates attempts with exponential backoff, jitter, and
// Retry-After handling.
type Retry struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetry creates a new retry executor.
func NewRetry(policy RetryPolicy) *Retry {
	// Apply defaults
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Classify == nil {
		policy.Classify = Classify
	}
	if policy.Rand == nil {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		policy.Rand = rand.Float64
	}
	if policy.Sink == nil {
		policy.Sink = NopSink{}
	}

	return &Retry{policy: policy, sleep: sleepCtx}
}

// Execute runs the operation with retry logic. Fail-fast admission
// errors (rate limit, bulkhead, circuit open) and permanent failures are
// returned immediately; retryable and overload failures are retried with
// backoff until the attempt budget is exhausted.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	prevDelay := r.policy.BaseDelay

	attempt := 1
	for ; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFailFast(err) {
			return err
		}

		class := r.policy.Classify(err)
		if class == ClassPermanent || class == ClassSuccess {
			return err
		}

		budget := r.policy.MaxAttempts
		if class == ClassOverload {
			budget += r.policy.OverloadBudget
		}
		if attempt >= budget {
			break
		}

		delay := r.delay(attempt, prevDelay)
		prevDelay = delay

		// A server-stated Retry-After is a floor on the wait: the
		// upstream knows better than our backoff curve.
		if ra, ok := RetryAfterFrom(err); ok && ra > delay {
			delay = ra
		}

		r.policy.Sink.RetryAttempted(r.policy.Key, attempt, delay)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	// attempt holds the attempts actually made, which exceeds
	// MaxAttempts when the overload budget extended the run.
	r.policy.Sink.RetryExhausted(r.policy.Key, attempt)
	return lastErr
}

// delay computes the backoff for the given attempt (1-based), applying
// the configured jitter strategy.
func (r *Retry) delay(attempt int, prevDelay time.Duration) time.Duration {
	base := float64(r.policy.BaseDelay)
	maxd := float64(r.policy.MaxDelay)

	exp := base * math.Pow(2, float64(attempt-1))
	if exp > maxd {
		exp = maxd
	}

	var d float64
	switch r.policy.Jitter {
	case JitterNone:
		d = exp
	case JitterSimple:
		d = exp * (0.75 + 0.5*r.policy.Rand())
	case JitterFull:
		d = exp * r.policy.Rand()
	case JitterDecorrelated:
		upper := float64(prevDelay) * 3
		if upper < base {
			upper = base
		}
		d = base + (upper-base)*r.policy.Rand()
	default:
		d = exp
	}

	if d > maxd {
		d = maxd
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Policy returns the retry policy.
func (r *Retry) Policy() RetryPolicy {
	return r.policy
}
