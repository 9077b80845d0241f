package resilience

import (
	"context"
	"sync"
	"time"
)

// AdaptiveBulkheadConfig configures the AIMD-controlled bulkhead.
type AdaptiveBulkheadConfig struct {
	// Key identifies the protected resource in emitted events.
	Key string

	// Floor is the lowest the concurrency limit may fall.
	// Default: 1
	Floor int

	// Ceiling is the highest the concurrency limit may climb.
	// Default: 100
	Ceiling int

	// InitialLimit is the starting concurrency limit.
	// Default: Ceiling
	InitialLimit int

	// AdmissionTimeout is the maximum time to wait for admission.
	// Default: 0 (no waiting, reject immediately)
	AdmissionTimeout time.Duration

	// WindowSize is the count-based sliding window of recent outcomes.
	// Default: 50
	WindowSize int

	// MinSamples is the number of recorded outcomes required before any
	// adjustment is made, so a cold start does not react to noise.
	// Default: 10
	MinSamples int

	// Alpha is the smoothing constant for the error-rate EMA.
	// Default: 0.15
	Alpha float64

	// DecreaseThreshold is the EMA error rate above which the limit is
	// cut multiplicatively.
	// Default: 0.10
	DecreaseThreshold float64

	// RecoveryThreshold is the EMA error rate below which additive
	// increase is allowed.
	// Default: 0.10
	RecoveryThreshold float64

	// DecreaseFactor multiplies the limit on an error spike.
	// Default: 0.75
	DecreaseFactor float64

	// IncreaseAfter is the run of consecutive successes, since the last
	// adjustment, required before the limit grows by one.
	// Default: 5
	IncreaseAfter int

	// MinAdjustInterval is the minimum time between decreases, so a
	// single burst of errors does not collapse the limit to the floor.
	// Default: 5 seconds
	MinAdjustInterval time.Duration

	// Sink receives bulkhead_rejected and bulkhead_limit_adjusted
	// events. Default: NopSink.
	Sink Sink
}

// AdaptiveBulkhead is a concurrency admission gate whose capacity is
// self-tuned by an AIMD control loop, mirroring TCP congestion avoidance:
// the limit is cut multiplicatively when the observed error rate spikes
// (429/529-class signals) and recovered additively, one slot at a time,
// under sustained success.
//
// Calls admitted under a higher prior limit are never cancelled when the
// limit drops; only new admissions are gated.
type AdaptiveBulkhead struct {
	config AdaptiveBulkheadConfig

	mu       sync.Mutex
	limit    int
	inflight int
	waitCh   chan struct{}

	window      []bool // true = error
	windowNext  int
	windowCount int
	ema         float64
	successRun  int
	adjusted    int64
	rejected    int64
	lastAdjust  time.Time

	now func() time.Time
}

// NewAdaptiveBulkhead creates a new adaptive bulkhead.
func NewAdaptiveBulkhead(config AdaptiveBulkheadConfig) *AdaptiveBulkhead {
	// Apply defaults
	if config.Floor <= 0 {
		config.Floor = 1
	}
	if config.Ceiling <= 0 {
		config.Ceiling = 100
	}
	if config.Ceiling < config.Floor {
		config.Ceiling = config.Floor
	}
	if config.InitialLimit <= 0 {
		config.InitialLimit = config.Ceiling
	}
	if config.InitialLimit < config.Floor {
		config.InitialLimit = config.Floor
	}
	if config.InitialLimit > config.Ceiling {
		config.InitialLimit = config.Ceiling
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 50
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	if config.Alpha <= 0 || config.Alpha >= 1 {
		config.Alpha = 0.15
	}
	if config.DecreaseThreshold <= 0 {
		config.DecreaseThreshold = 0.10
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 0.10
	}
	if config.DecreaseFactor <= 0 || config.DecreaseFactor >= 1 {
		config.DecreaseFactor = 0.75
	}
	if config.IncreaseAfter <= 0 {
		config.IncreaseAfter = 5
	}
	if config.MinAdjustInterval <= 0 {
		config.MinAdjustInterval = 5 * time.Second
	}
	if config.Sink == nil {
		config.Sink = NopSink{}
	}

	return &AdaptiveBulkhead{
		config: config,
		limit:  config.InitialLimit,
		waitCh: make(chan struct{}),
		window: make([]bool, config.WindowSize),
		now:    time.Now,
	}
}

// Acquire takes an admission slot under the current limit, waiting up to
// the admission timeout for one to free. Every successful Acquire must be
// resolved with exactly one Release or Drop.
func (ab *AdaptiveBulkhead) Acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if ab.config.AdmissionTimeout > 0 {
		timer := time.NewTimer(ab.config.AdmissionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		ab.mu.Lock()
		if ab.inflight < ab.limit {
			ab.inflight++
			ab.mu.Unlock()
			return nil
		}
		wait := ab.waitCh
		ab.mu.Unlock()

		if timeout == nil {
			ab.reject()
			return ErrBulkheadRejected
		}

		select {
		case <-wait:
			// A slot may have freed; re-check under the lock.
		case <-timeout:
			ab.reject()
			return ErrBulkheadRejected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release resolves an admitted call with its outcome, feeding the AIMD
// controller, and frees the slot.
func (ab *AdaptiveBulkhead) Release(err error) {
	ab.mu.Lock()
	ab.recordLocked(err != nil)
	ab.freeLocked()
	ab.mu.Unlock()
}

// Drop frees the slot without recording an outcome. It is used when an
// admitted call never ran, so the window is not polluted with admissions
// that say nothing about upstream health.
func (ab *AdaptiveBulkhead) Drop() {
	ab.mu.Lock()
	ab.freeLocked()
	ab.mu.Unlock()
}

// Execute runs the operation inside the bulkhead, recording its outcome.
func (ab *AdaptiveBulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := ab.Acquire(ctx); err != nil {
		return err
	}

	err := op(ctx)
	ab.Release(err)
	return err
}

// Limit returns the current concurrency limit.
func (ab *AdaptiveBulkhead) Limit() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.limit
}

func (ab *AdaptiveBulkhead) freeLocked() {
	ab.inflight--
	// Wake all waiters; they re-check the limit under the lock.
	close(ab.waitCh)
	ab.waitCh = make(chan struct{})
}

func (ab *AdaptiveBulkhead) reject() {
	ab.mu.Lock()
	ab.rejected++
	ab.mu.Unlock()
	ab.config.Sink.BulkheadRejected(ab.config.Key)
}

// recordLocked pushes one outcome into the sliding window, updates the
// error-rate EMA, and applies the AIMD adjustment rules.
func (ab *AdaptiveBulkhead) recordLocked(isError bool) {
	ab.window[ab.windowNext] = isError
	ab.windowNext = (ab.windowNext + 1) % len(ab.window)
	if ab.windowCount < len(ab.window) {
		ab.windowCount++
	}

	indicator := 0.0
	if isError {
		indicator = 1.0
		ab.successRun = 0
	} else {
		ab.successRun++
	}
	ab.ema = ab.ema*(1-ab.config.Alpha) + indicator*ab.config.Alpha

	if ab.windowCount < ab.config.MinSamples {
		return
	}

	now := ab.now()

	// Multiplicative decrease on error events: react fast to spikes.
	if isError && ab.ema > ab.config.DecreaseThreshold {
		if now.Sub(ab.lastAdjust) < ab.config.MinAdjustInterval {
			return
		}
		newLimit := int(float64(ab.limit) * ab.config.DecreaseFactor)
		if newLimit < ab.config.Floor {
			newLimit = ab.config.Floor
		}
		if newLimit != ab.limit {
			ab.setLimitLocked(newLimit, now)
		}
		return
	}

	// Additive increase: recover capacity slowly to avoid oscillation.
	if !isError && ab.successRun >= ab.config.IncreaseAfter &&
		ab.ema < ab.config.RecoveryThreshold &&
		ab.limit < ab.config.Ceiling {
		ab.setLimitLocked(ab.limit+1, now)
	}
}

func (ab *AdaptiveBulkhead) setLimitLocked(newLimit int, now time.Time) {
	old := ab.limit
	ab.limit = newLimit
	ab.lastAdjust = now
	ab.successRun = 0
	ab.adjusted++
	ab.config.Sink.BulkheadLimitAdjusted(ab.config.Key, old, newLimit)
	if newLimit > old {
		// New capacity: wake waiters blocked on the old limit.
		close(ab.waitCh)
		ab.waitCh = make(chan struct{})
	}
}

// Snapshot returns current adaptive bulkhead statistics.
func (ab *AdaptiveBulkhead) Snapshot() AdaptiveSnapshot {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	return AdaptiveSnapshot{
		Limit:          ab.limit,
		Floor:          ab.config.Floor,
		Ceiling:        ab.config.Ceiling,
		Inflight:       ab.inflight,
		ErrorRate:      ab.ema,
		Samples:        ab.windowCount,
		Adjustments:    ab.adjusted,
		Rejected:       ab.rejected,
		LastAdjustment: ab.lastAdjust,
	}
}

// AdaptiveSnapshot contains adaptive bulkhead statistics.
type AdaptiveSnapshot struct {
	Limit          int
	Floor          int
	Ceiling        int
	Inflight       int
	ErrorRate      float64
	Samples        int
	Adjustments    int64
	Rejected       int64
	LastAdjustment time.Time
}
