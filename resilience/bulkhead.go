package resilience

import (
	"context"
	"sync"
	"time"
)

// BulkheadConfig configures the static bulkhead.
type BulkheadConfig struct {
	// Key identifies the protected resource in emitted events.
	Key string

	// MaxConcurrent is the fixed number of admission slots.
	// Default: 10
	MaxConcurrent int

	// AdmissionTimeout is the maximum time to wait for a free slot.
	// Default: 0 (no waiting, reject immediately)
	AdmissionTimeout time.Duration

	// Sink receives bulkhead_rejected events. Default: NopSink.
	Sink Sink
}

// Bulkhead is a counting admission gate with a fixed capacity. It bounds
// the number of concurrent operations against one key so a failing
// dependency cannot exhaust all resources.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.Sink == nil {
		config.Sink = NopSink{}
	}

	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes an admission slot, waiting up to the admission timeout.
// It returns ErrBulkheadRejected when no slot frees up in time. Every
// successful Acquire must be paired with exactly one Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	// Fast path: non-blocking acquire
	select {
	case b.sem <- struct{}{}:
		b.noteAcquired()
		return nil
	default:
	}

	if b.config.AdmissionTimeout <= 0 {
		b.noteRejected()
		return ErrBulkheadRejected
	}

	timer := time.NewTimer(b.config.AdmissionTimeout)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		b.noteAcquired()
		return nil
	case <-timer.C:
		b.noteRejected()
		return ErrBulkheadRejected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees an admission slot.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	default:
		// Release without a matching Acquire; nothing to free.
	}
}

// Execute runs the operation inside the bulkhead. The slot is released on
// every exit path.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

func (b *Bulkhead) noteAcquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) noteRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
	b.config.Sink.BulkheadRejected(b.config.Key)
}

// Snapshot returns current bulkhead statistics.
func (b *Bulkhead) Snapshot() BulkheadSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadSnapshot{
		Limit:    b.config.MaxConcurrent,
		Active:   b.active,
		MaxUsed:  b.maxActive,
		Rejected: b.rejected,
	}
}

// BulkheadSnapshot contains bulkhead statistics.
type BulkheadSnapshot struct {
	Limit    int
	Active   int
	MaxUsed  int
	Rejected int64
}
