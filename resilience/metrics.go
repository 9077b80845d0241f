package resilience

import "time"

// Sink receives structured events from the resilience components.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must be best-effort and must not panic.
// - Latency: methods are called on the hot path and should return quickly.
type Sink interface {
	// CircuitStateChanged is emitted on every breaker transition.
	CircuitStateChanged(key string, from, to State)

	// RetryAttempted is emitted before each retry sleep.
	RetryAttempted(key string, attempt int, delay time.Duration)

	// RetryExhausted is emitted when all attempts have been consumed.
	RetryExhausted(key string, attempts int)

	// BulkheadRejected is emitted when admission times out.
	BulkheadRejected(key string)

	// BulkheadLimitAdjusted is emitted when the adaptive bulkhead moves
	// its concurrency limit.
	BulkheadLimitAdjusted(key string, oldLimit, newLimit int)

	// RateLimited is emitted when the token bucket delays or rejects a
	// call, with the wait that was imposed.
	RateLimited(key string, wait time.Duration)
}

// NopSink is a Sink that discards all events. It is the default when no
// sink is injected.
type NopSink struct{}

func (NopSink) CircuitStateChanged(key string, from, to State)              {}
func (NopSink) RetryAttempted(key string, attempt int, delay time.Duration) {}
func (NopSink) RetryExhausted(key string, attempts int)                     {}
func (NopSink) BulkheadRejected(key string)                                 {}
func (NopSink) BulkheadLimitAdjusted(key string, oldLimit, newLimit int)    {}
func (NopSink) RateLimited(key string, wait time.Duration)                  {}

var _ Sink = NopSink{}
