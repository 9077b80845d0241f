package resilience

import "errors"

// Sentinel errors for resilience operations. These are fail-fast errors:
// the retry executor never retries them, because retrying against a
// known-unavailable resource only worsens overload.
var (
	// ErrRateLimitExceeded is returned when the token bucket denies a
	// non-blocking acquisition, or a blocking wait exceeds its deadline.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadRejected is returned when no admission slot becomes
	// available within the admission timeout.
	ErrBulkheadRejected = errors.New("resilience: bulkhead rejected")

	// ErrCircuitOpen is returned when the circuit is open, or the
	// half-open trial budget is exhausted.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrTimeout is returned when the wrapped operation exceeds its
	// deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// IsFailFast reports whether err is an admission-control rejection that
// must be handed directly to the fallback policy without retrying.
func IsFailFast(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrBulkheadRejected) ||
		errors.Is(err, ErrCircuitOpen)
}
