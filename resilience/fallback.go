package resilience

// FallbackStrategy decides the final behavior once the retry executor and
// circuit breaker jointly agree a call cannot succeed.
type FallbackStrategy int

const (
	// FailClosed propagates the terminal error to the caller. This is
	// the default, safety-biased behavior.
	FailClosed FallbackStrategy = iota
	// FailOpen suppresses the error and returns a caller-supplied
	// default value.
	FailOpen
	// ReturnEmpty suppresses the error and returns the zero value, for
	// read-style operations where an empty result is acceptable.
	ReturnEmpty
)

// String returns the string representation of the strategy.
func (f FallbackStrategy) String() string {
	switch f {
	case FailClosed:
		return "fail-closed"
	case FailOpen:
		return "fail-open"
	case ReturnEmpty:
		return "return-empty"
	default:
		return "unknown"
	}
}

// resolveFallback converts a terminal error into the final result per the
// configured strategy.
func resolveFallback[T any](strategy FallbackStrategy, fallback T, err error) (T, error) {
	switch strategy {
	case FailOpen:
		return fallback, nil
	case ReturnEmpty:
		var zero T
		return zero, nil
	default:
		var zero T
		return zero, err
	}
}
