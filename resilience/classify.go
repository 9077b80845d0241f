package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Classification describes how the retry executor treats a failure.
type Classification int

const (
	// ClassSuccess means the call succeeded.
	ClassSuccess Classification = iota
	// ClassRetryable means the failure is transient and eligible for retry.
	ClassRetryable
	// ClassOverload means the upstream signalled overload (HTTP 529 or a
	// provider-specific "overloaded" response). Overload failures may
	// consume an extended attempt budget.
	ClassOverload
	// ClassPermanent means the failure must not be retried.
	ClassPermanent
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassOverload:
		return "overload"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// classifiedError tags an underlying error with a classification and an
// optional server-stated wait.
type classifiedError struct {
	err        error
	class      Classification
	retryAfter time.Duration
	hasWait    bool
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

// Retryable marks err as a transient failure eligible for retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassRetryable}
}

// Overloaded marks err as an upstream overload signal. Overload failures
// are retried with extra patience.
func Overloaded(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassOverload}
}

// Permanent marks err as non-retryable. The retry executor propagates
// permanent failures immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassPermanent}
}

// WithRetryAfter attaches a server-stated minimum wait to err. The wait
// acts as a floor on the computed backoff delay before the next attempt.
func WithRetryAfter(err error, wait time.Duration) error {
	if err == nil {
		return nil
	}
	class := ClassRetryable
	var ce *classifiedError
	if errors.As(err, &ce) {
		class = ce.class
	}
	return &classifiedError{err: err, class: class, retryAfter: wait, hasWait: true}
}

// Classify returns the classification of err.
//
// Unmarked errors default to retryable, except context cancellation and
// an expired caller deadline, which are permanent: the caller has given
// up, and further attempts would run work nobody is waiting for. A
// timeout of the wrapped operation (ErrTimeout) counts as retryable.
func Classify(err error) Classification {
	if err == nil {
		return ClassSuccess
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if IsFailFast(err) {
		return ClassPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}
	return ClassRetryable
}

// RetryAfterFrom extracts a server-stated wait from err, if one was
// attached with WithRetryAfter.
func RetryAfterFrom(err error) (time.Duration, bool) {
	var ce *classifiedError
	if errors.As(err, &ce) && ce.hasWait {
		return ce.retryAfter, true
	}
	return 0, false
}

// ParseRetryAfter parses an RFC 7231 Retry-After value: either a
// non-negative integer number of seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}
