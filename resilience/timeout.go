package resilience

import (
	"context"
	"time"
)

// TimeoutConfig configures the timeout enforcer.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout wraps operations with a deadline. On expiry the in-flight
// operation is cancelled through its context and ErrTimeout is returned;
// the enforcer never blocks past the deadline regardless of the wrapped
// operation's own behavior.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout enforcer.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs the operation under the deadline. ErrTimeout is reported
// only for the enforcer's own deadline; expiry of the parent context is
// the caller's deadline and propagates as the parent's error, so it is
// not mistaken for a retryable per-attempt timeout.
func (t *Timeout) Execute(parent context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return err
		}
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout is a convenience function to run an operation under a
// deadline.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	t := NewTimeout(TimeoutConfig{Timeout: timeout})
	return t.Execute(ctx, op)
}
