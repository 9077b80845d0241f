package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeout_Defaults(t *testing.T) {
	to := NewTimeout(TimeoutConfig{})

	if to.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", to.config.Timeout)
	}
}

func TestTimeout_CompletesInTime(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestTimeout_PropagatesError(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	testErr := errors.New("boom")
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Errorf("Execute() = %v, want %v", err, testErr)
	}
}

func TestTimeout_ExpiresAndCancels(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 20 * time.Millisecond})

	cancelled := make(chan struct{})
	start := time.Now()
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Execute() returned after %v, must not block past the deadline", elapsed)
	}

	select {
	case <-cancelled:
		// In-flight work saw the cancellation.
	case <-time.After(time.Second):
		t.Error("Wrapped operation never observed cancellation")
	}
}

func TestTimeout_NeverBlocksPastDeadline(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})

	// The wrapped operation ignores its context entirely.
	start := time.Now()
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Execute() took %v, want prompt return at the deadline", elapsed)
	}
}

func TestTimeout_OuterCancellation(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
}

func TestTimeout_ParentDeadlineNotReportedAsTimeout(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	// The caller's own deadline expired, not the per-attempt budget, so
	// the caller's error must come back rather than a retryable timeout.
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() = %v, must not be reported as a per-attempt timeout", err)
	}
}

func TestExecuteWithTimeout(t *testing.T) {
	err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ExecuteWithTimeout() = %v, want ErrTimeout", err)
	}
}
