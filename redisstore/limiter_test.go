package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/bastion/resilience"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// throttleSink records RateLimited events.
type throttleSink struct {
	resilience.NopSink
	mu    sync.Mutex
	waits []time.Duration
}

func (s *throttleSink) RateLimited(key string, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, wait)
}

func (s *throttleSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

func newTestLimiter(t *testing.T, config LimiterConfig) (*Limiter, *fakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewLimiter(client, config)
	clock := newFakeClock()
	limiter.now = clock.Now
	return limiter, clock, mr
}

func TestNewLimiter_Defaults(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, LimiterConfig{Key: "svc:op"})

	if limiter.config.Rate != 100 {
		t.Errorf("Rate = %v, want 100", limiter.config.Rate)
	}
	if limiter.config.Burst != 10 {
		t.Errorf("Burst = %d, want 10", limiter.config.Burst)
	}
	if limiter.config.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", limiter.config.MaxWait)
	}
	if limiter.config.KeyPrefix != "bastion:ratelimit:" {
		t.Errorf("KeyPrefix = %v", limiter.config.KeyPrefix)
	}
}

func TestLimiter_AllowExhaustsBurst(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, LimiterConfig{
		Key:   "svc:op",
		Rate:  10,
		Burst: 2,
	})
	ctx := context.Background()

	dec, err := limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !dec.Allowed {
		t.Error("first acquisition should be allowed")
	}
	if dec.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", dec.Remaining)
	}

	dec, err = limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !dec.Allowed {
		t.Error("second acquisition should be allowed")
	}

	dec, err = limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if dec.Allowed {
		t.Error("third acquisition should be denied")
	}
	if dec.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", dec.RetryAfter)
	}
}

func TestLimiter_Refill(t *testing.T) {
	limiter, clock, _ := newTestLimiter(t, LimiterConfig{
		Key:   "svc:op",
		Rate:  1,
		Burst: 1,
	})
	ctx := context.Background()

	dec, err := limiter.Allow(ctx)
	if err != nil || !dec.Allowed {
		t.Fatalf("Allow() = %+v, %v", dec, err)
	}
	dec, err = limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if dec.Allowed {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(time.Second)

	dec, err = limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !dec.Allowed {
		t.Error("token should have refilled after one second")
	}
}

func TestLimiter_SharedState(t *testing.T) {
	limiterA, clock, mr := newTestLimiter(t, LimiterConfig{
		Key:   "svc:op",
		Rate:  1,
		Burst: 1,
	})

	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })
	limiterB := NewLimiter(clientB, LimiterConfig{
		Key:   "svc:op",
		Rate:  1,
		Burst: 1,
	})
	limiterB.now = clock.Now

	ctx := context.Background()
	dec, err := limiterA.Allow(ctx)
	if err != nil || !dec.Allowed {
		t.Fatalf("instance A Allow() = %+v, %v", dec, err)
	}

	dec, err = limiterB.Allow(ctx)
	if err != nil {
		t.Fatalf("instance B Allow() error = %v", err)
	}
	if dec.Allowed {
		t.Error("instance B should see the token consumed by instance A")
	}
}

func TestLimiter_KeysAreIsolated(t *testing.T) {
	limiter, clock, _ := newTestLimiter(t, LimiterConfig{
		Key:   "svc:first",
		Rate:  1,
		Burst: 1,
	})

	other := NewLimiter(limiter.client, LimiterConfig{
		Key:   "svc:second",
		Rate:  1,
		Burst: 1,
	})
	other.now = clock.Now

	ctx := context.Background()
	if dec, _ := limiter.Allow(ctx); !dec.Allowed {
		t.Fatal("first key should be allowed")
	}
	if dec, _ := other.Allow(ctx); !dec.Allowed {
		t.Error("second key should have its own bucket")
	}
}

func TestLimiter_WaitImmediate(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, LimiterConfig{
		Key:   "svc:op",
		Rate:  10,
		Burst: 5,
	})

	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestLimiter_WaitExceedsBudget(t *testing.T) {
	sink := &throttleSink{}
	limiter, _, _ := newTestLimiter(t, LimiterConfig{
		Key:     "svc:op",
		Rate:    0.001,
		Burst:   1,
		MaxWait: 50 * time.Millisecond,
		Sink:    sink,
	})
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	err := limiter.Wait(ctx)
	if !errors.Is(err, resilience.ErrRateLimitExceeded) {
		t.Errorf("Wait() error = %v, want ErrRateLimitExceeded", err)
	}
	if sink.count() != 1 {
		t.Errorf("RateLimited events = %d, want 1", sink.count())
	}
}

func TestLimiter_WaitSleepsForRefill(t *testing.T) {
	limiter, clock, _ := newTestLimiter(t, LimiterConfig{
		Key:     "svc:op",
		Rate:    100,
		Burst:   1,
		MaxWait: time.Second,
	})

	var sleeps int
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		clock.Advance(d)
		return nil
	}

	ctx := context.Background()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if sleeps == 0 {
		t.Error("second Wait should have slept for a refill")
	}
}

func TestLimiter_WaitContextCancelled(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, LimiterConfig{Key: "svc:op"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestLimiter_FailOpen(t *testing.T) {
	limiter, _, mr := newTestLimiter(t, LimiterConfig{Key: "svc:op"})
	mr.Close()

	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil with Redis down", err)
	}
}

func TestLimiter_FailClosed(t *testing.T) {
	limiter, _, mr := newTestLimiter(t, LimiterConfig{
		Key:        "svc:op",
		FailClosed: true,
	})
	mr.Close()

	if err := limiter.Wait(context.Background()); err == nil {
		t.Error("Wait() should surface the Redis error when failing closed")
	}
}

func TestLimiter_AllowRedisError(t *testing.T) {
	limiter, _, mr := newTestLimiter(t, LimiterConfig{Key: "svc:op"})
	mr.Close()

	if _, err := limiter.Allow(context.Background()); err == nil {
		t.Error("Allow() should report the Redis error")
	}
}

func TestLimiter_Ping(t *testing.T) {
	limiter, _, mr := newTestLimiter(t, LimiterConfig{Key: "svc:op"})

	if err := limiter.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	mr.Close()
	if err := limiter.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail with Redis down")
	}
}
