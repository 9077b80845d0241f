package redisstore

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/bastion/resilience"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// LimiterConfig configures one Redis-backed token bucket.
type LimiterConfig struct {
	// Key identifies the protected resource. It names the Redis bucket
	// and tags emitted events.
	Key string

	// Rate is the refill rate in tokens per second. Default: 100
	Rate float64

	// Burst is the bucket capacity. Default: 10
	Burst int

	// MaxWait is the overall deadline for a blocking acquisition.
	// Default: 1 second
	MaxWait time.Duration

	// KeyPrefix namespaces bucket keys in Redis.
	// Default: "bastion:ratelimit:"
	KeyPrefix string

	// FailClosed rejects calls when Redis is unreachable instead of
	// letting them through unthrottled.
	FailClosed bool

	// Sink receives throttle events. Default: NopSink
	Sink resilience.Sink
}

// Decision is the outcome of one acquisition attempt.
type Decision struct {
	// Allowed reports whether the tokens were granted.
	Allowed bool

	// Remaining is the whole tokens left in the bucket.
	Remaining int64

	// RetryAfter is how long until the deficit refills. Zero when allowed.
	RetryAfter time.Duration

	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
}

// Limiter is a token bucket whose state lives in Redis, shared by every
// process using the same key. It satisfies the resilience Limiter
// contract.
type Limiter struct {
	client redis.UniversalClient
	script *redis.Script
	config LimiterConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ resilience.Limiter = (*Limiter)(nil)

// NewLimiter creates a limiter over the given client. Zero config fields
// take defaults.
func NewLimiter(client redis.UniversalClient, config LimiterConfig) *Limiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "bastion:ratelimit:"
	}
	if config.Sink == nil {
		config.Sink = resilience.NopSink{}
	}
	return &Limiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		config: config,
		now:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Allow attempts to take a single token without blocking.
func (l *Limiter) Allow(ctx context.Context) (Decision, error) {
	return l.AllowN(ctx, 1)
}

// AllowN attempts to take n tokens without blocking.
func (l *Limiter) AllowN(ctx context.Context, n float64) (Decision, error) {
	bucket := l.config.KeyPrefix + l.config.Key
	now := float64(l.now().UnixMicro()) / 1e6

	result, err := l.script.Run(ctx, l.client, []string{bucket},
		l.config.Rate,
		l.config.Burst,
		now,
		n,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redisstore: eval token bucket: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return Decision{}, fmt.Errorf("redisstore: unexpected script reply %T", result)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfter := replyFloat(values[2])
	resetTime := replyFloat(values[3])

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfter * float64(time.Second)),
		ResetAt:    time.UnixMicro(int64(resetTime * 1e6)),
	}, nil
}

// Wait blocks until a token is granted, MaxWait elapses, or ctx is
// cancelled. A Redis failure lets the call through unless FailClosed is
// set.
func (l *Limiter) Wait(ctx context.Context) error {
	deadline := l.now().Add(l.config.MaxWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dec, err := l.Allow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.config.FailClosed {
				return err
			}
			return nil
		}
		if dec.Allowed {
			return nil
		}

		wait := dec.RetryAfter
		if wait <= 0 {
			wait = time.Millisecond
		}
		l.config.Sink.RateLimited(l.config.Key, wait)
		if remaining := deadline.Sub(l.now()); wait > remaining {
			return resilience.ErrRateLimitExceeded
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Ping verifies the Redis connection, so the limiter can back a health
// check.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// replyFloat decodes a numeric script reply that may arrive as an
// integer, a float, or a string.
func replyFloat(val interface{}) float64 {
	switch v := val.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
