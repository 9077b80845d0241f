// Package resilience protects calls to unreliable upstream services from
// cascading failure, overload, and rate-limit violations.
//
// The package implements a set of coordinating primitives that can be used
// on their own or composed into a per-key pipeline by a Registry.
//
// # Primitives
//
//   - Circuit Breaker: Stops calling a dependency once it is judged
//     unhealthy, periodically probing for recovery.
//
//   - Retry: Re-attempts failed operations with exponential backoff,
//     configurable jitter, and Retry-After awareness.
//
//   - Rate Limiter: Token-bucket rate shaping per key, with an optional
//     shared (cross-process) implementation.
//
//   - Bulkhead: Bounded concurrency admission, either with a fixed
//     capacity or self-tuned by an AIMD control loop driven by the
//     observed error rate.
//
//   - Timeout: Ensures operations complete within a deadline.
//
//   - Fallback: Converts terminal failures into a default value, an empty
//     result, or a propagated error.
//
// # The protected call
//
// Most callers should not assemble primitives by hand. A Registry owns all
// per-key state and lazily builds one Pipeline per operation key:
//
//	resolver := resilience.NewResolver(resilience.Config{
//	    Rate:    resilience.RateConfig{Rate: 50, Burst: 10},
//	    Breaker: resilience.BreakerConfig{FailureThreshold: 5, OpenDuration: 30 * time.Second},
//	}, nil)
//
//	reg := resilience.NewRegistry(resolver)
//
//	resp, err := resilience.Do(ctx, reg.Pipeline("anthropic:chat"), func(ctx context.Context) (string, error) {
//	    return callProvider(ctx)
//	})
//
// Each call passes through the rate limiter, bulkhead admission, and the
// circuit breaker before the work runs under a deadline. Failed attempts
// re-enter the full pipeline on retry; terminal failures are resolved by
// the key's fallback policy.
//
// All components emit structured events through an injected Sink; the
// package never assumes a specific metrics backend.
package resilience
