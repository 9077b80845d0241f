package resilience

import (
	"context"
	"errors"
)

// admission is the bulkhead capability the pipeline needs: acquire a
// slot, then resolve it with an outcome or drop it unrecorded.
type admission interface {
	Acquire(ctx context.Context) error
	Release(err error)
	Drop()
}

// fixedAdmission adapts the static bulkhead, which has no outcome to
// record, to the admission capability.
type fixedAdmission struct {
	b *Bulkhead
}

func (g fixedAdmission) Acquire(ctx context.Context) error { return g.b.Acquire(ctx) }
func (g fixedAdmission) Release(error)                     { g.b.Release() }
func (g fixedAdmission) Drop()                             { g.b.Release() }

// Pipeline is the protected-call path for one operation key. Each attempt
// passes through the rate limiter, bulkhead admission, and the circuit
// breaker before the work runs under a deadline; outcomes feed back into
// the breaker and the adaptive bulkhead. Retries re-enter the full
// pipeline, so a retried call is not exempt from admission control.
type Pipeline struct {
	key      string
	config   Config
	limiter  Limiter
	gate     admission
	breaker  *CircuitBreaker
	timeout  *Timeout
	retry    *Retry
	adaptive *AdaptiveBulkhead // nil when capacity is fixed
	bulkhead *Bulkhead         // nil when capacity is adaptive
	sink     Sink
}

// NewPipeline assembles the protected-call path for one key from its
// resolved configuration.
func NewPipeline(key string, cfg Config, sink Sink) *Pipeline {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = NopSink{}
	}

	p := &Pipeline{
		key:    key,
		config: cfg,
		sink:   sink,
	}

	if !cfg.Rate.Disabled {
		p.limiter = NewRateLimiter(RateLimiterConfig{
			Key:     key,
			Rate:    cfg.Rate.Rate,
			Burst:   cfg.Rate.Burst,
			MaxWait: cfg.Rate.MaxWait,
			Sink:    sink,
		})
	}

	if cfg.Concurrency.Floor == cfg.Concurrency.Ceiling {
		p.bulkhead = NewBulkhead(BulkheadConfig{
			Key:              key,
			MaxConcurrent:    cfg.Concurrency.Ceiling,
			AdmissionTimeout: cfg.Concurrency.AdmissionTimeout,
			Sink:             sink,
		})
		p.gate = fixedAdmission{b: p.bulkhead}
	} else {
		p.adaptive = NewAdaptiveBulkhead(AdaptiveBulkheadConfig{
			Key:               key,
			Floor:             cfg.Concurrency.Floor,
			Ceiling:           cfg.Concurrency.Ceiling,
			InitialLimit:      cfg.Concurrency.InitialLimit,
			AdmissionTimeout:  cfg.Concurrency.AdmissionTimeout,
			WindowSize:        cfg.Concurrency.WindowSize,
			MinSamples:        cfg.Concurrency.MinSamples,
			Alpha:             cfg.Concurrency.Alpha,
			DecreaseThreshold: cfg.Concurrency.DecreaseThreshold,
			RecoveryThreshold: cfg.Concurrency.RecoveryThreshold,
			DecreaseFactor:    cfg.Concurrency.DecreaseFactor,
			IncreaseAfter:     cfg.Concurrency.IncreaseAfter,
			MinAdjustInterval: cfg.Concurrency.MinAdjustInterval,
			Sink:              sink,
		})
		p.gate = p.adaptive
	}

	p.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		Key:               key,
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		OpenDuration:      cfg.Breaker.OpenDuration,
		HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
		CooldownBackoff:   cfg.Breaker.CooldownBackoff,
		MaxOpenDuration:   cfg.Breaker.MaxOpenDuration,
		Sink:              sink,
	})

	p.timeout = NewTimeout(TimeoutConfig{Timeout: cfg.Timeout})

	retryPolicy := cfg.Retry
	retryPolicy.Key = key
	retryPolicy.Sink = sink
	p.retry = NewRetry(retryPolicy)

	return p
}

// Key returns the operation key this pipeline protects.
func (p *Pipeline) Key() string {
	return p.key
}

// Config returns the resolved configuration this pipeline was built from.
func (p *Pipeline) Config() Config {
	return p.config
}

// SetLimiter replaces the rate limiter, e.g. with a shared cross-process
// implementation or a MultiLimiter composing provider and operation
// buckets. It must be called before the pipeline is used.
func (p *Pipeline) SetLimiter(l Limiter) {
	p.limiter = l
}

// Execute runs op through the full pipeline with the key's retry policy.
// The returned error is terminal: fail-fast rejections and permanent
// failures immediately, retryable failures after the attempt budget is
// exhausted. Fallback resolution is applied by Do and DoWithFallback,
// not here, so error-typed inspection remains possible.
func (p *Pipeline) Execute(ctx context.Context, op func(context.Context) error) error {
	return p.retry.Execute(ctx, func(ctx context.Context) error {
		return p.attempt(ctx, op)
	})
}

// ExecuteWithPolicy runs op through the pipeline with a per-call retry
// policy instead of the key's configured one.
func (p *Pipeline) ExecuteWithPolicy(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	policy.Key = p.key
	policy.Sink = p.sink
	return NewRetry(policy).Execute(ctx, func(ctx context.Context) error {
		return p.attempt(ctx, op)
	})
}

// attempt is one pass through the admission chain and the timed work.
// Ordering: rate limiter and bulkhead are cheap local checks that reject
// or delay before a circuit-breaker probe slot or an expensive upstream
// round trip is consumed.
func (p *Pipeline) attempt(ctx context.Context, op func(context.Context) error) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if err := p.gate.Acquire(ctx); err != nil {
		return err
	}

	if err := p.breaker.Admit(); err != nil {
		// The attempt never ran; admission must not count as an
		// outcome.
		p.gate.Drop()
		return err
	}

	err := p.timeout.Execute(ctx, op)

	if errors.Is(err, context.Canceled) {
		// The caller gave up; this says nothing about upstream health.
		// A dropped half-open probe keeps the circuit half-open with
		// its trial slot restored.
		p.breaker.Drop()
		p.gate.Drop()
	} else {
		p.breaker.Record(err)
		p.gate.Release(err)
	}
	return err
}

// Snapshot returns the pipeline's current state for introspection.
func (p *Pipeline) Snapshot() KeySnapshot {
	snap := KeySnapshot{
		Key:     p.key,
		Circuit: p.breaker.Snapshot(),
	}
	if p.adaptive != nil {
		a := p.adaptive.Snapshot()
		snap.Adaptive = true
		snap.Limit = a.Limit
		snap.Inflight = a.Inflight
		snap.ErrorRate = a.ErrorRate
		snap.Rejected = a.Rejected
	} else {
		b := p.bulkhead.Snapshot()
		snap.Limit = b.Limit
		snap.Inflight = b.Active
		snap.Rejected = b.Rejected
	}
	if rl, ok := p.limiter.(*RateLimiter); ok {
		snap.Tokens = rl.Tokens()
	}
	return snap
}

// KeySnapshot is a point-in-time view of one key's resilience state.
type KeySnapshot struct {
	Key       string
	Circuit   CircuitSnapshot
	Adaptive  bool
	Limit     int
	Inflight  int
	ErrorRate float64
	Rejected  int64
	Tokens    float64
}

// Do runs op through the pipeline and applies the key's fallback policy
// to a terminal failure. Under FailOpen and ReturnEmpty the zero value of
// T is returned with a nil error; under FailClosed the terminal error is
// propagated.
func Do[T any](ctx context.Context, p *Pipeline, op func(context.Context) (T, error)) (T, error) {
	var zero T
	return DoWithFallback(ctx, p, op, zero)
}

// DoWithFallback is Do with a caller-supplied default value for the
// FailOpen strategy.
func DoWithFallback[T any](ctx context.Context, p *Pipeline, op func(context.Context) (T, error), fallback T) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	if err == nil {
		return result, nil
	}
	return resolveFallback(p.config.Fallback, fallback, err)
}
