package resilience

import (
	"fmt"
	"sync"
	"time"
)

// ConcurrencyConfig bounds the number of in-flight calls for a key.
// When Ceiling is greater than Floor the bulkhead self-tunes its limit
// with the AIMD control loop; when they are equal the capacity is fixed.
type ConcurrencyConfig struct {
	// Floor is the lowest concurrency limit. Default: 1
	Floor int
	// Ceiling is the highest concurrency limit. Default: 100
	Ceiling int
	// InitialLimit is the starting limit. Default: Ceiling
	InitialLimit int
	// AdmissionTimeout is the maximum wait for an admission slot.
	// Default: 0 (reject immediately)
	AdmissionTimeout time.Duration

	// AIMD tuning. Zero values take the adaptive bulkhead defaults.
	WindowSize        int
	MinSamples        int
	Alpha             float64
	DecreaseThreshold float64
	RecoveryThreshold float64
	DecreaseFactor    float64
	IncreaseAfter     int
	MinAdjustInterval time.Duration
}

// RateConfig shapes the request rate for a key.
type RateConfig struct {
	// Rate is the refill rate in tokens per second. Default: 100
	Rate float64
	// Burst is the bucket capacity. Default: 10
	Burst int
	// MaxWait is the overall deadline for a blocking acquisition.
	// Default: 1 second
	MaxWait time.Duration
	// Disabled turns rate shaping off for the key.
	Disabled bool
}

// BreakerConfig configures the failure state machine for a key.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failures before opening.
	// Default: 5
	FailureThreshold int
	// OpenDuration is the cooldown before a recovery probe. Default: 30s
	OpenDuration time.Duration
	// HalfOpenMaxProbes is the half-open trial budget. Default: 1
	HalfOpenMaxProbes int
	// CooldownBackoff grows the cooldown across failed probes.
	CooldownBackoff bool
	// MaxOpenDuration caps the grown cooldown. Default: 8*OpenDuration
	MaxOpenDuration time.Duration
}

// Config is the resolved, immutable resilience configuration for one
// operation key.
type Config struct {
	Concurrency ConcurrencyConfig
	Rate        RateConfig
	Breaker     BreakerConfig
	Retry       RetryPolicy
	// Timeout is the per-attempt deadline. Default: 30 seconds
	Timeout time.Duration
	// Fallback decides terminal-failure behavior. Default: FailClosed
	Fallback FallbackStrategy
}

// Validate checks a resolved configuration for contradictions.
func (c Config) Validate() error {
	if c.Concurrency.Floor > c.Concurrency.Ceiling {
		return fmt.Errorf("concurrency floor %d above ceiling %d", c.Concurrency.Floor, c.Concurrency.Ceiling)
	}
	if c.Concurrency.InitialLimit < c.Concurrency.Floor || c.Concurrency.InitialLimit > c.Concurrency.Ceiling {
		return fmt.Errorf("initial limit %d outside [%d, %d]", c.Concurrency.InitialLimit, c.Concurrency.Floor, c.Concurrency.Ceiling)
	}
	if c.Rate.Rate < 0 {
		return fmt.Errorf("negative rate %v", c.Rate.Rate)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts %d below 1", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay %v above max delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	return nil
}

// withDefaults fills zero fields with the library defaults so a resolved
// Config is fully specified.
func (c Config) withDefaults() Config {
	if c.Concurrency.Floor <= 0 {
		c.Concurrency.Floor = 1
	}
	if c.Concurrency.Ceiling <= 0 {
		c.Concurrency.Ceiling = 100
	}
	if c.Concurrency.InitialLimit <= 0 {
		c.Concurrency.InitialLimit = c.Concurrency.Ceiling
	}
	if c.Rate.Rate <= 0 {
		c.Rate.Rate = 100
	}
	if c.Rate.Burst <= 0 {
		c.Rate.Burst = 10
	}
	if c.Rate.MaxWait <= 0 {
		c.Rate.MaxWait = time.Second
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.OpenDuration <= 0 {
		c.Breaker.OpenDuration = 30 * time.Second
	}
	if c.Breaker.HalfOpenMaxProbes <= 0 {
		c.Breaker.HalfOpenMaxProbes = 1
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// merge lays the override's non-zero fields over the defaults.
func merge(def, over Config) Config {
	out := def

	if over.Concurrency.Floor > 0 {
		out.Concurrency.Floor = over.Concurrency.Floor
	}
	if over.Concurrency.Ceiling > 0 {
		out.Concurrency.Ceiling = over.Concurrency.Ceiling
	}
	if over.Concurrency.InitialLimit > 0 {
		out.Concurrency.InitialLimit = over.Concurrency.InitialLimit
	}
	if over.Concurrency.AdmissionTimeout > 0 {
		out.Concurrency.AdmissionTimeout = over.Concurrency.AdmissionTimeout
	}
	if over.Concurrency.WindowSize > 0 {
		out.Concurrency.WindowSize = over.Concurrency.WindowSize
	}
	if over.Concurrency.MinSamples > 0 {
		out.Concurrency.MinSamples = over.Concurrency.MinSamples
	}
	if over.Concurrency.Alpha > 0 {
		out.Concurrency.Alpha = over.Concurrency.Alpha
	}
	if over.Concurrency.DecreaseThreshold > 0 {
		out.Concurrency.DecreaseThreshold = over.Concurrency.DecreaseThreshold
	}
	if over.Concurrency.RecoveryThreshold > 0 {
		out.Concurrency.RecoveryThreshold = over.Concurrency.RecoveryThreshold
	}
	if over.Concurrency.DecreaseFactor > 0 {
		out.Concurrency.DecreaseFactor = over.Concurrency.DecreaseFactor
	}
	if over.Concurrency.IncreaseAfter > 0 {
		out.Concurrency.IncreaseAfter = over.Concurrency.IncreaseAfter
	}
	if over.Concurrency.MinAdjustInterval > 0 {
		out.Concurrency.MinAdjustInterval = over.Concurrency.MinAdjustInterval
	}

	if over.Rate.Rate > 0 {
		out.Rate.Rate = over.Rate.Rate
	}
	if over.Rate.Burst > 0 {
		out.Rate.Burst = over.Rate.Burst
	}
	if over.Rate.MaxWait > 0 {
		out.Rate.MaxWait = over.Rate.MaxWait
	}
	if over.Rate.Disabled {
		out.Rate.Disabled = true
	}

	if over.Breaker.FailureThreshold > 0 {
		out.Breaker.FailureThreshold = over.Breaker.FailureThreshold
	}
	if over.Breaker.OpenDuration > 0 {
		out.Breaker.OpenDuration = over.Breaker.OpenDuration
	}
	if over.Breaker.HalfOpenMaxProbes > 0 {
		out.Breaker.HalfOpenMaxProbes = over.Breaker.HalfOpenMaxProbes
	}
	if over.Breaker.CooldownBackoff {
		out.Breaker.CooldownBackoff = true
	}
	if over.Breaker.MaxOpenDuration > 0 {
		out.Breaker.MaxOpenDuration = over.Breaker.MaxOpenDuration
	}

	if over.Retry.MaxAttempts > 0 {
		out.Retry.MaxAttempts = over.Retry.MaxAttempts
	}
	if over.Retry.BaseDelay > 0 {
		out.Retry.BaseDelay = over.Retry.BaseDelay
	}
	if over.Retry.MaxDelay > 0 {
		out.Retry.MaxDelay = over.Retry.MaxDelay
	}
	if over.Retry.Jitter != JitterNone {
		out.Retry.Jitter = over.Retry.Jitter
	}
	if over.Retry.OverloadBudget > 0 {
		out.Retry.OverloadBudget = over.Retry.OverloadBudget
	}
	if over.Retry.Classify != nil {
		out.Retry.Classify = over.Retry.Classify
	}
	if over.Retry.OnRetry != nil {
		out.Retry.OnRetry = over.Retry.OnRetry
	}
	if over.Retry.Rand != nil {
		out.Retry.Rand = over.Retry.Rand
	}

	if over.Timeout > 0 {
		out.Timeout = over.Timeout
	}
	if over.Fallback != FailClosed {
		out.Fallback = over.Fallback
	}

	return out
}

// Resolver resolves the effective configuration for each operation key
// from static defaults plus per-key overrides. Resolution is idempotent:
// the same key with unchanged inputs always yields identical records.
type Resolver struct {
	defaults  Config
	overrides map[string]Config

	mu       sync.RWMutex
	resolved map[string]Config
}

// NewResolver creates a resolver over the given defaults and per-key
// overrides. Zero fields in an override fall through to the defaults;
// zero fields in the defaults take the library defaults.
func NewResolver(defaults Config, overrides map[string]Config) *Resolver {
	ov := make(map[string]Config, len(overrides))
	for k, v := range overrides {
		ov[k] = v
	}
	return &Resolver{
		defaults:  defaults,
		overrides: ov,
		resolved:  make(map[string]Config),
	}
}

// Resolve returns the effective configuration for key. Overrides are laid
// over the raw defaults before library defaults fill the rest, so an
// override that lowers the ceiling is not fighting an already-expanded
// initial limit.
func (r *Resolver) Resolve(key string) Config {
	r.mu.RLock()
	cfg, ok := r.resolved[key]
	r.mu.RUnlock()
	if ok {
		return cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.resolved[key]; ok {
		return cfg
	}

	cfg = r.defaults
	if over, ok := r.overrides[key]; ok {
		cfg = merge(r.defaults, over)
	}
	cfg = cfg.withDefaults()
	r.resolved[key] = cfg
	return cfg
}
