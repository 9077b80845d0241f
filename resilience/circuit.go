package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is rejecting all requests.
	StateOpen
	// StateHalfOpen means the circuit is probing whether the upstream
	// recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Key identifies the protected resource in emitted events.
	Key string

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	// Default: 5
	FailureThreshold int

	// OpenDuration is how long the circuit stays open before allowing a
	// recovery probe.
	// Default: 30 seconds
	OpenDuration time.Duration

	// HalfOpenMaxProbes is the trial budget while half-open: the max
	// concurrent probe calls admitted before the probe resolves.
	// Default: 1
	HalfOpenMaxProbes int

	// CooldownBackoff doubles the open duration on each consecutive
	// failed probe, capped at MaxOpenDuration.
	CooldownBackoff bool

	// MaxOpenDuration caps the grown cooldown when CooldownBackoff is
	// enabled.
	// Default: 8 * OpenDuration
	MaxOpenDuration time.Duration

	// IsFailure determines whether an error counts as an upstream
	// failure. Default: all non-nil errors except context cancellation.
	IsFailure func(err error) bool

	// OnStateChange is called on every state transition.
	OnStateChange func(from, to State)

	// Sink receives circuit_state_changed events. Default: NopSink.
	Sink Sink
}

// CircuitBreaker is a per-key failure state machine. It admits calls while
// closed, rejects them while open, and allows a bounded number of probes
// while half-open. The Open to HalfOpen transition is evaluated lazily on
// the next admission attempt; there is no background timer.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        State
	failures     int
	probes       int
	failedProbes int
	lastFailure  time.Time
	lastChange   time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.MaxOpenDuration <= 0 {
		config.MaxOpenDuration = 8 * config.OpenDuration
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	if config.Sink == nil {
		config.Sink = NopSink{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Admit decides whether a call may proceed. It returns nil when the call
// is admitted (normally or as a half-open probe) and ErrCircuitOpen when
// the circuit is open or the trial budget is exhausted.
//
// Every admitted call must be resolved with exactly one Record; rejected
// calls must not be recorded.
func (cb *CircuitBreaker) Admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return ErrCircuitOpen
		}
		cb.probes++
	}

	return nil
}

// Record resolves an admitted call with its outcome and applies the state
// transitions.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = cb.now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.transitionLocked(StateOpen)
				cb.failures = 0
			}
		} else {
			cb.failures = 0
		}

	case StateHalfOpen:
		if cb.probes > 0 {
			cb.probes--
		}
		if isFailure {
			// Failed probe: reopen and restart the cooldown.
			cb.failedProbes++
			cb.lastFailure = cb.now()
			cb.transitionLocked(StateOpen)
		} else {
			cb.failedProbes = 0
			cb.transitionLocked(StateClosed)
			cb.failures = 0
		}
	}
}

// Drop resolves an admitted call without recording an outcome, for calls
// that never produced one because the caller gave up. A dropped half-open
// probe restores the trial slot, so the circuit stays half-open until a
// probe actually completes.
func (cb *CircuitBreaker) Drop() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// Execute runs the operation through the circuit breaker. A call that
// ends in caller cancellation is dropped rather than recorded: the
// upstream never answered, so it is evidence of nothing.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Admit(); err != nil {
		return err
	}

	err := op(ctx)
	if errors.Is(err, context.Canceled) {
		cb.Drop()
	} else {
		cb.Record(err)
	}
	return err
}

// State returns the current circuit state, applying the lazy
// Open to HalfOpen transition if the cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probes = 0
	cb.failedProbes = 0
	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cooldownLocked() {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// cooldownLocked returns the effective open duration, grown exponentially
// across consecutive failed probes when CooldownBackoff is enabled.
func (cb *CircuitBreaker) cooldownLocked() time.Duration {
	d := cb.config.OpenDuration
	if !cb.config.CooldownBackoff {
		return d
	}
	for i := 0; i < cb.failedProbes && d < cb.config.MaxOpenDuration; i++ {
		d *= 2
	}
	if d > cb.config.MaxOpenDuration {
		d = cb.config.MaxOpenDuration
	}
	return d
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastChange = cb.now()
	if to == StateHalfOpen {
		cb.probes = 0
	}
	cb.config.Sink.CircuitStateChanged(cb.config.Key, from, to)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// Snapshot returns current circuit breaker statistics.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitSnapshot{
		State:          cb.currentStateLocked(),
		Failures:       cb.failures,
		FailedProbes:   cb.failedProbes,
		LastFailure:    cb.lastFailure,
		LastTransition: cb.lastChange,
	}
}

// CircuitSnapshot contains circuit breaker statistics.
type CircuitSnapshot struct {
	State          State
	Failures       int
	FailedProbes   int
	LastFailure    time.Time
	LastTransition time.Time
}
