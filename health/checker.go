package health

import (
	"context"
	"time"
)

// Status is the health state of a component.
type Status int

const (
	// StatusHealthy means the component is working normally.
	StatusHealthy Status = iota
	// StatusDegraded means the component works but with reduced capacity
	// or elevated errors.
	StatusDegraded
	// StatusUnhealthy means the component is not usable.
	StatusUnhealthy
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single health check.
type Result struct {
	// Status is the reported health state.
	Status Status

	// Message is a short human-readable summary.
	Message string

	// Details holds arbitrary structured data about the component.
	Details map[string]any

	// Duration is how long the check took to run.
	Duration time.Duration

	// Timestamp is when the check started.
	Timestamp time.Time

	// Error carries the failure cause for degraded or unhealthy results.
	Error error
}

// Healthy builds a healthy result with the given summary.
func Healthy(message string) Result {
	return Result{
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a degraded result with the given summary.
func Degraded(message string) Result {
	return Result{
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy result carrying the failure cause.
func Unhealthy(message string, err error) Result {
	return Result{
		Status:    StatusUnhealthy,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails returns a copy of the result with the details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns a copy of the result with the duration set.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker probes the health of one component.
type Checker interface {
	// Name identifies the component being checked.
	Name() string

	// Check probes the component. Implementations should honor ctx
	// cancellation; the aggregator enforces an outer deadline regardless.
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a plain function into a Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc wraps fn as a named Checker.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name identifies the component being checked.
func (f *CheckerFunc) Name() string {
	return f.name
}

// Check invokes the wrapped function.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	return f.fn(ctx)
}

// Pinger is an optional interface for components whose health is a plain
// reachability test. PingChecker adapts one into a Checker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports healthy when the underlying Ping succeeds.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker wraps a Pinger as a named Checker.
func NewPingChecker(name string, pinger Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: pinger}
}

// Name identifies the component being checked.
func (p *PingChecker) Name() string {
	return p.name
}

// Check pings the component and maps the outcome to a Result.
func (p *PingChecker) Check(ctx context.Context) Result {
	if err := p.pinger.Ping(ctx); err != nil {
		return Unhealthy("ping failed", err)
	}
	return Healthy("ping ok")
}
