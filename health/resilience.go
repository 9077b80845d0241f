package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/bastion/resilience"
)

// RegistryCheckerConfig configures the resilience registry checker.
type RegistryCheckerConfig struct {
	// DegradedErrorRate marks a key degraded once its observed error rate
	// reaches this ratio, even while its circuit is still closed.
	// Default: 0.5.
	DegradedErrorRate float64
}

// RegistryChecker reports on the state of every key in a resilience
// registry. An open circuit anywhere makes the service unhealthy; a
// half-open circuit or a key with an elevated error rate makes it
// degraded.
type RegistryChecker struct {
	registry *resilience.Registry
	config   RegistryCheckerConfig
}

// NewRegistryChecker creates a checker over reg. A config may be given to
// override the defaults.
func NewRegistryChecker(reg *resilience.Registry, config ...RegistryCheckerConfig) *RegistryChecker {
	cfg := RegistryCheckerConfig{DegradedErrorRate: 0.5}
	if len(config) > 0 {
		cfg = config[0]
		if cfg.DegradedErrorRate <= 0 || cfg.DegradedErrorRate > 1 {
			cfg.DegradedErrorRate = 0.5
		}
	}
	return &RegistryChecker{registry: reg, config: cfg}
}

// Name identifies the component being checked.
func (c *RegistryChecker) Name() string {
	return "resilience"
}

// Check inspects every key's snapshot and folds them into one result.
func (c *RegistryChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	snaps := c.registry.Snapshots()
	if len(snaps) == 0 {
		return Healthy("no keys registered")
	}

	var open, halfOpen, degraded int
	details := make(map[string]any, len(snaps))
	for _, snap := range snaps {
		keyDetail := map[string]any{
			"circuit":    snap.Circuit.State.String(),
			"limit":      snap.Limit,
			"inflight":   snap.Inflight,
			"error_rate": snap.ErrorRate,
			"rejected":   snap.Rejected,
		}
		details[snap.Key] = keyDetail

		switch snap.Circuit.State {
		case resilience.StateOpen:
			open++
		case resilience.StateHalfOpen:
			halfOpen++
		default:
			if snap.ErrorRate >= c.config.DegradedErrorRate {
				degraded++
			}
		}
	}

	switch {
	case open > 0:
		return Unhealthy(
			fmt.Sprintf("%d of %d keys have an open circuit", open, len(snaps)),
			ErrCheckFailed,
		).WithDetails(details)
	case halfOpen > 0 || degraded > 0:
		return Degraded(
			fmt.Sprintf("%d of %d keys recovering or erroring", halfOpen+degraded, len(snaps)),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("all %d keys closed", len(snaps)),
		).WithDetails(details)
	}
}
