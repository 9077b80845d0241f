package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func healthyChecker(name string) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		return Healthy("ok")
	})
}

func TestNewAggregator(t *testing.T) {
	agg := NewAggregator()

	if agg.config.Timeout != 10*time.Second {
		t.Errorf("Default timeout = %v, want 10s", agg.config.Timeout)
	}
	if agg.config.MaxConcurrent != 0 {
		t.Errorf("Default MaxConcurrent = %d, want 0", agg.config.MaxConcurrent)
	}
}

func TestNewAggregator_WithConfig(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	})

	if agg.config.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", agg.config.Timeout)
	}
	if agg.config.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", agg.config.MaxConcurrent)
	}
}

func TestAggregator_Register(t *testing.T) {
	agg := NewAggregator()
	agg.Register("db", healthyChecker("db"))

	names := agg.CheckerNames()
	if len(names) != 1 || names[0] != "db" {
		t.Errorf("CheckerNames() = %v, want [db]", names)
	}
}

func TestAggregator_RegisterReplaces(t *testing.T) {
	agg := NewAggregator()
	agg.Register("db", healthyChecker("db"))
	agg.Register("db", NewCheckerFunc("db", func(ctx context.Context) Result {
		return Degraded("replaced")
	}))

	if got := len(agg.CheckerNames()); got != 1 {
		t.Fatalf("Expected 1 checker, got %d", got)
	}
	result, err := agg.Check(context.Background(), "db")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Message != "replaced" {
		t.Errorf("Message = %v, want 'replaced'", result.Message)
	}
}

func TestAggregator_Unregister(t *testing.T) {
	agg := NewAggregator()
	agg.Register("db", healthyChecker("db"))
	agg.Register("cache", healthyChecker("cache"))
	agg.Unregister("db")

	names := agg.CheckerNames()
	if len(names) != 1 || names[0] != "cache" {
		t.Errorf("CheckerNames() = %v, want [cache]", names)
	}

	// Unknown names are ignored.
	agg.Unregister("missing")
}

func TestAggregator_Check(t *testing.T) {
	agg := NewAggregator()
	agg.Register("db", healthyChecker("db"))

	result, err := agg.Check(context.Background(), "db")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want StatusHealthy", result.Status)
	}
	if result.Duration <= 0 {
		t.Error("Duration should be set")
	}
}

func TestAggregator_CheckNotFound(t *testing.T) {
	agg := NewAggregator()

	_, err := agg.Check(context.Background(), "ghost")
	if !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check() error = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator()
	agg.Register("db", healthyChecker("db"))
	agg.Register("cache", NewCheckerFunc("cache", func(ctx context.Context) Result {
		return Degraded("evicting")
	}))

	results := agg.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results["db"].Status != StatusHealthy {
		t.Errorf("db status = %v, want StatusHealthy", results["db"].Status)
	}
	if results["cache"].Status != StatusDegraded {
		t.Errorf("cache status = %v, want StatusDegraded", results["cache"].Status)
	}
}

func TestAggregator_CheckAllEmpty(t *testing.T) {
	agg := NewAggregator()

	results := agg.CheckAll(context.Background())
	if len(results) != 0 {
		t.Errorf("Expected empty results, got %d", len(results))
	}
	if got := agg.OverallStatus(results); got != StatusHealthy {
		t.Errorf("OverallStatus = %v, want StatusHealthy", got)
	}
}

func TestAggregator_CheckAllBounded(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{MaxConcurrent: 1})

	var inflight, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		agg.Register(name, NewCheckerFunc(name, func(ctx context.Context) Result {
			n := inflight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
			return Healthy("ok")
		}))
	}

	results := agg.CheckAll(context.Background())
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if peak.Load() > 1 {
		t.Errorf("Peak concurrency = %d, want at most 1", peak.Load())
	}
}

func TestAggregator_CheckAllTimeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	agg.Register("stuck", NewCheckerFunc("stuck", func(ctx context.Context) Result {
		time.Sleep(time.Second)
		return Healthy("too late")
	}))

	results := agg.CheckAll(context.Background())

	result := results["stuck"]
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want StatusUnhealthy", result.Status)
	}
	if !errors.Is(result.Error, ErrCheckTimeout) {
		t.Errorf("Error = %v, want ErrCheckTimeout", result.Error)
	}
}

func TestAggregator_OverallStatus(t *testing.T) {
	agg := NewAggregator()

	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{
			name:    "all healthy",
			results: map[string]Result{"a": Healthy("ok"), "b": Healthy("ok")},
			want:    StatusHealthy,
		},
		{
			name:    "one degraded",
			results: map[string]Result{"a": Healthy("ok"), "b": Degraded("slow")},
			want:    StatusDegraded,
		},
		{
			name:    "one unhealthy",
			results: map[string]Result{"a": Degraded("slow"), "b": Unhealthy("down", nil)},
			want:    StatusUnhealthy,
		},
		{
			name:    "empty",
			results: map[string]Result{},
			want:    StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agg.OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Checker(t *testing.T) {
	inner := NewAggregator()
	inner.Register("db", healthyChecker("db"))

	outer := NewAggregator()
	outer.Register("inner", inner.Checker())

	results := outer.CheckAll(context.Background())
	if results["inner"].Status != StatusHealthy {
		t.Errorf("inner status = %v, want StatusHealthy", results["inner"].Status)
	}
	if results["inner"].Message != "all checks passed" {
		t.Errorf("Message = %v, want 'all checks passed'", results["inner"].Message)
	}
}

func TestAggregator_CheckerWithUnhealthy(t *testing.T) {
	inner := NewAggregator()
	inner.Register("db", NewCheckerFunc("db", func(ctx context.Context) Result {
		return Unhealthy("down", ErrCheckFailed)
	}))

	composite := inner.Checker()
	if composite.Name() != "aggregate" {
		t.Errorf("Name() = %v, want 'aggregate'", composite.Name())
	}

	result := composite.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want StatusUnhealthy", result.Status)
	}
	if result.Message != "some checks failed" {
		t.Errorf("Message = %v, want 'some checks failed'", result.Message)
	}
	if _, ok := result.Details["db"]; !ok {
		t.Error("Details should include the failing check")
	}
}
