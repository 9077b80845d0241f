// Package health reports the health of a service's protected dependencies.
//
// A Checker probes one component and returns a Result with one of three
// statuses: Healthy, Degraded, or Unhealthy. An Aggregator fans out over
// registered checkers and folds their results into an overall status.
//
// # Basic Usage
//
//	agg := health.NewAggregator()
//	agg.Register("runtime", health.NewMemoryChecker(health.MemoryCheckerConfig{}))
//	agg.Register("upstreams", health.NewRegistryChecker(registry))
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// # Resilience Integration
//
// NewRegistryChecker turns a resilience registry into a checker: a key with
// an open circuit marks the service unhealthy, a half-open circuit or an
// elevated error rate marks it degraded. This lets load balancers drain a
// replica whose upstreams are tripped without any extra bookkeeping.
//
// # HTTP Endpoints
//
// Standard probe handlers are provided for serving from a mux:
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//	// GET /healthz  liveness, always 200 while the process runs
//	// GET /readyz   readiness, 503 when any check is unhealthy
//	// GET /health   full JSON report of every check
package health
