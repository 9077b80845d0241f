// Package observe provides observability primitives for protected calls.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into a resilience
// registry as its metrics sink, or wrap upstream calls with the middleware.
package observe
