package resilience

import (
	"sort"
	"sync"
)

// Registry owns all per-key resilience state. Pipelines are created
// lazily on first use and live for the process lifetime; there is no
// eviction. Unrelated keys never share a lock.
type Registry struct {
	resolver       *Resolver
	sink           Sink
	limiterFactory func(key string, cfg Config) Limiter

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSink sets the metrics sink shared by all pipelines.
func WithSink(sink Sink) RegistryOption {
	return func(r *Registry) {
		r.sink = sink
	}
}

// WithLimiterFactory replaces the in-process token bucket with an
// injected limiter per key, e.g. a shared cross-process implementation
// or a MultiLimiter composing a provider-level bucket. Returning nil
// keeps the default for that key.
func WithLimiterFactory(f func(key string, cfg Config) Limiter) RegistryOption {
	return func(r *Registry) {
		r.limiterFactory = f
	}
}

// NewRegistry creates a registry resolving per-key configuration through
// the given resolver.
func NewRegistry(resolver *Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		resolver:  resolver,
		sink:      NopSink{},
		pipelines: make(map[string]*Pipeline),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pipeline returns the protected-call pipeline for key, creating it on
// first use.
func (r *Registry) Pipeline(key string) *Pipeline {
	r.mu.RLock()
	p, ok := r.pipelines[key]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pipelines[key]; ok {
		return p
	}

	cfg := r.resolver.Resolve(key)
	p = NewPipeline(key, cfg, r.sink)
	if r.limiterFactory != nil {
		if l := r.limiterFactory(key, cfg); l != nil {
			p.SetLimiter(l)
		}
	}
	r.pipelines[key] = p
	return p
}

// Keys returns the keys with instantiated pipelines, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.pipelines))
	for k := range r.pipelines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the state of one key's pipeline, if it exists.
func (r *Registry) Snapshot(key string) (KeySnapshot, bool) {
	r.mu.RLock()
	p, ok := r.pipelines[key]
	r.mu.RUnlock()
	if !ok {
		return KeySnapshot{}, false
	}
	return p.Snapshot(), true
}

// Snapshots returns the state of every instantiated pipeline.
func (r *Registry) Snapshots() []KeySnapshot {
	r.mu.RLock()
	pipes := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipes = append(pipes, p)
	}
	r.mu.RUnlock()

	snaps := make([]KeySnapshot, 0, len(pipes))
	for _, p := range pipes {
		snaps = append(snaps, p.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })
	return snaps
}
