package resilience

import (
	"sync"
	"time"
)

// captureSink records every emitted event for assertions.
type captureSink struct {
	mu sync.Mutex
	ev capturedEvents
}

type circuitEvent struct {
	key      string
	from, to State
}

type retryEvent struct {
	key     string
	attempt int
	delay   time.Duration
}

type limitEvent struct {
	key      string
	old, new int
}

type rateEvent struct {
	key  string
	wait time.Duration
}

type exhaustEvent struct {
	key      string
	attempts int
}

type capturedEvents struct {
	circuit     []circuitEvent
	retries     []retryEvent
	exhausted   []exhaustEvent
	rejected    []string
	adjusted    []limitEvent
	rateLimited []rateEvent
}

func (s *captureSink) CircuitStateChanged(key string, from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.circuit = append(s.ev.circuit, circuitEvent{key: key, from: from, to: to})
}

func (s *captureSink) RetryAttempted(key string, attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.retries = append(s.ev.retries, retryEvent{key: key, attempt: attempt, delay: delay})
}

func (s *captureSink) RetryExhausted(key string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.exhausted = append(s.ev.exhausted, exhaustEvent{key: key, attempts: attempts})
}

func (s *captureSink) BulkheadRejected(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.rejected = append(s.ev.rejected, key)
}

func (s *captureSink) BulkheadLimitAdjusted(key string, oldLimit, newLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.adjusted = append(s.ev.adjusted, limitEvent{key: key, old: oldLimit, new: newLimit})
}

func (s *captureSink) RateLimited(key string, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ev.rateLimited = append(s.ev.rateLimited, rateEvent{key: key, wait: wait})
}

func (s *captureSink) events() capturedEvents {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := capturedEvents{
		circuit:     append([]circuitEvent(nil), s.ev.circuit...),
		retries:     append([]retryEvent(nil), s.ev.retries...),
		exhausted:   append([]exhaustEvent(nil), s.ev.exhausted...),
		rejected:    append([]string(nil), s.ev.rejected...),
		adjusted:    append([]limitEvent(nil), s.ev.adjusted...),
		rateLimited: append([]rateEvent(nil), s.ev.rateLimited...),
	}
	return out
}
