package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/bastion/resilience"
)

// Sink exports resilience events through an OpenTelemetry meter. It
// implements resilience.Sink, so it wires directly into a registry:
//
//	sink, _ := observe.NewSink(obs.Meter())
//	reg := resilience.NewRegistry(resolver, resilience.WithSink(sink))
//
// Event emission happens on the protected-call hot path, so every method
// is a single instrument operation.
type Sink struct {
	transitions metric.Int64Counter
	retries     metric.Int64Counter
	retryDelay  metric.Float64Histogram
	exhausted   metric.Int64Counter
	rejected    metric.Int64Counter
	limit       metric.Int64Gauge
	throttled   metric.Int64Counter
	waitHist    metric.Float64Histogram
}

// NewSink creates a Sink recording resilience events on the given meter.
func NewSink(meter metric.Meter) (*Sink, error) {
	transitions, err := meter.Int64Counter(
		"resilience.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"resilience.retry.attempts",
		metric.WithDescription("Retry attempts scheduled after a failed call"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	retryDelay, err := meter.Float64Histogram(
		"resilience.retry.delay_ms",
		metric.WithDescription("Backoff delay before each retry attempt"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		"resilience.retry.exhausted",
		metric.WithDescription("Calls that failed after the full attempt budget"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"resilience.bulkhead.rejected",
		metric.WithDescription("Admissions rejected at the concurrency gate"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	limit, err := meter.Int64Gauge(
		"resilience.bulkhead.limit",
		metric.WithDescription("Current adaptive concurrency limit"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, err
	}

	throttled, err := meter.Int64Counter(
		"resilience.ratelimit.throttled",
		metric.WithDescription("Calls delayed or rejected by the rate limiter"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	waitHist, err := meter.Float64Histogram(
		"resilience.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate limiter tokens"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Sink{
		transitions: transitions,
		retries:     retries,
		retryDelay:  retryDelay,
		exhausted:   exhausted,
		rejected:    rejected,
		limit:       limit,
		throttled:   throttled,
		waitHist:    waitHist,
	}, nil
}

func keyAttr(key string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("call.key", key))
}

func (s *Sink) CircuitStateChanged(key string, from, to resilience.State) {
	s.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("call.key", key),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (s *Sink) RetryAttempted(key string, attempt int, delay time.Duration) {
	opt := keyAttr(key)
	s.retries.Add(context.Background(), 1, opt)
	s.retryDelay.Record(context.Background(), float64(delay.Milliseconds()), opt)
}

func (s *Sink) RetryExhausted(key string, attempts int) {
	s.exhausted.Add(context.Background(), 1, keyAttr(key))
}

func (s *Sink) BulkheadRejected(key string) {
	s.rejected.Add(context.Background(), 1, keyAttr(key))
}

func (s *Sink) BulkheadLimitAdjusted(key string, oldLimit, newLimit int) {
	s.limit.Record(context.Background(), int64(newLimit), keyAttr(key))
}

func (s *Sink) RateLimited(key string, wait time.Duration) {
	opt := keyAttr(key)
	s.throttled.Add(context.Background(), 1, opt)
	s.waitHist.Record(context.Background(), float64(wait.Milliseconds()), opt)
}

var _ resilience.Sink = (*Sink)(nil)

// LogSink forwards resilience events to a structured logger. Circuit
// transitions into open log at warn, everything else at debug, so a
// production logger at info level only surfaces trips.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink writing to the given logger.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) CircuitStateChanged(key string, from, to resilience.State) {
	ctx := context.Background()
	fields := []Field{
		{Key: "call.key", Value: key},
		{Key: "from", Value: from.String()},
		{Key: "to", Value: to.String()},
	}
	if to == resilience.StateOpen {
		s.logger.Warn(ctx, "circuit opened", fields...)
		return
	}
	s.logger.Info(ctx, "circuit state changed", fields...)
}

func (s *LogSink) RetryAttempted(key string, attempt int, delay time.Duration) {
	s.logger.Debug(context.Background(), "retry scheduled",
		Field{Key: "call.key", Value: key},
		Field{Key: "attempt", Value: attempt},
		Field{Key: "delay_ms", Value: float64(delay.Milliseconds())},
	)
}

func (s *LogSink) RetryExhausted(key string, attempts int) {
	s.logger.Warn(context.Background(), "retry budget exhausted",
		Field{Key: "call.key", Value: key},
		Field{Key: "attempts", Value: attempts},
	)
}

func (s *LogSink) BulkheadRejected(key string) {
	s.logger.Debug(context.Background(), "bulkhead rejected call",
		Field{Key: "call.key", Value: key},
	)
}

func (s *LogSink) BulkheadLimitAdjusted(key string, oldLimit, newLimit int) {
	s.logger.Info(context.Background(), "concurrency limit adjusted",
		Field{Key: "call.key", Value: key},
		Field{Key: "old", Value: oldLimit},
		Field{Key: "new", Value: newLimit},
	)
}

func (s *LogSink) RateLimited(key string, wait time.Duration) {
	s.logger.Debug(context.Background(), "call rate limited",
		Field{Key: "call.key", Value: key},
		Field{Key: "wait_ms", Value: float64(wait.Milliseconds())},
	)
}

var _ resilience.Sink = (*LogSink)(nil)

// MultiSink fans every event out to each wrapped sink in order.
type MultiSink []resilience.Sink

func (m MultiSink) CircuitStateChanged(key string, from, to resilience.State) {
	for _, s := range m {
		s.CircuitStateChanged(key, from, to)
	}
}

func (m MultiSink) RetryAttempted(key string, attempt int, delay time.Duration) {
	for _, s := range m {
		s.RetryAttempted(key, attempt, delay)
	}
}

func (m MultiSink) RetryExhausted(key string, attempts int) {
	for _, s := range m {
		s.RetryExhausted(key, attempts)
	}
}

func (m MultiSink) BulkheadRejected(key string) {
	for _, s := range m {
		s.BulkheadRejected(key)
	}
}

func (m MultiSink) BulkheadLimitAdjusted(key string, oldLimit, newLimit int) {
	for _, s := range m {
		s.BulkheadLimitAdjusted(key, oldLimit, newLimit)
	}
}

func (m MultiSink) RateLimited(key string, wait time.Duration) {
	for _, s := range m {
		s.RateLimited(key, wait)
	}
}

var _ resilience.Sink = (MultiSink)(nil)
