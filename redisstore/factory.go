package redisstore

import (
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/bastion/resilience"
)

// FactoryConfig configures the limiters produced for a registry.
type FactoryConfig struct {
	// KeyPrefix namespaces every bucket key in Redis.
	// Default: "bastion:ratelimit:"
	KeyPrefix string

	// FailClosed rejects calls when Redis is unreachable instead of
	// letting them through unthrottled.
	FailClosed bool

	// Sink receives throttle events from every produced limiter.
	// Default: NopSink
	Sink resilience.Sink
}

// NewLimiterFactory returns a factory for resilience.WithLimiterFactory
// that gives each operation key a Redis-backed bucket shaped by that
// key's resolved rate configuration. Keys with rate shaping disabled
// keep the registry default.
func NewLimiterFactory(client redis.UniversalClient, config FactoryConfig) func(key string, cfg resilience.Config) resilience.Limiter {
	return func(key string, cfg resilience.Config) resilience.Limiter {
		if cfg.Rate.Disabled {
			return nil
		}
		return NewLimiter(client, LimiterConfig{
			Key:        key,
			Rate:       cfg.Rate.Rate,
			Burst:      cfg.Rate.Burst,
			MaxWait:    cfg.Rate.MaxWait,
			KeyPrefix:  config.KeyPrefix,
			FailClosed: config.FailClosed,
			Sink:       config.Sink,
		})
	}
}
