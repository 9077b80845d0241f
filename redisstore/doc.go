// Package redisstore provides a Redis-backed token bucket that satisfies
// the resilience Limiter contract, so replicas of a service share one
// rate budget per operation key.
//
// The bucket state lives in a Redis hash and every acquisition runs a
// single Lua script, so concurrent takers across processes never
// over-issue tokens. Wire it into a registry with the limiter factory:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	registry := resilience.NewRegistry(resolver,
//	    resilience.WithLimiterFactory(redisstore.NewLimiterFactory(client, redisstore.FactoryConfig{})),
//	)
//
// When Redis is unreachable the limiter fails open by default: calls
// proceed unthrottled rather than being rejected by an outage of the
// limiter itself. Set FailClosed to invert that.
package redisstore
