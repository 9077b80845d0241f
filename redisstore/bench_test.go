package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBenchLimiter(b *testing.B) *Limiter {
	b.Helper()

	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = client.Close() })

	return NewLimiter(client, LimiterConfig{
		Key:   "bench:op",
		Rate:  1e9,
		Burst: 1 << 30,
	})
}

func BenchmarkLimiter_Allow(b *testing.B) {
	limiter := newBenchLimiter(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := limiter.Allow(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLimiter_Wait(b *testing.B) {
	limiter := newBenchLimiter(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := limiter.Wait(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLimiter_AllowParallel(b *testing.B) {
	limiter := newBenchLimiter(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if _, err := limiter.Allow(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})
}
