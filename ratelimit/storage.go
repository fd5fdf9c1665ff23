package ratelimit

import (
	"context"
	"time"
)

// Storage is the counter backend used by the limiter. The same algorithm
// runs against an in-process map or a shared store (e.g. Redis) for
// multi-instance deployments.
type Storage interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
