package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService is the slice of Redis the dispatch subsystem needs: a small
// read-through cache for hot requests and the pub/sub bridge that fans relay
// events out to other processes. pkg/cache.RedisCache satisfies it.
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)

	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub

	Close() error
}
