package seq

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps the ride code counter in Redis so every instance draws
// from the same sequence.
type RedisCounter struct {
	client *redis.Client
	key    string
}

func NewRedisCounter(addr, password, key string) *RedisCounter {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCounter{client: c, key: key}
}

func (r *RedisCounter) Next(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, r.key).Result()
}

func (r *RedisCounter) Reset(ctx context.Context, to int64) error {
	return r.client.Set(ctx, r.key, to, 0).Err()
}
