package fare

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisRates backs the rate table with a Redis hash so admin rate changes are
// visible to every instance without a restart.
type RedisRates struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisRates(addr, password, key string) *RedisRates {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRates{client: c, key: key, ctx: context.Background()}
}

func (r *RedisRates) Rate(class models.VehicleClass) float64 {
	v, err := r.client.HGet(r.ctx, r.key, string(class)).Result()
	if err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (r *RedisRates) SetRate(class models.VehicleClass, perKm float64) error {
	return r.client.HSet(r.ctx, r.key, string(class), strconv.FormatFloat(perKm, 'f', -1, 64)).Err()
}
