package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup suppresses duplicate broadcasts for the same ride within a short
// window (client retries, concurrent instances). Entries self-expire.
type Dedup interface {
	// TryMark records a dispatch for rideID unless one already happened
	// inside the window. Check and mark are a single atomic step; exactly
	// one of N concurrent callers gets true.
	TryMark(rideID string, window time.Duration) bool
}

// retention is how long an entry sticks around before self-removal; longer
// than any sensible window so age checks stay meaningful.
const retention = 60 * time.Second

type MemoryDedup struct {
	mu      sync.Mutex
	emitted map[string]time.Time
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{emitted: make(map[string]time.Time)}
}

func (d *MemoryDedup) TryMark(rideID string, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.emitted[rideID]; ok && time.Since(ts) < window {
		return false
	}
	d.emitted[rideID] = time.Now()
	time.AfterFunc(retention, func() {
		d.mu.Lock()
		if ts, ok := d.emitted[rideID]; ok && time.Since(ts) >= retention {
			delete(d.emitted, rideID)
		}
		d.mu.Unlock()
	})
	return true
}

// RedisDedup shares the dedup map across instances. SET NX PX makes the
// check-and-mark a single round trip; the key TTL is the window itself, so
// two instances racing on the same ride cannot both win.
type RedisDedup struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisDedup(addr, password string) *RedisDedup {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDedup{client: c, ctx: context.Background()}
}

func dedupKey(rideID string) string { return "dispatch:dedup:" + rideID }

func (d *RedisDedup) TryMark(rideID string, window time.Duration) bool {
	ok, err := d.client.SetNX(d.ctx, dedupKey(rideID), "1", window).Result()
	if err != nil {
		// Redis unreachable: let the dispatch through rather than drop it
		return true
	}
	return ok
}
