package routes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Cached wraps a route client with a small TTL cache keyed by coord pair.
type Cached struct {
	Inner interface {
		DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
	}
	mu    sync.RWMutex
	store map[string]entry
	ttl   time.Duration
}

type entry struct {
	v  float64
	ts time.Time
}

func NewCached(inner *OSRMClient, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{Inner: inner, store: make(map[string]entry), ttl: ttl}
}

func (c *Cached) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.v, nil
	}
	v, err := c.Inner.DistanceKm(ctx, from, to)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.store[k] = entry{v: v, ts: time.Now()}
	c.mu.Unlock()
	return v, nil
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}
