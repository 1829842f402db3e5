// Package seq issues human-readable sequential ride codes backed by a durable
// counter. Booking must never fail because of the counter, so any counter
// error degrades to a timestamp+random composite code.
package seq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	// Counter floor and rollover ceiling for the fixed-width code.
	Floor   int64 = 1
	Ceiling int64 = 999999
)

// Counter is the durable increment primitive behind the generator.
type Counter interface {
	// Next atomically increments and returns the new value.
	Next(ctx context.Context) (int64, error)
	// Reset forces the counter back to the floor after rollover.
	Reset(ctx context.Context, to int64) error
}

type Generator struct {
	counter Counter
	prefix  string
}

func NewGenerator(c Counter, prefix string) *Generator {
	if prefix == "" {
		prefix = "RB"
	}
	return &Generator{counter: c, prefix: prefix}
}

// NextID returns the next fixed-width ride code. On a counter failure it
// falls back to a composite code so the booking path stays available.
func (g *Generator) NextID(ctx context.Context) string {
	n, err := g.counter.Next(ctx)
	if err != nil {
		return g.fallbackID()
	}
	if n > Ceiling {
		if err := g.counter.Reset(ctx, Floor); err != nil {
			return g.fallbackID()
		}
		n = Floor
	}
	return fmt.Sprintf("%s%06d", g.prefix, n)
}

func (g *Generator) fallbackID() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s%d%s", g.prefix, time.Now().UnixMilli(), hex.EncodeToString(b))
}

// MemoryCounter is the in-process counter used when Redis is not configured.
type MemoryCounter struct {
	mu sync.Mutex
	n  int64
}

func NewMemoryCounter(start int64) *MemoryCounter { return &MemoryCounter{n: start} }

func (m *MemoryCounter) Next(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.n, nil
}

func (m *MemoryCounter) Reset(ctx context.Context, to int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n = to
	return nil
}
