package seq

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCounter struct{}

func (f *failingCounter) Next(ctx context.Context) (int64, error) { return 0, errors.New("down") }
func (f *failingCounter) Reset(ctx context.Context, to int64) error {
	return errors.New("down")
}

func TestNextIDStrictlyIncreases(t *testing.T) {
	g := NewGenerator(NewMemoryCounter(0), "RB")
	ctx := context.Background()

	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.NextID(ctx)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		if prev != "" {
			assert.Greater(t, id, prev)
		}
		prev = id
	}
	assert.Equal(t, "RB000100", prev)
}

func TestNextIDRollsOverAtCeiling(t *testing.T) {
	g := NewGenerator(NewMemoryCounter(Ceiling-1), "RB")
	ctx := context.Background()

	assert.Equal(t, "RB999999", g.NextID(ctx))
	assert.Equal(t, "RB000001", g.NextID(ctx))
	assert.Equal(t, "RB000002", g.NextID(ctx))
}

func TestNextIDFallsBackOnCounterFailure(t *testing.T) {
	g := NewGenerator(&failingCounter{}, "RB")

	id := g.NextID(context.Background())
	require.True(t, strings.HasPrefix(id, "RB"))
	// composite fallback is longer than the fixed-width code
	assert.Greater(t, len(id), len("RB000001"))
}
