package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

func pendingRide(id string) *models.Ride {
	return &models.Ride{
		ID:      id,
		RiderID: "r1",
		Class:   models.ClassTaxi,
		Status:  models.StatusPending,
		Fare:    200,
		OTP:     "1234",
	}
}

func TestCreateReturnsExistingOnDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Create(ctx, pendingRide("RB000001"))
	require.NoError(t, err)

	retry := pendingRide("RB000001")
	retry.Fare = 999
	second, err := store.Create(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, first.Fare, second.Fare, "retry must observe the original record")
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Create(ctx, pendingRide("RB000002"))
	require.NoError(t, err)

	const drivers = 8
	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Accept(ctx, "RB000002", string(rune('a'+n)), "driver", time.Now())
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins, conflicts := 0, 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		var c *faults.ConflictError
		require.ErrorAs(t, err, &c)
		conflicts++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, drivers-1, conflicts)
}

func TestAcceptUnknownRide(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Accept(context.Background(), "nope", "d1", "D", time.Now())
	var nf *faults.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Create(ctx, pendingRide("RB000003"))
	require.NoError(t, err)

	// pending→started skips acceptance
	_, err = store.Transition(ctx, "RB000003", models.StatusPending, models.StatusStarted)
	var c *faults.ConflictError
	require.ErrorAs(t, err, &c)

	_, err = store.Accept(ctx, "RB000003", "d1", "D", time.Now())
	require.NoError(t, err)

	r, err := store.Transition(ctx, "RB000003", models.StatusAccepted, models.StatusArrived)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, r.Status)

	// stale from-status loses
	_, err = store.Transition(ctx, "RB000003", models.StatusAccepted, models.StatusArrived)
	require.ErrorAs(t, err, &c)
}

func TestCompleteOnlyFromStarted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Create(ctx, pendingRide("RB000004"))
	require.NoError(t, err)

	_, err = store.Complete(ctx, "RB000004", 7.5, 300, time.Now())
	var c *faults.ConflictError
	require.ErrorAs(t, err, &c)

	_, err = store.Accept(ctx, "RB000004", "d1", "D", time.Now())
	require.NoError(t, err)
	_, err = store.Transition(ctx, "RB000004", models.StatusAccepted, models.StatusArrived)
	require.NoError(t, err)
	_, err = store.Transition(ctx, "RB000004", models.StatusArrived, models.StatusStarted)
	require.NoError(t, err)

	r, err := store.Complete(ctx, "RB000004", 7.5, 300, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, r.Status)
	assert.Equal(t, int64(300), r.ActualFare)
	assert.Equal(t, 7.5, r.ActualDistanceKm)
}

func TestCancelTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Create(ctx, pendingRide("RB000005"))
	require.NoError(t, err)

	r, err := store.Cancel(ctx, "RB000005", "rider gave up")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, r.Status)

	// cancelled is terminal
	_, err = store.Accept(ctx, "RB000005", "d1", "D", time.Now())
	var c *faults.ConflictError
	assert.ErrorAs(t, err, &c)
	_, err = store.Cancel(ctx, "RB000005", "again")
	assert.ErrorAs(t, err, &c)
}

func TestWalletCreditAccumulates(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallets()
	b, err := w.Credit(ctx, "d1", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), b)
	b, err = w.Credit(ctx, "d1", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(500), b)
}
