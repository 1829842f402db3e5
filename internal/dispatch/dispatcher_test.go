package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

type chanRecorder struct {
	mu      sync.Mutex
	drivers map[string][]Event
}

func newChanRecorder() *chanRecorder { return &chanRecorder{drivers: map[string][]Event{}} }

func (c *chanRecorder) SendToDriver(driverID string, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[driverID] = append(c.drivers[driverID], ev)
	return nil
}

func (c *chanRecorder) SendToRider(riderID string, ev Event) error { return nil }

func (c *chanRecorder) BroadcastDiscovery(ev Event) {}

func (c *chanRecorder) events(driverID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.drivers[driverID]...)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(ctx context.Context, token, title, body string, data map[string]string) error {
	f.calls++
	return errors.New("push backend down")
}

type staticTokens struct{}

func (staticTokens) TokensFor(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "tok-" + id
	}
	return out
}

func testRide(id string, class models.VehicleClass) *models.Ride {
	return &models.Ride{
		ID:     id,
		Class:  class,
		Fare:   200,
		Status: models.StatusPending,
		Pickup: models.Place{Address: "A"},
		Drop:   models.Place{Address: "B"},
	}
}

func TestDispatchTargetsOnlineClassAudienceOnly(t *testing.T) {
	reg := presence.NewMemoryRegistry(nil)
	reg.Register("taxi1", "T1", models.ClassTaxi, models.Coord{}, "")
	reg.Register("taxi2", "T2", models.ClassTaxi, models.Coord{}, "")
	reg.Register("cargo1", "C1", models.ClassCargo, models.Coord{}, "")
	reg.SetOffline("taxi2")

	rec := newChanRecorder()
	d := NewDispatcher(reg, rec, NewMemoryDedup(), slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)

	res := d.Dispatch(context.Background(), testRide("RB000010", models.ClassTaxi), nil)
	assert.False(t, res.AlreadySent)
	assert.Equal(t, 1, res.DriversFound)
	assert.Len(t, rec.events("taxi1"), 1)
	assert.Empty(t, rec.events("taxi2"), "offline driver must not receive requests")
	assert.Empty(t, rec.events("cargo1"), "class B driver must not see a class A ride")
}

func TestDispatchHonorsExclusionSet(t *testing.T) {
	reg := presence.NewMemoryRegistry(nil)
	reg.Register("d1", "A", models.ClassTaxi, models.Coord{}, "")
	reg.Register("d2", "B", models.ClassTaxi, models.Coord{}, "")

	rec := newChanRecorder()
	d := NewDispatcher(reg, rec, NewMemoryDedup(), slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)

	res := d.Dispatch(context.Background(), testRide("RB000011", models.ClassTaxi), map[string]bool{"d1": true})
	assert.Equal(t, []string{"d2"}, res.Audience)
	assert.Empty(t, rec.events("d1"))
}

func TestDispatchDedupSuppressesRepeats(t *testing.T) {
	reg := presence.NewMemoryRegistry(nil)
	reg.Register("d1", "A", models.ClassTaxi, models.Coord{}, "")

	rec := newChanRecorder()
	d := NewDispatcher(reg, rec, NewMemoryDedup(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)

	ride := testRide("RB000012", models.ClassTaxi)
	first := d.Dispatch(context.Background(), ride, nil)
	second := d.Dispatch(context.Background(), ride, nil)

	assert.False(t, first.AlreadySent)
	assert.True(t, second.AlreadySent)
	assert.Len(t, rec.events("d1"), 1)
}

func TestPushFailureDoesNotAffectDispatch(t *testing.T) {
	reg := presence.NewMemoryRegistry(nil)
	reg.Register("d1", "A", models.ClassTaxi, models.Coord{}, "")

	rec := newChanRecorder()
	d := NewDispatcher(reg, rec, NewMemoryDedup(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	n := &failingNotifier{}
	d.Notifier = n
	d.Tokens = staticTokens{}

	res := d.Dispatch(context.Background(), testRide("RB000013", models.ClassTaxi), nil)
	assert.Equal(t, 1, res.DriversFound)
	require.Len(t, rec.events("d1"), 1)
}

func TestNotifyUnavailableSkipsWinner(t *testing.T) {
	reg := presence.NewMemoryRegistry(nil)
	reg.Register("d1", "A", models.ClassTaxi, models.Coord{}, "")
	reg.Register("d2", "B", models.ClassTaxi, models.Coord{}, "")

	rec := newChanRecorder()
	d := NewDispatcher(reg, rec, NewMemoryDedup(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	d.Dispatch(context.Background(), testRide("RB000014", models.ClassTaxi), nil)

	d.NotifyUnavailable("RB000014", "d1")

	d1Events := rec.events("d1")
	for _, ev := range d1Events {
		assert.NotEqual(t, EvRideUnavailable, ev.Name)
	}
	d2Events := rec.events("d2")
	require.Len(t, d2Events, 2)
	assert.Equal(t, EvRideUnavailable, d2Events[1].Name)
}

func TestMemoryDedupWindow(t *testing.T) {
	dd := NewMemoryDedup()
	assert.True(t, dd.TryMark("r1", time.Second))
	assert.False(t, dd.TryMark("r1", time.Second))
	time.Sleep(10 * time.Millisecond)
	assert.True(t, dd.TryMark("r1", 5*time.Millisecond), "expired window opens the ride again")
}

func TestMemoryDedupSingleWinnerUnderContention(t *testing.T) {
	dd := NewMemoryDedup()
	const n = 16
	var wins int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if dd.TryMark("r1", time.Second) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins, "check and mark must be atomic")
}
