package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeUpdater implements PresenceUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	sCalls   int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func (f *fakeUpdater) SAdd(ctx context.Context, key string, member string) error {
	f.sCalls++
	return nil
}

func presenceMsg() *models.DriverPresence {
	return &models.DriverPresence{
		DriverID:      "d1",
		Name:          "Dana",
		Class:         models.ClassTaxi,
		Location:      models.Coord{Lat: 1, Lng: 2},
		Online:        true,
		LastHeartbeat: time.Now(),
	}
}

func TestUpdatePresenceWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updatePresenceWithRetry(ctx, f, "presence_geo", presenceMsg(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if f.sCalls == 0 {
		t.Fatalf("expected class set membership update")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdatePresenceWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := updatePresenceWithRetry(ctx, f, "presence_geo", presenceMsg(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
