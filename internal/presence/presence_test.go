package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeProfiles struct{ classes map[string]models.VehicleClass }

func (f *fakeProfiles) VehicleClass(driverID string) (models.VehicleClass, bool) {
	c, ok := f.classes[driverID]
	return c, ok
}

func TestRegisterTrustsDurableClassOverPayload(t *testing.T) {
	profiles := &fakeProfiles{classes: map[string]models.VehicleClass{"d1": models.ClassCargo}}
	reg := NewMemoryRegistry(profiles)

	// client claims taxi, admin provisioned cargo
	p := reg.Register("d1", "Dana", models.ClassTaxi, models.Coord{Lat: 1, Lng: 2}, "s1")
	assert.Equal(t, models.ClassCargo, p.Class)

	got, ok := reg.Get("d1")
	require.True(t, ok)
	assert.Equal(t, models.ClassCargo, got.Class)
}

func TestListByClassReturnsOnlyOnlineMatches(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Register("t1", "A", models.ClassTaxi, models.Coord{}, "")
	reg.Register("t2", "B", models.ClassTaxi, models.Coord{}, "")
	reg.Register("b1", "C", models.ClassBike, models.Coord{}, "")
	require.True(t, reg.SetOffline("t2"))

	got := reg.ListByClass(models.ClassTaxi)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].DriverID)
}

func TestReapRemovesStaleOfflineOnly(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Register("gone", "A", models.ClassTaxi, models.Coord{}, "")
	reg.Register("idle-online", "B", models.ClassTaxi, models.Coord{}, "")
	require.True(t, reg.SetOffline("gone"))

	// age both heartbeats past the threshold
	future := time.Now().Add(10 * time.Minute)
	removed := reg.Reap(future, 5*time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := reg.Get("gone")
	assert.False(t, ok)
	// online entries survive regardless of heartbeat age
	_, ok = reg.Get("idle-online")
	assert.True(t, ok)
}

func TestReapKeepsFreshOffline(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Register("d1", "A", models.ClassTaxi, models.Coord{}, "")
	require.True(t, reg.SetOffline("d1"))

	assert.Equal(t, 0, reg.Reap(time.Now(), 5*time.Minute))
	_, ok := reg.Get("d1")
	assert.True(t, ok)
}

func TestNearbySortsByDistanceAndHonorsRadius(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Register("near", "A", models.ClassTaxi, models.Coord{Lat: 0.001, Lng: 0}, "")
	reg.Register("far", "B", models.ClassBike, models.Coord{Lat: 0.01, Lng: 0}, "")
	reg.Register("very-far", "C", models.ClassCargo, models.Coord{Lat: 1, Lng: 1}, "")

	got := reg.Nearby(0, 0, 5000, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].DriverID)
	assert.Equal(t, "far", got[1].DriverID)
}

func TestHaversineZero(t *testing.T) {
	assert.Zero(t, Haversine(0, 0, 0, 0))
}
