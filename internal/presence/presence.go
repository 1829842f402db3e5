// Package presence tracks which drivers are online, where they are, and how
// to reach them. Presence is ephemeral: it lives in process memory or a
// shared Redis, never as a durable row.
package presence

import (
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ProfileSource resolves a driver's admin-assigned vehicle class from the
// durable profile. The registry trusts this over anything the client sends
// at registration time.
type ProfileSource interface {
	VehicleClass(driverID string) (models.VehicleClass, bool)
}

// Registry is the presence interface. Memory and Redis implementations sit
// behind it so a multi-instance deployment can promote to the shared store
// without touching callers.
type Registry interface {
	Register(driverID, name string, class models.VehicleClass, loc models.Coord, sessionID string) models.DriverPresence
	SetOnline(driverID string, loc models.Coord) bool
	UpdateLocation(driverID string, loc models.Coord) bool
	Heartbeat(driverID string) bool
	SetOffline(driverID string) bool
	Remove(driverID string)
	Get(driverID string) (models.DriverPresence, bool)
	ListByClass(class models.VehicleClass) []models.DriverPresence
	Nearby(lat, lng, radiusM float64, limit int) []models.DriverPresence
	Reap(now time.Time, idle time.Duration) int
}

// MemoryRegistry holds presence in a process-local map.
type MemoryRegistry struct {
	mu       sync.RWMutex
	drivers  map[string]models.DriverPresence
	profiles ProfileSource
}

func NewMemoryRegistry(profiles ProfileSource) *MemoryRegistry {
	return &MemoryRegistry{drivers: make(map[string]models.DriverPresence), profiles: profiles}
}

func (r *MemoryRegistry) Register(driverID, name string, class models.VehicleClass, loc models.Coord, sessionID string) models.DriverPresence {
	// the durable, admin-assigned class wins over the registration payload
	if r.profiles != nil {
		if assigned, ok := r.profiles.VehicleClass(driverID); ok {
			class = assigned
		}
	}
	p := models.DriverPresence{
		DriverID:      driverID,
		Name:          name,
		Class:         class,
		Location:      loc,
		Online:        true,
		LastHeartbeat: time.Now(),
		SessionID:     sessionID,
	}
	r.mu.Lock()
	r.drivers[driverID] = p
	r.mu.Unlock()
	return p
}

func (r *MemoryRegistry) SetOnline(driverID string, loc models.Coord) bool {
	return r.mutate(driverID, func(p *models.DriverPresence) {
		p.Online = true
		p.Location = loc
		p.LastHeartbeat = time.Now()
	})
}

func (r *MemoryRegistry) UpdateLocation(driverID string, loc models.Coord) bool {
	return r.mutate(driverID, func(p *models.DriverPresence) {
		p.Location = loc
		p.LastHeartbeat = time.Now()
	})
}

func (r *MemoryRegistry) Heartbeat(driverID string) bool {
	return r.mutate(driverID, func(p *models.DriverPresence) {
		p.LastHeartbeat = time.Now()
	})
}

func (r *MemoryRegistry) SetOffline(driverID string) bool {
	return r.mutate(driverID, func(p *models.DriverPresence) {
		p.Online = false
		p.LastHeartbeat = time.Now()
	})
}

func (r *MemoryRegistry) Remove(driverID string) {
	r.mu.Lock()
	delete(r.drivers, driverID)
	r.mu.Unlock()
}

func (r *MemoryRegistry) Get(driverID string) (models.DriverPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.drivers[driverID]
	return p, ok
}

// ListByClass returns only currently-online presences of the class.
func (r *MemoryRegistry) ListByClass(class models.VehicleClass) []models.DriverPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DriverPresence, 0, len(r.drivers))
	for _, p := range r.drivers {
		if p.Online && p.Class == class {
			out = append(out, p)
		}
	}
	return out
}

// Nearby is a naive online scan sorted by haversine distance; discovery only,
// unfiltered by class.
func (r *MemoryRegistry) Nearby(lat, lng, radiusM float64, limit int) []models.DriverPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type pair struct {
		p    models.DriverPresence
		dist float64
	}
	arr := make([]pair, 0, len(r.drivers))
	for _, p := range r.drivers {
		if !p.Online {
			continue
		}
		d := Haversine(lat, lng, p.Location.Lat, p.Location.Lng)
		if radiusM > 0 && d > radiusM {
			continue
		}
		arr = append(arr, pair{p, d})
	}
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverPresence, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Reap removes offline entries whose heartbeat is older than idle. Online
// entries are never reaped regardless of heartbeat age: a live connection is
// presumed healthy until an explicit offline or disconnect.
func (r *MemoryRegistry) Reap(now time.Time, idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, p := range r.drivers {
		if !p.Online && now.Sub(p.LastHeartbeat) > idle {
			delete(r.drivers, id)
			removed++
		}
	}
	return removed
}

func (r *MemoryRegistry) mutate(driverID string, fn func(*models.DriverPresence)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.drivers[driverID]
	if !ok {
		return false
	}
	fn(&p)
	r.drivers[driverID] = p
	return true
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
