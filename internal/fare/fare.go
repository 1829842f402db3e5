// Package fare is the single money authority. Compute is reused verbatim at
// booking time, quote time, and settlement time.
package fare

import (
	"math"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// fallbackPerKm applies when the admin has not configured a class rate yet
// (missing or zero entries both mean "not configured").
var fallbackPerKm = map[models.VehicleClass]float64{
	models.ClassBike:  20,
	models.ClassTaxi:  40,
	models.ClassCargo: 60,
}

// RateTable resolves the admin-configured price per km for a vehicle class.
// A zero return means the class is not configured and the fallback applies.
type RateTable interface {
	Rate(class models.VehicleClass) float64
	SetRate(class models.VehicleClass, perKm float64) error
}

// Authority computes fares from a rate table.
type Authority struct {
	Rates RateTable
}

func NewAuthority(rt RateTable) *Authority { return &Authority{Rates: rt} }

// Compute returns round(distanceKm × perKm) in integer currency units.
// Deterministic and pure over (class, distance, configured rate).
func (a *Authority) Compute(class models.VehicleClass, distanceKm float64) int64 {
	perKm := a.Rates.Rate(class)
	if perKm <= 0 {
		perKm = fallbackPerKm[class]
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	return int64(math.Round(distanceKm * perKm))
}

// MemoryRates is the process-local rate table backend.
type MemoryRates struct {
	mu    sync.RWMutex
	rates map[models.VehicleClass]float64
}

func NewMemoryRates() *MemoryRates {
	return &MemoryRates{rates: make(map[models.VehicleClass]float64)}
}

func (m *MemoryRates) Rate(class models.VehicleClass) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates[class]
}

func (m *MemoryRates) SetRate(class models.VehicleClass, perKm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[class] = perKm
	return nil
}
