package storage

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryProfiles is a static driver→class map standing in for the durable
// driver profile table. The presence registry consults it so the admin
// assigned class always wins over registration payloads.
type MemoryProfiles struct {
	mu      sync.RWMutex
	classes map[string]models.VehicleClass
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{classes: make(map[string]models.VehicleClass)}
}

func (m *MemoryProfiles) Assign(driverID string, class models.VehicleClass) {
	m.mu.Lock()
	m.classes[driverID] = class
	m.mu.Unlock()
}

func (m *MemoryProfiles) VehicleClass(driverID string) (models.VehicleClass, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[driverID]
	return c, ok
}

// PostgresProfiles reads the admin-assigned class from the drivers table.
type PostgresProfiles struct {
	store *PostgresStore
}

func NewPostgresProfiles(store *PostgresStore) *PostgresProfiles {
	return &PostgresProfiles{store: store}
}

func (p *PostgresProfiles) VehicleClass(driverID string) (models.VehicleClass, bool) {
	var class string
	err := p.store.db.QueryRow(`SELECT vehicle_class FROM drivers WHERE id=$1`, driverID).Scan(&class)
	if err != nil {
		return "", false
	}
	c, ok := models.NormalizeClass(class)
	return c, ok
}
