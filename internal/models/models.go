package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a named point used for pickup and drop locations.
type Place struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

// VehicleClass is the admin-assigned vehicle category. It determines both
// dispatch eligibility and the fare rate, and is stored lower-case regardless
// of caller casing.
type VehicleClass string

const (
	ClassBike  VehicleClass = "bike"
	ClassTaxi  VehicleClass = "taxi"
	ClassCargo VehicleClass = "cargo"
)

// NormalizeClass lower-cases a caller-supplied class and reports whether it
// names a known vehicle class.
func NormalizeClass(s string) (VehicleClass, bool) {
	c := VehicleClass(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ClassBike, ClassTaxi, ClassCargo:
		return c, true
	}
	return "", false
}

// Ride is the durable ride record. The store is the single source of truth
// for Status; fare fields are always server-derived.
type Ride struct {
	ID         string       `json:"ride_id"`
	RiderID    string       `json:"rider_id"`
	CustomerID string       `json:"customer_id,omitempty"`
	RiderName  string       `json:"rider_name"`
	DriverID   string       `json:"driver_id,omitempty"`
	DriverName string       `json:"driver_name,omitempty"`
	Pickup     Place        `json:"pickup"`
	Drop       Place        `json:"drop"`
	Class      VehicleClass `json:"vehicle_class"`
	Fare       int64        `json:"fare"`
	DistanceKm float64      `json:"distance_km"`
	OTP        string       `json:"otp"`
	Status     RideStatus   `json:"status"`

	CreatedAt   time.Time `json:"created_at"`
	AcceptedAt  time.Time `json:"accepted_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	ActualDistanceKm float64 `json:"actual_distance_km,omitempty"`
	ActualFare       int64   `json:"actual_fare,omitempty"`
	CancelReason     string  `json:"cancel_reason,omitempty"`
}

// DriverPresence is a driver's ephemeral online record, distinct from its
// durable profile. Held in process or shared-cache memory, never as a row.
type DriverPresence struct {
	DriverID      string       `json:"driver_id"`
	Name          string       `json:"name"`
	Class         VehicleClass `json:"vehicle_class"`
	Location      Coord        `json:"location"`
	Online        bool         `json:"online"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	SessionID     string       `json:"session_id,omitempty"`
}

// Settlement is the authoritative completion result.
type Settlement struct {
	RideID     string  `json:"ride_id"`
	DriverID   string  `json:"driver_id"`
	Fare       int64   `json:"fare"`
	DistanceKm float64 `json:"distance_km"`
}
