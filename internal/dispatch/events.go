package dispatch

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Event is the JSON envelope for every channel message.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Event names pushed server→client.
const (
	EvNewRideRequest    = "newRideRequest"
	EvRideUnavailable   = "rideNoLongerAvailable"
	EvStillSearching    = "stillSearching"
	EvRideStatusUpdate  = "rideStatusUpdate"
	EvBillReady         = "billReady"
	EvCompletionSummary = "completionSummary"
	EvDriverLocation    = "driverLocationUpdate"
	EvRiderLocation     = "userLocationUpdate"
	EvNearbyDrivers     = "nearbyDrivers"
)

// RideSummary is the ride-request payload fanned out to the target audience.
// Fare is always the server-computed amount.
type RideSummary struct {
	RideID     string              `json:"ride_id"`
	RiderID    string              `json:"rider_id"`
	RiderName  string              `json:"rider_name"`
	Pickup     models.Place        `json:"pickup"`
	Drop       models.Place        `json:"drop"`
	Class      models.VehicleClass `json:"vehicle_class"`
	Fare       int64               `json:"fare"`
	DistanceKm float64             `json:"distance_km"`
	OTP        string              `json:"otp"`
}

func SummaryOf(r *models.Ride) RideSummary {
	return RideSummary{
		RideID:     r.ID,
		RiderID:    r.RiderID,
		RiderName:  r.RiderName,
		Pickup:     r.Pickup,
		Drop:       r.Drop,
		Class:      r.Class,
		Fare:       r.Fare,
		DistanceKm: r.DistanceKm,
		OTP:        r.OTP,
	}
}

// StatusUpdate is emitted to the rider (and where relevant the driver) on
// every successful lifecycle transition.
type StatusUpdate struct {
	RideID    string            `json:"ride_id"`
	Status    models.RideStatus `json:"status"`
	Fare      int64             `json:"fare,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bill is the receipt payload; it must reach the rider before the completed
// status update so the UI can render it before leaving the map screen.
type Bill struct {
	RideID     string              `json:"ride_id"`
	Fare       int64               `json:"fare"`
	DistanceKm float64             `json:"distance_km"`
	DriverID   string              `json:"driver_id"`
	DriverName string              `json:"driver_name"`
	Class      models.VehicleClass `json:"vehicle_class"`
}

// LocationUpdate is relayed between the matched driver and rider.
type LocationUpdate struct {
	RideID   string              `json:"ride_id,omitempty"`
	DriverID string              `json:"driver_id,omitempty"`
	Location models.Coord        `json:"location"`
	Class    models.VehicleClass `json:"vehicle_class,omitempty"`
	Online   bool                `json:"online,omitempty"`
}
