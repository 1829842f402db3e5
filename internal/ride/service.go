// Package ride orchestrates the dispatch core: intake, targeted broadcast,
// the single-winner acceptance protocol, lifecycle transitions, live
// location relay, and authoritative settlement.
package ride

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/seq"
	"github.com/example/ride-dispatch/internal/storage"
)

// Processor is the optional payment collaborator (hold at booking, capture
// at settlement). Both calls are best-effort side effects.
type Processor interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
}

// RouteEstimator supplies distance when the booking request omits it. The
// external mapping capability is trusted for the initial quote only.
type RouteEstimator interface {
	DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
}

type Service struct {
	Store      storage.RideStore
	Fare       *fare.Authority
	IDs        *seq.Generator
	Registry   presence.Registry
	Dispatcher *dispatch.Dispatcher
	Channels   dispatch.Channels
	Wallets    storage.WalletStore
	Payments   Processor
	Routes     RouteEstimator
	Logger     *slog.Logger

	// CompletionDelay spaces the final status flip behind the bill event
	// so the rider sees the receipt before the UI leaves the map screen.
	CompletionDelay time.Duration

	mu         sync.Mutex
	bindings   map[string]binding         // rideID → active channel binding
	rejected   map[string]map[string]bool // rideID → drivers who declined
	holds      map[string]string          // rideID → payment hold id
	driverRide map[string]string          // driverID → active rideID
}

type binding struct {
	riderID  string
	driverID string
}

func NewService(store storage.RideStore, auth *fare.Authority, ids *seq.Generator, reg presence.Registry, disp *dispatch.Dispatcher, ch dispatch.Channels, wallets storage.WalletStore, logger *slog.Logger) *Service {
	return &Service{
		Store:           store,
		Fare:            auth,
		IDs:             ids,
		Registry:        reg,
		Dispatcher:      disp,
		Channels:        ch,
		Wallets:         wallets,
		Logger:          logger,
		CompletionDelay: 1500 * time.Millisecond,
		bindings:        make(map[string]binding),
		rejected:        make(map[string]map[string]bool),
		holds:           make(map[string]string),
		driverRide:      make(map[string]string),
	}
}

// BookRequest is the rider's booking payload. EstimatedFare is display-only
// and never persisted as authoritative.
type BookRequest struct {
	RiderID       string       `json:"riderId"`
	CustomerID    string       `json:"customerId"`
	Name          string       `json:"name"`
	Pickup        models.Place `json:"pickup"`
	Drop          models.Place `json:"drop"`
	VehicleClass  string       `json:"vehicleClass"`
	DistanceKm    float64      `json:"distanceKm"`
	EstimatedFare int64        `json:"estimatedFare"`
}

type BookAck struct {
	RideID       string `json:"rideId"`
	OTP          string `json:"otp"`
	Fare         int64  `json:"fare"`
	DriversFound int    `json:"driversFound"`
}

// Book validates, prices, persists, and dispatches a new ride request.
func (s *Service) Book(ctx context.Context, req BookRequest) (BookAck, error) {
	var missing []string
	if strings.TrimSpace(req.RiderID) == "" {
		missing = append(missing, "riderId")
	}
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if req.Pickup.Address == "" {
		missing = append(missing, "pickup")
	}
	if req.Drop.Address == "" {
		missing = append(missing, "drop")
	}
	if strings.TrimSpace(req.VehicleClass) == "" {
		missing = append(missing, "vehicleClass")
	}
	if len(missing) > 0 {
		return BookAck{}, faults.Missing(missing...)
	}
	class, ok := models.NormalizeClass(req.VehicleClass)
	if !ok {
		return BookAck{}, faults.Invalid("unknown vehicle class " + req.VehicleClass)
	}

	distance := req.DistanceKm
	if distance <= 0 && s.Routes != nil {
		if d, err := s.Routes.DistanceKm(ctx, req.Pickup.Coord(), req.Drop.Coord()); err == nil {
			distance = d
		}
	}
	if distance <= 0 {
		return BookAck{}, faults.Missing("distanceKm")
	}

	// the quoted fare is server money; the client estimate is discarded
	quoted := s.Fare.Compute(class, distance)

	r := &models.Ride{
		ID:         s.IDs.NextID(ctx),
		RiderID:    req.RiderID,
		CustomerID: req.CustomerID,
		RiderName:  req.Name,
		Pickup:     req.Pickup,
		Drop:       req.Drop,
		Class:      class,
		Fare:       quoted,
		DistanceKm: distance,
		OTP:        otpFor(req.RiderID),
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
	saved, err := s.Store.Create(ctx, r)
	if err != nil {
		return BookAck{}, err
	}

	if s.Payments != nil && req.CustomerID != "" {
		if holdID, err := s.Payments.Hold(ctx, saved.Fare, "usd", req.CustomerID); err != nil {
			s.Logger.Warn("payment_hold_failed", "ride_id", saved.ID, "error", err)
		} else {
			s.mu.Lock()
			s.holds[saved.ID] = holdID
			s.mu.Unlock()
		}
	}

	res := s.Dispatcher.Dispatch(ctx, saved, s.exclusions(saved.ID))
	observability.BookingsTotal.Inc()
	s.Logger.Info("ride_booked", "ride_id", saved.ID, "rider_id", saved.RiderID,
		"vehicle_class", saved.Class, "fare", saved.Fare, "drivers_found", res.DriversFound)

	return BookAck{RideID: saved.ID, OTP: saved.OTP, Fare: saved.Fare, DriversFound: res.DriversFound}, nil
}

// Redispatch re-broadcasts a still-open ride, honoring the dedup window and
// the ride's exclusion set.
func (s *Service) Redispatch(ctx context.Context, rideID string) (dispatch.Result, error) {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return dispatch.Result{}, err
	}
	if !r.Status.Dispatchable() {
		return dispatch.Result{}, faults.Conflict("ride no longer available")
	}
	return s.Dispatcher.Dispatch(ctx, r, s.exclusions(rideID)), nil
}

// Detail is the winner's channel response: ride data plus the driver's live
// presence so the rider's view reflects true position immediately.
type Detail struct {
	Ride           *models.Ride        `json:"ride"`
	DriverLocation models.Coord        `json:"driver_location"`
	DriverClass    models.VehicleClass `json:"driver_vehicle_class"`
	RiderContact   string              `json:"rider_contact"`
}

// Accept resolves the acceptance race. Exactly one concurrent caller wins;
// losers get a ConflictError. The winning update is a storage-level
// conditional write, never a process lock.
func (s *Service) Accept(ctx context.Context, rideID, driverID, driverName string) (*Detail, error) {
	r, err := s.Store.Accept(ctx, rideID, driverID, driverName, time.Now())
	if err != nil {
		var c *faults.ConflictError
		if errors.As(err, &c) {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}
	observability.AcceptWins.Inc()

	s.mu.Lock()
	s.bindings[rideID] = binding{riderID: r.RiderID, driverID: driverID}
	s.driverRide[driverID] = rideID
	s.mu.Unlock()

	// the ride row carries no live position; source it from presence
	detail := &Detail{Ride: r, RiderContact: r.RiderID}
	if p, ok := s.Registry.Get(driverID); ok {
		detail.DriverLocation = p.Location
		detail.DriverClass = p.Class
	}
	// busy drivers drop out of the dispatch audience until settlement
	s.Registry.SetOffline(driverID)

	update := dispatch.StatusUpdate{RideID: rideID, Status: models.StatusAccepted, Timestamp: time.Now()}
	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: map[string]any{
		"update":          update,
		"driver_id":       driverID,
		"driver_name":     driverName,
		"driver_location": detail.DriverLocation,
	}})
	s.Dispatcher.NotifyUnavailable(rideID, driverID)

	s.Logger.Info("ride_accepted", "ride_id", rideID, "driver_id", driverID)
	return detail, nil
}

// Reject is an explicit decline. The ride stays dispatchable; the driver is
// added to the ride's exclusion set and the rider hears "still searching".
func (s *Service) Reject(ctx context.Context, rideID, driverID, reason string) error {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if !r.Status.Dispatchable() {
		return faults.Conflict("ride is not awaiting drivers")
	}
	s.mu.Lock()
	if s.rejected[rideID] == nil {
		s.rejected[rideID] = make(map[string]bool)
	}
	s.rejected[rideID][driverID] = true
	s.mu.Unlock()

	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvStillSearching, Data: map[string]string{
		"ride_id": rideID,
		"message": "still searching for a driver",
	}})
	s.Logger.Info("ride_rejected", "ride_id", rideID, "driver_id", driverID, "reason", reason)
	return nil
}

// Arrive moves accepted→arrived. Only the matched driver may report it.
func (s *Service) Arrive(ctx context.Context, rideID, driverID string) error {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.DriverID != driverID {
		return faults.Conflict("ride belongs to another driver")
	}
	r, err = s.Store.Transition(ctx, rideID, models.StatusAccepted, models.StatusArrived)
	if err != nil {
		return err
	}
	s.emitStatus(r, nil)
	return nil
}

// Start moves arrived→started, gated by an exact OTP match.
func (s *Service) Start(ctx context.Context, rideID, otp string) error {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.Status != models.StatusArrived {
		return faults.Conflict("ride is not at pickup")
	}
	if otp != r.OTP {
		return faults.Invalid("invalid OTP")
	}
	r, err = s.Store.Transition(ctx, rideID, models.StatusArrived, models.StatusStarted)
	if err != nil {
		return err
	}
	s.emitStatus(r, nil)
	return nil
}

// Complete settles the ride. The fare is recomputed from the reported
// distance through the same authority used at booking; any client-supplied
// fare is discarded. Emission order to the rider is a requirement: bill,
// summary, then the delayed status flip.
func (s *Service) Complete(ctx context.Context, rideID, driverID string, reportedKm float64, actualPickup, actualDrop models.Place) (*models.Settlement, error) {
	current, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.DriverID != driverID {
		return nil, faults.Conflict("ride belongs to another driver")
	}
	finalFare := s.Fare.Compute(current.Class, reportedKm)

	r, err := s.Store.Complete(ctx, rideID, reportedKm, finalFare, time.Now())
	if err != nil {
		return nil, err
	}

	if _, err := s.Wallets.Credit(ctx, r.DriverID, finalFare); err != nil {
		// settlement already persisted; log and surface nothing to the driver flow
		s.Logger.Error("wallet_credit_failed", "ride_id", rideID, "driver_id", r.DriverID, "error", err)
	}
	s.captureHold(ctx, rideID)

	// driver goes back into the dispatch pool
	if p, ok := s.Registry.Get(r.DriverID); ok {
		s.Registry.SetOnline(r.DriverID, p.Location)
	}

	s.mu.Lock()
	delete(s.bindings, rideID)
	delete(s.rejected, rideID)
	delete(s.driverRide, r.DriverID)
	s.mu.Unlock()
	s.Dispatcher.Forget(rideID)

	bill := dispatch.Bill{
		RideID:     r.ID,
		Fare:       r.ActualFare,
		DistanceKm: r.ActualDistanceKm,
		DriverID:   r.DriverID,
		DriverName: r.DriverName,
		Class:      r.Class,
	}
	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvBillReady, Data: bill})
	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvCompletionSummary, Data: map[string]any{
		"ride_id":     r.ID,
		"fare":        r.ActualFare,
		"distance_km": r.ActualDistanceKm,
		"pickup":      actualPickup,
		"drop":        actualDrop,
	}})
	riderID := r.RiderID
	update := dispatch.StatusUpdate{RideID: r.ID, Status: models.StatusCompleted, Fare: r.ActualFare, Timestamp: time.Now()}
	time.AfterFunc(s.CompletionDelay, func() {
		_ = s.Channels.SendToRider(riderID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: update})
	})

	observability.RidesCompleted.Inc()
	observability.SettlementAmount.Observe(float64(finalFare))
	s.Logger.Info("ride_completed", "ride_id", r.ID, "driver_id", r.DriverID,
		"fare", finalFare, "distance_km", reportedKm)

	return &models.Settlement{RideID: r.ID, DriverID: r.DriverID, Fare: finalFare, DistanceKm: reportedKm}, nil
}

// Cancel is terminal, legal from pending or accepted only. Only the ride's
// own rider may cancel it.
func (s *Service) Cancel(ctx context.Context, rideID, riderID, reason string) error {
	cur, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if cur.RiderID != riderID {
		return faults.Conflict("ride belongs to another rider")
	}
	r, err := s.Store.Cancel(ctx, rideID, reason)
	if err != nil {
		return err
	}
	s.mu.Lock()
	b, bound := s.bindings[rideID]
	delete(s.bindings, rideID)
	delete(s.rejected, rideID)
	if bound {
		delete(s.driverRide, b.driverID)
	}
	s.mu.Unlock()
	s.Dispatcher.Forget(rideID)
	s.releaseHold(ctx, rideID)

	update := dispatch.StatusUpdate{RideID: rideID, Status: models.StatusCancelled, Timestamp: time.Now()}
	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: update})
	if bound {
		_ = s.Channels.SendToDriver(b.driverID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: update})
		if p, ok := s.Registry.Get(b.driverID); ok {
			s.Registry.SetOnline(b.driverID, p.Location)
		}
	}
	s.Logger.Info("ride_cancelled", "ride_id", rideID, "reason", reason)
	return nil
}

// DriverLocation handles a driver-originated position update: refresh
// presence, broadcast to the discovery channel, and relay into a matched
// rider's channel when the driver is on an active ride. Pure relay, no
// throttling, last write wins.
func (s *Service) DriverLocation(driverID string, loc models.Coord) {
	s.Registry.UpdateLocation(driverID, loc)

	var class models.VehicleClass
	var online bool
	if p, ok := s.Registry.Get(driverID); ok {
		class, online = p.Class, p.Online
	}
	s.Channels.BroadcastDiscovery(dispatch.Event{Name: dispatch.EvDriverLocation, Data: dispatch.LocationUpdate{
		DriverID: driverID, Location: loc, Class: class, Online: online,
	}})

	s.mu.Lock()
	rideID, active := s.driverRide[driverID]
	b := s.bindings[rideID]
	s.mu.Unlock()
	if active {
		_ = s.Channels.SendToRider(b.riderID, dispatch.Event{Name: dispatch.EvDriverLocation, Data: dispatch.LocationUpdate{
			RideID: rideID, DriverID: driverID, Location: loc,
		}})
	}
}

// RiderLocation relays the rider's position into the matched driver's
// channel to assist pickup. Unbound rides drop the update.
func (s *Service) RiderLocation(rideID string, loc models.Coord) {
	s.mu.Lock()
	b, ok := s.bindings[rideID]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.Channels.SendToDriver(b.driverID, dispatch.Event{Name: dispatch.EvRiderLocation, Data: dispatch.LocationUpdate{
		RideID: rideID, Location: loc,
	}})
}

// NearbyDrivers serves rider discovery, unfiltered by class.
func (s *Service) NearbyDrivers(lat, lng, radiusM float64, limit int) []models.DriverPresence {
	return s.Registry.Nearby(lat, lng, radiusM, limit)
}

// Quote prices a prospective trip through the same authority used at
// booking and settlement.
func (s *Service) Quote(class models.VehicleClass, distanceKm float64) int64 {
	return s.Fare.Compute(class, distanceKm)
}

func (s *Service) emitStatus(r *models.Ride, extra map[string]any) {
	update := dispatch.StatusUpdate{RideID: r.ID, Status: r.Status, Timestamp: time.Now()}
	data := any(update)
	if extra != nil {
		extra["update"] = update
		data = extra
	}
	_ = s.Channels.SendToRider(r.RiderID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: data})
	if r.DriverID != "" {
		_ = s.Channels.SendToDriver(r.DriverID, dispatch.Event{Name: dispatch.EvRideStatusUpdate, Data: data})
	}
}

func (s *Service) exclusions(rideID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.rejected[rideID]
	if set == nil {
		return nil
	}
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func (s *Service) captureHold(ctx context.Context, rideID string) {
	s.mu.Lock()
	holdID, ok := s.holds[rideID]
	delete(s.holds, rideID)
	s.mu.Unlock()
	if !ok || s.Payments == nil {
		return
	}
	if err := s.Payments.Capture(ctx, holdID); err != nil {
		s.Logger.Warn("payment_capture_failed", "ride_id", rideID, "error", err)
	}
}

// holdCanceller is implemented by processors that can release an
// uncaptured hold when a ride is cancelled.
type holdCanceller interface {
	Cancel(ctx context.Context, holdID string) error
}

func (s *Service) releaseHold(ctx context.Context, rideID string) {
	s.mu.Lock()
	holdID, ok := s.holds[rideID]
	delete(s.holds, rideID)
	s.mu.Unlock()
	if !ok {
		return
	}
	hc, can := s.Payments.(holdCanceller)
	if !can {
		return
	}
	if err := hc.Cancel(ctx, holdID); err != nil {
		s.Logger.Warn("payment_release_failed", "ride_id", rideID, "error", err)
	}
}

// otpFor derives a 4-digit pickup code from the numeric tail of the rider
// identifier, falling back to a random code.
func otpFor(riderID string) string {
	digits := make([]byte, 0, len(riderID))
	for i := 0; i < len(riderID); i++ {
		if riderID[i] >= '0' && riderID[i] <= '9' {
			digits = append(digits, riderID[i])
		}
	}
	if len(digits) >= 4 {
		return string(digits[len(digits)-4:])
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "1000"
	}
	return fmt.Sprintf("%04d", n.Int64()+1000)
}
