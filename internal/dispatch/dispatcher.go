package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

// Result reports what a dispatch attempt did.
type Result struct {
	AlreadySent  bool
	DriversFound int
	Audience     []string
}

// Dispatcher performs the targeted fan-out: dedup check, class-scoped
// audience resolution, channel broadcast, best-effort push.
type Dispatcher struct {
	Registry presence.Registry
	Channels Channels
	Dedup    Dedup
	Notifier Notifier
	Tokens   TokenSource
	Logger   *slog.Logger
	Window   time.Duration

	mu        sync.Mutex
	audiences map[string][]string
}

func NewDispatcher(reg presence.Registry, ch Channels, dd Dedup, logger *slog.Logger, window time.Duration) *Dispatcher {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Dispatcher{
		Registry:  reg,
		Channels:  ch,
		Dedup:     dd,
		Logger:    logger,
		Window:    window,
		audiences: make(map[string][]string),
	}
}

// Dispatch fans a ride request out to the online drivers of the ride's
// vehicle class, skipping any driver in exclude (explicit rejectors).
// A repeat call inside the dedup window is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, ride *models.Ride, exclude map[string]bool) Result {
	if !d.Dedup.TryMark(ride.ID, d.Window) {
		observability.DispatchesSuppressed.Inc()
		return Result{AlreadySent: true}
	}

	// target audience is the class-scoped online set, never the full population
	audience := d.Registry.ListByClass(ride.Class)
	summary := SummaryOf(ride)
	ev := Event{Name: EvNewRideRequest, Data: summary}

	sent := make([]string, 0, len(audience))
	for _, p := range audience {
		if exclude[p.DriverID] {
			continue
		}
		if err := d.Channels.SendToDriver(p.DriverID, ev); err != nil {
			d.Logger.Warn("dispatch_channel_failed", "ride_id", ride.ID, "driver_id", p.DriverID, "error", err)
			continue
		}
		sent = append(sent, p.DriverID)
	}

	d.mu.Lock()
	d.audiences[ride.ID] = sent
	d.mu.Unlock()

	observability.DispatchesTotal.Inc()
	d.Logger.Info("ride_dispatched", "ride_id", ride.ID, "vehicle_class", ride.Class, "drivers", len(sent))

	// push fan-out is best-effort and must never block or fail the booking
	go d.push(ride, summary, sent)

	return Result{DriversFound: len(sent), Audience: sent}
}

// Audience returns the drivers the last broadcast for rideID reached.
func (d *Dispatcher) Audience(rideID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audiences[rideID]
}

// NotifyUnavailable clears other drivers' pending UIs once a ride is taken.
func (d *Dispatcher) NotifyUnavailable(rideID, winnerID string) {
	d.mu.Lock()
	audience := d.audiences[rideID]
	delete(d.audiences, rideID)
	d.mu.Unlock()
	ev := Event{Name: EvRideUnavailable, Data: map[string]string{"ride_id": rideID}}
	for _, driverID := range audience {
		if driverID == winnerID {
			continue
		}
		_ = d.Channels.SendToDriver(driverID, ev)
	}
}

// Forget drops the remembered audience for a ride (cancel, expiry).
func (d *Dispatcher) Forget(rideID string) {
	d.mu.Lock()
	delete(d.audiences, rideID)
	d.mu.Unlock()
}

func (d *Dispatcher) push(ride *models.Ride, summary RideSummary, audience []string) {
	if d.Notifier == nil || d.Tokens == nil || len(audience) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := map[string]string{
		"ride_id":       summary.RideID,
		"pickup":        summary.Pickup.Address,
		"drop":          summary.Drop.Address,
		"fare":          fmt.Sprintf("%d", summary.Fare),
		"distance_km":   fmt.Sprintf("%.2f", summary.DistanceKm),
		"vehicle_class": string(summary.Class),
		"otp":           summary.OTP,
	}
	title := "New ride request"
	body := fmt.Sprintf("%s → %s", summary.Pickup.Address, summary.Drop.Address)
	for _, token := range d.Tokens.TokensFor(audience) {
		if err := d.Notifier.Notify(ctx, token, title, body, data); err != nil {
			observability.PushFailures.Inc()
			d.Logger.Warn("push_failed", "ride_id", ride.ID, "error", err)
		}
	}
}
