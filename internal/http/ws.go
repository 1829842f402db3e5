package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
)

var upgrader = websocket.Upgrader{}

// clientMessage is the inbound envelope. AckID, when present, is echoed in
// the "<event>Ack" response so callers can pair request and response.
type clientMessage struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := s.wsreg.AddDriver(driverID, conn)
	go s.driverLoop(driverID, conn, sess)
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := s.wsreg.AddRider(riderID, conn)
	go s.riderLoop(riderID, conn, sess)
}

func (s *Server) driverLoop(driverID string, conn *websocket.Conn, sess *dispatch.Session) {
	defer func() {
		// disconnect only tears down the session and flags presence
		// offline; it never cancels a ride. A reconnect replaces the
		// session, so a stale conn closing must leave both the new
		// session and presence alone.
		if s.wsreg.RemoveDriver(driverID, sess) {
			if s.registry.SetOffline(driverID) {
				observability.DriversOnline.Dec()
			}
		}
		_ = conn.Close()
	}()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handleDriverEvent(driverID, msg)
	}
}

func (s *Server) handleDriverEvent(driverID string, msg clientMessage) {
	switch msg.Event {
	case "registerDriverPresence":
		var p struct {
			Name         string       `json:"name"`
			Location     models.Coord `json:"location"`
			VehicleClass string       `json:"vehicleClass"`
			PushToken    string       `json:"pushToken"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		class, _ := models.NormalizeClass(p.VehicleClass)
		pres := s.registry.Register(driverID, p.Name, class, p.Location, newID())
		s.tokens.SetToken(driverID, p.PushToken)
		observability.DriversOnline.Inc()
		s.publishPresence(pres)

	case "driverOnline":
		var p struct {
			Location models.Coord `json:"location"`
		}
		_ = json.Unmarshal(msg.Data, &p)
		if s.registry.SetOnline(driverID, p.Location) {
			observability.DriversOnline.Inc()
			s.svc.DriverLocation(driverID, p.Location)
		}

	case "driverLocationUpdate":
		var p struct {
			Location models.Coord `json:"location"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		s.svc.DriverLocation(driverID, p.Location)
		if pres, ok := s.registry.Get(driverID); ok {
			s.publishPresence(pres)
		}

	case "driverHeartbeat":
		s.registry.Heartbeat(driverID)

	case "driverOffline":
		if s.registry.SetOffline(driverID) {
			observability.DriversOnline.Dec()
		}

	case "acceptRide":
		var p struct {
			RideID     string `json:"rideId"`
			DriverName string `json:"driverName"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		detail, err := s.svc.Accept(s.ctx(), p.RideID, driverID, p.DriverName)
		if err != nil {
			s.ack(driverID, msg, "acceptRide", errPayload(err))
			return
		}
		s.ack(driverID, msg, "acceptRide", map[string]any{"success": true, "ride": detail})

	case "rejectRide":
		var p struct {
			RideID string `json:"rideId"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if err := s.svc.Reject(s.ctx(), p.RideID, driverID, p.Reason); err != nil {
			s.ack(driverID, msg, "rejectRide", errPayload(err))
			return
		}
		s.ack(driverID, msg, "rejectRide", map[string]any{"success": true})

	case "driverArrived":
		var p struct {
			RideID string `json:"rideId"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if err := s.svc.Arrive(s.ctx(), p.RideID, driverID); err != nil {
			s.ack(driverID, msg, "driverArrived", errPayload(err))
		}

	case "driverStartedRide":
		var p struct {
			RideID string `json:"rideId"`
			OTP    string `json:"otp"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if err := s.svc.Start(s.ctx(), p.RideID, p.OTP); err != nil {
			s.ack(driverID, msg, "driverStartedRide", errPayload(err))
		}

	case "driverCompletedRide":
		var p struct {
			RideID       string       `json:"rideId"`
			DistanceKm   float64      `json:"distanceKm"`
			ActualPickup models.Place `json:"actualPickup"`
			ActualDrop   models.Place `json:"actualDrop"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		st, err := s.svc.Complete(s.ctx(), p.RideID, driverID, p.DistanceKm, p.ActualPickup, p.ActualDrop)
		if err != nil {
			s.ack(driverID, msg, "driverCompletedRide", errPayload(err))
			return
		}
		s.ack(driverID, msg, "driverCompletedRide", map[string]any{"success": true, "fare": st.Fare})

	default:
		s.logger.Debug("unknown_driver_event", "event", msg.Event, "driver_id", driverID)
	}
}

func (s *Server) riderLoop(riderID string, conn *websocket.Conn, sess *dispatch.Session) {
	defer func() {
		s.wsreg.RemoveRider(riderID, sess)
		_ = conn.Close()
	}()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handleRiderEvent(riderID, msg)
	}
}

func (s *Server) handleRiderEvent(riderID string, msg clientMessage) {
	switch msg.Event {
	case "bookRide":
		var req struct {
			CustomerID    string       `json:"customerId"`
			Name          string       `json:"name"`
			Pickup        models.Place `json:"pickup"`
			Drop          models.Place `json:"drop"`
			VehicleClass  string       `json:"vehicleClass"`
			DistanceKm    float64      `json:"distanceKm"`
			EstimatedFare int64        `json:"estimatedFare"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		ack, err := s.svc.Book(s.ctx(), ride.BookRequest{
			RiderID:       riderID,
			CustomerID:    req.CustomerID,
			Name:          req.Name,
			Pickup:        req.Pickup,
			Drop:          req.Drop,
			VehicleClass:  req.VehicleClass,
			DistanceKm:    req.DistanceKm,
			EstimatedFare: req.EstimatedFare,
		})
		if err != nil {
			s.ackRider(riderID, msg, "bookRide", errPayload(err))
			return
		}
		s.ackRider(riderID, msg, "bookRide", map[string]any{
			"success":      true,
			"rideId":       ack.RideID,
			"otp":          ack.OTP,
			"fare":         ack.Fare,
			"driversFound": ack.DriversFound,
		})

	case "userLocationUpdate":
		var p struct {
			RideID   string       `json:"rideId"`
			Location models.Coord `json:"location"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		s.svc.RiderLocation(p.RideID, p.Location)

	case "requestNearbyDrivers":
		var p struct {
			Location models.Coord `json:"location"`
			Radius   float64      `json:"radius"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		drivers := s.svc.NearbyDrivers(p.Location.Lat, p.Location.Lng, p.Radius, 20)
		s.ackRider(riderID, msg, "nearbyDrivers", map[string]any{"drivers": drivers})

	case "cancelRide":
		var p struct {
			RideID string `json:"rideId"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if err := s.svc.Cancel(s.ctx(), p.RideID, riderID, p.Reason); err != nil {
			s.ackRider(riderID, msg, "cancelRide", errPayload(err))
			return
		}
		s.ackRider(riderID, msg, "cancelRide", map[string]any{"success": true})

	default:
		s.logger.Debug("unknown_rider_event", "event", msg.Event, "rider_id", riderID)
	}
}

func (s *Server) ack(driverID string, msg clientMessage, event string, data map[string]any) {
	if msg.AckID != "" {
		data["ackId"] = msg.AckID
	}
	_ = s.wsreg.SendToDriver(driverID, dispatch.Event{Name: event + "Ack", Data: data})
}

func (s *Server) ackRider(riderID string, msg clientMessage, event string, data map[string]any) {
	if msg.AckID != "" {
		data["ackId"] = msg.AckID
	}
	_ = s.wsreg.SendToRider(riderID, dispatch.Event{Name: event + "Ack", Data: data})
}

func (s *Server) publishPresence(p models.DriverPresence) {
	if s.kafka == nil {
		return
	}
	if err := s.kafka.PublishPresence(p); err != nil {
		s.logger.Warn("kafka_publish_failed", "driver_id", p.DriverID, "error", err)
	}
}

// errPayload maps the fault taxonomy to a channel ack body.
func errPayload(err error) map[string]any {
	out := map[string]any{"success": false, "error": err.Error()}
	var v *faults.ValidationError
	var nf *faults.NotFoundError
	var c *faults.ConflictError
	switch {
	case errors.As(err, &v):
		out["kind"] = "validation"
	case errors.As(err, &nf):
		out["kind"] = "not_found"
	case errors.As(err, &c):
		out["kind"] = "conflict"
		out["message"] = c.Msg
	default:
		out["kind"] = "persistence"
	}
	return out
}

// ctx returns the context for channel-originated work. Channel events carry
// no request context; store calls get the background one.
func (s *Server) ctx() context.Context { return context.Background() }
