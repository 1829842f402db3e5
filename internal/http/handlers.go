package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/example/ride-dispatch/internal/models"
)

type quoteRequest struct {
	VehicleClass string  `json:"vehicleClass"`
	DistanceKm   float64 `json:"distanceKm"`
}

// handleFareQuote prices a prospective trip through the same fare authority
// used at booking and settlement.
func (s *Server) handleFareQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, ok := models.NormalizeClass(req.VehicleClass)
	if !ok {
		http.Error(w, "unknown vehicle class", http.StatusBadRequest)
		return
	}
	if req.DistanceKm <= 0 {
		http.Error(w, "distanceKm must be > 0", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"fare": s.svc.Quote(class, req.DistanceKm)})
}

type setRateRequest struct {
	VehicleClass string  `json:"vehicleClass"`
	PricePerKm   float64 `json:"pricePerKm"`
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, ok := models.NormalizeClass(req.VehicleClass)
	if !ok {
		http.Error(w, "unknown vehicle class", http.StatusBadRequest)
		return
	}
	if req.PricePerKm < 0 {
		http.Error(w, "pricePerKm must be >= 0", http.StatusBadRequest)
		return
	}
	if err := s.rates.SetRate(class, req.PricePerKm); err != nil {
		http.Error(w, "rate update failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("rate_updated", "vehicle_class", class, "price_per_km", req.PricePerKm)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius"), 64)
	drivers := s.svc.NearbyDrivers(lat, lng, radius, 20)
	writeJSON(w, map[string]any{"drivers": drivers})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
