package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/logging"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := config.LoadServerConfig()
	require.NoError(t, err)
	srv := NewServer(cfg, logging.NewLogger("error"))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv
}

func wsDial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, event, ackID string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "ackId": ackID, "data": json.RawMessage(b)}))
}

func wsRead(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev struct {
		Name string         `json:"event"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	return ev.Name, ev.Data
}

func waitForDrivers(t *testing.T, ts *httptest.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/v1/drivers/nearby?lat=12.97&lng=77.59&radius=50000")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var out struct {
			Drivers []any `json:"drivers"`
		}
		if json.NewDecoder(resp.Body).Decode(&out) != nil {
			return false
		}
		return len(out.Drivers) >= n
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFareQuoteEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"vehicleClass": "TAXI", "distanceKm": 5})
	resp, err := http.Post(ts.URL+"/api/v1/fare/quote", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Fare int64 `json:"fare"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(200), out.Fare)
}

func TestFareQuoteRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"vehicleClass": "submarine", "distanceKm": 5})
	resp, err := http.Post(ts.URL+"/api/v1/fare/quote", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRateUpdateFeedsQuotes(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"vehicleClass": "taxi", "pricePerKm": 55})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/admin/rates", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	quote, _ := json.Marshal(map[string]any{"vehicleClass": "taxi", "distanceKm": 2})
	resp, err = http.Post(ts.URL+"/api/v1/fare/quote", "application/json", bytes.NewReader(quote))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Fare int64 `json:"fare"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(110), out.Fare)
}

func TestBookAcceptFlowOverWebsocket(t *testing.T) {
	ts, _ := newTestServer(t)

	driver := wsDial(t, ts, "/ws/driver/d1")
	wsSend(t, driver, "registerDriverPresence", "", map[string]any{
		"name":         "Dana",
		"vehicleClass": "taxi",
		"location":     map[string]float64{"lat": 12.97, "lng": 77.59},
	})
	waitForDrivers(t, ts, 1)

	rider := wsDial(t, ts, "/ws/rider/rider9001")
	wsSend(t, rider, "bookRide", "ack-1", map[string]any{
		"name":         "Asha",
		"vehicleClass": "Taxi",
		"distanceKm":   5,
		"pickup":       map[string]any{"address": "12 Hill Rd", "lat": 12.97, "lng": 77.59},
		"drop":         map[string]any{"address": "Airport T1", "lat": 13.19, "lng": 77.70},
	})

	name, data := wsRead(t, rider)
	require.Equal(t, "bookRideAck", name)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "ack-1", data["ackId"])
	assert.EqualValues(t, 200, data["fare"])
	rideID, _ := data["rideId"].(string)
	require.NotEmpty(t, rideID)

	// the class-scoped broadcast reaches the driver
	name, data = wsRead(t, driver)
	require.Equal(t, "newRideRequest", name)
	assert.Equal(t, rideID, data["ride_id"])

	wsSend(t, driver, "acceptRide", "ack-2", map[string]any{"rideId": rideID, "driverName": "Dana"})
	name, data = wsRead(t, driver)
	require.Equal(t, "acceptRideAck", name)
	assert.Equal(t, true, data["success"])

	// rider hears about the acceptance
	name, _ = wsRead(t, rider)
	assert.Equal(t, "rideStatusUpdate", name)
}

func TestDriverReconnectSurvivesStaleTeardown(t *testing.T) {
	ts, srv := newTestServer(t)

	register := map[string]any{
		"name":         "Dana",
		"vehicleClass": "taxi",
		"location":     map[string]float64{"lat": 12.97, "lng": 77.59},
	}
	stale := wsDial(t, ts, "/ws/driver/d1")
	wsSend(t, stale, "registerDriverPresence", "", register)
	waitForDrivers(t, ts, 1)

	// same driver reconnects; the ack round trip proves the new session
	// is installed before the old conn goes away
	live := wsDial(t, ts, "/ws/driver/d1")
	wsSend(t, live, "registerDriverPresence", "", register)
	wsSend(t, live, "rejectRide", "sync-1", map[string]any{"rideId": "RB999999"})
	name, _ := wsRead(t, live)
	require.Equal(t, "rejectRideAck", name)

	require.NoError(t, stale.Close())

	// the stale conn's teardown must not flag the live driver offline
	require.Never(t, func() bool {
		p, ok := srv.Registry().Get("d1")
		return !ok || !p.Online
	}, 300*time.Millisecond, 20*time.Millisecond)

	// and the live session still receives
	wsSend(t, live, "rejectRide", "sync-2", map[string]any{"rideId": "RB999999"})
	name, data := wsRead(t, live)
	require.Equal(t, "rejectRideAck", name)
	assert.Equal(t, "sync-2", data["ackId"])
}

func TestLosingDriverGetsConflictAck(t *testing.T) {
	ts, _ := newTestServer(t)

	d1 := wsDial(t, ts, "/ws/driver/d1")
	d2 := wsDial(t, ts, "/ws/driver/d2")
	for _, c := range []*websocket.Conn{d1, d2} {
		wsSend(t, c, "registerDriverPresence", "", map[string]any{
			"name":         "D",
			"vehicleClass": "taxi",
			"location":     map[string]float64{"lat": 12.97, "lng": 77.59},
		})
	}
	waitForDrivers(t, ts, 2)

	rider := wsDial(t, ts, "/ws/rider/rider9001")
	wsSend(t, rider, "bookRide", "b1", map[string]any{
		"name":         "Asha",
		"vehicleClass": "taxi",
		"distanceKm":   5,
		"pickup":       map[string]any{"address": "A", "lat": 12.97, "lng": 77.59},
		"drop":         map[string]any{"address": "B", "lat": 13.19, "lng": 77.70},
	})
	_, ack := wsRead(t, rider)
	rideID, _ := ack["rideId"].(string)
	require.NotEmpty(t, rideID)

	// drain the broadcast on both driver channels
	wsRead(t, d1)
	wsRead(t, d2)

	wsSend(t, d1, "acceptRide", "a1", map[string]any{"rideId": rideID, "driverName": "One"})
	name, data := wsRead(t, d1)
	require.Equal(t, "acceptRideAck", name)
	require.Equal(t, true, data["success"])

	wsSend(t, d2, "acceptRide", "a2", map[string]any{"rideId": rideID, "driverName": "Two"})
	// d2 sees the "no longer available" clear, then the losing ack
	sawConflict := false
	for i := 0; i < 2; i++ {
		name, data = wsRead(t, d2)
		if name == "acceptRideAck" {
			assert.Equal(t, false, data["success"])
			assert.Equal(t, "conflict", data["kind"])
			sawConflict = true
		}
	}
	assert.True(t, sawConflict)
}
